package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/adapters/memstore"
	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/usecase/engagement"
	"tg-news-engine/internal/usecase/feed"
)

// Лента сверяет срок жизни с текущим временем, поэтому данные строятся от него.
var testNow = time.Now().UTC().Truncate(time.Second)

type recordingSender struct {
	mu       sync.Mutex
	messages map[int64][]string
	failFor  map[int64]bool
}

func newSender() *recordingSender {
	return &recordingSender{messages: map[int64][]string{}, failFor: map[int64]bool{}}
}

func (s *recordingSender) SendHTML(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[chatID] {
		return errors.New("bot was blocked by the user")
	}
	s.messages[chatID] = append(s.messages[chatID], text)
	return nil
}

type fixture struct {
	store  *memstore.Store
	sender *recordingSender
	svc    *Service
	source domain.Source
}

func newFixture(t *testing.T, maxItems int) fixture {
	t.Helper()
	store := memstore.New().WithClock(func() time.Time { return testNow })
	feedSvc := feed.NewService(store, store, store, nil, feed.Config{
		DefaultPageSize: 10,
		MaxPageSize:     50,
		BatchSize:       10,
		MaxBatches:      100,
		Policy:          domain.DefaultEligibilityPolicy(),
	}, zerolog.Nop())
	engSvc := engagement.NewService(store, store, nil, 24*time.Hour, zerolog.Nop())
	sender := newSender()
	svc := NewService(store, feedSvc, engSvc, sender, store, store, Config{MaxItems: maxItems, Concurrency: 2}, zerolog.Nop())
	svc.now = func() time.Time { return testNow }

	src, _, err := store.UpsertSource(context.Background(), domain.Source{Name: "Київ <live>", Link: "https://t.me/kyiv", Type: domain.SourceTelegram})
	require.NoError(t, err)
	return fixture{store: store, sender: sender, svc: svc, source: src}
}

func (f fixture) news(title string, topics []string, age time.Duration) domain.NewsItem {
	return f.store.PutNews(domain.NewsItem{
		Title:            title,
		Body:             "текст",
		Topics:           topics,
		Tags:             []string{"новини"},
		SourceID:         f.source.ID,
		Link:             "https://t.me/kyiv/" + strings.ReplaceAll(title, " ", "_"),
		PublishedAt:      testNow.Add(-age),
		ExpiresAt:        testNow.Add(24*time.Hour - age),
		ModerationStatus: domain.StatusApproved,
	})
}

func (f fixture) user(t *testing.T, tgID int64, mode domain.ViewMode) domain.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.UpsertUser(ctx, tgID, "uk")
	require.NoError(t, err)
	require.NoError(t, f.store.SetViewMode(ctx, u.ID, mode))
	u.ViewMode = mode
	return u
}

func TestDeliverAllSendsOnlyUnseenToAutoUsers(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.news(fmt.Sprintf("Новина %d", i), []string{"economy"}, time.Duration(i+1)*time.Hour)
	}
	auto := f.user(t, 1001, domain.ViewModeAuto)
	f.user(t, 1002, domain.ViewModeManual)

	report, err := f.svc.DeliverAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Users: 1, Delivered: 2}, report)
	require.Len(t, f.sender.messages[1001], 1)
	assert.Empty(t, f.sender.messages[1002])
	assert.Contains(t, f.sender.messages[1001][0], "Новина 0")
	assert.Contains(t, f.sender.messages[1001][0], "Новина 1")

	report, err = f.svc.DeliverAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	require.Len(t, f.sender.messages[1001], 2)
	assert.Contains(t, f.sender.messages[1001][1], "Новина 2")
	assert.NotContains(t, f.sender.messages[1001][1], "Новина 0")

	report, err = f.svc.DeliverAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Delivered)
	assert.Len(t, f.sender.messages[1001], 2)

	stats, err := f.store.UserStats(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Views)

	var delivered int
	for _, m := range f.store.BusinessMetrics() {
		if m.Event == domain.BusinessMetricEventFeedDelivered {
			delivered++
		}
	}
	assert.Equal(t, 2, delivered)
}

func TestDeliverAllContinuesAfterSendFailure(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.news("Подія", nil, time.Hour)
	broken := f.user(t, 2001, domain.ViewModeAuto)
	f.user(t, 2002, domain.ViewModeAuto)
	f.sender.failFor[2001] = true

	report, err := f.svc.DeliverAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Users: 2, Delivered: 1, Failed: 1}, report)
	assert.Len(t, f.sender.messages[2002], 1)

	// Неотправленное не считается показанным и уйдёт в следующий раз.
	f.sender.failFor[2001] = false
	n, err := f.svc.DeliverUser(ctx, broken)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFormatFeedGroupsByTopicAndEscapes(t *testing.T) {
	items := []feed.Item{
		{News: domain.NewsItem{Title: "A & B", Topics: []string{"economy"}, Link: "https://x.test/?a=1&b=2", SourceName: "Київ <live>"}},
		{News: domain.NewsItem{Title: "Без теми"}},
		{News: domain.NewsItem{Title: "C", Topics: []string{"economy"}}},
		{News: domain.NewsItem{Title: "  "}},
	}

	text := FormatFeed(items)
	assert.True(t, strings.HasPrefix(text, "📰 <b>Свежие новости</b>"))
	assert.Contains(t, text, `• <a href="https://x.test/?a=1&amp;b=2">A &amp; B</a> — <i>Київ &lt;live&gt;</i>`)
	economy := strings.Index(text, "<b>economy</b>")
	other := strings.Index(text, "<b>"+fallbackTopic+"</b>")
	require.True(t, economy > 0 && other > economy)
	assert.Less(t, strings.Index(text, "• C"), other)
	assert.Empty(t, FormatFeed(nil))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("рассылка не остановилась")
	}
}
