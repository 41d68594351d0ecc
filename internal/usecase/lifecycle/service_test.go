package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/adapters/memstore"
	"tg-news-engine/internal/domain"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(store *memstore.Store, count int, expires time.Time) []domain.NewsItem {
	out := make([]domain.NewsItem, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, store.PutNews(domain.NewsItem{
			Title:            "Новина",
			Body:             "повний текст",
			Tags:             []string{"економіка"},
			PublishedAt:      expires.Add(-5 * time.Hour),
			ExpiresAt:        expires,
			ModerationStatus: domain.StatusApproved,
		}))
	}
	return out
}

func TestSweepArchivesInBatchesAndIsIdempotent(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, nil, store, Config{BatchSize: 2}, zerolog.Nop())
	ctx := context.Background()
	expired := seed(store, 5, testNow.Add(-time.Minute))
	fresh := seed(store, 1, testNow.Add(time.Hour))

	n, err := svc.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = svc.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, item := range expired {
		got, err := store.GetNews(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, got.Archived())
		assert.Empty(t, got.Body)
	}
	got, err := store.GetNews(ctx, fresh[0].ID)
	require.NoError(t, err)
	assert.False(t, got.Archived())

	var archivedEvents int
	for _, m := range store.BusinessMetrics() {
		if m.Event == domain.BusinessMetricEventNewsArchived {
			archivedEvents++
		}
	}
	assert.Equal(t, 1, archivedEvents)
}

func TestArchiveRoundTrip(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, nil, nil, Config{}, zerolog.Nop())
	ctx := context.Background()
	item := seed(store, 1, testNow)[0]

	_, err := svc.Archived(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Sweep(ctx, testNow)
	require.NoError(t, err)

	snap, err := svc.Archived(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, snap.OriginalNewsID)
	assert.Equal(t, item.Title, snap.Title)
	assert.Equal(t, item.Body, snap.Body)
	assert.Equal(t, item.Tags, snap.Tags)
	assert.Equal(t, item.PublishedAt, snap.PublishedAt)
	assert.Equal(t, item.ExpiresAt, snap.ExpiresAt)
	assert.Equal(t, testNow, snap.ArchivedAt)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	store := memstore.New().WithClock(func() time.Time { return testNow })
	svc := NewService(store, store, nil, Config{Interval: time.Minute}, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	seed(store, 1, testNow.Add(-time.Minute))

	ok, err := store.Acquire(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	svc.tick(context.Background())
	assert.False(t, store.AllNews()[0].Archived())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, nil, nil, Config{Interval: time.Hour}, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	seed(store, 1, testNow.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return store.AllNews()[0].Archived() }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run не завершился после отмены контекста")
	}
}
