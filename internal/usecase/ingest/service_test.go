package ingest

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
	"tg-news-engine/internal/usecase/dedup"
	"tg-news-engine/internal/usecase/sources"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type stubClassifier struct {
	class domain.Classification
	err   error
	block bool
}

func (c stubClassifier) Classify(ctx context.Context, _, _ string) (domain.Classification, error) {
	if c.block {
		<-ctx.Done()
		return domain.Classification{}, ctx.Err()
	}
	return c.class, c.err
}

type stubSentiment struct {
	sentiment domain.Sentiment
	err       error
}

func (s stubSentiment) AnalyzeSentiment(context.Context, string) (domain.Sentiment, error) {
	return s.sentiment, s.err
}

type fixture struct {
	store   *memstore.Store
	sources *sources.Service
	svc     *Service
}

func newFixture(t *testing.T, classifier domain.Classifier, sentiment domain.SentimentAnalyzer, cfg Config) fixture {
	t.Helper()
	store := memstore.New().WithClock(func() time.Time { return testNow })
	registry := sources.NewService(store, store, domain.AutoBlockPolicy{}, zerolog.Nop())
	if cfg.VisibilityWindow == 0 {
		cfg.VisibilityWindow = 5 * time.Hour
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "uk"
	}
	svc := NewService(registry, store, classifier, sentiment, dedup.New(0.8, 3), store, cfg, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return fixture{store: store, sources: registry, svc: svc}
}

func longBody(last string) string {
	words := []string{
		"уряд", "оголосив", "нову", "програму", "підтримки", "малого", "бізнесу", "яка", "передбачає",
		"пільгові", "кредити", "та", "гранти", "для", "підприємців", "у", "прифронтових", "регіонах",
		"заявки", "прийматимуть", "до", "кінця", "місяця", "через", "портал", "дія", "повідомили", "у",
		"міністерстві", last,
	}
	return strings.Join(words, " ")
}

func rawItem(origin, link, body string) domain.RawItem {
	return domain.RawItem{
		SourceOrigin: origin,
		SourceType:   domain.SourceTelegram,
		Title:        "Нова програма підтримки бізнесу",
		Body:         body,
		Link:         link,
		PublishedAt:  testNow.Add(-10 * time.Minute),
	}
}

func TestNormalizeStripsHTMLAndAppliesDefaults(t *testing.T) {
	f := newFixture(t, stubClassifier{class: domain.Classification{Tags: []string{"Economy"}, Topics: []string{"business"}}},
		stubSentiment{sentiment: domain.Sentiment{Tone: "Positive", Score: 3}}, Config{})

	raw := domain.RawItem{
		SourceOrigin: "@kyiv_news",
		SourceType:   domain.SourceTelegram,
		Body:         "<p>Курс гривні <b>зміцнився</b> &amp; стабільний. Подробиці згодом</p>",
		Language:     "uk-UA",
		Tags:         []string{"#Економіка", "економіка"},
	}
	src := domain.Source{ID: 7, Name: "@kyiv_news", Type: domain.SourceTelegram}
	item, err := f.svc.Normalize(context.Background(), raw, src)
	require.NoError(t, err)

	assert.Equal(t, "Курс гривні зміцнився & стабільний. Подробиці згодом", item.Body)
	assert.Equal(t, "Курс гривні зміцнився & стабільний", item.Title)
	assert.Equal(t, "uk", item.Language)
	assert.Equal(t, "UA", item.Country)
	assert.Equal(t, []string{"економіка", "economy"}, item.Tags)
	assert.Equal(t, []string{"business"}, item.Topics)
	assert.Equal(t, "positive", item.Tone)
	assert.Equal(t, 1.0, item.SentimentScore)
	assert.Equal(t, testNow, item.PublishedAt)
	assert.Equal(t, testNow.Add(5*time.Hour), item.ExpiresAt)
	assert.Equal(t, domain.StatusPending, item.ModerationStatus)
	assert.Equal(t, domain.MediaText, item.MediaType)
	assert.NotEmpty(t, item.TitleKey)
	assert.NotEmpty(t, item.ContentHash)
}

func TestNormalizeRejectsInvalidItems(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	cases := []domain.RawItem{
		{SourceOrigin: "@kyiv_news", SourceType: "podcast", Body: "x"},
		{SourceType: domain.SourceTelegram, Body: "x"},
		{SourceOrigin: "@kyiv_news", SourceType: domain.SourceTelegram},
		{SourceOrigin: "@kyiv_news", SourceType: domain.SourceTelegram, Body: "<br/>"},
		{SourceOrigin: "@kyiv_news", SourceType: domain.SourceTelegram, Body: "x", MediaType: "gif"},
	}
	for i, raw := range cases {
		_, err := f.svc.Normalize(context.Background(), raw, domain.Source{ID: 1})
		assert.ErrorIs(t, err, domain.ErrValidation, "case %d", i)
	}
}

func TestCapabilityTimeoutFallsBackToDefaults(t *testing.T) {
	f := newFixture(t, stubClassifier{block: true}, stubSentiment{err: errors.New("503")},
		Config{CapabilityTimeout: 20 * time.Millisecond})

	start := time.Now()
	res, err := f.svc.Ingest(context.Background(), rawItem("@kyiv_news", "https://t.me/kyiv_news/1", longBody("сьогодні")))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, domain.OutcomeInserted, res.Outcome)
	assert.Empty(t, res.News.Topics)
	assert.Equal(t, "neutral", res.News.Tone)
	assert.Zero(t, res.News.SentimentScore)
	assert.Equal(t, domain.StatusPending, res.News.ModerationStatus)
}

func TestIngestAutoApprovesVerifiedSources(t *testing.T) {
	f := newFixture(t, nil, nil, Config{AutoApproveVerified: true})
	ctx := context.Background()
	_, _, err := f.sources.Register(ctx, sources.RegisterInput{Link: "@verified_news", Type: domain.SourceTelegram, Verified: true})
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, rawItem("@verified_news", "https://t.me/verified_news/1", longBody("сьогодні")))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, res.News.ModerationStatus)

	other, err := f.svc.Ingest(ctx, rawItem("@plain_news", "https://t.me/plain_news/1", "інша новина про погоду"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, other.News.ModerationStatus)

	metrics := f.store.BusinessMetrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, domain.BusinessMetricEventNewsIngested, metrics[0].Event)
}

func TestIngestDetectsCrossSourceDuplicate(t *testing.T) {
	f := newFixture(t, nil, nil, Config{AutoApproveVerified: true})
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, rawItem("@kyiv_news", "https://t.me/kyiv_news/1", longBody("сьогодні")))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeInserted, first.Outcome)

	second, err := f.svc.Ingest(ctx, rawItem("@lviv_news", "https://t.me/lviv_news/9", longBody("вранці")))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)
	assert.True(t, second.News.IsDuplicate)
	require.NotNil(t, second.News.DuplicateOf)
	assert.Equal(t, first.News.ID, *second.News.DuplicateOf)
	assert.Equal(t, domain.StatusPending, second.News.ModerationStatus)

	original, err := f.store.GetNews(ctx, first.News.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, original.CitationScore)

	unrelated, err := f.svc.Ingest(ctx, domain.RawItem{
		SourceOrigin: "@lviv_news",
		SourceType:   domain.SourceTelegram,
		Title:        "Погода на вихідні",
		Body:         "синоптики прогнозують сонячну погоду без опадів",
		Link:         "https://t.me/lviv_news/10",
		PublishedAt:  testNow.Add(-5 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInserted, unrelated.Outcome)
}

func TestIngestRedeliveryReturnsExistingItem(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	ctx := context.Background()
	raw := rawItem("@kyiv_news", "https://t.me/kyiv_news/1", longBody("сьогодні"))

	first, err := f.svc.Ingest(ctx, raw)
	require.NoError(t, err)
	again, err := f.svc.Ingest(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExisting, again.Outcome)
	assert.Equal(t, first.News.ID, again.News.ID)
	assert.Len(t, f.store.AllNews(), 1)
}

func TestIngestSkipsBlockedSource(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	ctx := context.Background()
	src, _, err := f.sources.Register(ctx, sources.RegisterInput{Link: "@spam_news", Type: domain.SourceTelegram})
	require.NoError(t, err)
	_, err = f.sources.SetStatus(ctx, src.ID, domain.SourceStatusBlocked, "spam")
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, rawItem("@spam_news", "https://t.me/spam_news/1", longBody("сьогодні")))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSourceBlocked, res.Outcome)
	assert.Empty(t, f.store.AllNews())
}

func TestConcurrentNearDuplicatesKeepOneOriginal(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	ctx := context.Background()

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			origin := "@kyiv_news"
			if i%2 == 1 {
				origin = "@odesa_news"
			}
			raw := rawItem(origin, fmt.Sprintf("https://t.me/post/%d", i), longBody(fmt.Sprintf("слово%d", i%3)))
			if _, err := f.svc.Ingest(ctx, raw); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all := f.store.AllNews()
	require.Len(t, all, workers)
	originals := 0
	var originalID int64
	for _, n := range all {
		if !n.IsDuplicate {
			originals++
			originalID = n.ID
		}
	}
	assert.Equal(t, 1, originals)
	for _, n := range all {
		if n.IsDuplicate {
			require.NotNil(t, n.DuplicateOf)
			assert.Equal(t, originalID, *n.DuplicateOf)
		}
	}
}

func TestDedupWindowNeverShorterThanVisibility(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, dedup.New(0.8, 3), nil,
		Config{VisibilityWindow: 5 * time.Hour, DedupWindow: time.Hour}, zerolog.Nop())
	assert.Equal(t, 5*time.Hour, svc.cfg.DedupWindow)
}

func TestExpiredItemIsNotAnOriginal(t *testing.T) {
	f := newFixture(t, nil, nil, Config{DedupWindow: 24 * time.Hour})
	ctx := context.Background()

	old := rawItem("@kyiv_news", "https://t.me/kyiv_news/1", longBody("сьогодні"))
	old.PublishedAt = testNow.Add(-7 * time.Hour)
	first, err := f.svc.Ingest(ctx, old)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeInserted, first.Outcome)
	require.False(t, first.News.Active(testNow))

	second, err := f.svc.Ingest(ctx, rawItem("@kyiv_news", "https://t.me/kyiv_news/2", longBody("сьогодні")))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInserted, second.Outcome)
	assert.False(t, second.News.IsDuplicate)
	assert.Nil(t, second.News.DuplicateOf)

	original, err := f.store.GetNews(ctx, first.News.ID)
	require.NoError(t, err)
	assert.Zero(t, original.CitationScore)
}

func TestSharedTeaserBodyKeepsStoriesApart(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	ctx := context.Background()
	teaser := func(link, title string) domain.RawItem {
		return domain.RawItem{
			SourceOrigin: "https://news.example.com/rss",
			SourceType:   domain.SourceRSS,
			Title:        title,
			Body:         "Читати далі на сайті",
			Link:         link,
			PublishedAt:  testNow.Add(-5 * time.Minute),
		}
	}

	first, err := f.svc.Ingest(ctx, teaser("https://news.example.com/1", "Курс гривні зміцнився на міжбанку"))
	require.NoError(t, err)
	second, err := f.svc.Ingest(ctx, teaser("https://news.example.com/2", "У Львові відкрили новий міст через Полтву"))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeInserted, first.Outcome)
	assert.Equal(t, domain.OutcomeInserted, second.Outcome)
	assert.Equal(t, first.News.ContentHash, second.News.ContentHash)
}
