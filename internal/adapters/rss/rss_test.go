package rss

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/adapters/memstore"
	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/usecase/sources"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Стрічка</title>
  <link>https://example.com</link>
  <language>uk</language>
  <item>
    <title>Нова програма підтримки</title>
    <link>https://example.com/news/2</link>
    <description><![CDATA[<p>Уряд оголосив програму.</p><img src="https://example.com/2.jpg"/>]]></description>
    <category>економіка</category>
    <pubDate>Mon, 10 Mar 2025 11:30:00 GMT</pubDate>
  </item>
  <item>
    <title>Відео з матчу</title>
    <link>https://example.com/news/1</link>
    <description>Огляд гри</description>
    <enclosure url="https://example.com/1.mp4" type="video/mp4" length="100"/>
    <pubDate>Mon, 10 Mar 2025 09:00:00 GMT</pubDate>
  </item>
  <item>
    <title></title>
    <description></description>
  </item>
</channel>
</rss>`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCollectorFetch(t *testing.T) {
	srv := feedServer(t)
	src := domain.Source{ID: 1, Name: "Приклад", Link: srv.URL + "/feed.xml", Type: domain.SourceRSS}

	items, err := NewCollector(srv.Client()).Fetch(context.Background(), src, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Нова програма підтримки", first.Title)
	assert.Equal(t, src.Link, first.SourceOrigin)
	assert.Equal(t, domain.SourceRSS, first.SourceType)
	assert.Equal(t, "uk", first.Language)
	assert.Equal(t, []string{"економіка"}, first.Tags)
	assert.Equal(t, domain.MediaPhoto, first.MediaType)
	assert.Equal(t, "https://example.com/2.jpg", first.MediaRef)
	assert.Equal(t, time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC), first.PublishedAt)

	assert.Equal(t, domain.MediaVideo, items[1].MediaType)
	assert.Equal(t, "https://example.com/1.mp4", items[1].MediaRef)
}

func TestCollectorSkipsAlreadySeen(t *testing.T) {
	srv := feedServer(t)
	src := domain.Source{Link: srv.URL + "/feed.xml", Type: domain.SourceRSS}

	items, err := NewCollector(srv.Client()).Fetch(context.Background(), src, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://example.com/news/2", items[0].Link)
}

func TestCollectorHTTPError(t *testing.T) {
	srv := feedServer(t)
	_, err := NewCollector(srv.Client()).Fetch(context.Background(), domain.Source{Link: srv.URL + "/missing"}, time.Time{})
	require.Error(t, err)
}

type memQueue struct {
	mu   sync.Mutex
	jobs []domain.IngestJob
}

func (q *memQueue) Enqueue(_ context.Context, job domain.IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (domain.IngestJob, domain.AckFunc, error) {
	<-ctx.Done()
	return domain.IngestJob{}, nil, ctx.Err()
}

type stubFetcher struct {
	mu    sync.Mutex
	since map[int64]time.Time
	items map[string][]domain.RawItem
	fail  map[string]bool
}

func (f *stubFetcher) Fetch(_ context.Context, src domain.Source, since time.Time) ([]domain.RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since[src.ID] = since
	if f.fail[src.Link] {
		return nil, errors.New("timeout")
	}
	return f.items[src.Link], nil
}

func TestPollerEnqueuesItemsOfActiveFeeds(t *testing.T) {
	store := memstore.New()
	registry := sources.NewService(store, store, domain.AutoBlockPolicy{}, zerolog.Nop())
	ctx := context.Background()

	good, _, err := registry.Register(ctx, sources.RegisterInput{Link: "https://good.example/rss", Type: domain.SourceRSS})
	require.NoError(t, err)
	broken, _, err := registry.Register(ctx, sources.RegisterInput{Link: "https://broken.example/rss", Type: domain.SourceRSS})
	require.NoError(t, err)
	blocked, _, err := registry.Register(ctx, sources.RegisterInput{Link: "https://blocked.example/rss", Type: domain.SourceRSS})
	require.NoError(t, err)
	_, err = registry.SetStatus(ctx, blocked.ID, domain.SourceStatusBlocked, "спам")
	require.NoError(t, err)
	_, _, err = registry.Register(ctx, sources.RegisterInput{Link: "@channel", Type: domain.SourceTelegram})
	require.NoError(t, err)

	fetcher := &stubFetcher{
		since: map[int64]time.Time{},
		items: map[string][]domain.RawItem{
			good.Link:    {{Title: "a", SourceOrigin: good.Link}, {Title: "b", SourceOrigin: good.Link}},
			blocked.Link: {{Title: "c"}},
		},
		fail: map[string]bool{broken.Link: true},
	}
	q := &memQueue{}
	poller := NewPoller(registry, fetcher, q, time.Minute, 2, zerolog.Nop())

	n, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, q.jobs, 2)
	for _, job := range q.jobs {
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "rss", job.Origin)
	}
	assert.Len(t, fetcher.since, 2, "заблокированный и telegram-источник не опрашиваются")

	fetched, err := registry.Get(ctx, good.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.LastFetchAt)
	failed, err := registry.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Nil(t, failed.LastFetchAt)

	_, err = poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, *fetched.LastFetchAt, fetcher.since[good.ID])
}
