package rss

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tg-news-engine/internal/domain"
)

// Fetcher читает публикации источника.
type Fetcher interface {
	Fetch(ctx context.Context, src domain.Source, since time.Time) ([]domain.RawItem, error)
}

// SourceRegistry отдаёт источники для опроса и отмечает время опроса.
type SourceRegistry interface {
	List(ctx context.Context, status domain.SourceStatus) ([]domain.Source, error)
	MarkFetched(ctx context.Context, id int64) error
}

// Poller периодически опрашивает RSS-источники и ставит публикации в очередь приёма.
type Poller struct {
	sources  SourceRegistry
	fetcher  Fetcher
	queue    domain.IngestQueue
	interval time.Duration
	workers  int
	log      zerolog.Logger
	now      func() time.Time
}

// NewPoller создаёт опросчик.
func NewPoller(sources SourceRegistry, fetcher Fetcher, queue domain.IngestQueue, interval time.Duration, workers int, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if workers < 1 {
		workers = 1
	}
	return &Poller{
		sources:  sources,
		fetcher:  fetcher,
		queue:    queue,
		interval: interval,
		workers:  workers,
		log:      logger.With().Str("component", "rss_poller").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run опрашивает источники до отмены контекста.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if n, err := p.PollOnce(ctx); err != nil {
			p.log.Error().Err(err).Msg("опрос лент завершился ошибкой")
		} else {
			p.log.Debug().Int("enqueued", n).Msg("опрос лент завершён")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce опрашивает все незаблокированные RSS-источники и возвращает число поставленных задач.
// Ошибка одного источника не прерывает опрос остальных.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	all, err := p.sources.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("список источников: %w", err)
	}
	var enqueued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, src := range all {
		if src.Type != domain.SourceRSS || src.Status == domain.SourceStatusBlocked || src.Status == domain.SourceStatusArchived {
			continue
		}
		src := src
		g.Go(func() error {
			n, err := p.pollSource(gctx, src)
			if err != nil {
				p.log.Warn().Err(err).Int64("source_id", src.ID).Str("link", src.Link).Msg("источник не опрошен")
			}
			enqueued.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(enqueued.Load()), err
	}
	return int(enqueued.Load()), ctx.Err()
}

func (p *Poller) pollSource(ctx context.Context, src domain.Source) (int, error) {
	var since time.Time
	if src.LastFetchAt != nil {
		since = *src.LastFetchAt
	}
	items, err := p.fetcher.Fetch(ctx, src, since)
	if err != nil {
		return 0, err
	}
	received := p.now()
	for i, item := range items {
		job := domain.IngestJob{
			ID:         uuid.NewString(),
			Item:       item,
			ReceivedAt: received,
			Origin:     "rss",
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			return i, fmt.Errorf("постановка в очередь: %w", err)
		}
	}
	if err := p.sources.MarkFetched(ctx, src.ID); err != nil {
		return len(items), fmt.Errorf("отметка опроса: %w", err)
	}
	return len(items), nil
}
