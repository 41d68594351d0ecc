package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

const sweepLockKey = "lifecycle:sweep"

// Config задаёт периодичность и размер пакета архивации.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Service переносит истёкшие новости в архив.
// Видимость в ленте от архивации не зависит: истёкшая новость отсекается по expires_at.
type Service struct {
	repo   domain.ArchiveRepo
	locker domain.Locker
	events domain.BusinessMetricRepo
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewService создаёт сервис архивации. locker может быть nil при единственном экземпляре.
func NewService(repo domain.ArchiveRepo, locker domain.Locker, events domain.BusinessMetricRepo, cfg Config, logger zerolog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Service{
		repo:   repo,
		locker: locker,
		events: events,
		cfg:    cfg,
		log:    logger.With().Str("component", "lifecycle").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep архивирует все новости, истёкшие к моменту now, пакетами. Повторный запуск ничего не меняет.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() { metrics.SweepSeconds.Observe(time.Since(start).Seconds()) }()

	total := 0
	for {
		n, err := s.repo.ArchiveExpired(ctx, now, s.cfg.BatchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("архивация пакета: %w", err)
		}
		if n < s.cfg.BatchSize {
			break
		}
	}
	metrics.ArchivedTotal.Add(float64(total))
	if total == 0 {
		return 0, nil
	}
	s.log.Info().Int("archived", total).Dur("took", time.Since(start)).Msg("истёкшие новости перенесены в архив")
	if s.events != nil {
		if err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventNewsArchived,
			Metadata:   map[string]any{"count": total},
			OccurredAt: now,
		}); err != nil {
			s.log.Error().Err(err).Msg("не удалось сохранить бизнес-метрику")
		}
	}
	return total, nil
}

// Run запускает архивацию по таймеру до отмены ctx. На каждом тике проход выполняет один экземпляр.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, sweepLockKey, s.cfg.Interval/2)
		if err != nil {
			s.log.Error().Err(err).Msg("не удалось захватить блокировку архивации")
			return
		}
		if !ok {
			s.log.Debug().Msg("архивацию выполняет другой экземпляр")
			return
		}
	}
	if _, err := s.Sweep(ctx, s.now()); err != nil {
		s.log.Error().Err(err).Msg("архивация завершилась с ошибкой")
	}
}

// Archived возвращает архивный снимок новости.
func (s *Service) Archived(ctx context.Context, originalID int64) (domain.ArchivedNewsItem, error) {
	return s.repo.GetArchived(ctx, originalID)
}
