package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

// AutoBlocker пересчитывает правило блокировки источника.
type AutoBlocker interface {
	EvaluateAutoBlock(ctx context.Context, sourceID int64) (bool, error)
}

// SourceStatsReader читает счётчики источника.
type SourceStatsReader interface {
	SourceStats(ctx context.Context, id int64, since time.Time) (domain.SourceStats, error)
}

// Service сворачивает события взаимодействия в счётчики пользователей и источников.
type Service struct {
	repo    domain.EngagementRepo
	sources SourceStatsReader
	blocker AutoBlocker
	window  time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewService создаёт агрегатор. window — окно для оконных счётчиков источника.
func NewService(repo domain.EngagementRepo, sources SourceStatsReader, blocker AutoBlocker, window time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		sources: sources,
		blocker: blocker,
		window:  window,
		log:     logger.With().Str("component", "engagement").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record сохраняет событие. Повтор с тем же ключом не меняет счётчики и возвращает false.
func (s *Service) Record(ctx context.Context, e domain.InteractionEvent) (bool, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	e, err := e.Prepare()
	if err != nil {
		return false, err
	}
	applied, sourceID, err := s.repo.RecordInteraction(ctx, e, domain.CountersFor(e))
	if err != nil {
		return false, fmt.Errorf("сохранение события: %w", err)
	}
	metrics.ObserveInteraction(string(e.Action), applied)
	if !applied {
		s.log.Debug().Str("key", e.Key).Msg("повторное событие пропущено")
		return false, nil
	}
	if s.blocker != nil && sourceID != 0 {
		if _, err := s.blocker.EvaluateAutoBlock(ctx, sourceID); err != nil {
			s.log.Warn().Err(err).Int64("source_id", sourceID).Msg("не удалось пересчитать блокировку источника")
		}
	}
	return true, nil
}

// Recompute пересобирает счётчики из журнала событий.
func (s *Service) Recompute(ctx context.Context) error {
	start := time.Now()
	if err := s.repo.RebuildStats(ctx, s.now()); err != nil {
		return fmt.Errorf("пересчёт статистики: %w", err)
	}
	s.log.Info().Dur("took", time.Since(start)).Msg("статистика пересчитана")
	return nil
}

const rebuildLockKey = "engagement:rebuild"

// RunRebuild пересчитывает статистику раз в interval до отмены ctx.
// При заданном locker пересчёт выполняет один экземпляр.
func (s *Service) RunRebuild(ctx context.Context, interval time.Duration, locker domain.Locker) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.rebuildTick(ctx, interval, locker)
		}
	}
}

func (s *Service) rebuildTick(ctx context.Context, interval time.Duration, locker domain.Locker) {
	if locker != nil {
		ok, err := locker.Acquire(ctx, rebuildLockKey, interval/2)
		if err != nil {
			s.log.Error().Err(err).Msg("не удалось захватить блокировку пересчёта")
			return
		}
		if !ok {
			return
		}
	}
	if err := s.Recompute(ctx); err != nil {
		s.log.Error().Err(err).Msg("пересчёт статистики завершился ошибкой")
	}
}

// UserStats возвращает счётчики пользователя.
func (s *Service) UserStats(ctx context.Context, userID int64) (domain.UserStats, error) {
	return s.repo.UserStats(ctx, userID)
}

// SourceStats возвращает счётчики источника с оконными значениями.
func (s *Service) SourceStats(ctx context.Context, sourceID int64) (domain.SourceStats, error) {
	if s.sources == nil {
		return domain.SourceStats{}, domain.NotFoundf("статистика источников недоступна")
	}
	return s.sources.SourceStats(ctx, sourceID, s.now().Add(-s.window))
}
