package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
	"tg-news-engine/internal/usecase/dedup"
	"tg-news-engine/internal/usecase/sources"
)

// Config задаёт параметры приёма публикаций.
type Config struct {
	VisibilityWindow    time.Duration
	CapabilityTimeout   time.Duration
	DedupWindow         time.Duration
	DefaultLanguage     string
	AutoApproveVerified bool
}

// SourceRegistry находит или регистрирует источник публикации.
type SourceRegistry interface {
	Register(ctx context.Context, in sources.RegisterInput) (domain.Source, bool, error)
}

// Result описывает итог приёма публикации.
type Result struct {
	News    domain.NewsItem
	Outcome domain.IngestOutcome
}

// Service принимает сырые публикации: нормализация, дедупликация и первичная модерация.
type Service struct {
	sources    SourceRegistry
	news       domain.NewsRepo
	classifier domain.Classifier
	sentiment  domain.SentimentAnalyzer
	engine     *dedup.Engine
	events     domain.BusinessMetricRepo
	sanitizer  *bluemonday.Policy
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис приёма.
func NewService(
	registry SourceRegistry,
	news domain.NewsRepo,
	classifier domain.Classifier,
	sentiment domain.SentimentAnalyzer,
	engine *dedup.Engine,
	events domain.BusinessMetricRepo,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.DedupWindow < cfg.VisibilityWindow {
		cfg.DedupWindow = cfg.VisibilityWindow
	}
	if cfg.CapabilityTimeout <= 0 {
		cfg.CapabilityTimeout = 3 * time.Second
	}
	return &Service{
		sources:    registry,
		news:       news,
		classifier: classifier,
		sentiment:  sentiment,
		engine:     engine,
		events:     events,
		sanitizer:  bluemonday.StrictPolicy(),
		cfg:        cfg,
		log:        logger.With().Str("component", "ingest").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest проводит публикацию через нормализацию и дедупликацию и сохраняет её.
// Повторная доставка той же публикации возвращает ранее сохранённую новость.
func (s *Service) Ingest(ctx context.Context, raw domain.RawItem) (Result, error) {
	if err := validateRaw(raw); err != nil {
		metrics.IngestErrors.WithLabelValues("validation").Inc()
		return Result{}, err
	}
	src, _, err := s.sources.Register(ctx, sources.RegisterInput{Link: raw.SourceOrigin, Type: raw.SourceType, Name: raw.SourceName})
	if err != nil {
		metrics.IngestErrors.WithLabelValues("source").Inc()
		return Result{}, fmt.Errorf("источник публикации: %w", err)
	}
	if src.Status == domain.SourceStatusBlocked {
		metrics.ObserveIngest(string(domain.OutcomeSourceBlocked))
		return Result{Outcome: domain.OutcomeSourceBlocked}, nil
	}

	item, err := s.Normalize(ctx, raw, src)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("validation").Inc()
		return Result{}, err
	}

	now := s.now()
	scope := domain.DedupScope{
		SourceID: src.ID,
		TitleKey: item.TitleKey,
		Link:     item.Link,
		Since:    now.Add(-s.cfg.DedupWindow),
		Now:      now,
	}

	saved, outcome, err := s.news.InsertDeduplicated(ctx, item, scope, s.decider(item, src))
	if errors.Is(err, domain.ErrConflict) {
		s.log.Debug().Int64("source_id", src.ID).Msg("конфликт уникальности, повторная оценка")
		saved, outcome, err = s.news.InsertDeduplicated(ctx, item, scope, s.decider(item, src))
	}
	if errors.Is(err, domain.ErrConflict) {
		saved, outcome, err = s.news.InsertDeduplicated(ctx, item, scope, forceDuplicate(item, s.engine))
	}
	if err != nil {
		metrics.IngestErrors.WithLabelValues("store").Inc()
		return Result{}, fmt.Errorf("сохранение новости: %w", err)
	}

	metrics.ObserveIngest(string(outcome))
	s.recordOutcome(ctx, saved, outcome)
	return Result{News: saved, Outcome: outcome}, nil
}

func (s *Service) decider(item domain.NewsItem, src domain.Source) domain.DedupDecider {
	return func(candidates []domain.NewsItem) (domain.IngestDecision, error) {
		if original, score := s.engine.FindOriginal(item, candidates); original != nil {
			s.log.Debug().
				Int64("original_id", original.ID).
				Float64("similarity", score).
				Msg("публикация распознана как дубликат")
			id := original.ID
			return domain.IngestDecision{DuplicateOf: &id, Status: domain.StatusPending}, nil
		}
		status := domain.StatusPending
		if s.cfg.AutoApproveVerified && src.Verified {
			subject := domain.TransitionSubject{Status: domain.StatusPending}
			if domain.ValidateTransition(subject, domain.StatusApproved, domain.TriggerAutoApprove) == nil {
				status = domain.StatusApproved
				metrics.ObserveTransition("news", string(status), string(domain.TriggerAutoApprove))
			}
		}
		return domain.IngestDecision{Status: status}, nil
	}
}

// forceDuplicate используется после повторного конфликта: публикация сохраняется как дубликат
// наиболее похожего кандидата.
func forceDuplicate(item domain.NewsItem, engine *dedup.Engine) domain.DedupDecider {
	return func(candidates []domain.NewsItem) (domain.IngestDecision, error) {
		var best *domain.NewsItem
		bestScore := -1.0
		for i := range candidates {
			if candidates[i].IsDuplicate {
				continue
			}
			if score := engine.Similarity(item, candidates[i]); score > bestScore {
				best, bestScore = &candidates[i], score
			}
		}
		if best == nil {
			return domain.IngestDecision{}, domain.Conflictf("нет записи, с которой произошёл конфликт")
		}
		id := best.ID
		return domain.IngestDecision{DuplicateOf: &id, Status: domain.StatusPending}, nil
	}
}

func (s *Service) recordOutcome(ctx context.Context, n domain.NewsItem, outcome domain.IngestOutcome) {
	event := ""
	switch outcome {
	case domain.OutcomeInserted:
		event = domain.BusinessMetricEventNewsIngested
	case domain.OutcomeDuplicate:
		event = domain.BusinessMetricEventNewsDuplicate
	default:
		return
	}
	s.log.Info().
		Int64("news_id", n.ID).
		Int64("source_id", n.SourceID).
		Str("outcome", string(outcome)).
		Str("status", string(n.ModerationStatus)).
		Msg("публикация сохранена")
	if s.events == nil {
		return
	}
	newsID, sourceID := n.ID, n.SourceID
	meta := map[string]any{"status": n.ModerationStatus}
	if n.DuplicateOf != nil {
		meta["duplicate_of"] = *n.DuplicateOf
	}
	if err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      event,
		NewsID:     &newsID,
		SourceID:   &sourceID,
		Metadata:   meta,
		OccurredAt: s.now(),
	}); err != nil {
		s.log.Error().Err(err).Msg("не удалось сохранить бизнес-метрику")
	}
}
