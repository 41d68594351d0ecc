package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

// Config задаёт правило автоматической пометки по жалобам.
type Config struct {
	FlagReports int
	FlagWindow  time.Duration
}

// AutoBlocker пересчитывает правило блокировки источника.
type AutoBlocker interface {
	EvaluateAutoBlock(ctx context.Context, sourceID int64) (bool, error)
}

// Service применяет переходы модерации к новостям и комментариям.
type Service struct {
	news     domain.NewsRepo
	comments domain.CommentRepo
	reports  domain.ReportRepo
	blocker  AutoBlocker
	events   domain.BusinessMetricRepo
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис модерации.
func NewService(
	news domain.NewsRepo,
	comments domain.CommentRepo,
	reports domain.ReportRepo,
	blocker AutoBlocker,
	events domain.BusinessMetricRepo,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.FlagReports <= 0 {
		cfg.FlagReports = 3
	}
	if cfg.FlagWindow <= 0 {
		cfg.FlagWindow = 24 * time.Hour
	}
	return &Service{
		news:     news,
		comments: comments,
		reports:  reports,
		blocker:  blocker,
		events:   events,
		cfg:      cfg,
		log:      logger.With().Str("component", "moderation").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Request описывает запрошенный переход.
type Request struct {
	TargetID int64
	To       domain.ModerationStatus
	Trigger  domain.Trigger
	ActorID  int64
	Reason   string
}

// TransitionNews меняет статус новости. Проверка и запись выполняются под блокировкой строки,
// вмешательство администратора журналируется в той же транзакции.
func (s *Service) TransitionNews(ctx context.Context, req Request) (domain.NewsItem, error) {
	var from domain.ModerationStatus
	item, err := s.news.UpdateNewsStatus(ctx, req.TargetID, func(n domain.NewsItem) (domain.ModerationStatus, *domain.AdminAction, error) {
		from = n.ModerationStatus
		subject := domain.TransitionSubject{Status: n.ModerationStatus, IsDuplicate: n.IsDuplicate, Archived: n.Archived()}
		if err := domain.ValidateTransition(subject, req.To, req.Trigger); err != nil {
			return "", nil, err
		}
		return req.To, s.overrideAction(req, "news", from), nil
	})
	if err != nil {
		return domain.NewsItem{}, fmt.Errorf("модерация новости %d: %w", req.TargetID, err)
	}
	s.transitioned("news", req, from)
	return item, nil
}

// TransitionComment меняет статус комментария по тем же правилам.
func (s *Service) TransitionComment(ctx context.Context, req Request) (domain.Comment, error) {
	var from domain.ModerationStatus
	c, err := s.comments.UpdateCommentStatus(ctx, req.TargetID, func(c domain.Comment) (domain.ModerationStatus, *domain.AdminAction, error) {
		from = c.Status
		if err := domain.ValidateTransition(domain.TransitionSubject{Status: c.Status}, req.To, req.Trigger); err != nil {
			return "", nil, err
		}
		return req.To, s.overrideAction(req, "comment", from), nil
	})
	if err != nil {
		return domain.Comment{}, fmt.Errorf("модерация комментария %d: %w", req.TargetID, err)
	}
	s.transitioned("comment", req, from)
	return c, nil
}

func (s *Service) overrideAction(req Request, target string, from domain.ModerationStatus) *domain.AdminAction {
	if req.Trigger != domain.TriggerAdminOverride {
		return nil
	}
	return &domain.AdminAction{
		ActorID:    req.ActorID,
		ActionType: "set_status",
		TargetType: target,
		TargetID:   req.TargetID,
		Details: map[string]any{
			"from":   string(from),
			"to":     string(req.To),
			"reason": req.Reason,
		},
		CreatedAt: s.now(),
	}
}

func (s *Service) transitioned(target string, req Request, from domain.ModerationStatus) {
	metrics.ObserveTransition(target, string(req.To), string(req.Trigger))
	s.log.Info().
		Str("target", target).
		Int64("id", req.TargetID).
		Str("from", string(from)).
		Str("to", string(req.To)).
		Str("trigger", string(req.Trigger)).
		Msg("статус изменён")
}

// ReportResult описывает последствия жалобы.
type ReportResult struct {
	Created       bool
	Flagged       bool
	SourceBlocked bool
}

// SubmitReport сохраняет жалобу. Достижение порога жалоб за окно помечает новость,
// после чего пересчитывается правило блокировки источника.
func (s *Service) SubmitReport(ctx context.Context, r domain.Report) (ReportResult, error) {
	if r.UserID == 0 || r.NewsID == 0 {
		return ReportResult{}, domain.Validationf("жалоба без пользователя или новости")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	news, err := s.news.GetNews(ctx, r.NewsID)
	if err != nil {
		return ReportResult{}, fmt.Errorf("получение новости: %w", err)
	}
	created, err := s.reports.InsertReport(ctx, r)
	if err != nil {
		return ReportResult{}, fmt.Errorf("сохранение жалобы: %w", err)
	}
	res := ReportResult{Created: created}
	if !created {
		return res, nil
	}

	count, err := s.reports.CountReports(ctx, r.NewsID, now.Add(-s.cfg.FlagWindow))
	if err != nil {
		return res, fmt.Errorf("подсчёт жалоб: %w", err)
	}
	if count >= s.cfg.FlagReports {
		res.Flagged, err = s.autoFlag(ctx, news, count)
		if err != nil {
			return res, err
		}
	}

	if s.blocker != nil {
		res.SourceBlocked, err = s.blocker.EvaluateAutoBlock(ctx, news.SourceID)
		if err != nil {
			return res, fmt.Errorf("правило блокировки источника: %w", err)
		}
	}
	return res, nil
}

func (s *Service) autoFlag(ctx context.Context, news domain.NewsItem, reports int) (bool, error) {
	_, err := s.TransitionNews(ctx, Request{TargetID: news.ID, To: domain.StatusFlagged, Trigger: domain.TriggerAutoFlag})
	if errors.Is(err, domain.ErrStateTransition) {
		s.log.Debug().Int64("news_id", news.ID).Msg("порог жалоб достигнут, но новость уже вне автоматической модерации")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.events != nil {
		newsID, sourceID := news.ID, news.SourceID
		if err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventNewsFlagged,
			NewsID:     &newsID,
			SourceID:   &sourceID,
			Metadata:   map[string]any{"reports": reports},
			OccurredAt: s.now(),
		}); err != nil {
			s.log.Error().Err(err).Msg("не удалось сохранить бизнес-метрику")
		}
	}
	return true, nil
}
