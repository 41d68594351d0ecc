package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/usecase/moderation"
)

// Типы объектов административных действий.
const (
	TargetNews    = "news"
	TargetComment = "comment"
	TargetSource  = "source"
)

// Виды действий.
const (
	ActionSetStatus         = "set_status"
	ActionAdjustReliability = "adjust_reliability"
)

// Moderator применяет переходы модерации.
type Moderator interface {
	TransitionNews(ctx context.Context, req moderation.Request) (domain.NewsItem, error)
	TransitionComment(ctx context.Context, req moderation.Request) (domain.Comment, error)
}

// SourceManager меняет состояние источников.
type SourceManager interface {
	SetStatus(ctx context.Context, id int64, status domain.SourceStatus, reason string) (domain.Source, error)
	AdjustReliability(ctx context.Context, id int64, delta int) (int, error)
}

// Command — административное вмешательство.
type Command struct {
	ActorID    int64  `json:"actor_id"`
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
	Action     string `json:"action"`
	Status     string `json:"status,omitempty"`
	Delta      int    `json:"delta,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Service выполняет административные действия. Каждое действие журналируется.
type Service struct {
	moderator Moderator
	sources   SourceManager
	repo      domain.AdminRepo
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис администрирования.
func NewService(moderator Moderator, sources SourceManager, repo domain.AdminRepo, logger zerolog.Logger) *Service {
	return &Service{
		moderator: moderator,
		sources:   sources,
		repo:      repo,
		log:       logger.With().Str("component", "admin").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply выполняет команду и возвращает изменённый объект.
func (s *Service) Apply(ctx context.Context, cmd Command) (any, error) {
	if cmd.TargetID <= 0 {
		return nil, domain.Validationf("не указан объект действия")
	}
	s.log.Info().
		Int64("actor_id", cmd.ActorID).
		Str("target", cmd.TargetType).
		Int64("target_id", cmd.TargetID).
		Str("action", cmd.Action).
		Msg("административное действие")

	switch {
	case cmd.TargetType == TargetNews && cmd.Action == ActionSetStatus:
		return s.moderator.TransitionNews(ctx, s.overrideRequest(cmd))
	case cmd.TargetType == TargetComment && cmd.Action == ActionSetStatus:
		return s.moderator.TransitionComment(ctx, s.overrideRequest(cmd))
	case cmd.TargetType == TargetSource && cmd.Action == ActionSetStatus:
		status := domain.SourceStatus(cmd.Status)
		src, err := s.sources.SetStatus(ctx, cmd.TargetID, status, cmd.Reason)
		if err != nil {
			return nil, err
		}
		return src, s.record(ctx, cmd, map[string]any{"status": cmd.Status, "reason": cmd.Reason})
	case cmd.TargetType == TargetSource && cmd.Action == ActionAdjustReliability:
		if cmd.Delta == 0 {
			return nil, domain.Validationf("нулевое изменение надёжности")
		}
		score, err := s.sources.AdjustReliability(ctx, cmd.TargetID, cmd.Delta)
		if err != nil {
			return nil, err
		}
		return map[string]int{"reliability_score": score}, s.record(ctx, cmd, map[string]any{"delta": cmd.Delta, "score": score})
	}
	return nil, domain.Validationf("неподдерживаемое действие %s над %s", cmd.Action, cmd.TargetType)
}

func (s *Service) overrideRequest(cmd Command) moderation.Request {
	return moderation.Request{
		TargetID: cmd.TargetID,
		To:       domain.ModerationStatus(cmd.Status),
		Trigger:  domain.TriggerAdminOverride,
		ActorID:  cmd.ActorID,
		Reason:   cmd.Reason,
	}
}

func (s *Service) record(ctx context.Context, cmd Command, details map[string]any) error {
	if cmd.Reason != "" {
		details["reason"] = cmd.Reason
	}
	if _, err := s.repo.InsertAdminAction(ctx, domain.AdminAction{
		ActorID:    cmd.ActorID,
		ActionType: cmd.Action,
		TargetType: cmd.TargetType,
		TargetID:   cmd.TargetID,
		Details:    details,
		CreatedAt:  s.now(),
	}); err != nil {
		return fmt.Errorf("журнал действий: %w", err)
	}
	return nil
}

// History возвращает журнал действий над объектом.
func (s *Service) History(ctx context.Context, targetType string, targetID int64) ([]domain.AdminAction, error) {
	return s.repo.ListAdminActions(ctx, targetType, targetID)
}
