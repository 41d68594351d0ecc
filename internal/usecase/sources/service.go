package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

var telegramAlias = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/(?:s/)?|t\.me/)?([a-z0-9_]{5,})/?$`)

// Service управляет реестром источников.
type Service struct {
	repo   domain.SourceRepo
	events domain.BusinessMetricRepo
	policy domain.AutoBlockPolicy
	log    zerolog.Logger
	now    func() time.Time
}

// NewService создаёт сервис источников.
func NewService(repo domain.SourceRepo, events domain.BusinessMetricRepo, policy domain.AutoBlockPolicy, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: events,
		policy: policy,
		log:    logger.With().Str("component", "sources").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeLink приводит ссылку на источник к каноничному виду.
func NormalizeLink(raw string, t domain.SourceType) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", domain.Validationf("пустая ссылка на источник")
	}
	if t == domain.SourceTelegram {
		m := telegramAlias.FindStringSubmatch(trimmed)
		if len(m) < 2 {
			return "", domain.Validationf("некорректный канал %q", raw)
		}
		return "https://t.me/" + strings.ToLower(m[1]), nil
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", domain.Validationf("некорректная ссылка %q", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", domain.Validationf("неподдерживаемая схема %q", u.Scheme)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// DeriveName строит имя источника из ссылки.
func DeriveName(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if u.Host == "t.me" {
		return "@" + strings.Trim(u.Path, "/")
	}
	if path := strings.Trim(u.Path, "/"); path != "" {
		return host + "/" + path
	}
	return host
}

// RegisterInput описывает новый источник.
type RegisterInput struct {
	Link     string
	Type     domain.SourceType
	Name     string
	AddedBy  *int64
	Verified bool
}

// Register регистрирует источник. Повторная регистрация той же ссылки возвращает существующий.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.Source, bool, error) {
	if !in.Type.Valid() {
		return domain.Source{}, false, domain.Validationf("неизвестный тип источника %q", in.Type)
	}
	link, err := NormalizeLink(in.Link, in.Type)
	if err != nil {
		return domain.Source{}, false, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = DeriveName(link)
	}
	src, created, err := s.repo.UpsertSource(ctx, domain.Source{
		Name:     name,
		Link:     link,
		Type:     in.Type,
		Verified: in.Verified,
		Status:   domain.SourceStatusNew,
		AddedBy:  in.AddedBy,
	})
	if err != nil {
		return domain.Source{}, false, fmt.Errorf("сохранение источника: %w", err)
	}
	if created {
		s.log.Info().Int64("source_id", src.ID).Str("link", link).Msg("источник зарегистрирован")
	}
	return src, created, nil
}

// Get возвращает источник.
func (s *Service) Get(ctx context.Context, id int64) (domain.Source, error) {
	return s.repo.GetSource(ctx, id)
}

// List возвращает источники с указанным статусом или все при пустом статусе.
func (s *Service) List(ctx context.Context, status domain.SourceStatus) ([]domain.Source, error) {
	if status != "" && !status.Valid() {
		return nil, domain.Validationf("неизвестный статус источника %q", status)
	}
	return s.repo.ListSources(ctx, status)
}

// SetStatus меняет статус источника. При блокировке причина сохраняется.
func (s *Service) SetStatus(ctx context.Context, id int64, status domain.SourceStatus, reason string) (domain.Source, error) {
	if !status.Valid() {
		return domain.Source{}, domain.Validationf("неизвестный статус источника %q", status)
	}
	src, err := s.repo.SetSourceStatus(ctx, id, status, reason, s.now())
	if err != nil {
		return domain.Source{}, fmt.Errorf("смена статуса источника: %w", err)
	}
	return src, nil
}

// AdjustReliability изменяет рейтинг надёжности на delta.
func (s *Service) AdjustReliability(ctx context.Context, id int64, delta int) (int, error) {
	score, err := s.repo.AdjustReliability(ctx, id, delta)
	if err != nil {
		return 0, fmt.Errorf("изменение надёжности: %w", err)
	}
	return score, nil
}

// MarkFetched фиксирует время последнего опроса.
func (s *Service) MarkFetched(ctx context.Context, id int64) error {
	return s.repo.MarkSourceFetched(ctx, id, s.now())
}

// EvaluateAutoBlock пересчитывает правило автоблокировки и блокирует источник при срабатывании.
func (s *Service) EvaluateAutoBlock(ctx context.Context, id int64) (bool, error) {
	src, err := s.repo.GetSource(ctx, id)
	if err != nil {
		return false, fmt.Errorf("получение источника: %w", err)
	}
	if src.Status == domain.SourceStatusBlocked {
		return false, nil
	}
	now := s.now()
	stats, err := s.repo.SourceStats(ctx, id, now.Add(-s.policy.Window))
	if err != nil {
		return false, fmt.Errorf("статистика источника: %w", err)
	}
	if !s.policy.ShouldBlock(stats) {
		return false, nil
	}
	reason := fmt.Sprintf("auto: %d жалоб на %d публикаций", stats.WindowReports, stats.WindowPublications)
	if _, err := s.repo.SetSourceStatus(ctx, id, domain.SourceStatusBlocked, reason, now); err != nil {
		return false, fmt.Errorf("блокировка источника: %w", err)
	}
	metrics.SourcesBlocked.Inc()
	s.log.Warn().Int64("source_id", id).Str("reason", reason).Msg("источник заблокирован автоматически")
	if s.events != nil {
		srcID := id
		if err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventSourceBlocked,
			SourceID:   &srcID,
			Metadata:   map[string]any{"reports": stats.WindowReports, "publications": stats.WindowPublications},
			OccurredAt: now,
		}); err != nil {
			s.log.Error().Err(err).Msg("не удалось сохранить бизнес-метрику")
		}
	}
	return true, nil
}
