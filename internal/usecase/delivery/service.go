package delivery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/usecase/feed"
)

const runLockKey = "delivery:run"

// UserLister выбирает пользователей по режиму просмотра.
type UserLister interface {
	ListUsersByViewMode(ctx context.Context, mode domain.ViewMode) ([]domain.User, error)
}

// FeedSource отдаёт ещё не показанные пользователю новости.
type FeedSource interface {
	Unseen(ctx context.Context, userID int64, limit int) ([]feed.Item, error)
}

// InteractionRecorder фиксирует показ новости.
type InteractionRecorder interface {
	Record(ctx context.Context, e domain.InteractionEvent) (bool, error)
}

// Sender доставляет сообщение в чат пользователя.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}

// Config задаёт периодичность и объём автоматической доставки.
type Config struct {
	Interval    time.Duration
	MaxItems    int
	Concurrency int
}

// Report — итог одного прохода доставки.
type Report struct {
	Users     int
	Delivered int
	Failed    int
}

// Service рассылает ленту пользователям в автоматическом режиме.
// Доставленные новости отмечаются просмотренными и больше не повторяются.
type Service struct {
	users    UserLister
	feed     FeedSource
	recorder InteractionRecorder
	sender   Sender
	events   domain.BusinessMetricRepo
	locker   domain.Locker
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис доставки. events и locker могут быть nil.
func NewService(users UserLister, feedSource FeedSource, recorder InteractionRecorder, sender Sender, events domain.BusinessMetricRepo, locker domain.Locker, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Service{
		users:    users,
		feed:     feedSource,
		recorder: recorder,
		sender:   sender,
		events:   events,
		locker:   locker,
		cfg:      cfg,
		log:      logger.With().Str("component", "delivery").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DeliverUser отправляет пользователю непоказанные новости и возвращает их количество.
func (s *Service) DeliverUser(ctx context.Context, user domain.User) (int, error) {
	items, err := s.feed.Unseen(ctx, user.ID, s.cfg.MaxItems)
	if err != nil {
		return 0, fmt.Errorf("подбор новостей: %w", err)
	}
	text := FormatFeed(items)
	if text == "" {
		return 0, nil
	}
	if err := s.sender.SendHTML(ctx, user.TGUserID, text); err != nil {
		return 0, fmt.Errorf("отправка ленты: %w", err)
	}

	now := s.now()
	for _, it := range items {
		if _, err := s.recorder.Record(ctx, domain.InteractionEvent{
			UserID:     user.ID,
			NewsID:     it.News.ID,
			Action:     domain.ActionView,
			OccurredAt: now,
		}); err != nil {
			// Сообщение уже ушло: без отметки новость придёт повторно.
			s.log.Error().Err(err).Int64("user_id", user.ID).Int64("news_id", it.News.ID).Msg("не удалось отметить показ")
		}
	}

	if s.events != nil {
		userID := user.ID
		if err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventFeedDelivered,
			UserID:     &userID,
			Metadata:   map[string]any{"items": len(items)},
			OccurredAt: now,
		}); err != nil {
			s.log.Error().Err(err).Msg("не удалось сохранить бизнес-метрику")
		}
	}
	return len(items), nil
}

// DeliverAll обходит всех пользователей с автоматическим режимом.
// Ошибка одного пользователя не прерывает рассылку остальным.
func (s *Service) DeliverAll(ctx context.Context) (Report, error) {
	users, err := s.users.ListUsersByViewMode(ctx, domain.ViewModeAuto)
	if err != nil {
		return Report{}, fmt.Errorf("список пользователей: %w", err)
	}

	var delivered, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, u := range users {
		u := u
		g.Go(func() error {
			n, err := s.DeliverUser(gctx, u)
			if err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).Int64("user_id", u.ID).Msg("доставка не удалась")
				return nil
			}
			delivered.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Users: len(users), Delivered: int(delivered.Load()), Failed: int(failed.Load())}
	if report.Delivered > 0 || report.Failed > 0 {
		s.log.Info().Int("users", report.Users).Int("delivered", report.Delivered).Int("failed", report.Failed).Msg("рассылка завершена")
	}
	return report, ctx.Err()
}

// Run запускает рассылку по таймеру до отмены ctx.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
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
		ok, err := s.locker.Acquire(ctx, runLockKey, s.cfg.Interval/2)
		if err != nil {
			s.log.Error().Err(err).Msg("не удалось захватить блокировку рассылки")
			return
		}
		if !ok {
			return
		}
	}
	if _, err := s.DeliverAll(ctx); err != nil {
		s.log.Error().Err(err).Msg("рассылка завершилась с ошибкой")
	}
}
