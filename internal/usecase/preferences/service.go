package preferences

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
)

const maxFeedName = 64

// Service управляет пользователями и их настройками ленты.
type Service struct {
	users domain.UserRepo
	prefs domain.PreferenceRepo
	log   zerolog.Logger
}

// NewService создаёт сервис настроек.
func NewService(users domain.UserRepo, prefs domain.PreferenceRepo, logger zerolog.Logger) *Service {
	return &Service{users: users, prefs: prefs, log: logger.With().Str("component", "preferences").Logger()}
}

// Register создаёт пользователя при первом обращении.
func (s *Service) Register(ctx context.Context, tgUserID int64, language string) (domain.User, error) {
	if tgUserID <= 0 {
		return domain.User{}, domain.Validationf("некорректный идентификатор пользователя %d", tgUserID)
	}
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = "uk"
	}
	u, err := s.users.UpsertUser(ctx, tgUserID, language)
	if err != nil {
		return domain.User{}, fmt.Errorf("регистрация пользователя: %w", err)
	}
	return u, nil
}

// ByTGID возвращает пользователя по идентификатору Telegram.
func (s *Service) ByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	return s.users.GetUserByTGID(ctx, tgUserID)
}

// Settings — изменяемые общие настройки. nil означает «не менять».
type Settings struct {
	SafeMode *bool            `json:"safe_mode,omitempty"`
	ViewMode *domain.ViewMode `json:"view_mode,omitempty"`
}

// UpdateSettings меняет безопасный режим и режим ленты.
func (s *Service) UpdateSettings(ctx context.Context, userID int64, in Settings) (domain.User, error) {
	if in.ViewMode != nil && *in.ViewMode != domain.ViewModeManual && *in.ViewMode != domain.ViewModeAuto {
		return domain.User{}, domain.Validationf("неизвестный режим ленты %q", *in.ViewMode)
	}
	if in.SafeMode != nil {
		if err := s.users.SetSafeMode(ctx, userID, *in.SafeMode); err != nil {
			return domain.User{}, fmt.Errorf("безопасный режим: %w", err)
		}
	}
	if in.ViewMode != nil {
		if err := s.users.SetViewMode(ctx, userID, *in.ViewMode); err != nil {
			return domain.User{}, fmt.Errorf("режим ленты: %w", err)
		}
	}
	return s.users.GetUser(ctx, userID)
}

// Preferences возвращает все настройки пользователя.
func (s *Service) Preferences(ctx context.Context, userID int64) (domain.Preferences, error) {
	return s.users.LoadPreferences(ctx, userID)
}

// AddFilters дополняет личные фильтры.
func (s *Service) AddFilters(ctx context.Context, userID int64, filters []domain.Filter) error {
	set, err := domain.NewFilterSet(filters)
	if err != nil {
		return err
	}
	if set.Empty() {
		return domain.Validationf("не указаны фильтры")
	}
	return s.prefs.AddFilters(ctx, userID, set.Filters())
}

// ResetFilters удаляет личные фильтры.
func (s *Service) ResetFilters(ctx context.Context, userID int64) error {
	return s.prefs.ResetFilters(ctx, userID)
}

// AddBlock добавляет блокировку. Повтор не считается ошибкой.
func (s *Service) AddBlock(ctx context.Context, userID int64, t domain.BlockType, value string) error {
	b, err := newBlock(userID, t, value)
	if err != nil {
		return err
	}
	return s.prefs.AddBlock(ctx, b)
}

// RemoveBlock снимает блокировку.
func (s *Service) RemoveBlock(ctx context.Context, userID int64, t domain.BlockType, value string) error {
	b, err := newBlock(userID, t, value)
	if err != nil {
		return err
	}
	return s.prefs.RemoveBlock(ctx, userID, b.Type, b.Value)
}

// Blocks возвращает блокировки пользователя.
func (s *Service) Blocks(ctx context.Context, userID int64) ([]domain.Block, error) {
	return s.prefs.ListBlocks(ctx, userID)
}

func newBlock(userID int64, t domain.BlockType, value string) (domain.Block, error) {
	if !t.Valid() {
		return domain.Block{}, domain.Validationf("неизвестный тип блокировки %q", t)
	}
	value = domain.NormalizeValue(strings.TrimPrefix(strings.TrimSpace(value), "#"))
	if value == "" {
		return domain.Block{}, domain.Validationf("пустое значение блокировки")
	}
	return domain.Block{UserID: userID, Type: t, Value: value}, nil
}

// CreateFeed создаёт именованную подборку.
func (s *Service) CreateFeed(ctx context.Context, userID int64, name string, filters []domain.Filter) (domain.CustomFeed, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxFeedName {
		return domain.CustomFeed{}, domain.Validationf("название подборки должно быть от 1 до %d символов", maxFeedName)
	}
	set, err := domain.NewFilterSet(filters)
	if err != nil {
		return domain.CustomFeed{}, err
	}
	return s.prefs.CreateCustomFeed(ctx, domain.CustomFeed{UserID: userID, Name: name, Filters: set})
}

// UpdateFeed заменяет фильтры подборки.
func (s *Service) UpdateFeed(ctx context.Context, userID, feedID int64, filters []domain.Filter) (domain.CustomFeed, error) {
	set, err := domain.NewFilterSet(filters)
	if err != nil {
		return domain.CustomFeed{}, err
	}
	return s.prefs.UpdateCustomFeedFilters(ctx, userID, feedID, set)
}

// DeleteFeed удаляет подборку. Если она была активной, выбор снимается.
func (s *Service) DeleteFeed(ctx context.Context, userID, feedID int64) error {
	if err := s.prefs.DeleteCustomFeed(ctx, userID, feedID); err != nil {
		return fmt.Errorf("удаление подборки: %w", err)
	}
	s.log.Info().Int64("user_id", userID).Int64("feed_id", feedID).Msg("подборка удалена")
	return nil
}

// Feeds возвращает подборки пользователя.
func (s *Service) Feeds(ctx context.Context, userID int64) ([]domain.CustomFeed, error) {
	return s.prefs.ListCustomFeeds(ctx, userID)
}

// ActivateFeed делает подборку активной.
func (s *Service) ActivateFeed(ctx context.Context, userID, feedID int64) error {
	id := feedID
	return s.prefs.SetCurrentFeed(ctx, userID, &id)
}

// DeactivateFeed возвращает ленту к личным фильтрам.
func (s *Service) DeactivateFeed(ctx context.Context, userID int64) error {
	return s.prefs.SetCurrentFeed(ctx, userID, nil)
}
