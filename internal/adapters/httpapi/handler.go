package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	httpinfra "tg-news-engine/internal/infra/http"
	"tg-news-engine/internal/usecase/admin"
	"tg-news-engine/internal/usecase/comments"
	"tg-news-engine/internal/usecase/feed"
	"tg-news-engine/internal/usecase/moderation"
	"tg-news-engine/internal/usecase/preferences"
	"tg-news-engine/internal/usecase/sources"
)

// Users — операции с пользователями и их настройками.
type Users interface {
	Register(ctx context.Context, tgUserID int64, language string) (domain.User, error)
	ByTGID(ctx context.Context, tgUserID int64) (domain.User, error)
	UpdateSettings(ctx context.Context, userID int64, in preferences.Settings) (domain.User, error)
	Preferences(ctx context.Context, userID int64) (domain.Preferences, error)
	AddFilters(ctx context.Context, userID int64, filters []domain.Filter) error
	ResetFilters(ctx context.Context, userID int64) error
	AddBlock(ctx context.Context, userID int64, t domain.BlockType, value string) error
	RemoveBlock(ctx context.Context, userID int64, t domain.BlockType, value string) error
	Blocks(ctx context.Context, userID int64) ([]domain.Block, error)
	CreateFeed(ctx context.Context, userID int64, name string, filters []domain.Filter) (domain.CustomFeed, error)
	UpdateFeed(ctx context.Context, userID, feedID int64, filters []domain.Filter) (domain.CustomFeed, error)
	DeleteFeed(ctx context.Context, userID, feedID int64) error
	Feeds(ctx context.Context, userID int64) ([]domain.CustomFeed, error)
	ActivateFeed(ctx context.Context, userID, feedID int64) error
	DeactivateFeed(ctx context.Context, userID int64) error
}

// Feeds — чтение лент.
type Feeds interface {
	Compose(ctx context.Context, userID int64, cursor string, pageSize int) (feed.Page, error)
	Trending(ctx context.Context, limit int) ([]domain.TrendingItem, error)
	Public(ctx context.Context, q domain.PublicQuery) ([]domain.NewsItem, error)
	Search(ctx context.Context, text string, limit, offset int) ([]domain.NewsItem, error)
	Saved(ctx context.Context, userID int64, limit, offset int) ([]domain.SavedItem, error)
	Translate(ctx context.Context, newsID int64, lang string) (feed.Translation, error)
}

// Engagement — журнал взаимодействий и статистика.
type Engagement interface {
	Record(ctx context.Context, e domain.InteractionEvent) (bool, error)
	UserStats(ctx context.Context, userID int64) (domain.UserStats, error)
	SourceStats(ctx context.Context, sourceID int64) (domain.SourceStats, error)
}

// Reports принимает жалобы.
type Reports interface {
	SubmitReport(ctx context.Context, r domain.Report) (moderation.ReportResult, error)
}

// Comments — комментарии к новостям.
type Comments interface {
	Add(ctx context.Context, in comments.AddInput) (domain.Comment, bool, error)
	Thread(ctx context.Context, newsID int64) ([]comments.Node, error)
}

// Sources — реестр источников.
type Sources interface {
	Register(ctx context.Context, in sources.RegisterInput) (domain.Source, bool, error)
	List(ctx context.Context, status domain.SourceStatus) ([]domain.Source, error)
}

// Admin — административные действия.
type Admin interface {
	Apply(ctx context.Context, cmd admin.Command) (any, error)
	History(ctx context.Context, targetType string, targetID int64) ([]domain.AdminAction, error)
}

// Archive читает архивные снимки.
type Archive interface {
	Archived(ctx context.Context, originalID int64) (domain.ArchivedNewsItem, error)
}

// Deps — зависимости обработчиков.
type Deps struct {
	Users      Users
	Feeds      Feeds
	Engagement Engagement
	Reports    Reports
	Comments   Comments
	Sources    Sources
	Admin      Admin
	Archive    Archive
	// Queue принимает публикации, отправленные вручную.
	Queue domain.IngestQueue
}

// Handler обслуживает HTTP API.
type Handler struct {
	Deps
	log zerolog.Logger
}

// New создаёт обработчик.
func New(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{Deps: deps, log: logger.With().Str("component", "httpapi").Logger()}
}

// Routes регистрирует маршруты /api/v1 и /webapp/v1.
// adminToken защищает административные маршруты, botToken проверяет initData WebApp.
func (h *Handler) Routes(r chi.Router, adminToken, botToken string) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", h.registerUser)
		r.Route("/users/{tgID}", func(r chi.Router) {
			r.Get("/", h.getUser)
			r.Put("/settings", h.updateSettings)
			r.Get("/feed", h.userFeed)
			r.Get("/stats", h.userStats)
			r.Get("/saved", h.savedNews)
			r.Get("/filters", h.getFilters)
			r.Put("/filters", h.addFilters)
			r.Delete("/filters", h.resetFilters)
			r.Get("/blocks", h.listBlocks)
			r.Post("/blocks", h.addBlock)
			r.Delete("/blocks", h.removeBlock)
			r.Get("/custom-feeds", h.listCustomFeeds)
			r.Post("/custom-feeds", h.createCustomFeed)
			r.Delete("/custom-feeds/active", h.deactivateCustomFeed)
			r.Put("/custom-feeds/{feedID}", h.updateCustomFeed)
			r.Delete("/custom-feeds/{feedID}", h.deleteCustomFeed)
			r.Post("/custom-feeds/{feedID}/activate", h.activateCustomFeed)
		})

		r.Get("/trending", h.trending)
		r.Get("/news", h.publicNews)
		r.Get("/news/search", h.searchNews)
		r.Post("/news", h.submitNews)
		r.Get("/news/{newsID}/translate", h.translate)
		r.Get("/news/{newsID}/comments", h.thread)
		r.Get("/archive/{newsID}", h.archived)

		r.Post("/interactions", h.recordInteraction)
		r.Post("/reports", h.submitReport)
		r.Post("/comments", h.addComment)

		r.Get("/sources", h.listSources)
		r.Post("/sources", h.registerSource)
		r.Get("/sources/{sourceID}/stats", h.sourceStats)

		r.Group(func(r chi.Router) {
			r.Use(httpinfra.AdminTokenMiddleware(adminToken))
			r.Post("/admin/actions", h.adminAction)
			r.Get("/admin/actions", h.adminHistory)
		})
	})

	r.Route("/webapp/v1", func(r chi.Router) {
		r.Use(httpinfra.WebAppAuthMiddleware(botToken))
		r.Get("/feed", h.webappFeed)
	})
}

// fail переводит ошибку сервиса в HTTP-статус.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", httpinfra.RequestID(r)).
			Str("path", r.URL.Path).
			Msg("ошибка обработки запроса")
		httpinfra.WriteError(w, status, errors.New("внутренняя ошибка"))
		return
	}
	httpinfra.WriteError(w, status, err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStateTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCapabilityTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Validationf("некорректное тело запроса: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("некорректный параметр %s", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Validationf("некорректный параметр %s", name)
	}
	return n, nil
}

// user находит пользователя по tgID из пути.
func (h *Handler) user(r *http.Request) (domain.User, error) {
	tgID, err := pathID(r, "tgID")
	if err != nil {
		return domain.User{}, err
	}
	u, err := h.Users.ByTGID(r.Context(), tgID)
	if err != nil {
		return domain.User{}, fmt.Errorf("пользователь %d: %w", tgID, err)
	}
	return u, nil
}
