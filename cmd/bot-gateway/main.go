package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-news-engine/internal/adapters/bot"
	"tg-news-engine/internal/app"
	"tg-news-engine/internal/infra/cache"
	"tg-news-engine/internal/infra/config"
	httpinfra "tg-news-engine/internal/infra/http"
	applog "tg-news-engine/internal/infra/log"
	"tg-news-engine/internal/infra/metrics"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "bot-gateway")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}

	store, closeStore, err := app.OpenStorage(ctx, cfg, cfg.AppEnv == "dev", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: хранилище недоступно")
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: redis недоступен")
	}
	deps := bot.Deps{PageSize: cfg.Feed.DefaultPageSize}
	if rdb != nil {
		defer rdb.Close()
		deps.Dedup = cache.NewRedis(rdb)
	} else {
		logger.Warn().Msg("bot-gateway: REDIS_ADDR не задан, повторные апдейты не отсекаются")
	}

	ingestQueue, closeQueue, err := app.OpenQueue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: очередь приёма недоступна")
	}
	defer closeQueue()

	svc := app.NewServices(cfg, store, app.NewCapabilities(cfg, logger), app.Locker(rdb, store), logger)
	deps.Users = svc.Preferences
	deps.Feeds = svc.Feed
	deps.Engagement = svc.Engagement
	deps.Queue = ingestQueue

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}
	if cfg.Telegram.WebhookURL != "" {
		if err := registerWebhook(botAPI, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: не удалось зарегистрировать вебхук")
		}
	}

	h := bot.NewHandler(botAPI, deps, logger)
	server := httpinfra.NewServer(applog.Component(logger, "http"))
	server.Router.Post("/bot/webhook", webhook(h, cfg.Telegram.WebhookSecret, logger))

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot-gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("bot-gateway: ошибка остановки сервера")
	}
}

// webhook принимает апдейты Telegram. Ответ 5xx заставляет Telegram повторить доставку.
func webhook(h *bot.Handler, secret string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" {
			got := r.Header.Get(secretHeader)
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, "invalid webhook secret", http.StatusUnauthorized)
				return
			}
		}
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		if err := h.HandleUpdate(r.Context(), update); err != nil {
			logger.Error().Err(err).Int("update_id", update.UpdateID).Msg("bot-gateway: апдейт не обработан")
			http.Error(w, "retry later", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// registerWebhook сообщает Telegram адрес вебхука. Секрет передаётся параметром token.
func registerWebhook(api *tgbotapi.BotAPI, rawURL, secret string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("адрес вебхука: %w", err)
	}
	if secret != "" {
		q := target.Query()
		q.Set("token", secret)
		target.RawQuery = q.Encode()
	}
	wh, err := tgbotapi.NewWebhook(target.String())
	if err != nil {
		return err
	}
	wh.AllowedUpdates = []string{"message", "channel_post", "edited_channel_post", "callback_query"}
	_, err = api.Request(wh)
	return err
}
