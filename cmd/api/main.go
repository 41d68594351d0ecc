package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tg-news-engine/internal/adapters/httpapi"
	"tg-news-engine/internal/app"
	"tg-news-engine/internal/infra/config"
	httpinfra "tg-news-engine/internal/infra/http"
	applog "tg-news-engine/internal/infra/log"
	"tg-news-engine/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStorage(ctx, cfg, cfg.AppEnv == "dev", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: хранилище недоступно")
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis недоступен")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	ingestQueue, closeQueue, err := app.OpenQueue(cfg, rdb)
	if err != nil {
		logger.Warn().Err(err).Msg("api: очередь приёма недоступна, ручная отправка отключена")
	} else {
		defer closeQueue()
	}

	svc := app.NewServices(cfg, store, app.NewCapabilities(cfg, logger), app.Locker(rdb, store), logger)
	if _, err := app.SeedSources(ctx, svc.Sources, cfg.Ingest.SourcesFile, logger); err != nil {
		logger.Fatal().Err(err).Msg("api: стартовые источники")
	}

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	httpapi.New(httpapi.Deps{
		Users:      svc.Preferences,
		Feeds:      svc.Feed,
		Engagement: svc.Engagement,
		Reports:    svc.Moderation,
		Comments:   svc.Comments,
		Sources:    svc.Sources,
		Admin:      svc.Admin,
		Archive:    svc.Lifecycle,
		Queue:      ingestQueue,
	}, logger).Routes(server.Router, cfg.AdminToken, cfg.Telegram.Token)
	if cfg.AdminToken == "" {
		logger.Warn().Msg("api: ADMIN_TOKEN не задан, административные маршруты закрыты")
	}

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
