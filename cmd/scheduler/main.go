package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"tg-news-engine/internal/adapters/telegram"
	"tg-news-engine/internal/app"
	"tg-news-engine/internal/infra/config"
	applog "tg-news-engine/internal/infra/log"
	"tg-news-engine/internal/infra/metrics"
	"tg-news-engine/internal/usecase/delivery"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "scheduler")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	store, closeStore, err := app.OpenStorage(ctx, cfg, false, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: хранилище недоступно")
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: redis недоступен")
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn().Msg("scheduler: REDIS_ADDR не задан, запускайте один экземпляр")
	}
	locker := app.Locker(rdb, store)

	svc := app.NewServices(cfg, store, app.NewCapabilities(cfg, logger), locker, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Lifecycle.Run(gctx) })
	g.Go(func() error {
		return svc.Engagement.RunRebuild(gctx, cfg.Lifecycle.StatsRebuildInterval, locker)
	})

	if cfg.Telegram.Token == "" {
		logger.Warn().Msg("scheduler: TG_BOT_TOKEN не задан, автоматическая доставка отключена")
	} else {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота")
		}
		sender := telegram.NewSender(botAPI, logger)
		deliverer := delivery.NewService(store, svc.Feed, svc.Engagement, sender, store, locker, delivery.Config{
			Interval: cfg.Delivery.Interval,
			MaxItems: cfg.Delivery.MaxItems,
		}, logger)
		g.Go(func() error { return deliverer.Run(gctx) })
	}

	logger.Info().Msg("scheduler: старт")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("scheduler: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("scheduler: остановлен")
}
