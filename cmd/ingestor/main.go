package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"tg-news-engine/internal/adapters/rss"
	"tg-news-engine/internal/app"
	"tg-news-engine/internal/infra/config"
	applog "tg-news-engine/internal/infra/log"
	"tg-news-engine/internal/infra/metrics"
	"tg-news-engine/internal/usecase/ingest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "ingestor")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	store, closeStore, err := app.OpenStorage(ctx, cfg, false, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestor: хранилище недоступно")
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestor: redis недоступен")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	ingestQueue, closeQueue, err := app.OpenQueue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestor: очередь приёма недоступна")
	}
	defer closeQueue()

	svc := app.NewServices(cfg, store, app.NewCapabilities(cfg, logger), app.Locker(rdb, store), logger)
	if _, err := app.SeedSources(ctx, svc.Sources, cfg.Ingest.SourcesFile, logger); err != nil {
		logger.Fatal().Err(err).Msg("ingestor: стартовые источники")
	}

	worker := ingest.NewWorker(ingestQueue, svc.Ingest, cfg.Queues.MaxAttempts, logger)
	poller := rss.NewPoller(svc.Sources, rss.NewCollector(nil), ingestQueue, cfg.Ingest.RSSPollInterval, cfg.Ingest.RSSWorkers, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })

	logger.Info().Str("queue", cfg.Queues.Backend).Msg("ingestor: запуск обработки очереди")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("ingestor: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("ingestor: остановлен")
}
