// Package app собирает сервисы движка из конфигурации. Используется всеми бинарями cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-news-engine/internal/adapters/capability"
	"tg-news-engine/internal/adapters/memstore"
	"tg-news-engine/internal/adapters/repo"
	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/cache"
	"tg-news-engine/internal/infra/config"
	"tg-news-engine/internal/infra/db"
	openai "tg-news-engine/internal/infra/openai"
	"tg-news-engine/internal/infra/queue"
	"tg-news-engine/internal/usecase/admin"
	"tg-news-engine/internal/usecase/comments"
	"tg-news-engine/internal/usecase/dedup"
	"tg-news-engine/internal/usecase/engagement"
	"tg-news-engine/internal/usecase/feed"
	"tg-news-engine/internal/usecase/ingest"
	"tg-news-engine/internal/usecase/lifecycle"
	"tg-news-engine/internal/usecase/moderation"
	"tg-news-engine/internal/usecase/preferences"
	"tg-news-engine/internal/usecase/sources"
)

// Storage объединяет репозитории, которые нужны сервисам.
type Storage interface {
	domain.SourceRepo
	domain.NewsRepo
	domain.FeedRepo
	domain.ArchiveRepo
	domain.UserRepo
	domain.PreferenceRepo
	domain.EngagementRepo
	domain.ReportRepo
	domain.CommentRepo
	domain.AdminRepo
	domain.BusinessMetricRepo
}

var (
	_ Storage = (*repo.Postgres)(nil)
	_ Storage = (*memstore.Store)(nil)
)

// OpenStorage подключает Postgres и применяет миграции.
// Без PG_DSN возвращает хранилище в памяти, если allowMemory разрешает это.
func OpenStorage(ctx context.Context, cfg config.AppConfig, allowMemory bool, logger zerolog.Logger) (Storage, func(), error) {
	if cfg.PGDSN == "" {
		if !allowMemory {
			return nil, nil, fmt.Errorf("не задан PG_DSN")
		}
		logger.Warn().Msg("PG_DSN не задан, данные хранятся в памяти процесса")
		return memstore.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("подключение к БД: %w", err)
	}
	if cfg.AutoMigrate {
		version, err := db.Migrate(cfg.PGDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("миграции: %w", err)
		}
		logger.Info().Uint("version", version).Msg("схема БД актуальна")
	}
	return repo.NewPostgres(pool), pool.Close, nil
}

// OpenRedis создаёт клиент Redis и проверяет соединение. Пустой REDIS_ADDR даёт nil.
func OpenRedis(ctx context.Context, cfg config.AppConfig) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

// OpenQueue открывает очередь приёма выбранного QUEUE_BACKEND.
func OpenQueue(cfg config.AppConfig, rdb *redis.Client) (domain.IngestQueue, func() error, error) {
	var cmd redis.Cmdable
	if rdb != nil {
		cmd = rdb
	}
	return queue.Open(queue.Options{
		Backend:   cfg.Queues.Backend,
		Key:       cfg.Queues.Ingest,
		RabbitURL: cfg.Queues.RabbitURL,
	}, cmd)
}

// Locker выбирает распределённую блокировку: Redis, иначе блокировку хранилища в памяти.
// nil означает единственный экземпляр без блокировок.
func Locker(rdb *redis.Client, store Storage) domain.Locker {
	if rdb != nil {
		return cache.NewRedis(rdb)
	}
	if l, ok := store.(domain.Locker); ok {
		return l
	}
	return nil
}

// Capabilities — внешние сервисы анализа текста.
type Capabilities struct {
	Classifier domain.Classifier
	Sentiment  domain.SentimentAnalyzer
	Translator domain.Translator
}

// NewCapabilities использует OpenAI при наличии ключа, иначе локальные эвристики без перевода.
func NewCapabilities(cfg config.AppConfig, logger zerolog.Logger) Capabilities {
	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout, cfg.OpenAI.RPS)
	if client.Enabled() {
		provider := capability.NewOpenAI(client, cfg.OpenAI.Model)
		return Capabilities{Classifier: provider, Sentiment: provider, Translator: provider}
	}
	logger.Warn().Msg("OPENAI_API_KEY не задан: классификация эвристическая, перевод недоступен")
	simple := capability.NewSimple()
	return Capabilities{Classifier: simple, Sentiment: simple, Translator: capability.Noop{}}
}

// Services — граф сервисов движка.
type Services struct {
	Sources     *sources.Service
	Ingest      *ingest.Service
	Feed        *feed.Service
	Engagement  *engagement.Service
	Moderation  *moderation.Service
	Comments    *comments.Service
	Admin       *admin.Service
	Preferences *preferences.Service
	Lifecycle   *lifecycle.Service
}

// NewServices связывает сервисы поверх хранилища.
func NewServices(cfg config.AppConfig, store Storage, caps Capabilities, locker domain.Locker, logger zerolog.Logger) *Services {
	registry := sources.NewService(store, store, domain.AutoBlockPolicy{
		Ratio:           cfg.AutoBlock.Ratio,
		Window:          cfg.AutoBlock.Window,
		MinPublications: cfg.AutoBlock.MinPublications,
	}, logger)
	eng := engagement.NewService(store, store, registry, cfg.AutoBlock.Window, logger)
	mod := moderation.NewService(store, store, store, registry, store, moderation.Config{
		FlagReports: cfg.Moderation.FlagReports,
		FlagWindow:  cfg.Moderation.FlagWindow,
	}, logger)

	policy := domain.DefaultEligibilityPolicy()
	policy.NegativeCutoff = cfg.Feed.SafeNegativeCutoff

	return &Services{
		Sources: registry,
		Ingest: ingest.NewService(registry, store, caps.Classifier, caps.Sentiment,
			dedup.New(cfg.Dedup.Threshold, cfg.Dedup.ShingleSize), store, ingest.Config{
				VisibilityWindow:    cfg.Ingest.VisibilityWindow,
				CapabilityTimeout:   cfg.Ingest.CapabilityTimeout,
				DedupWindow:         cfg.Dedup.Window,
				DefaultLanguage:     cfg.Ingest.DefaultLanguage,
				AutoApproveVerified: cfg.Ingest.AutoApprove,
			}, logger),
		Feed: feed.NewService(store, store, store, caps.Translator, feed.Config{
			DefaultPageSize:   cfg.Feed.DefaultPageSize,
			MaxPageSize:       cfg.Feed.MaxPageSize,
			BatchSize:         cfg.Feed.BatchSize,
			MaxBatches:        cfg.Feed.MaxBatches,
			CapabilityTimeout: cfg.Ingest.CapabilityTimeout,
			Policy:            policy,
		}, logger),
		Engagement:  eng,
		Moderation:  mod,
		Comments:    comments.NewService(store, store, eng, logger),
		Admin:       admin.NewService(mod, registry, store, logger),
		Preferences: preferences.NewService(store, store, logger),
		Lifecycle: lifecycle.NewService(store, locker, store, lifecycle.Config{
			Interval:  cfg.Lifecycle.SweepInterval,
			BatchSize: cfg.Lifecycle.BatchSize,
		}, logger),
	}
}

// SeedSources регистрирует источники из SOURCES_FILE. Повторная регистрация ничего не меняет.
func SeedSources(ctx context.Context, registry *sources.Service, path string, logger zerolog.Logger) (int, error) {
	seeds, err := config.LoadSourceSeeds(path)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, seed := range seeds {
		_, isNew, err := registry.Register(ctx, sources.RegisterInput{
			Name:     seed.Name,
			Link:     seed.Link,
			Type:     domain.SourceType(seed.Type),
			Verified: seed.Verified,
		})
		if err != nil {
			return created, fmt.Errorf("источник %s: %w", seed.Link, err)
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		logger.Info().Int("created", created).Int("total", len(seeds)).Msg("стартовые источники зарегистрированы")
	}
	return created, nil
}
