package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	AdminToken  string `envconfig:"ADMIN_TOKEN"`

	Telegram struct {
		Token         string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL    string `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string `envconfig:"TG_WEBHOOK_SECRET"`
	} `envconfig:""`

	PGDSN       string `envconfig:"PG_DSN"`
	PGMaxConns  int32  `envconfig:"PG_MAX_CONNS" default:"10"`
	AutoMigrate bool   `envconfig:"PG_AUTO_MIGRATE" default:"true"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Queues struct {
		Backend     string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Ingest      string `envconfig:"INGEST_QUEUE_KEY" default:"ingest_jobs"`
		RabbitURL   string `envconfig:"RABBITMQ_URL"`
		MaxAttempts int    `envconfig:"INGEST_MAX_ATTEMPTS" default:"5"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		RPS     float64       `envconfig:"OPENAI_RPS" default:"2"`
		Timeout time.Duration `envconfig:"OPENAI_HTTP_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Ingest struct {
		VisibilityWindow  time.Duration `envconfig:"INGEST_VISIBILITY_WINDOW" default:"5h"`
		CapabilityTimeout time.Duration `envconfig:"CAPABILITY_TIMEOUT" default:"3s"`
		DefaultLanguage   string        `envconfig:"INGEST_DEFAULT_LANGUAGE" default:"uk"`
		AutoApprove       bool          `envconfig:"MODERATION_AUTO_APPROVE_VERIFIED" default:"true"`
		SourcesFile       string        `envconfig:"SOURCES_FILE"`
		RSSPollInterval   time.Duration `envconfig:"RSS_POLL_INTERVAL" default:"10m"`
		RSSWorkers        int           `envconfig:"RSS_WORKERS" default:"4"`
	} `envconfig:""`

	Dedup struct {
		Threshold   float64       `envconfig:"DEDUP_THRESHOLD" default:"0.8"`
		Window      time.Duration `envconfig:"DEDUP_WINDOW" default:"6h"`
		ShingleSize int           `envconfig:"DEDUP_SHINGLE_SIZE" default:"3"`
	} `envconfig:""`

	Moderation struct {
		FlagReports int           `envconfig:"MODERATION_FLAG_REPORTS" default:"3"`
		FlagWindow  time.Duration `envconfig:"MODERATION_FLAG_WINDOW" default:"24h"`
	} `envconfig:""`

	AutoBlock struct {
		Ratio           float64       `envconfig:"AUTOBLOCK_RATIO" default:"0.5"`
		Window          time.Duration `envconfig:"AUTOBLOCK_WINDOW" default:"168h"`
		MinPublications int           `envconfig:"AUTOBLOCK_MIN_PUBLICATIONS" default:"5"`
	} `envconfig:""`

	Feed struct {
		DefaultPageSize    int     `envconfig:"FEED_PAGE_SIZE" default:"10"`
		MaxPageSize        int     `envconfig:"FEED_MAX_PAGE_SIZE" default:"50"`
		BatchSize          int     `envconfig:"FEED_BATCH_SIZE" default:"100"`
		MaxBatches         int     `envconfig:"FEED_MAX_BATCHES" default:"20"`
		SafeNegativeCutoff float64 `envconfig:"FEED_SAFE_MODE_NEGATIVE_CUTOFF" default:"-0.6"`
	} `envconfig:""`

	Lifecycle struct {
		SweepInterval        time.Duration `envconfig:"LIFECYCLE_SWEEP_INTERVAL" default:"5m"`
		BatchSize            int           `envconfig:"LIFECYCLE_BATCH_SIZE" default:"500"`
		StatsRebuildInterval time.Duration `envconfig:"LIFECYCLE_STATS_REBUILD_INTERVAL" default:"24h"`
	} `envconfig:""`

	Delivery struct {
		Interval time.Duration `envconfig:"DELIVERY_INTERVAL" default:"1h"`
		MaxItems int           `envconfig:"DELIVERY_MAX_ITEMS" default:"5"`
	} `envconfig:""`
}

// Load загружает конфиг из .env и окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает необязательный .env, затем окружение, и проверяет согласованность значений.
func Parse() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("чтение .env: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет пороги и окна.
func (c AppConfig) Validate() error {
	switch {
	case c.Ingest.VisibilityWindow <= 0:
		return errors.New("INGEST_VISIBILITY_WINDOW должен быть положительным")
	case c.Dedup.Window < c.Ingest.VisibilityWindow:
		return fmt.Errorf("DEDUP_WINDOW (%s) не может быть меньше окна видимости (%s)", c.Dedup.Window, c.Ingest.VisibilityWindow)
	case c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1:
		return fmt.Errorf("DEDUP_THRESHOLD должен быть в (0, 1], получено %v", c.Dedup.Threshold)
	case c.Dedup.ShingleSize < 1:
		return errors.New("DEDUP_SHINGLE_SIZE должен быть не меньше 1")
	case c.Feed.DefaultPageSize < 1 || c.Feed.MaxPageSize < c.Feed.DefaultPageSize:
		return errors.New("некорректные размеры страницы ленты")
	case c.Moderation.FlagReports < 1:
		return errors.New("MODERATION_FLAG_REPORTS должен быть не меньше 1")
	case c.Queues.Backend != "redis" && c.Queues.Backend != "rabbitmq":
		return fmt.Errorf("неизвестный QUEUE_BACKEND %q", c.Queues.Backend)
	}
	return nil
}
