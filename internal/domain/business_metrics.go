package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	SourceID   *int64
	NewsID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventNewsIngested фиксирует сохранение уникальной новости.
	BusinessMetricEventNewsIngested = "news_ingested"
	// BusinessMetricEventNewsDuplicate фиксирует распознанный дубликат.
	BusinessMetricEventNewsDuplicate = "news_duplicate"
	// BusinessMetricEventNewsArchived фиксирует пакет архивации.
	BusinessMetricEventNewsArchived = "news_archived"
	// BusinessMetricEventNewsFlagged фиксирует автоматическую пометку новости по жалобам.
	BusinessMetricEventNewsFlagged = "news_flagged"
	// BusinessMetricEventSourceBlocked фиксирует блокировку источника.
	BusinessMetricEventSourceBlocked = "source_blocked"
	// BusinessMetricEventFeedDelivered фиксирует автоматическую доставку ленты.
	BusinessMetricEventFeedDelivered = "feed_delivered"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
