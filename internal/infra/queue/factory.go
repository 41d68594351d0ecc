package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"tg-news-engine/internal/domain"
)

// Backend-ы очереди приёма.
const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// Options описывает выбранную очередь приёма.
type Options struct {
	Backend   string
	Key       string
	RabbitURL string
}

// Open создаёт очередь выбранного типа. Возвращаемая функция закрывает соединение с брокером.
func Open(opts Options, rdb redis.Cmdable) (domain.IngestQueue, func() error, error) {
	switch opts.Backend {
	case BackendRedis, "":
		if rdb == nil {
			return nil, nil, fmt.Errorf("очередь %s: не настроен Redis (REDIS_ADDR)", opts.Key)
		}
		return NewRedisIngestQueue(rdb, opts.Key), func() error { return nil }, nil
	case BackendRabbitMQ:
		q, err := NewRabbitIngestQueue(opts.RabbitURL, opts.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("очередь %s: %w", opts.Key, err)
		}
		return q, q.Close, nil
	}
	return nil, nil, fmt.Errorf("неизвестный backend очереди %q", opts.Backend)
}
