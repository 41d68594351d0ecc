package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

// RedisIngestQueue реализует очередь публикаций на Redis lists.
// Полученная задача переносится в список обработки и удаляется оттуда при подтверждении.
type RedisIngestQueue struct {
	client     redis.Cmdable
	key        string
	processing string
	wait       time.Duration
}

// NewRedisIngestQueue создаёт очередь по указанному ключу.
func NewRedisIngestQueue(client redis.Cmdable, key string) *RedisIngestQueue {
	return &RedisIngestQueue{client: client, key: key, processing: key + ":processing", wait: time.Second}
}

// Enqueue публикует задачу в очередь.
func (q *RedisIngestQueue) Enqueue(ctx context.Context, job domain.IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisIngestQueue) Receive(ctx context.Context) (domain.IngestJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.IngestJob{}, nil, err
		}
		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.wait).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.IngestJob{}, nil, ctx.Err()
				}
				continue
			}
			return domain.IngestJob{}, nil, err
		}
		var job domain.IngestJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.LRem(context.Background(), q.processing, 1, raw).Err()
			return domain.IngestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ack(raw), nil
	}
}

func (q *RedisIngestQueue) ack(raw string) domain.AckFunc {
	return func(success bool) error {
		ctx := context.Background()
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processing, 1, raw)
		if !success {
			pipe.LPush(ctx, q.key, raw)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
}
