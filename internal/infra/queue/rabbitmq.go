package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

// RabbitIngestQueue реализует очередь публикаций через AMQP.
type RabbitIngestQueue struct {
	conn  *amqp.Connection
	queue string

	mu         sync.Mutex
	publishCh  *amqp.Channel
	consumeCh  *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewRabbitIngestQueue подключается к брокеру и объявляет устойчивую очередь.
func NewRabbitIngestQueue(url, queue string) (*RabbitIngestQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitIngestQueue{conn: conn, queue: queue, publishCh: ch}, nil
}

// Enqueue публикует задачу как persistent-сообщение.
func (q *RabbitIngestQueue) Enqueue(ctx context.Context, job domain.IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	start := time.Now()
	err = q.publishCh.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.ReceivedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт следующее сообщение. Подтверждение выполняется через AckFunc.
func (q *RabbitIngestQueue) Receive(ctx context.Context) (domain.IngestJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.IngestJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.IngestJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			q.resetConsumer()
			return domain.IngestJob{}, nil, errors.New("amqp: канал доставки закрыт")
		}
		var job domain.IngestJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Reject(false)
			return domain.IngestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

func (q *RabbitIngestQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.consumeCh = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitIngestQueue) resetConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consumeCh != nil {
		_ = q.consumeCh.Close()
	}
	q.consumeCh = nil
	q.deliveries = nil
}

// Close закрывает соединение с брокером.
func (q *RabbitIngestQueue) Close() error {
	q.resetConsumer()
	return q.conn.Close()
}
