package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

// Ingester принимает одну публикацию.
type Ingester interface {
	Ingest(ctx context.Context, raw domain.RawItem) (Result, error)
}

// Worker читает очередь приёма и передаёт публикации в Ingester.
// Задача с временной ошибкой публикуется заново с увеличенным номером попытки.
type Worker struct {
	queue       domain.IngestQueue
	ingester    Ingester
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.IngestQueue, ingester Ingester, maxAttempts int, logger zerolog.Logger) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		queue:       queue,
		ingester:    ingester,
		maxAttempts: maxAttempts,
		backoff:     time.Second,
		log:         logger.With().Str("component", "ingest_worker").Logger(),
	}
}

// Run обрабатывает задачи до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("ошибка чтения очереди")
			if !sleep(ctx, w.backoff) {
				return ctx.Err()
			}
			continue
		}
		w.Handle(ctx, job, ack)
	}
}

// Handle обрабатывает одну задачу и подтверждает её.
func (w *Worker) Handle(ctx context.Context, job domain.IngestJob, ack domain.AckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("origin", job.Origin).
		Str("source", job.Item.SourceOrigin).
		Int("attempt", job.Attempt).
		Logger()

	res, err := w.ingester.Ingest(ctx, job.Item)
	switch {
	case err == nil:
		jobLog.Debug().Str("outcome", string(res.Outcome)).Int64("news_id", res.News.ID).Msg("задача обработана")
	case errors.Is(err, domain.ErrValidation):
		jobLog.Warn().Err(err).Msg("публикация отклонена")
	case ctx.Err() != nil:
		// задача вернётся в очередь
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("не удалось вернуть задачу в очередь")
		}
		return
	default:
		if !w.retry(ctx, job, err, jobLog) {
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("не удалось вернуть задачу в очередь")
			}
			return
		}
	}
	if ackErr := ack(true); ackErr != nil {
		jobLog.Error().Err(ackErr).Msg("не удалось подтвердить задачу")
	}
}

// retry публикует копию задачи со следующим номером попытки. false означает, что исходную задачу
// нужно вернуть в очередь.
func (w *Worker) retry(ctx context.Context, job domain.IngestJob, cause error, jobLog zerolog.Logger) bool {
	if job.Attempt+1 >= w.maxAttempts {
		metrics.IngestErrors.WithLabelValues("dropped").Inc()
		jobLog.Error().Err(cause).Msg("достигнут предел попыток, задача отброшена")
		return true
	}
	job.Attempt++
	if err := w.queue.Enqueue(ctx, job); err != nil {
		jobLog.Error().Err(err).AnErr("cause", cause).Msg("не удалось переотправить задачу")
		return false
	}
	jobLog.Warn().Err(cause).Msg("задача завершилась ошибкой, повторим позже")
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
