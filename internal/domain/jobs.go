package domain

import (
	"context"
	"time"
)

// IngestJob — задача на обработку сырой публикации.
type IngestJob struct {
	ID         string    `json:"job_id,omitempty"`
	Item       RawItem   `json:"item"`
	ReceivedAt time.Time `json:"received_at"`
	Origin     string    `json:"origin"`
	// Attempt — номер попытки, задача с ошибкой публикуется заново с увеличенным номером.
	Attempt int `json:"attempt,omitempty"`
}

// IngestQueue описывает очередь сырых публикаций.
type IngestQueue interface {
	Enqueue(ctx context.Context, job IngestJob) error
	Receive(ctx context.Context) (IngestJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error
