package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

// Pool — подмножество pgxpool.Pool, которое использует адаптер.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier — общее для пула и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres реализует репозитории домена на основе pgx.
type Postgres struct {
	pool Pool
	sb   sq.StatementBuilderType
}

var (
	_ domain.SourceRepo         = (*Postgres)(nil)
	_ domain.NewsRepo           = (*Postgres)(nil)
	_ domain.FeedRepo           = (*Postgres)(nil)
	_ domain.ArchiveRepo        = (*Postgres)(nil)
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.PreferenceRepo     = (*Postgres)(nil)
	_ domain.EngagementRepo     = (*Postgres)(nil)
	_ domain.ReportRepo         = (*Postgres)(nil)
	_ domain.CommentRepo        = (*Postgres)(nil)
	_ domain.AdminRepo          = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

const uniqueViolation = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool Pool) *Postgres {
	return &Postgres{pool: pool, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// inTx выполняет fn в транзакции. Ошибка fn откатывает транзакцию.
func (p *Postgres) inTx(ctx context.Context, table string, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	tx, err := p.pool.Begin(ctx)
	metrics.ObserveNetworkRequest("postgres", "begin_tx", table, start, err)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", table, start, err)
	if err != nil {
		return fmt.Errorf("фиксация транзакции: %w", err)
	}
	return nil
}

// mapErr переводит ошибки драйвера в ошибки домена.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundf("%s", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.Conflictf("%s: %s", what, pgErr.ConstraintName)
	}
	return err
}

func observe(operation, table string, start time.Time, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	metrics.ObserveNetworkRequest("postgres", operation, table, start, err)
}

func affectedOrNotFound(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("%s", what)
	}
	return nil
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	payload := []byte("{}")
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, source_id, news_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, metric.Event, metric.UserID, metric.SourceID, metric.NewsID, payload, metric.OccurredAt)
	observe("business_metrics_insert", "business_metrics", start, err)
	return err
}

// InsertAdminAction журналирует действие.
func (p *Postgres) InsertAdminAction(ctx context.Context, a domain.AdminAction) (domain.AdminAction, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return insertAdminAction(ctx, p.pool, a)
}

func insertAdminAction(ctx context.Context, q querier, a domain.AdminAction) (domain.AdminAction, error) {
	details := []byte("{}")
	if len(a.Details) > 0 {
		data, err := json.Marshal(a.Details)
		if err != nil {
			return domain.AdminAction{}, fmt.Errorf("кодирование деталей действия: %w", err)
		}
		details = data
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	err := q.QueryRow(ctx, `
INSERT INTO admin_actions (actor_id, action_type, target_type, target_id, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, a.ActorID, a.ActionType, a.TargetType, a.TargetID, details, a.CreatedAt).Scan(&a.ID)
	observe("insert", "admin_actions", start, err)
	if err != nil {
		return domain.AdminAction{}, fmt.Errorf("запись действия администратора: %w", err)
	}
	return a, nil
}

// ListAdminActions возвращает журнал действий. Пустой targetType снимает фильтр.
func (p *Postgres) ListAdminActions(ctx context.Context, targetType string, targetID int64) ([]domain.AdminAction, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	qb := p.sb.Select("id", "actor_id", "action_type", "target_type", "target_id", "details", "created_at").
		From("admin_actions").
		OrderBy("id")
	if targetType != "" {
		qb = qb.Where(sq.Eq{"target_type": targetType})
	}
	if targetID != 0 {
		qb = qb.Where(sq.Eq{"target_id": targetID})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	observe("select", "admin_actions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AdminAction
	for rows.Next() {
		var (
			a       domain.AdminAction
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.ActorID, &a.ActionType, &a.TargetType, &a.TargetID, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, fmt.Errorf("детали действия %d: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
