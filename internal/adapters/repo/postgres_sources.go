package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"tg-news-engine/internal/domain"
)

const sourceColumns = "id, name, link, type, verified, reliability_score, status, added_by, last_fetch_at, created_at"

func scanSource(row pgx.Row) (domain.Source, error) {
	var (
		s          domain.Source
		sourceType string
		status     string
	)
	err := row.Scan(&s.ID, &s.Name, &s.Link, &sourceType, &s.Verified, &s.ReliabilityScore, &status, &s.AddedBy, &s.LastFetchAt, &s.CreatedAt)
	s.Type = domain.SourceType(sourceType)
	s.Status = domain.SourceStatus(status)
	return s, err
}

// UpsertSource создаёт источник или возвращает существующий с той же ссылкой.
func (p *Postgres) UpsertSource(ctx context.Context, src domain.Source) (domain.Source, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if src.Status == "" {
		src.Status = domain.SourceStatusNew
	}

	var (
		out     domain.Source
		created bool
	)
	err := p.inTx(ctx, "sources", func(tx pgx.Tx) error {
		start := time.Now()
		row := tx.QueryRow(ctx, `
INSERT INTO sources (name, link, type, verified, reliability_score, status, added_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (link) DO NOTHING
RETURNING `+sourceColumns,
			src.Name, src.Link, string(src.Type), src.Verified, src.ReliabilityScore, string(src.Status), src.AddedBy)
		s, err := scanSource(row)
		observe("insert", "sources", start, err)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			existing, err := scanSource(tx.QueryRow(ctx, "SELECT "+sourceColumns+" FROM sources WHERE link = $1", src.Link))
			if err != nil {
				return mapErr(err, "источник "+src.Link)
			}
			out = existing
			return nil
		case err != nil:
			return mapErr(err, "источник "+src.Link)
		}
		out, created = s, true
		if s.AddedBy != nil {
			start = time.Now()
			_, err = tx.Exec(ctx, `
INSERT INTO user_stats (user_id, sources_added) VALUES ($1, 1)
ON CONFLICT (user_id) DO UPDATE SET sources_added = user_stats.sources_added + 1
`, *s.AddedBy)
			observe("upsert", "user_stats", start, err)
			if err != nil {
				return fmt.Errorf("счётчик добавленных источников: %w", err)
			}
		}
		return nil
	})
	return out, created, err
}

// GetSource возвращает источник.
func (p *Postgres) GetSource(ctx context.Context, id int64) (domain.Source, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	s, err := scanSource(p.pool.QueryRow(ctx, "SELECT "+sourceColumns+" FROM sources WHERE id = $1", id))
	observe("select", "sources", start, err)
	return s, mapErr(err, fmt.Sprintf("источник %d", id))
}

// ListSources возвращает источники с указанным статусом. Пустой статус снимает фильтр.
func (p *Postgres) ListSources(ctx context.Context, status domain.SourceStatus) ([]domain.Source, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	qb := p.sb.Select(sourceColumns).From("sources").OrderBy("id")
	if status != "" {
		qb = qb.Where(sq.Eq{"status": string(status)})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	observe("select", "sources", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetSourceStatus меняет статус и ведёт таблицу blocked_sources.
func (p *Postgres) SetSourceStatus(ctx context.Context, id int64, status domain.SourceStatus, reason string, at time.Time) (domain.Source, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var out domain.Source
	err := p.inTx(ctx, "sources", func(tx pgx.Tx) error {
		start := time.Now()
		s, err := scanSource(tx.QueryRow(ctx, "UPDATE sources SET status = $2 WHERE id = $1 RETURNING "+sourceColumns, id, string(status)))
		observe("update", "sources", start, err)
		if err != nil {
			return mapErr(err, fmt.Sprintf("источник %d", id))
		}
		out = s
		start = time.Now()
		if status == domain.SourceStatusBlocked {
			_, err = tx.Exec(ctx, `
INSERT INTO blocked_sources (source_id, reason, blocked_at) VALUES ($1, $2, $3)
ON CONFLICT (source_id) DO UPDATE SET reason = EXCLUDED.reason, blocked_at = EXCLUDED.blocked_at
`, id, reason, at)
		} else {
			_, err = tx.Exec(ctx, "DELETE FROM blocked_sources WHERE source_id = $1", id)
		}
		observe("upsert", "blocked_sources", start, err)
		return err
	})
	return out, err
}

// AdjustReliability изменяет рейтинг надёжности и возвращает новое значение.
func (p *Postgres) AdjustReliability(ctx context.Context, id int64, delta int) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var score int
	start := time.Now()
	err := p.pool.QueryRow(ctx, "UPDATE sources SET reliability_score = reliability_score + $2 WHERE id = $1 RETURNING reliability_score", id, delta).Scan(&score)
	observe("update", "sources", start, err)
	return score, mapErr(err, fmt.Sprintf("источник %d", id))
}

// MarkSourceFetched фиксирует время опроса.
func (p *Postgres) MarkSourceFetched(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, "UPDATE sources SET last_fetch_at = $2 WHERE id = $1", id, at)
	observe("update", "sources", start, err)
	if err != nil {
		return err
	}
	return affectedOrNotFound(tag, fmt.Sprintf("источник %d", id))
}

// SourceStats возвращает накопленные счётчики источника и оконные значения начиная с since.
func (p *Postgres) SourceStats(ctx context.Context, id int64, since time.Time) (domain.SourceStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	st := domain.SourceStats{SourceID: id}
	var updatedAt *time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT `+coalescedCounters("st")+`, COALESCE(st.reports, 0), COALESCE(st.publications, 0), st.updated_at,
       (SELECT count(*) FROM news n WHERE n.source_id = $1 AND NOT n.is_duplicate AND n.published_at >= $2),
       (SELECT count(*) FROM reports r JOIN news n ON n.id = r.news_id WHERE n.source_id = $1 AND r.created_at >= $2)
FROM (SELECT $1::bigint AS source_id) k
LEFT JOIN source_stats st ON st.source_id = k.source_id
`, id, since).Scan(append(counterDest(&st.Counters), &st.Reports, &st.Publications, &updatedAt, &st.WindowPublications, &st.WindowReports)...)
	observe("select", "source_stats", start, err)
	if err != nil {
		return domain.SourceStats{}, err
	}
	if updatedAt != nil {
		st.UpdatedAt = *updatedAt
	}
	return st, nil
}
