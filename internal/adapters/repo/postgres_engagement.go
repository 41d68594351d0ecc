package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-news-engine/internal/domain"
)

// counterColumns — столбцы счётчиков в порядке полей domain.Counters.
var counterColumns = []string{"views", "likes", "saves", "shares", "skips", "read_full", "feedback", "comments", "ratings", "time_spent_seconds"}

// counterActions сопоставляет столбцам действия журнала. Пустое действие — сумма времени чтения.
var counterActions = map[string]domain.Action{
	"views":     domain.ActionView,
	"likes":     domain.ActionLike,
	"saves":     domain.ActionSave,
	"shares":    domain.ActionShare,
	"skips":     domain.ActionSkip,
	"read_full": domain.ActionReadFull,
	"feedback":  domain.ActionFeedback,
	"comments":  domain.ActionComment,
	"ratings":   domain.ActionRate,
}

func counterDest(c *domain.Counters) []any {
	return []any{&c.Views, &c.Likes, &c.Saves, &c.Shares, &c.Skips, &c.ReadFull, &c.Feedback, &c.Comments, &c.Ratings, &c.TimeSpent}
}

func counterArgs(c domain.Counters) []any {
	return []any{c.Views, c.Likes, c.Saves, c.Shares, c.Skips, c.ReadFull, c.Feedback, c.Comments, c.Ratings, c.TimeSpent}
}

func coalescedCounters(alias string) string {
	parts := make([]string, len(counterColumns))
	for i, col := range counterColumns {
		parts[i] = fmt.Sprintf("COALESCE(%s.%s, 0)", alias, col)
	}
	return strings.Join(parts, ", ")
}

// counterUpsert строит INSERT ... ON CONFLICT, прибавляющий приращения к строке table.
func counterUpsert(table, key string) string {
	cols := append([]string{key}, counterColumns...)
	cols = append(cols, "updated_at")
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(counterColumns)+1)
	for _, col := range counterColumns {
		sets = append(sets, fmt.Sprintf("%s = %s.%s + EXCLUDED.%s", col, table, col, col))
	}
	sets = append(sets, "updated_at = EXCLUDED.updated_at")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), key, strings.Join(sets, ", "))
}

// aggregatedCounters строит агрегаты журнала по столбцам счётчиков.
// Оценки считаются по парам (пользователь, новость), а не по событиям.
func aggregatedCounters() string {
	parts := make([]string, 0, len(counterColumns))
	for _, col := range counterColumns {
		if col == "ratings" {
			parts = append(parts, fmt.Sprintf(
				"count(DISTINCT user_id::text || ':' || news_id::text) FILTER (WHERE action = '%s') AS %s", domain.ActionRate, col))
			continue
		}
		if action, ok := counterActions[col]; ok {
			parts = append(parts, fmt.Sprintf("count(*) FILTER (WHERE action = '%s') AS %s", action, col))
			continue
		}
		parts = append(parts, fmt.Sprintf("COALESCE(sum(time_spent_seconds), 0) AS %s", col))
	}
	return strings.Join(parts, ", ")
}

// statement — один запрос пакета внутри транзакции.
type statement struct {
	table string
	sql   string
	args  []any
}

func execAll(ctx context.Context, tx pgx.Tx, operation string, stmts []statement) error {
	for _, st := range stmts {
		start := time.Now()
		_, err := tx.Exec(ctx, st.sql, st.args...)
		observe(operation, st.table, start, err)
		if err != nil {
			return fmt.Errorf("%s %s: %w", operation, st.table, err)
		}
	}
	return nil
}

var (
	userStatsUpsert   = counterUpsert("user_stats", "user_id")
	sourceStatsUpsert = counterUpsert("source_stats", "source_id")
)

// RecordInteraction сохраняет событие и в той же транзакции применяет приращения.
// Повтор ключа ничего не меняет и возвращает applied=false.
func (p *Postgres) RecordInteraction(ctx context.Context, e domain.InteractionEvent, delta domain.Counters) (bool, int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		applied  bool
		sourceID int64
	)
	err := p.inTx(ctx, "interactions", func(tx pgx.Tx) error {
		var userExists bool
		start := time.Now()
		err := tx.QueryRow(ctx, "SELECT n.source_id, EXISTS (SELECT 1 FROM users WHERE id = $2) FROM news n WHERE n.id = $1",
			e.NewsID, e.UserID).Scan(&sourceID, &userExists)
		observe("select", "news", start, err)
		if err != nil {
			return mapErr(err, fmt.Sprintf("новость %d", e.NewsID))
		}
		if !userExists {
			return domain.NotFoundf("пользователь %d", e.UserID)
		}

		start = time.Now()
		err = tx.QueryRow(ctx, `
INSERT INTO interactions (event_key, user_id, news_id, action, dedup_key, value, time_spent_seconds, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (event_key) DO NOTHING
RETURNING id
`, e.Key, e.UserID, e.NewsID, string(e.Action), e.DedupKey, e.Value, e.TimeSpentSeconds, e.OccurredAt).Scan(&e.ID)
		observe("insert", "interactions", start, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("запись события: %w", err)
		}
		applied = true
		return applyEvent(ctx, tx, e, sourceID, delta)
	})
	if err != nil {
		return false, 0, err
	}
	return applied, sourceID, nil
}

func applyEvent(ctx context.Context, tx pgx.Tx, e domain.InteractionEvent, sourceID int64, delta domain.Counters) error {
	if e.Action == domain.ActionRate {
		first, err := upsertRating(ctx, tx, e)
		if err != nil {
			return err
		}
		if !first {
			delta.Ratings = 0
		}
	}
	stmts := []statement{
		{"user_stats", userStatsUpsert, append(append([]any{e.UserID}, counterArgs(delta)...), e.OccurredAt)},
		{"source_stats", sourceStatsUpsert, append(append([]any{sourceID}, counterArgs(delta)...), e.OccurredAt)},
		{"user_news_views", `
INSERT INTO user_news_views (user_id, news_id, shown, read_full, first_seen_at, last_seen_at, time_spent_seconds)
VALUES ($1, $2, TRUE, $3, $4, $4, $5)
ON CONFLICT (user_id, news_id) DO UPDATE SET
    shown = TRUE,
    read_full = user_news_views.read_full OR EXCLUDED.read_full,
    first_seen_at = LEAST(user_news_views.first_seen_at, EXCLUDED.first_seen_at),
    last_seen_at = GREATEST(user_news_views.last_seen_at, EXCLUDED.last_seen_at),
    time_spent_seconds = user_news_views.time_spent_seconds + EXCLUDED.time_spent_seconds
`, []any{e.UserID, e.NewsID, e.Action == domain.ActionReadFull, e.OccurredAt, e.TimeSpentSeconds}},
	}
	return execAll(ctx, tx, "upsert", stmts)
}

// upsertRating обновляет оценку на месте и сообщает, первая ли это оценка пары (пользователь, новость).
func upsertRating(ctx context.Context, tx pgx.Tx, e domain.InteractionEvent) (bool, error) {
	var first bool
	start := time.Now()
	err := tx.QueryRow(ctx, `
INSERT INTO ratings (user_id, news_id, value, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, news_id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
WHERE ratings.updated_at <= EXCLUDED.updated_at
RETURNING (xmax = 0)
`, e.UserID, e.NewsID, e.Value, e.OccurredAt).Scan(&first)
	observe("upsert", "ratings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert ratings: %w", err)
	}
	return first, nil
}

// UserStats возвращает счётчики пользователя.
func (p *Postgres) UserStats(ctx context.Context, userID int64) (domain.UserStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	st := domain.UserStats{UserID: userID}
	var updatedAt *time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT `+coalescedCounters("st")+`, COALESCE(st.reports, 0), COALESCE(st.sources_added, 0), st.updated_at
FROM users u LEFT JOIN user_stats st ON st.user_id = u.id
WHERE u.id = $1
`, userID).Scan(append(counterDest(&st.Counters), &st.Reports, &st.SourcesAdded, &updatedAt)...)
	observe("select", "user_stats", start, err)
	if err != nil {
		return domain.UserStats{}, mapErr(err, fmt.Sprintf("пользователь %d", userID))
	}
	if updatedAt != nil {
		st.UpdatedAt = *updatedAt
	}
	return st, nil
}

// RebuildStats пересчитывает счётчики из журнала, жалоб и публикаций в одной транзакции.
func (p *Postgres) RebuildStats(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	cols := strings.Join(counterColumns, ", ")
	stmts := []statement{
		{"user_stats", "DELETE FROM user_stats", nil},
		{"source_stats", "DELETE FROM source_stats", nil},
		{"user_stats", `
INSERT INTO user_stats (user_id, ` + cols + `, reports, sources_added, updated_at)
SELECT u.id, ` + coalescedCounters("e") + `, COALESCE(r.cnt, 0), COALESCE(sa.cnt, 0), $1
FROM users u
LEFT JOIN (SELECT user_id, ` + aggregatedCounters() + ` FROM interactions GROUP BY user_id) e ON e.user_id = u.id
LEFT JOIN (SELECT user_id, count(*) AS cnt FROM reports GROUP BY user_id) r ON r.user_id = u.id
LEFT JOIN (SELECT added_by, count(*) AS cnt FROM sources WHERE added_by IS NOT NULL GROUP BY added_by) sa ON sa.added_by = u.id`, []any{now}},
		{"source_stats", `
INSERT INTO source_stats (source_id, ` + cols + `, reports, publications, updated_at)
SELECT s.id, ` + coalescedCounters("e") + `, COALESCE(r.cnt, 0), COALESCE(pub.cnt, 0), $1
FROM sources s
LEFT JOIN (
    SELECT n.source_id, ` + aggregatedCounters() + `
    FROM interactions i JOIN news n ON n.id = i.news_id GROUP BY n.source_id
) e ON e.source_id = s.id
LEFT JOIN (
    SELECT n.source_id, count(*) AS cnt FROM reports r JOIN news n ON n.id = r.news_id GROUP BY n.source_id
) r ON r.source_id = s.id
LEFT JOIN (
    SELECT source_id, count(*) AS cnt FROM news WHERE NOT is_duplicate GROUP BY source_id
) pub ON pub.source_id = s.id`, []any{now}},
	}
	return p.inTx(ctx, "stats", func(tx pgx.Tx) error {
		return execAll(ctx, tx, "rebuild", stmts)
	})
}

// InsertReport сохраняет жалобу и увеличивает счётчики. Повтор от того же пользователя игнорируется.
func (p *Postgres) InsertReport(ctx context.Context, r domain.Report) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var created bool
	err := p.inTx(ctx, "reports", func(tx pgx.Tx) error {
		var sourceID int64
		start := time.Now()
		err := tx.QueryRow(ctx, "SELECT source_id FROM news WHERE id = $1", r.NewsID).Scan(&sourceID)
		observe("select", "news", start, err)
		if err != nil {
			return mapErr(err, fmt.Sprintf("новость %d", r.NewsID))
		}
		start = time.Now()
		tag, err := tx.Exec(ctx, `
INSERT INTO reports (user_id, news_id, reason, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, news_id) DO NOTHING
`, r.UserID, r.NewsID, r.Reason, r.CreatedAt)
		observe("insert", "reports", start, err)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true
		return execAll(ctx, tx, "upsert", []statement{
			{"user_stats", "INSERT INTO user_stats (user_id, reports) VALUES ($1, 1) ON CONFLICT (user_id) DO UPDATE SET reports = user_stats.reports + 1", []any{r.UserID}},
			{"source_stats", "INSERT INTO source_stats (source_id, reports) VALUES ($1, 1) ON CONFLICT (source_id) DO UPDATE SET reports = source_stats.reports + 1", []any{sourceID}},
		})
	})
	return created, err
}

// CountReports считает жалобы на новость начиная с since.
func (p *Postgres) CountReports(ctx context.Context, newsID int64, since time.Time) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var n int
	start := time.Now()
	err := p.pool.QueryRow(ctx, "SELECT count(*) FROM reports WHERE news_id = $1 AND created_at >= $2", newsID, since).Scan(&n)
	observe("select", "reports", start, err)
	return n, err
}

const commentColumns = "id, news_id, user_id, parent_id, body, status, dedup_key, created_at"

func scanComment(row pgx.Row) (domain.Comment, error) {
	var (
		c      domain.Comment
		status string
	)
	err := row.Scan(&c.ID, &c.NewsID, &c.UserID, &c.ParentID, &c.Body, &status, &c.DedupKey, &c.CreatedAt)
	c.Status = domain.ModerationStatus(status)
	return c, err
}

// InsertComment сохраняет комментарий. При повторе ключа возвращает существующий и false.
func (p *Postgres) InsertComment(ctx context.Context, c domain.Comment) (domain.Comment, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var (
		out     domain.Comment
		created bool
	)
	err := p.inTx(ctx, "comments", func(tx pgx.Tx) error {
		var exists bool
		start := time.Now()
		err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM news WHERE id = $1)", c.NewsID).Scan(&exists)
		observe("select", "news", start, err)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NotFoundf("новость %d", c.NewsID)
		}
		start = time.Now()
		inserted, err := scanComment(tx.QueryRow(ctx, `
INSERT INTO comments (news_id, user_id, parent_id, body, status, dedup_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, news_id, dedup_key) WHERE dedup_key <> '' DO NOTHING
RETURNING `+commentColumns, c.NewsID, c.UserID, c.ParentID, c.Body, string(c.Status), c.DedupKey, c.CreatedAt))
		observe("insert", "comments", start, err)
		switch {
		case err == nil:
			out, created = inserted, true
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return mapErr(err, "комментарий")
		}
		start = time.Now()
		existing, err := scanComment(tx.QueryRow(ctx, "SELECT "+commentColumns+
			" FROM comments WHERE user_id = $1 AND news_id = $2 AND dedup_key = $3", c.UserID, c.NewsID, c.DedupKey))
		observe("select", "comments", start, err)
		if err != nil {
			return mapErr(err, "комментарий")
		}
		out = existing
		return nil
	})
	return out, created, err
}

// GetComment возвращает комментарий.
func (p *Postgres) GetComment(ctx context.Context, id int64) (domain.Comment, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	c, err := scanComment(p.pool.QueryRow(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = $1", id))
	observe("select", "comments", start, err)
	return c, mapErr(err, fmt.Sprintf("комментарий %d", id))
}

// ListComments возвращает комментарии новости по порядку создания.
func (p *Postgres) ListComments(ctx context.Context, newsID int64) ([]domain.Comment, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, "SELECT "+commentColumns+" FROM comments WHERE news_id = $1 ORDER BY id", newsID)
	observe("select", "comments", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCommentStatus блокирует комментарий и применяет решение fn.
func (p *Postgres) UpdateCommentStatus(ctx context.Context, id int64, fn func(domain.Comment) (domain.ModerationStatus, *domain.AdminAction, error)) (domain.Comment, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var out domain.Comment
	err := p.inTx(ctx, "comments", func(tx pgx.Tx) error {
		start := time.Now()
		c, err := scanComment(tx.QueryRow(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = $1 FOR UPDATE", id))
		observe("select_for_update", "comments", start, err)
		if err != nil {
			return mapErr(err, fmt.Sprintf("комментарий %d", id))
		}
		to, action, err := fn(c)
		if err != nil {
			return err
		}
		start = time.Now()
		_, err = tx.Exec(ctx, "UPDATE comments SET status = $2 WHERE id = $1", id, string(to))
		observe("update", "comments", start, err)
		if err != nil {
			return err
		}
		if action != nil {
			if _, err := insertAdminAction(ctx, tx, *action); err != nil {
				return err
			}
		}
		c.Status = to
		out = c
		return nil
	})
	return out, err
}
