package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-news-engine/internal/domain"
)

const newsColumns = `n.id, n.title, n.body, n.language, n.country, n.tags, n.topics, n.source_id, s.name, s.type,
n.link, n.published_at, n.expires_at, n.media_ref, n.media_type, n.tone, n.sentiment_score, n.citation_score,
n.is_duplicate, n.duplicate_of, n.is_fake, n.moderation_status, n.title_key, n.content_hash, n.archived_at, n.created_at`

const newsFrom = " FROM news n JOIN sources s ON s.id = n.source_id"

func newsDest(n *domain.NewsItem, sourceType, mediaType, status *string) []any {
	return []any{
		&n.ID, &n.Title, &n.Body, &n.Language, &n.Country, &n.Tags, &n.Topics, &n.SourceID, &n.SourceName, sourceType,
		&n.Link, &n.PublishedAt, &n.ExpiresAt, &n.MediaRef, mediaType, &n.Tone, &n.SentimentScore, &n.CitationScore,
		&n.IsDuplicate, &n.DuplicateOf, &n.IsFake, status, &n.TitleKey, &n.ContentHash, &n.ArchivedAt, &n.CreatedAt,
	}
}

func scanNews(row pgx.Row, extra ...any) (domain.NewsItem, error) {
	var (
		n                             domain.NewsItem
		sourceType, mediaType, status string
	)
	err := row.Scan(append(newsDest(&n, &sourceType, &mediaType, &status), extra...)...)
	n.SourceType = domain.SourceType(sourceType)
	n.MediaType = domain.MediaType(mediaType)
	n.ModerationStatus = domain.ModerationStatus(status)
	return n, err
}

func collectNews(rows pgx.Rows) ([]domain.NewsItem, error) {
	defer rows.Close()
	var out []domain.NewsItem
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// dedupLockKeys — ключи advisory-блокировок области дедупликации в стабильном порядке,
// чтобы параллельные вставки не взаимоблокировались.
func dedupLockKeys(scope domain.DedupScope) []string {
	keys := []string{"news:source:" + strconv.FormatInt(scope.SourceID, 10)}
	if scope.TitleKey != "" {
		keys = append(keys, "news:title:"+scope.TitleKey)
	}
	sort.Strings(keys)
	return keys
}

// InsertDeduplicated сериализует вставки одной области advisory-блокировками транзакции
// и принимает решение о дубликате по кандидатам, прочитанным под блокировкой.
func (p *Postgres) InsertDeduplicated(ctx context.Context, item domain.NewsItem, scope domain.DedupScope, decide domain.DedupDecider) (domain.NewsItem, domain.IngestOutcome, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		out     domain.NewsItem
		outcome domain.IngestOutcome
	)
	err := p.inTx(ctx, "news", func(tx pgx.Tx) error {
		for _, key := range dedupLockKeys(scope) {
			start := time.Now()
			_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key)
			observe("advisory_lock", "news", start, err)
			if err != nil {
				return fmt.Errorf("блокировка %s: %w", key, err)
			}
		}

		if scope.Link != "" {
			start := time.Now()
			existing, err := scanNews(tx.QueryRow(ctx, "SELECT "+newsColumns+newsFrom+
				" WHERE n.source_id = $1 AND n.link = $2 ORDER BY n.id LIMIT 1", scope.SourceID, scope.Link))
			observe("select", "news", start, err)
			switch {
			case err == nil:
				out, outcome = existing, domain.OutcomeExisting
				return nil
			case !errors.Is(err, pgx.ErrNoRows):
				return fmt.Errorf("поиск по ссылке: %w", err)
			}
		}

		start := time.Now()
		rows, err := tx.Query(ctx, "SELECT "+newsColumns+newsFrom+`
 WHERE (n.source_id = $1 OR ($2 <> '' AND n.title_key = $2))
   AND n.published_at >= $3 AND n.archived_at IS NULL AND NOT n.is_duplicate AND n.expires_at > $4
 ORDER BY n.id`, scope.SourceID, scope.TitleKey, scope.Since, scope.Now)
		observe("select", "news", start, err)
		if err != nil {
			return fmt.Errorf("кандидаты в дубликаты: %w", err)
		}
		candidates, err := collectNews(rows)
		if err != nil {
			return fmt.Errorf("кандидаты в дубликаты: %w", err)
		}

		decision, err := decide(candidates)
		if err != nil {
			return err
		}

		outcome = domain.OutcomeInserted
		if decision.DuplicateOf != nil {
			start = time.Now()
			tag, err := tx.Exec(ctx, "UPDATE news SET citation_score = citation_score + 1 WHERE id = $1", *decision.DuplicateOf)
			observe("update", "news", start, err)
			if err != nil {
				return err
			}
			if err := affectedOrNotFound(tag, fmt.Sprintf("оригинал %d", *decision.DuplicateOf)); err != nil {
				return err
			}
			item.IsDuplicate = true
			item.DuplicateOf = decision.DuplicateOf
			item.ModerationStatus = domain.StatusPending
			outcome = domain.OutcomeDuplicate
		} else {
			item.ModerationStatus = decision.Status
		}

		inserted, err := insertNews(ctx, tx, item)
		if err != nil {
			return err
		}
		out = inserted

		if !item.IsDuplicate {
			start = time.Now()
			_, err = tx.Exec(ctx, `
INSERT INTO source_stats (source_id, publications) VALUES ($1, 1)
ON CONFLICT (source_id) DO UPDATE SET publications = source_stats.publications + 1
`, item.SourceID)
			observe("upsert", "source_stats", start, err)
			if err != nil {
				return fmt.Errorf("счётчик публикаций: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.NewsItem{}, "", err
	}
	return out, outcome, nil
}

func insertNews(ctx context.Context, tx pgx.Tx, item domain.NewsItem) (domain.NewsItem, error) {
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.Topics == nil {
		item.Topics = []string{}
	}
	if item.MediaType == "" {
		item.MediaType = domain.MediaText
	}
	var sourceType string
	start := time.Now()
	err := tx.QueryRow(ctx, `
WITH ins AS (
    INSERT INTO news (title, body, language, country, tags, topics, source_id, link, published_at, expires_at,
                      media_ref, media_type, tone, sentiment_score, citation_score, is_duplicate, duplicate_of,
                      is_fake, moderation_status, title_key, content_hash)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
    RETURNING id, created_at, source_id
)
SELECT ins.id, ins.created_at, s.name, s.type FROM ins JOIN sources s ON s.id = ins.source_id
`, item.Title, item.Body, item.Language, item.Country, item.Tags, item.Topics, item.SourceID, item.Link,
		item.PublishedAt, item.ExpiresAt, item.MediaRef, string(item.MediaType), item.Tone, item.SentimentScore,
		item.CitationScore, item.IsDuplicate, item.DuplicateOf, item.IsFake, string(item.ModerationStatus),
		item.TitleKey, item.ContentHash).Scan(&item.ID, &item.CreatedAt, &item.SourceName, &sourceType)
	observe("insert", "news", start, err)
	if err != nil {
		return domain.NewsItem{}, mapErr(err, "новость")
	}
	item.SourceType = domain.SourceType(sourceType)
	return item, nil
}

// GetNews возвращает новость.
func (p *Postgres) GetNews(ctx context.Context, id int64) (domain.NewsItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	n, err := scanNews(p.pool.QueryRow(ctx, "SELECT "+newsColumns+newsFrom+" WHERE n.id = $1", id))
	observe("select", "news", start, err)
	return n, mapErr(err, fmt.Sprintf("новость %d", id))
}

// UpdateNewsStatus блокирует строку новости и применяет решение fn.
func (p *Postgres) UpdateNewsStatus(ctx context.Context, id int64, fn func(domain.NewsItem) (domain.ModerationStatus, *domain.AdminAction, error)) (domain.NewsItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var out domain.NewsItem
	err := p.inTx(ctx, "news", func(tx pgx.Tx) error {
		start := time.Now()
		n, err := scanNews(tx.QueryRow(ctx, "SELECT "+newsColumns+newsFrom+" WHERE n.id = $1 FOR UPDATE OF n", id))
		observe("select_for_update", "news", start, err)
		if err != nil {
			return mapErr(err, fmt.Sprintf("новость %d", id))
		}
		to, action, err := fn(n)
		if err != nil {
			return err
		}
		start = time.Now()
		_, err = tx.Exec(ctx, "UPDATE news SET moderation_status = $2 WHERE id = $1", id, string(to))
		observe("update", "news", start, err)
		if err != nil {
			return err
		}
		if action != nil {
			if _, err := insertAdminAction(ctx, tx, *action); err != nil {
				return err
			}
		}
		n.ModerationStatus = to
		out = n
		return nil
	})
	return out, err
}

// ArchiveExpired одним запросом снимает снимок и помечает архивными до batch истёкших новостей.
// SKIP LOCKED позволяет нескольким экземплярам работать без ожидания друг друга.
func (p *Postgres) ArchiveExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
WITH expired AS (
    SELECT id FROM news
    WHERE archived_at IS NULL AND expires_at <= $1
    ORDER BY id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
), snapshot AS (
    INSERT INTO archived_news (original_news_id, title, body, language, country, tags, source_id, link,
                               published_at, expires_at, archived_at)
    SELECT n.id, n.title, n.body, n.language, n.country, n.tags, n.source_id, n.link, n.published_at, n.expires_at, $1
    FROM news n JOIN expired e ON e.id = n.id
    ON CONFLICT (original_news_id) DO NOTHING
)
UPDATE news n SET archived_at = $1, body = ''
FROM expired e
WHERE n.id = e.id
`, now, batch)
	observe("archive", "news", start, err)
	if err != nil {
		return 0, fmt.Errorf("архивация: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetArchived возвращает снимок архивированной новости.
func (p *Postgres) GetArchived(ctx context.Context, originalID int64) (domain.ArchivedNewsItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var a domain.ArchivedNewsItem
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, original_news_id, title, body, language, country, tags, source_id, link, published_at, expires_at, archived_at
FROM archived_news WHERE original_news_id = $1
`, originalID).Scan(&a.ID, &a.OriginalNewsID, &a.Title, &a.Body, &a.Language, &a.Country, &a.Tags, &a.SourceID,
		&a.Link, &a.PublishedAt, &a.ExpiresAt, &a.ArchivedAt)
	observe("select", "archived_news", start, err)
	return a, mapErr(err, fmt.Sprintf("архив новости %d", originalID))
}
