package repo

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"tg-news-engine/internal/domain"
)

const trendingEngagementWindow = 24 * time.Hour

// ListFeedCandidates читает активные одобренные новости в порядке (published_at, id) по убыванию.
// Персональные фильтры применяет сервис ленты, здесь только то, что покрывает индекс.
func (p *Postgres) ListFeedCandidates(ctx context.Context, q domain.FeedQuery) ([]domain.Candidate, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	qb := p.sb.Select(newsColumns,
		"(b.source_id IS NOT NULL OR s.status = 'blocked')",
		"s.reliability_score",
		"COALESCE(v.read_full, FALSE)").
		From("news n").
		Join("sources s ON s.id = n.source_id").
		LeftJoin("blocked_sources b ON b.source_id = n.source_id").
		LeftJoin("user_news_views v ON v.news_id = n.id AND v.user_id = ?", q.Prefs.User.ID).
		Where(sq.Eq{"n.archived_at": nil, "n.is_duplicate": false, "n.moderation_status": string(domain.StatusApproved)}).
		Where(sq.Gt{"n.expires_at": q.Now}).
		OrderBy("n.published_at DESC", "n.id DESC")
	if q.After != nil {
		qb = qb.Where("(n.published_at, n.id) < (?, ?)", q.After.PublishedAt, q.After.ID)
	}
	if q.ExcludeShown {
		qb = qb.Where("COALESCE(v.shown, FALSE) = FALSE")
	}
	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	observe("select_feed", "news", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		n, err := scanNews(rows, &c.SourceBlocked, &c.ReliabilityScore, &c.ReadFull)
		if err != nil {
			return nil, err
		}
		c.News = n
		c.SourceName = n.SourceName
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTrending ранжирует свежие новости по просмотрам и средней оценке за последние сутки.
func (p *Postgres) ListTrending(ctx context.Context, since, now time.Time, limit int) ([]domain.TrendingItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, "SELECT "+newsColumns+`, COALESCE(v.views, 0), COALESCE(r.avg_rating, 0)`+newsFrom+`
LEFT JOIN (
    SELECT news_id, count(*) AS views FROM interactions
    WHERE action = 'view' AND occurred_at >= $2 AND occurred_at <= $3
    GROUP BY news_id
) v ON v.news_id = n.id
LEFT JOIN (
    SELECT news_id, avg(value)::float8 AS avg_rating FROM ratings
    WHERE updated_at >= $2 AND updated_at <= $3
    GROUP BY news_id
) r ON r.news_id = n.id
WHERE n.archived_at IS NULL AND NOT n.is_duplicate AND n.expires_at > $3
  AND n.moderation_status = 'approved' AND n.published_at >= $1
  AND NOT EXISTS (SELECT 1 FROM blocked_sources b WHERE b.source_id = n.source_id)
ORDER BY COALESCE(v.views, 0) + COALESCE(r.avg_rating, 0) * 10 DESC, n.id DESC
LIMIT $4`, since, now.Add(-trendingEngagementWindow), now, limit)
	observe("select_trending", "news", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrendingItem
	for rows.Next() {
		var (
			item  domain.TrendingItem
			views int64
		)
		n, err := scanNews(rows, &views, &item.AvgRating)
		if err != nil {
			return nil, err
		}
		item.News = n
		item.Views = int(views)
		item.Score = float64(item.Views) + item.AvgRating*10
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListPublic возвращает анонимную ленту. Теги и темы хранятся нормализованными.
func (p *Postgres) ListPublic(ctx context.Context, q domain.PublicQuery) ([]domain.NewsItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	qb := p.sb.Select(newsColumns).
		From("news n").
		Join("sources s ON s.id = n.source_id").
		Where(sq.Eq{"n.archived_at": nil, "n.is_duplicate": false, "n.is_fake": false, "n.moderation_status": string(domain.StatusApproved)}).
		Where(sq.Gt{"n.expires_at": q.Now}).
		Where("NOT EXISTS (SELECT 1 FROM blocked_sources b WHERE b.source_id = n.source_id)").
		OrderBy("n.published_at DESC", "n.id DESC")
	if topic := domain.NormalizeValue(q.Topic); topic != "" {
		qb = qb.Where("(? = ANY(n.topics) OR ? = ANY(n.tags))", topic, topic)
	}
	if lang := domain.NormalizeValue(q.Language); lang != "" {
		qb = qb.Where("lower(n.language) = ?", lang)
	}
	if tone := domain.NormalizeValue(q.Tone); tone != "" {
		qb = qb.Where("lower(n.tone) = ?", tone)
	}
	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		qb = qb.Offset(uint64(q.Offset))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	observe("select_public", "news", start, err)
	if err != nil {
		return nil, err
	}
	return collectNews(rows)
}

// likeEscaper экранирует спецсимволы шаблона LIKE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchNews ищет среди активных одобренных новостей по подстроке заголовка и текста или по тегу и теме.
func (p *Postgres) SearchNews(ctx context.Context, q domain.SearchQuery) ([]domain.NewsItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	pattern := "%" + likeEscaper.Replace(strings.ToLower(q.Text)) + "%"
	term := domain.NormalizeValue(q.Text)
	qb := p.sb.Select(newsColumns).
		From("news n").
		Join("sources s ON s.id = n.source_id").
		Where(sq.Eq{"n.archived_at": nil, "n.is_duplicate": false, "n.is_fake": false, "n.moderation_status": string(domain.StatusApproved)}).
		Where(sq.Gt{"n.expires_at": q.Now}).
		Where("NOT EXISTS (SELECT 1 FROM blocked_sources b WHERE b.source_id = n.source_id)").
		Where("(lower(n.title) LIKE ? OR lower(n.body) LIKE ? OR ? = ANY(n.tags) OR ? = ANY(n.topics))", pattern, pattern, term, term).
		OrderBy("n.published_at DESC", "n.id DESC")
	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		qb = qb.Offset(uint64(q.Offset))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	observe("select_search", "news", start, err)
	if err != nil {
		return nil, err
	}
	return collectNews(rows)
}

// ListSaved возвращает закладки пользователя: новости с событием save, новые сохранения первыми.
func (p *Postgres) ListSaved(ctx context.Context, userID int64, limit, offset int) ([]domain.SavedItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	qb := p.sb.Select(newsColumns, "sv.saved_at").
		From("news n").
		Join("sources s ON s.id = n.source_id").
		Join("(SELECT news_id, min(occurred_at) AS saved_at FROM interactions WHERE user_id = ? AND action = ? GROUP BY news_id) sv ON sv.news_id = n.id",
			userID, string(domain.ActionSave)).
		OrderBy("sv.saved_at DESC", "n.id DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	if offset > 0 {
		qb = qb.Offset(uint64(offset))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	observe("select_saved", "interactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SavedItem
	for rows.Next() {
		var item domain.SavedItem
		n, err := scanNews(rows, &item.SavedAt)
		if err != nil {
			return nil, err
		}
		item.News = n
		out = append(out, item)
	}
	return out, rows.Err()
}
