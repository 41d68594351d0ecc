package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-news-engine/internal/domain"
)

const userColumns = "id, tg_user_id, language, safe_mode, view_mode, current_feed_id, created_at, updated_at"

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u    domain.User
		mode string
	)
	err := row.Scan(&u.ID, &u.TGUserID, &u.Language, &u.SafeMode, &mode, &u.CurrentFeedID, &u.CreatedAt, &u.UpdatedAt)
	u.ViewMode = domain.ViewMode(mode)
	return u, err
}

// UpsertUser создаёт пользователя при первом обращении, существующего возвращает без изменений.
func (p *Postgres) UpsertUser(ctx context.Context, tgUserID int64, language string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	u, err := scanUser(p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, language) VALUES ($1, $2)
ON CONFLICT (tg_user_id) DO UPDATE SET tg_user_id = EXCLUDED.tg_user_id
RETURNING `+userColumns, tgUserID, language))
	observe("upsert", "users", start, err)
	if err != nil {
		return domain.User{}, fmt.Errorf("сохранение пользователя: %w", err)
	}
	return u, nil
}

// GetUserByTGID ищет пользователя по идентификатору Telegram.
func (p *Postgres) GetUserByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	u, err := scanUser(p.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE tg_user_id = $1", tgUserID))
	observe("select", "users", start, err)
	return u, mapErr(err, fmt.Sprintf("пользователь tg %d", tgUserID))
}

// GetUser возвращает пользователя.
func (p *Postgres) GetUser(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return getUser(ctx, p.pool, id)
}

func getUser(ctx context.Context, q querier, id int64) (domain.User, error) {
	start := time.Now()
	u, err := scanUser(q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	observe("select", "users", start, err)
	return u, mapErr(err, fmt.Sprintf("пользователь %d", id))
}

func (p *Postgres) updateUser(ctx context.Context, id int64, set string, arg any) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, "UPDATE users SET "+set+" = $2, updated_at = now() WHERE id = $1", id, arg)
	observe("update", "users", start, err)
	if err != nil {
		return err
	}
	return affectedOrNotFound(tag, fmt.Sprintf("пользователь %d", id))
}

// SetSafeMode включает или выключает безопасный режим.
func (p *Postgres) SetSafeMode(ctx context.Context, userID int64, enabled bool) error {
	return p.updateUser(ctx, userID, "safe_mode", enabled)
}

// SetViewMode переключает режим просмотра.
func (p *Postgres) SetViewMode(ctx context.Context, userID int64, mode domain.ViewMode) error {
	return p.updateUser(ctx, userID, "view_mode", string(mode))
}

// ListUsersByViewMode возвращает пользователей с указанным режимом.
func (p *Postgres) ListUsersByViewMode(ctx context.Context, mode domain.ViewMode) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, "SELECT "+userColumns+" FROM users WHERE view_mode = $1 ORDER BY id", string(mode))
	observe("select", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LoadPreferences читает пользователя, фильтры, блокировки и активную подборку.
func (p *Postgres) LoadPreferences(ctx context.Context, userID int64) (domain.Preferences, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	u, err := getUser(ctx, p.pool, userID)
	if err != nil {
		return domain.Preferences{}, err
	}
	prefs := domain.Preferences{User: u, Filters: domain.FilterSet{}}

	start := time.Now()
	rows, err := p.pool.Query(ctx, "SELECT filter_type, value FROM user_filters WHERE user_id = $1 ORDER BY filter_type, value", userID)
	observe("select", "user_filters", start, err)
	if err != nil {
		return domain.Preferences{}, err
	}
	var filters []domain.Filter
	for rows.Next() {
		var f domain.Filter
		var t string
		if err := rows.Scan(&t, &f.Value); err != nil {
			rows.Close()
			return domain.Preferences{}, err
		}
		f.Type = domain.FilterType(t)
		filters = append(filters, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Preferences{}, err
	}
	if len(filters) > 0 {
		set, err := domain.NewFilterSet(filters)
		if err != nil {
			return domain.Preferences{}, fmt.Errorf("фильтры пользователя %d: %w", userID, err)
		}
		prefs.Filters = set
	}

	if prefs.Blocks, err = listBlocks(ctx, p.pool, userID); err != nil {
		return domain.Preferences{}, err
	}

	if u.CurrentFeedID != nil {
		f, err := getCustomFeed(ctx, p.pool, userID, *u.CurrentFeedID)
		switch {
		case err == nil:
			prefs.ActiveFeed = &f
		case errors.Is(err, domain.ErrNotFound):
			id := *u.CurrentFeedID
			prefs.MissingFeedID = &id
		default:
			return domain.Preferences{}, err
		}
	}
	return prefs, nil
}

// AddFilters добавляет фильтры, повторы игнорируются.
func (p *Postgres) AddFilters(ctx context.Context, userID int64, filters []domain.Filter) error {
	set, err := domain.NewFilterSet(filters)
	if err != nil {
		return err
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return p.inTx(ctx, "user_filters", func(tx pgx.Tx) error {
		if _, err := getUser(ctx, tx, userID); err != nil {
			return err
		}
		for _, f := range set.Filters() {
			start := time.Now()
			_, err := tx.Exec(ctx, `INSERT INTO user_filters (user_id, filter_type, value) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`, userID, string(f.Type), f.Value)
			observe("insert", "user_filters", start, err)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetFilters удаляет личные фильтры.
func (p *Postgres) ResetFilters(ctx context.Context, userID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, "DELETE FROM user_filters WHERE user_id = $1", userID)
	observe("delete", "user_filters", start, err)
	return err
}

// AddBlock добавляет блокировку, повтор игнорируется.
func (p *Postgres) AddBlock(ctx context.Context, b domain.Block) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if _, err := getUser(ctx, p.pool, b.UserID); err != nil {
		return err
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO user_blocks (user_id, block_type, value, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING
`, b.UserID, string(b.Type), b.Value, b.CreatedAt)
	observe("insert", "user_blocks", start, err)
	return err
}

// RemoveBlock снимает блокировку.
func (p *Postgres) RemoveBlock(ctx context.Context, userID int64, t domain.BlockType, value string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, "DELETE FROM user_blocks WHERE user_id = $1 AND block_type = $2 AND value = $3", userID, string(t), value)
	observe("delete", "user_blocks", start, err)
	if err != nil {
		return err
	}
	return affectedOrNotFound(tag, fmt.Sprintf("блокировка %s:%s", t, value))
}

// ListBlocks возвращает блокировки пользователя.
func (p *Postgres) ListBlocks(ctx context.Context, userID int64) ([]domain.Block, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return listBlocks(ctx, p.pool, userID)
}

func listBlocks(ctx context.Context, q querier, userID int64) ([]domain.Block, error) {
	start := time.Now()
	rows, err := q.Query(ctx, "SELECT block_type, value, created_at FROM user_blocks WHERE user_id = $1 ORDER BY created_at, block_type, value", userID)
	observe("select", "user_blocks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Block
	for rows.Next() {
		b := domain.Block{UserID: userID}
		var t string
		if err := rows.Scan(&t, &b.Value, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Type = domain.BlockType(t)
		out = append(out, b)
	}
	return out, rows.Err()
}

const customFeedColumns = "id, user_id, name, filters, created_at, updated_at"

func scanCustomFeed(row pgx.Row) (domain.CustomFeed, error) {
	var (
		f   domain.CustomFeed
		raw []byte
	)
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &raw, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return domain.CustomFeed{}, err
	}
	f.Filters = domain.FilterSet{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.Filters); err != nil {
			return domain.CustomFeed{}, fmt.Errorf("фильтры подборки %d: %w", f.ID, err)
		}
	}
	return f, nil
}

func encodeFilterSet(set domain.FilterSet) ([]byte, error) {
	if set == nil {
		set = domain.FilterSet{}
	}
	return json.Marshal(set)
}

func getCustomFeed(ctx context.Context, q querier, userID, feedID int64) (domain.CustomFeed, error) {
	start := time.Now()
	f, err := scanCustomFeed(q.QueryRow(ctx, "SELECT "+customFeedColumns+" FROM custom_feeds WHERE id = $1 AND user_id = $2", feedID, userID))
	observe("select", "custom_feeds", start, err)
	return f, mapErr(err, fmt.Sprintf("подборка %d", feedID))
}

// CreateCustomFeed создаёт подборку. Имя уникально в пределах пользователя.
func (p *Postgres) CreateCustomFeed(ctx context.Context, f domain.CustomFeed) (domain.CustomFeed, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	raw, err := encodeFilterSet(f.Filters)
	if err != nil {
		return domain.CustomFeed{}, err
	}
	start := time.Now()
	out, err := scanCustomFeed(p.pool.QueryRow(ctx, `
INSERT INTO custom_feeds (user_id, name, filters) VALUES ($1, $2, $3)
RETURNING `+customFeedColumns, f.UserID, f.Name, raw))
	observe("insert", "custom_feeds", start, err)
	if err != nil {
		return domain.CustomFeed{}, mapErr(err, fmt.Sprintf("подборка %q", f.Name))
	}
	return out, nil
}

// UpdateCustomFeedFilters заменяет фильтры подборки.
func (p *Postgres) UpdateCustomFeedFilters(ctx context.Context, userID, feedID int64, set domain.FilterSet) (domain.CustomFeed, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	raw, err := encodeFilterSet(set)
	if err != nil {
		return domain.CustomFeed{}, err
	}
	start := time.Now()
	out, err := scanCustomFeed(p.pool.QueryRow(ctx, `
UPDATE custom_feeds SET filters = $3, updated_at = now() WHERE id = $1 AND user_id = $2
RETURNING `+customFeedColumns, feedID, userID, raw))
	observe("update", "custom_feeds", start, err)
	return out, mapErr(err, fmt.Sprintf("подборка %d", feedID))
}

// DeleteCustomFeed удаляет подборку. Внешний ключ users.current_feed_id обнуляет выбор.
func (p *Postgres) DeleteCustomFeed(ctx context.Context, userID, feedID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, "DELETE FROM custom_feeds WHERE id = $1 AND user_id = $2", feedID, userID)
	observe("delete", "custom_feeds", start, err)
	if err != nil {
		return err
	}
	return affectedOrNotFound(tag, fmt.Sprintf("подборка %d", feedID))
}

// ListCustomFeeds возвращает подборки пользователя.
func (p *Postgres) ListCustomFeeds(ctx context.Context, userID int64) ([]domain.CustomFeed, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, "SELECT "+customFeedColumns+" FROM custom_feeds WHERE user_id = $1 ORDER BY id", userID)
	observe("select", "custom_feeds", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CustomFeed
	for rows.Next() {
		f, err := scanCustomFeed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetCurrentFeed переключает активную подборку. Чужая или несуществующая подборка даёт ErrNotFound.
func (p *Postgres) SetCurrentFeed(ctx context.Context, userID int64, feedID *int64) error {
	if feedID == nil {
		return p.updateUser(ctx, userID, "current_feed_id", nil)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE users SET current_feed_id = $2, updated_at = now()
WHERE id = $1 AND EXISTS (SELECT 1 FROM custom_feeds WHERE id = $2 AND user_id = $1)
`, userID, *feedID)
	observe("update", "users", start, err)
	if err != nil {
		return err
	}
	return affectedOrNotFound(tag, fmt.Sprintf("подборка %d", *feedID))
}
