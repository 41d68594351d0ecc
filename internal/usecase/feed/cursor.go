package feed

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"tg-news-engine/internal/domain"
)

// Cursor — позиция в ленте по (published_at, id). Вес новости в курсор не входит.
type Cursor struct {
	PublishedAt time.Time
	ID          int64
}

// Encode упаковывает курсор в непрозрачную строку.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.PublishedAt.UnixNano(), 10) + "|" + strconv.FormatInt(c.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor разбирает курсор. Пустая строка означает первую страницу.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.Validationf("некорректный курсор")
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 2 {
		return nil, domain.Validationf("некорректный курсор")
	}
	nanos, err1 := strconv.ParseInt(parts[0], 10, 64)
	id, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, domain.Validationf("некорректный курсор")
	}
	return &Cursor{PublishedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

func (c Cursor) key() domain.FeedCursorKey {
	return domain.FeedCursorKey{PublishedAt: c.PublishedAt, ID: c.ID}
}

// pastCursor сообщает, идёт ли новость после позиции c в порядке (published_at, id) по убыванию.
func pastCursor(n domain.NewsItem, c Cursor) bool {
	if !n.PublishedAt.Equal(c.PublishedAt) {
		return n.PublishedAt.Before(c.PublishedAt)
	}
	return n.ID < c.ID
}

// ranksBefore задаёт порядок внутри страницы: свежесть, затем вес, затем id.
func ranksBefore(a, b Item) bool {
	if !a.News.PublishedAt.Equal(b.News.PublishedAt) {
		return a.News.PublishedAt.After(b.News.PublishedAt)
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.News.ID > b.News.ID
}
