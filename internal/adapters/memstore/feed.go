package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"tg-news-engine/internal/domain"
)

const trendingEngagementWindow = 24 * time.Hour

// ListFeedCandidates возвращает активные одобренные новости в порядке ключа (published_at, id) по убыванию.
func (s *Store) ListFeedCandidates(_ context.Context, q domain.FeedQuery) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID := q.Prefs.User.ID
	var out []domain.Candidate
	for _, n := range s.byPublishedDesc() {
		if !n.Active(q.Now) || n.ModerationStatus != domain.StatusApproved {
			continue
		}
		if q.After != nil && !keyBefore(n, *q.After) {
			continue
		}
		view, seen := s.views[pairKey{userID, n.ID}]
		if q.ExcludeShown && seen && view.Shown {
			continue
		}
		src := s.sources[n.SourceID]
		_, blocked := s.blocked[n.SourceID]
		out = append(out, domain.Candidate{
			News:             n,
			SourceName:       src.Name,
			SourceBlocked:    blocked || src.Status == domain.SourceStatusBlocked,
			ReliabilityScore: src.ReliabilityScore,
			ReadFull:         seen && view.ReadFull,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func keyBefore(n domain.NewsItem, k domain.FeedCursorKey) bool {
	if n.PublishedAt.Equal(k.PublishedAt) {
		return n.ID < k.ID
	}
	return n.PublishedAt.Before(k.PublishedAt)
}

// ListTrending ранжирует новости, опубликованные после since, по просмотрам и оценкам за последние сутки.
func (s *Store) ListTrending(_ context.Context, since, now time.Time, limit int) ([]domain.TrendingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := now.Add(-trendingEngagementWindow)
	views := map[int64]int{}
	for _, e := range s.eventLog {
		if e.Action == domain.ActionView && !e.OccurredAt.Before(from) && !e.OccurredAt.After(now) {
			views[e.NewsID]++
		}
	}
	type acc struct{ sum, count int }
	ratings := map[int64]acc{}
	for _, r := range s.ratings {
		if r.UpdatedAt.Before(from) || r.UpdatedAt.After(now) {
			continue
		}
		a := ratings[r.NewsID]
		a.sum += r.Value
		a.count++
		ratings[r.NewsID] = a
	}

	var out []domain.TrendingItem
	for _, n := range s.news {
		if !n.Active(now) || n.ModerationStatus != domain.StatusApproved || n.PublishedAt.Before(since) {
			continue
		}
		if _, blocked := s.blocked[n.SourceID]; blocked {
			continue
		}
		item := domain.TrendingItem{News: n, Views: views[n.ID]}
		if a := ratings[n.ID]; a.count > 0 {
			item.AvgRating = float64(a.sum) / float64(a.count)
		}
		item.Score = float64(item.Views) + item.AvgRating*10
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].News.ID > out[j].News.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListPublic возвращает анонимную ленту без персональных настроек.
func (s *Store) ListPublic(_ context.Context, q domain.PublicQuery) ([]domain.NewsItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic := domain.NormalizeValue(q.Topic)
	lang := domain.NormalizeValue(q.Language)
	tone := domain.NormalizeValue(q.Tone)
	var out []domain.NewsItem
	for _, n := range s.byPublishedDesc() {
		if !n.Active(q.Now) || n.ModerationStatus != domain.StatusApproved || n.IsFake {
			continue
		}
		if _, blocked := s.blocked[n.SourceID]; blocked {
			continue
		}
		if topic != "" && !hasValue(n.Topics, topic) && !hasValue(n.Tags, topic) {
			continue
		}
		if lang != "" && domain.NormalizeValue(n.Language) != lang {
			continue
		}
		if tone != "" && domain.NormalizeValue(n.Tone) != tone {
			continue
		}
		out = append(out, n)
	}
	return page(out, q.Limit, q.Offset), nil
}

func (s *Store) byPublishedDesc() []domain.NewsItem {
	out := s.sortedNews()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func hasValue(values []string, want string) bool {
	for _, v := range values {
		if domain.NormalizeValue(v) == want {
			return true
		}
	}
	return false
}

// SearchNews ищет подстроку в заголовке и тексте или точное значение среди тегов и тем.
func (s *Store) SearchNews(_ context.Context, q domain.SearchQuery) ([]domain.NewsItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := strings.ToLower(q.Text)
	term := domain.NormalizeValue(q.Text)
	var out []domain.NewsItem
	for _, n := range s.byPublishedDesc() {
		if !n.Active(q.Now) || n.ModerationStatus != domain.StatusApproved || n.IsFake {
			continue
		}
		if _, blocked := s.blocked[n.SourceID]; blocked {
			continue
		}
		if strings.Contains(strings.ToLower(n.Title), text) || strings.Contains(strings.ToLower(n.Body), text) ||
			hasValue(n.Tags, term) || hasValue(n.Topics, term) {
			out = append(out, n)
		}
	}
	return page(out, q.Limit, q.Offset), nil
}

// ListSaved собирает закладки из журнала событий save.
func (s *Store) ListSaved(_ context.Context, userID int64, limit, offset int) ([]domain.SavedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := map[int64]time.Time{}
	for _, e := range s.eventLog {
		if e.UserID != userID || e.Action != domain.ActionSave {
			continue
		}
		if at, ok := first[e.NewsID]; !ok || e.OccurredAt.Before(at) {
			first[e.NewsID] = e.OccurredAt
		}
	}
	out := make([]domain.SavedItem, 0, len(first))
	for id, at := range first {
		if n, ok := s.news[id]; ok {
			out = append(out, domain.SavedItem{News: n, SavedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].News.ID > out[j].News.ID
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
