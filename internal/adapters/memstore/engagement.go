package memstore

import (
	"context"
	"sort"
	"time"

	"tg-news-engine/internal/domain"
)

// RecordInteraction сохраняет событие и применяет приращения, если ключ новый.
func (s *Store) RecordInteraction(_ context.Context, e domain.InteractionEvent, delta domain.Counters) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.news[e.NewsID]
	if !ok {
		return false, 0, domain.NotFoundf("новость %d", e.NewsID)
	}
	if _, ok := s.users[e.UserID]; !ok {
		return false, 0, domain.NotFoundf("пользователь %d", e.UserID)
	}
	if _, dup := s.events[e.Key]; dup {
		return false, n.SourceID, nil
	}
	e.ID = s.nextID()
	s.events[e.Key] = e
	s.eventLog = append(s.eventLog, e)
	s.applyEvent(e, n.SourceID, delta)
	return true, n.SourceID, nil
}

func (s *Store) applyEvent(e domain.InteractionEvent, sourceID int64, delta domain.Counters) {
	key := pairKey{e.UserID, e.NewsID}
	if e.Action == domain.ActionRate {
		r, rated := s.ratings[key]
		if !rated || !e.OccurredAt.Before(r.UpdatedAt) {
			s.ratings[key] = domain.Rating{UserID: e.UserID, NewsID: e.NewsID, Value: e.Value, UpdatedAt: e.OccurredAt}
		}
		if rated {
			delta.Ratings = 0
		}
	}

	us := s.userStats[e.UserID]
	us.UserID = e.UserID
	us.Counters = us.Counters.Add(delta)
	us.UpdatedAt = e.OccurredAt
	s.userStats[e.UserID] = us

	ss := s.sourceStats[sourceID]
	ss.SourceID = sourceID
	ss.Counters = ss.Counters.Add(delta)
	ss.UpdatedAt = e.OccurredAt
	s.sourceStats[sourceID] = ss

	v, ok := s.views[key]
	if !ok {
		v = domain.UserViewRecord{UserID: e.UserID, NewsID: e.NewsID, FirstSeenAt: e.OccurredAt, LastSeenAt: e.OccurredAt}
	}
	if e.OccurredAt.Before(v.FirstSeenAt) {
		v.FirstSeenAt = e.OccurredAt
	}
	if e.OccurredAt.After(v.LastSeenAt) {
		v.LastSeenAt = e.OccurredAt
	}
	v.Shown = true
	if e.Action == domain.ActionReadFull {
		v.ReadFull = true
	}
	v.TimeSpentSeconds += e.TimeSpentSeconds
	s.views[key] = v
}

// View возвращает историю показа новости пользователю.
func (s *Store) View(userID, newsID int64) (domain.UserViewRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[pairKey{userID, newsID}]
	return v, ok
}

// RatingOf возвращает текущую оценку пользователя.
func (s *Store) RatingOf(userID, newsID int64) (domain.Rating, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratings[pairKey{userID, newsID}]
	return r, ok
}

// UserStats возвращает счётчики пользователя.
func (s *Store) UserStats(_ context.Context, userID int64) (domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return domain.UserStats{}, domain.NotFoundf("пользователь %d", userID)
	}
	st := s.userStats[userID]
	st.UserID = userID
	return st, nil
}

// RebuildStats пересчитывает счётчики из журнала, жалоб и публикаций.
func (s *Store) RebuildStats(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := map[int64]domain.UserStats{}
	sources := map[int64]domain.SourceStats{}
	rated := map[pairKey]bool{}
	for _, e := range s.eventLog {
		delta := domain.CountersFor(e)
		if e.Action == domain.ActionRate {
			key := pairKey{e.UserID, e.NewsID}
			if rated[key] {
				delta.Ratings = 0
			}
			rated[key] = true
		}
		us := users[e.UserID]
		us.UserID = e.UserID
		us.Counters = us.Counters.Add(delta)
		users[e.UserID] = us
		if n, ok := s.news[e.NewsID]; ok {
			ss := sources[n.SourceID]
			ss.SourceID = n.SourceID
			ss.Counters = ss.Counters.Add(delta)
			sources[n.SourceID] = ss
		}
	}
	for _, r := range s.reports {
		us := users[r.UserID]
		us.UserID = r.UserID
		us.Reports++
		users[r.UserID] = us
		if n, ok := s.news[r.NewsID]; ok {
			ss := sources[n.SourceID]
			ss.SourceID = n.SourceID
			ss.Reports++
			sources[n.SourceID] = ss
		}
	}
	for _, n := range s.news {
		if n.IsDuplicate {
			continue
		}
		ss := sources[n.SourceID]
		ss.SourceID = n.SourceID
		ss.Publications++
		sources[n.SourceID] = ss
	}
	for _, src := range s.sources {
		if src.AddedBy == nil {
			continue
		}
		us := users[*src.AddedBy]
		us.UserID = *src.AddedBy
		us.SourcesAdded++
		users[*src.AddedBy] = us
	}
	for id, us := range users {
		us.UpdatedAt = now
		users[id] = us
	}
	for id, ss := range sources {
		ss.UpdatedAt = now
		sources[id] = ss
	}
	s.userStats = users
	s.sourceStats = sources
	return nil
}

// InsertReport сохраняет жалобу, повтор игнорируется.
func (s *Store) InsertReport(_ context.Context, r domain.Report) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.news[r.NewsID]
	if !ok {
		return false, domain.NotFoundf("новость %d", r.NewsID)
	}
	key := pairKey{r.UserID, r.NewsID}
	if _, dup := s.reports[key]; dup {
		return false, nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.reports[key] = r
	us := s.userStats[r.UserID]
	us.UserID = r.UserID
	us.Reports++
	s.userStats[r.UserID] = us
	ss := s.sourceStats[n.SourceID]
	ss.SourceID = n.SourceID
	ss.Reports++
	s.sourceStats[n.SourceID] = ss
	return true, nil
}

// CountReports считает жалобы на новость начиная с since.
func (s *Store) CountReports(_ context.Context, newsID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.reports {
		if r.NewsID == newsID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// InsertComment сохраняет комментарий, повтор ключа возвращает существующий.
func (s *Store) InsertComment(_ context.Context, c domain.Comment) (domain.Comment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.news[c.NewsID]; !ok {
		return domain.Comment{}, false, domain.NotFoundf("новость %d", c.NewsID)
	}
	if c.DedupKey != "" {
		for _, existing := range s.comments {
			if existing.UserID == c.UserID && existing.NewsID == c.NewsID && existing.DedupKey == c.DedupKey {
				return existing, false, nil
			}
		}
	}
	c.ID = s.nextID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.comments[c.ID] = c
	return c, true, nil
}

// GetComment возвращает комментарий.
func (s *Store) GetComment(_ context.Context, id int64) (domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return domain.Comment{}, domain.NotFoundf("комментарий %d", id)
	}
	return c, nil
}

// ListComments возвращает комментарии к новости в порядке создания.
func (s *Store) ListComments(_ context.Context, newsID int64) ([]domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Comment
	for _, c := range s.comments {
		if c.NewsID == newsID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateCommentStatus применяет решение fn к комментарию.
func (s *Store) UpdateCommentStatus(_ context.Context, id int64, fn func(domain.Comment) (domain.ModerationStatus, *domain.AdminAction, error)) (domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return domain.Comment{}, domain.NotFoundf("комментарий %d", id)
	}
	to, action, err := fn(c)
	if err != nil {
		return domain.Comment{}, err
	}
	c.Status = to
	s.comments[id] = c
	if action != nil {
		s.appendAction(*action)
	}
	return c, nil
}
