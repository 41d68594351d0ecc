package memstore

import (
	"context"
	"sort"
	"time"

	"tg-news-engine/internal/domain"
)

// UpsertSource создаёт источник или возвращает существующий с той же ссылкой.
func (s *Store) UpsertSource(_ context.Context, src domain.Source) (domain.Source, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sourceByLink[src.Link]; ok {
		return s.sources[id], false, nil
	}
	src.ID = s.nextID()
	if src.Status == "" {
		src.Status = domain.SourceStatusNew
	}
	src.CreatedAt = s.now()
	s.sources[src.ID] = src
	s.sourceByLink[src.Link] = src.ID
	if src.AddedBy != nil {
		st := s.userStats[*src.AddedBy]
		st.UserID = *src.AddedBy
		st.SourcesAdded++
		s.userStats[*src.AddedBy] = st
	}
	return src, true, nil
}

// GetSource возвращает источник.
func (s *Store) GetSource(_ context.Context, id int64) (domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return domain.Source{}, domain.NotFoundf("источник %d", id)
	}
	return src, nil
}

// ListSources возвращает источники с указанным статусом.
func (s *Store) ListSources(_ context.Context, status domain.SourceStatus) ([]domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Source
	for _, src := range s.sources {
		if status == "" || src.Status == status {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetSourceStatus меняет статус источника.
func (s *Store) SetSourceStatus(_ context.Context, id int64, status domain.SourceStatus, reason string, at time.Time) (domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return domain.Source{}, domain.NotFoundf("источник %d", id)
	}
	src.Status = status
	s.sources[id] = src
	if status == domain.SourceStatusBlocked {
		s.blocked[id] = domain.BlockedSource{SourceID: id, Reason: reason, BlockedAt: at}
	} else {
		delete(s.blocked, id)
	}
	return src, nil
}

// AdjustReliability изменяет рейтинг надёжности.
func (s *Store) AdjustReliability(_ context.Context, id int64, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return 0, domain.NotFoundf("источник %d", id)
	}
	src.ReliabilityScore += delta
	s.sources[id] = src
	return src.ReliabilityScore, nil
}

// MarkSourceFetched фиксирует время опроса.
func (s *Store) MarkSourceFetched(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return domain.NotFoundf("источник %d", id)
	}
	src.LastFetchAt = &at
	s.sources[id] = src
	return nil
}

// BlockedReason возвращает причину блокировки источника.
func (s *Store) BlockedReason(id int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocked[id]
	return b.Reason, ok
}

// SourceStats возвращает счётчики источника с оконными значениями.
func (s *Store) SourceStats(_ context.Context, id int64, since time.Time) (domain.SourceStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.sourceStats[id]
	st.SourceID = id
	for _, n := range s.news {
		if n.SourceID == id && !n.IsDuplicate && !n.PublishedAt.Before(since) {
			st.WindowPublications++
		}
	}
	for _, r := range s.reports {
		if n, ok := s.news[r.NewsID]; ok && n.SourceID == id && !r.CreatedAt.Before(since) {
			st.WindowReports++
		}
	}
	return st, nil
}

// InsertDeduplicated сохраняет новость, принимая решение под общей блокировкой.
func (s *Store) InsertDeduplicated(ctx context.Context, item domain.NewsItem, scope domain.DedupScope, decide domain.DedupDecider) (domain.NewsItem, domain.IngestOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return domain.NewsItem{}, "", err
	}
	if scope.Link != "" {
		for _, n := range s.sortedNews() {
			if n.SourceID == scope.SourceID && n.Link == scope.Link {
				return n, domain.OutcomeExisting, nil
			}
		}
	}

	var candidates []domain.NewsItem
	for _, n := range s.sortedNews() {
		related := n.SourceID == scope.SourceID || (scope.TitleKey != "" && n.TitleKey == scope.TitleKey)
		if related && !n.PublishedAt.Before(scope.Since) && n.Active(scope.Now) {
			candidates = append(candidates, n)
		}
	}
	decision, err := decide(candidates)
	if err != nil {
		return domain.NewsItem{}, "", err
	}

	outcome := domain.OutcomeInserted
	if decision.DuplicateOf != nil {
		original, ok := s.news[*decision.DuplicateOf]
		if !ok {
			return domain.NewsItem{}, "", domain.NotFoundf("оригинал %d", *decision.DuplicateOf)
		}
		original.CitationScore++
		s.news[original.ID] = original
		item.IsDuplicate = true
		item.DuplicateOf = decision.DuplicateOf
		item.ModerationStatus = domain.StatusPending
		outcome = domain.OutcomeDuplicate
	} else {
		item.ModerationStatus = decision.Status
		st := s.sourceStats[item.SourceID]
		st.SourceID = item.SourceID
		st.Publications++
		s.sourceStats[item.SourceID] = st
	}
	item.ID = s.nextID()
	item.CreatedAt = s.now()
	if src, ok := s.sources[item.SourceID]; ok {
		item.SourceName = src.Name
		item.SourceType = src.Type
	}
	s.news[item.ID] = item
	return item, outcome, nil
}

// GetNews возвращает новость.
func (s *Store) GetNews(_ context.Context, id int64) (domain.NewsItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.news[id]
	if !ok {
		return domain.NewsItem{}, domain.NotFoundf("новость %d", id)
	}
	return n, nil
}

// UpdateNewsStatus применяет решение fn к новости под блокировкой.
func (s *Store) UpdateNewsStatus(_ context.Context, id int64, fn func(domain.NewsItem) (domain.ModerationStatus, *domain.AdminAction, error)) (domain.NewsItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.news[id]
	if !ok {
		return domain.NewsItem{}, domain.NotFoundf("новость %d", id)
	}
	to, action, err := fn(n)
	if err != nil {
		return domain.NewsItem{}, err
	}
	n.ModerationStatus = to
	s.news[id] = n
	if action != nil {
		s.appendAction(*action)
	}
	return n, nil
}

// ArchiveExpired переносит в архив до batch истёкших новостей.
func (s *Store) ArchiveExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.sortedNews() {
		if count >= batch {
			break
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if n.Archived() || !n.Expired(now) {
			continue
		}
		if _, ok := s.archive[n.ID]; !ok {
			s.archive[n.ID] = domain.ArchivedNewsItem{
				ID:             s.nextID(),
				OriginalNewsID: n.ID,
				Title:          n.Title,
				Body:           n.Body,
				Language:       n.Language,
				Country:        n.Country,
				Tags:           append([]string(nil), n.Tags...),
				SourceID:       n.SourceID,
				Link:           n.Link,
				PublishedAt:    n.PublishedAt,
				ExpiresAt:      n.ExpiresAt,
				ArchivedAt:     now,
			}
		}
		at := now
		n.ArchivedAt = &at
		n.Body = ""
		s.news[n.ID] = n
		count++
	}
	return count, nil
}

// GetArchived возвращает снимок архивированной новости.
func (s *Store) GetArchived(_ context.Context, originalID int64) (domain.ArchivedNewsItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archive[originalID]
	if !ok {
		return domain.ArchivedNewsItem{}, domain.NotFoundf("архив новости %d", originalID)
	}
	return a, nil
}

func (s *Store) sortedNews() []domain.NewsItem {
	out := make([]domain.NewsItem, 0, len(s.news))
	for _, n := range s.news {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
