package memstore

import (
	"context"
	"sort"

	"tg-news-engine/internal/domain"
)

// UpsertUser создаёт пользователя при первом обращении.
func (s *Store) UpsertUser(_ context.Context, tgUserID int64, language string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.usersByTG[tgUserID]; ok {
		return s.users[id], nil
	}
	now := s.now()
	u := domain.User{
		ID:        s.nextID(),
		TGUserID:  tgUserID,
		Language:  language,
		ViewMode:  domain.ViewModeManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u
	s.usersByTG[tgUserID] = u.ID
	return u, nil
}

// GetUserByTGID ищет пользователя по идентификатору Telegram.
func (s *Store) GetUserByTGID(_ context.Context, tgUserID int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByTG[tgUserID]
	if !ok {
		return domain.User{}, domain.NotFoundf("пользователь tg %d", tgUserID)
	}
	return s.users[id], nil
}

// GetUser возвращает пользователя.
func (s *Store) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.NotFoundf("пользователь %d", id)
	}
	return u, nil
}

func (s *Store) updateUser(id int64, fn func(*domain.User)) error {
	u, ok := s.users[id]
	if !ok {
		return domain.NotFoundf("пользователь %d", id)
	}
	fn(&u)
	u.UpdatedAt = s.now()
	s.users[id] = u
	return nil
}

// SetSafeMode включает или выключает безопасный режим.
func (s *Store) SetSafeMode(_ context.Context, userID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateUser(userID, func(u *domain.User) { u.SafeMode = enabled })
}

// SetViewMode меняет режим ленты.
func (s *Store) SetViewMode(_ context.Context, userID int64, mode domain.ViewMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateUser(userID, func(u *domain.User) { u.ViewMode = mode })
}

// ListUsersByViewMode возвращает пользователей с указанным режимом.
func (s *Store) ListUsersByViewMode(_ context.Context, mode domain.ViewMode) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.User
	for _, u := range s.users {
		if u.ViewMode == mode {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadPreferences собирает настройки пользователя.
func (s *Store) LoadPreferences(_ context.Context, userID int64) (domain.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.Preferences{}, domain.NotFoundf("пользователь %d", userID)
	}
	p := domain.Preferences{
		User:    u,
		Filters: copySet(s.filters[userID]),
		Blocks:  append([]domain.Block(nil), s.blocks[userID]...),
	}
	if u.CurrentFeedID != nil {
		if f, ok := s.feeds[*u.CurrentFeedID]; ok && f.UserID == userID {
			f.Filters = copySet(f.Filters)
			p.ActiveFeed = &f
		} else {
			id := *u.CurrentFeedID
			p.MissingFeedID = &id
		}
	}
	return p, nil
}

// AddFilters дополняет личные фильтры.
func (s *Store) AddFilters(_ context.Context, userID int64, filters []domain.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return domain.NotFoundf("пользователь %d", userID)
	}
	merged := append(s.filters[userID].Filters(), filters...)
	set, err := domain.NewFilterSet(merged)
	if err != nil {
		return err
	}
	s.filters[userID] = set
	return nil
}

// ResetFilters удаляет личные фильтры.
func (s *Store) ResetFilters(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.filters, userID)
	return nil
}

// AddBlock добавляет блокировку, повтор игнорируется.
func (s *Store) AddBlock(_ context.Context, b domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[b.UserID]; !ok {
		return domain.NotFoundf("пользователь %d", b.UserID)
	}
	for _, existing := range s.blocks[b.UserID] {
		if existing.Type == b.Type && existing.Value == b.Value {
			return nil
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.blocks[b.UserID] = append(s.blocks[b.UserID], b)
	return nil
}

// RemoveBlock снимает блокировку.
func (s *Store) RemoveBlock(_ context.Context, userID int64, t domain.BlockType, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.blocks[userID]
	for i, b := range list {
		if b.Type == t && b.Value == value {
			s.blocks[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return domain.NotFoundf("блокировка %s:%s", t, value)
}

// ListBlocks возвращает блокировки пользователя.
func (s *Store) ListBlocks(_ context.Context, userID int64) ([]domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Block(nil), s.blocks[userID]...), nil
}

// CreateCustomFeed создаёт подборку, имя уникально в пределах пользователя.
func (s *Store) CreateCustomFeed(_ context.Context, f domain.CustomFeed) (domain.CustomFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[f.UserID]; !ok {
		return domain.CustomFeed{}, domain.NotFoundf("пользователь %d", f.UserID)
	}
	for _, existing := range s.feeds {
		if existing.UserID == f.UserID && existing.Name == f.Name {
			return domain.CustomFeed{}, domain.Conflictf("подборка %q уже есть", f.Name)
		}
	}
	f.ID = s.nextID()
	f.CreatedAt = s.now()
	f.UpdatedAt = f.CreatedAt
	f.Filters = copySet(f.Filters)
	s.feeds[f.ID] = f
	return f, nil
}

// UpdateCustomFeedFilters заменяет фильтры подборки.
func (s *Store) UpdateCustomFeedFilters(_ context.Context, userID, feedID int64, set domain.FilterSet) (domain.CustomFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[feedID]
	if !ok || f.UserID != userID {
		return domain.CustomFeed{}, domain.NotFoundf("подборка %d", feedID)
	}
	f.Filters = copySet(set)
	f.UpdatedAt = s.now()
	s.feeds[feedID] = f
	return f, nil
}

// DeleteCustomFeed удаляет подборку и снимает её с активной.
func (s *Store) DeleteCustomFeed(_ context.Context, userID, feedID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[feedID]
	if !ok || f.UserID != userID {
		return domain.NotFoundf("подборка %d", feedID)
	}
	delete(s.feeds, feedID)
	u := s.users[userID]
	if u.CurrentFeedID != nil && *u.CurrentFeedID == feedID {
		u.CurrentFeedID = nil
		s.users[userID] = u
	}
	return nil
}

// ListCustomFeeds возвращает подборки пользователя.
func (s *Store) ListCustomFeeds(_ context.Context, userID int64) ([]domain.CustomFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CustomFeed
	for _, f := range s.feeds {
		if f.UserID == userID {
			f.Filters = copySet(f.Filters)
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetCurrentFeed переключает активную подборку.
func (s *Store) SetCurrentFeed(_ context.Context, userID int64, feedID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if feedID != nil {
		f, ok := s.feeds[*feedID]
		if !ok || f.UserID != userID {
			return domain.NotFoundf("подборка %d", *feedID)
		}
	}
	return s.updateUser(userID, func(u *domain.User) {
		if feedID == nil {
			u.CurrentFeedID = nil
			return
		}
		id := *feedID
		u.CurrentFeedID = &id
	})
}

// DropFeedSilently удаляет подборку, не трогая выбор пользователя.
// Нужен для воспроизведения рассинхронизации, когда активная подборка исчезла.
func (s *Store) DropFeedSilently(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.feeds, feedID)
}

func copySet(set domain.FilterSet) domain.FilterSet {
	if set == nil {
		return nil
	}
	out := make(domain.FilterSet, len(set))
	for t, values := range set {
		out[t] = append([]string(nil), values...)
	}
	return out
}
