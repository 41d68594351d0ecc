// Package memstore — хранилище в памяти для локального запуска и тестов сценариев.
// Одна блокировка на всё хранилище, поэтому InsertDeduplicated сериализуется так же,
// как транзакция с advisory lock в Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"tg-news-engine/internal/domain"
)

type pairKey [2]int64

// Store реализует репозитории домена поверх map.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users     map[int64]domain.User
	usersByTG map[int64]int64

	sources      map[int64]domain.Source
	sourceByLink map[string]int64
	blocked      map[int64]domain.BlockedSource

	news    map[int64]domain.NewsItem
	archive map[int64]domain.ArchivedNewsItem

	filters map[int64]domain.FilterSet
	blocks  map[int64][]domain.Block
	feeds   map[int64]domain.CustomFeed

	views    map[pairKey]domain.UserViewRecord
	events   map[string]domain.InteractionEvent
	eventLog []domain.InteractionEvent
	ratings  map[pairKey]domain.Rating
	reports  map[pairKey]domain.Report

	comments map[int64]domain.Comment
	actions  []domain.AdminAction
	metrics  []domain.BusinessMetric

	userStats   map[int64]domain.UserStats
	sourceStats map[int64]domain.SourceStats

	locks map[string]time.Time
	seq   int64
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		now:          func() time.Time { return time.Now().UTC() },
		users:        map[int64]domain.User{},
		usersByTG:    map[int64]int64{},
		sources:      map[int64]domain.Source{},
		sourceByLink: map[string]int64{},
		blocked:      map[int64]domain.BlockedSource{},
		news:         map[int64]domain.NewsItem{},
		archive:      map[int64]domain.ArchivedNewsItem{},
		filters:      map[int64]domain.FilterSet{},
		blocks:       map[int64][]domain.Block{},
		feeds:        map[int64]domain.CustomFeed{},
		views:        map[pairKey]domain.UserViewRecord{},
		events:       map[string]domain.InteractionEvent{},
		ratings:      map[pairKey]domain.Rating{},
		reports:      map[pairKey]domain.Report{},
		comments:     map[int64]domain.Comment{},
		userStats:    map[int64]domain.UserStats{},
		sourceStats:  map[int64]domain.SourceStats{},
		locks:        map[string]time.Time{},
	}
}

// WithClock подменяет источник времени.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// PutNews сохраняет новость как есть, минуя дедупликацию.
func (s *Store) PutNews(n domain.NewsItem) domain.NewsItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == 0 {
		n.ID = s.nextID()
	}
	if src, ok := s.sources[n.SourceID]; ok {
		n.SourceName = src.Name
		n.SourceType = src.Type
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.news[n.ID] = n
	return n
}

// AllNews возвращает все новости, упорядоченные по id.
func (s *Store) AllNews() []domain.NewsItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NewsItem, 0, len(s.news))
	for _, n := range s.news {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AdminActions возвращает журнал административных действий.
func (s *Store) AdminActions() []domain.AdminAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AdminAction(nil), s.actions...)
}

// BusinessMetrics возвращает сохранённые бизнес-события.
func (s *Store) BusinessMetrics() []domain.BusinessMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BusinessMetric(nil), s.metrics...)
}

// RecordBusinessMetric сохраняет бизнес-событие.
func (s *Store) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

// InsertAdminAction журналирует действие.
func (s *Store) InsertAdminAction(_ context.Context, a domain.AdminAction) (domain.AdminAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAction(a), nil
}

func (s *Store) appendAction(a domain.AdminAction) domain.AdminAction {
	a.ID = s.nextID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.actions = append(s.actions, a)
	return a
}

// ListAdminActions возвращает действия над объектом.
func (s *Store) ListAdminActions(_ context.Context, targetType string, targetID int64) ([]domain.AdminAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AdminAction
	for _, a := range s.actions {
		if a.TargetType == targetType && a.TargetID == targetID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Acquire захватывает ключ на ttl в пределах процесса.
func (s *Store) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.locks[key]; ok && now.Before(until) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}

var (
	_ domain.SourceRepo         = (*Store)(nil)
	_ domain.NewsRepo           = (*Store)(nil)
	_ domain.FeedRepo           = (*Store)(nil)
	_ domain.ArchiveRepo        = (*Store)(nil)
	_ domain.UserRepo           = (*Store)(nil)
	_ domain.PreferenceRepo     = (*Store)(nil)
	_ domain.EngagementRepo     = (*Store)(nil)
	_ domain.ReportRepo         = (*Store)(nil)
	_ domain.CommentRepo        = (*Store)(nil)
	_ domain.AdminRepo          = (*Store)(nil)
	_ domain.BusinessMetricRepo = (*Store)(nil)
	_ domain.Locker             = (*Store)(nil)
)
