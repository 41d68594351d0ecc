package feed

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

const trendingWindow = 48 * time.Hour

// Config задаёт размеры страниц и пакетов.
type Config struct {
	DefaultPageSize   int
	MaxPageSize       int
	BatchSize         int
	MaxBatches        int
	CapabilityTimeout time.Duration
	Policy            domain.EligibilityPolicy
}

// Item — новость в ленте вместе с её весом.
type Item struct {
	News  domain.NewsItem `json:"news"`
	Score float64         `json:"score"`
}

// Page — страница ленты.
type Page struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Service строит персональную ленту. Только чтение: выдача страницы не фиксирует просмотр.
type Service struct {
	users      domain.UserRepo
	repo       domain.FeedRepo
	news       domain.NewsRepo
	translator domain.Translator
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис ленты.
func NewService(users domain.UserRepo, repo domain.FeedRepo, news domain.NewsRepo, translator domain.Translator, cfg Config, logger zerolog.Logger) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 10
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 20
	}
	if cfg.CapabilityTimeout <= 0 {
		cfg.CapabilityTimeout = 3 * time.Second
	}
	if cfg.Policy.AdultTags == nil {
		cfg.Policy.AdultTags = domain.DefaultEligibilityPolicy().AdultTags
	}
	return &Service{
		users:      users,
		repo:       repo,
		news:       news,
		translator: translator,
		cfg:        cfg,
		log:        logger.With().Str("component", "feed").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Compose возвращает страницу ленты пользователя после позиции cursor.
func (s *Service) Compose(ctx context.Context, userID int64, cursor string, pageSize int) (Page, error) {
	after, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	return s.compose(ctx, prefs, after, s.pageSize(pageSize), false)
}

// Unseen возвращает до limit ещё не показанных пользователю новостей. Используется автодоставкой.
func (s *Service) Unseen(ctx context.Context, userID int64, limit int) ([]Item, error) {
	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	page, err := s.compose(ctx, prefs, nil, s.pageSize(limit), true)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (s *Service) preferences(ctx context.Context, userID int64) (domain.Preferences, error) {
	prefs, err := s.users.LoadPreferences(ctx, userID)
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("настройки пользователя: %w", err)
	}
	if prefs.MissingFeedID != nil {
		s.log.Warn().
			Int64("user_id", userID).
			Int64("feed_id", *prefs.MissingFeedID).
			Msg("активная подборка не найдена, используются личные фильтры")
	}
	return prefs, nil
}

func (s *Service) pageSize(n int) int {
	switch {
	case n <= 0:
		return s.cfg.DefaultPageSize
	case n > s.cfg.MaxPageSize:
		return s.cfg.MaxPageSize
	}
	return n
}

// compose читает кандидатов строго по ключу (published_at, id) после курсора, а вес применяет
// только для упорядочивания внутри страницы.
func (s *Service) compose(ctx context.Context, prefs domain.Preferences, after *Cursor, size int, excludeShown bool) (Page, error) {
	start := time.Now()
	now := s.now()
	q := domain.FeedQuery{
		Now:          now,
		Prefs:        prefs,
		Policy:       s.cfg.Policy,
		Limit:        s.cfg.BatchSize,
		ExcludeShown: excludeShown,
	}
	if after != nil {
		key := after.key()
		q.After = &key
	}

	var (
		collected []Item
		exhausted bool
		batches   int
	)
	for len(collected) <= size {
		if batches >= s.cfg.MaxBatches {
			s.log.Warn().
				Int64("user_id", prefs.User.ID).
				Int("batches", batches).
				Int("collected", len(collected)).
				Msg("достигнут предел пакетов, страница может быть неполной")
			break
		}
		rows, err := s.repo.ListFeedCandidates(ctx, q)
		if err != nil {
			return Page{}, fmt.Errorf("выборка кандидатов: %w", err)
		}
		batches++
		for _, c := range rows {
			if after != nil && !pastCursor(c.News, *after) {
				continue
			}
			if !domain.Eligible(c, prefs, s.cfg.Policy, now) {
				continue
			}
			collected = append(collected, Item{News: c.News, Score: score(c, prefs.User.SafeMode)})
		}
		if len(rows) < q.Limit {
			exhausted = true
			break
		}
		last := rows[len(rows)-1].News
		q.After = &domain.FeedCursorKey{PublishedAt: last.PublishedAt, ID: last.ID}
	}

	page := Page{Items: collected}
	if len(collected) > size {
		page.Items = collected[:size]
	}
	if len(page.Items) > 0 && (!exhausted || len(collected) > size) {
		tail := page.Items[len(page.Items)-1].News
		page.NextCursor = Cursor{PublishedAt: tail.PublishedAt, ID: tail.ID}.Encode()
	}
	sortItems(page.Items)
	metrics.FeedBatches.Observe(float64(batches))
	metrics.FeedComposeSeconds.Observe(time.Since(start).Seconds())
	return page, nil
}

func score(c domain.Candidate, safeMode bool) float64 {
	v := float64(c.News.CitationScore) + 0.5*float64(c.ReliabilityScore)
	if safeMode {
		v += 2 * (1 - math.Abs(c.News.SentimentScore))
	}
	return v
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return ranksBefore(items[i], items[j]) })
}

// Trending возвращает популярные новости последних двух суток.
func (s *Service) Trending(ctx context.Context, limit int) ([]domain.TrendingItem, error) {
	now := s.now()
	items, err := s.repo.ListTrending(ctx, now.Add(-trendingWindow), now, s.pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("популярные новости: %w", err)
	}
	return items, nil
}

// Public возвращает анонимную ленту.
func (s *Service) Public(ctx context.Context, q domain.PublicQuery) ([]domain.NewsItem, error) {
	if q.Offset < 0 {
		return nil, domain.Validationf("отрицательное смещение")
	}
	q.Limit = s.pageSize(q.Limit)
	q.Now = s.now()
	items, err := s.repo.ListPublic(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("публичная лента: %w", err)
	}
	return items, nil
}

// maxSearchRunes ограничивает длину поискового запроса.
const maxSearchRunes = 200

// Search ищет активные новости по тексту запроса.
func (s *Service) Search(ctx context.Context, text string, limit, offset int) ([]domain.NewsItem, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, domain.Validationf("пустой поисковый запрос")
	case utf8.RuneCountInString(text) > maxSearchRunes:
		return nil, domain.Validationf("поисковый запрос длиннее %d символов", maxSearchRunes)
	case offset < 0:
		return nil, domain.Validationf("отрицательное смещение")
	}
	items, err := s.repo.SearchNews(ctx, domain.SearchQuery{Now: s.now(), Text: text, Limit: s.pageSize(limit), Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("поиск новостей: %w", err)
	}
	return items, nil
}

// Saved возвращает закладки пользователя, последние сохранения первыми.
func (s *Service) Saved(ctx context.Context, userID int64, limit, offset int) ([]domain.SavedItem, error) {
	if offset < 0 {
		return nil, domain.Validationf("отрицательное смещение")
	}
	items, err := s.repo.ListSaved(ctx, userID, s.pageSize(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("закладки пользователя %d: %w", userID, err)
	}
	return items, nil
}

// Translation — новость на запрошенном языке. Translated=false, если перевод недоступен.
type Translation struct {
	NewsID     int64  `json:"news_id"`
	Language   string `json:"language"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Translated bool   `json:"translated"`
}

// Translate переводит новость. Отказ сервиса перевода не является ошибкой: возвращается оригинал.
func (s *Service) Translate(ctx context.Context, newsID int64, lang string) (Translation, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return Translation{}, domain.Validationf("не указан язык перевода")
	}
	n, err := s.news.GetNews(ctx, newsID)
	if err != nil {
		return Translation{}, fmt.Errorf("получение новости: %w", err)
	}
	out := Translation{NewsID: n.ID, Language: n.Language, Title: n.Title, Body: n.Body}
	if n.Language == lang || s.translator == nil {
		return out, nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.CapabilityTimeout)
	defer cancel()
	title, err := s.translator.Translate(tctx, n.Title, lang)
	if err == nil && n.Body != "" {
		var body string
		body, err = s.translator.Translate(tctx, n.Body, lang)
		out.Body = body
	}
	if err != nil {
		metrics.ObserveCapabilityFailure("translate")
		s.log.Warn().Err(err).Int64("news_id", n.ID).Str("lang", lang).Msg("перевод недоступен, возвращается оригинал")
		out.Body = n.Body
		return out, nil
	}
	out.Title = title
	out.Language = lang
	out.Translated = true
	return out, nil
}
