package domain

import (
	"context"
	"time"
)

// Classification — ответ сервиса классификации.
type Classification struct {
	Tags   []string
	Topics []string
	IsFake bool
}

// Sentiment — ответ сервиса оценки тональности.
type Sentiment struct {
	Tone  string
	Score float64
}

// Classifier присваивает новости теги и темы.
type Classifier interface {
	Classify(ctx context.Context, title, body string) (Classification, error)
}

// SentimentAnalyzer оценивает тональность текста.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error)
}

// Translator переводит текст на указанный язык.
type Translator interface {
	Translate(ctx context.Context, text, lang string) (string, error)
}

// SourceRepo управляет реестром источников.
type SourceRepo interface {
	// UpsertSource создаёт источник или возвращает существующий с той же ссылкой.
	UpsertSource(ctx context.Context, s Source) (Source, bool, error)
	GetSource(ctx context.Context, id int64) (Source, error)
	ListSources(ctx context.Context, status SourceStatus) ([]Source, error)
	// SetSourceStatus меняет статус, при блокировке сохраняет причину.
	SetSourceStatus(ctx context.Context, id int64, status SourceStatus, reason string, at time.Time) (Source, error)
	AdjustReliability(ctx context.Context, id int64, delta int) (int, error)
	MarkSourceFetched(ctx context.Context, id int64, at time.Time) error
	// SourceStats возвращает счётчики источника с оконными значениями начиная с since.
	SourceStats(ctx context.Context, id int64, since time.Time) (SourceStats, error)
}

// DedupScope задаёт область поиска кандидатов в дубликаты.
type DedupScope struct {
	SourceID int64
	TitleKey string
	Link     string
	// Since — нижняя граница даты публикации кандидатов. Кандидатами бывают только активные новости.
	Since time.Time
	Now   time.Time
}

// IngestDecision — решение, принятое под блокировкой дедупликации.
type IngestDecision struct {
	DuplicateOf *int64
	Status      ModerationStatus
}

// DedupDecider принимает решение по активным кандидатам.
type DedupDecider func(candidates []NewsItem) (IngestDecision, error)

// IngestOutcome описывает результат вставки.
type IngestOutcome string

const (
	OutcomeInserted  IngestOutcome = "inserted"
	OutcomeDuplicate IngestOutcome = "duplicate"
	// OutcomeExisting — публикация уже была сохранена ранее.
	OutcomeExisting IngestOutcome = "existing"
	// OutcomeSourceBlocked — источник заблокирован, публикация не сохраняется.
	OutcomeSourceBlocked IngestOutcome = "source_blocked"
)

// NewsRepo хранит новости.
type NewsRepo interface {
	// InsertDeduplicated сохраняет новость, принимая решение о дубликате под блокировкой области.
	InsertDeduplicated(ctx context.Context, item NewsItem, scope DedupScope, decide DedupDecider) (NewsItem, IngestOutcome, error)
	GetNews(ctx context.Context, id int64) (NewsItem, error)
	// UpdateNewsStatus блокирует строку и применяет решение fn в одной транзакции.
	UpdateNewsStatus(ctx context.Context, id int64, fn func(NewsItem) (ModerationStatus, *AdminAction, error)) (NewsItem, error)
}

// FeedCursorKey — позиция в хранилище для постраничного чтения.
type FeedCursorKey struct {
	PublishedAt time.Time
	ID          int64
}

// FeedQuery описывает выборку кандидатов для ленты.
type FeedQuery struct {
	Now    time.Time
	Prefs  Preferences
	Policy EligibilityPolicy
	// After продолжает чтение строго после ключа.
	After *FeedCursorKey
	Limit int
	// ExcludeShown отбрасывает уже показанные пользователю новости.
	ExcludeShown bool
}

// TrendingItem — новость с её популярностью.
type TrendingItem struct {
	News      NewsItem
	Views     int
	AvgRating float64
	Score     float64
}

// PublicQuery — параметры анонимной выборки.
type PublicQuery struct {
	Now      time.Time
	Topic    string
	Language string
	Tone     string
	Limit    int
	Offset   int
}

// SearchQuery — полнотекстовый поиск по активным новостям.
// Text ищется подстрокой в заголовке и тексте и точным значением среди тегов и тем.
type SearchQuery struct {
	Now    time.Time
	Text   string
	Limit  int
	Offset int
}

// SavedItem — новость из закладок пользователя. SavedAt — время первого сохранения.
type SavedItem struct {
	News    NewsItem
	SavedAt time.Time
}

// FeedRepo читает кандидатов для лент.
type FeedRepo interface {
	ListFeedCandidates(ctx context.Context, q FeedQuery) ([]Candidate, error)
	ListTrending(ctx context.Context, since, now time.Time, limit int) ([]TrendingItem, error)
	ListPublic(ctx context.Context, q PublicQuery) ([]NewsItem, error)
	SearchNews(ctx context.Context, q SearchQuery) ([]NewsItem, error)
	ListSaved(ctx context.Context, userID int64, limit, offset int) ([]SavedItem, error)
}

// ArchiveRepo переносит истёкшие новости в архив.
type ArchiveRepo interface {
	ArchiveExpired(ctx context.Context, now time.Time, batch int) (int, error)
	GetArchived(ctx context.Context, originalID int64) (ArchivedNewsItem, error)
}

// UserRepo управляет пользователями и их настройками.
type UserRepo interface {
	UpsertUser(ctx context.Context, tgUserID int64, language string) (User, error)
	GetUserByTGID(ctx context.Context, tgUserID int64) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	SetSafeMode(ctx context.Context, userID int64, enabled bool) error
	SetViewMode(ctx context.Context, userID int64, mode ViewMode) error
	ListUsersByViewMode(ctx context.Context, mode ViewMode) ([]User, error)
	LoadPreferences(ctx context.Context, userID int64) (Preferences, error)
}

// PreferenceRepo хранит фильтры, блокировки и подборки.
type PreferenceRepo interface {
	AddFilters(ctx context.Context, userID int64, filters []Filter) error
	ResetFilters(ctx context.Context, userID int64) error
	AddBlock(ctx context.Context, b Block) error
	RemoveBlock(ctx context.Context, userID int64, t BlockType, value string) error
	ListBlocks(ctx context.Context, userID int64) ([]Block, error)
	CreateCustomFeed(ctx context.Context, f CustomFeed) (CustomFeed, error)
	UpdateCustomFeedFilters(ctx context.Context, userID, feedID int64, set FilterSet) (CustomFeed, error)
	// DeleteCustomFeed удаляет подборку и снимает её с активной, если она была выбрана.
	DeleteCustomFeed(ctx context.Context, userID, feedID int64) error
	ListCustomFeeds(ctx context.Context, userID int64) ([]CustomFeed, error)
	// SetCurrentFeed переключает активную подборку. nil снимает выбор.
	SetCurrentFeed(ctx context.Context, userID int64, feedID *int64) error
}

// EngagementRepo ведёт журнал взаимодействий и производные счётчики.
type EngagementRepo interface {
	// RecordInteraction сохраняет событие и, если оно новое, применяет приращения.
	RecordInteraction(ctx context.Context, e InteractionEvent, delta Counters) (applied bool, sourceID int64, err error)
	UserStats(ctx context.Context, userID int64) (UserStats, error)
	// RebuildStats пересчитывает счётчики из журнала.
	RebuildStats(ctx context.Context, now time.Time) error
}

// ReportRepo хранит жалобы.
type ReportRepo interface {
	// InsertReport сохраняет жалобу, повтор от того же пользователя игнорируется.
	InsertReport(ctx context.Context, r Report) (created bool, err error)
	CountReports(ctx context.Context, newsID int64, since time.Time) (int, error)
}

// CommentRepo хранит комментарии.
type CommentRepo interface {
	// InsertComment возвращает существующий комментарий при повторе ключа.
	InsertComment(ctx context.Context, c Comment) (Comment, bool, error)
	GetComment(ctx context.Context, id int64) (Comment, error)
	ListComments(ctx context.Context, newsID int64) ([]Comment, error)
	UpdateCommentStatus(ctx context.Context, id int64, fn func(Comment) (ModerationStatus, *AdminAction, error)) (Comment, error)
}

// AdminRepo журналирует административные действия.
type AdminRepo interface {
	InsertAdminAction(ctx context.Context, a AdminAction) (AdminAction, error)
	ListAdminActions(ctx context.Context, targetType string, targetID int64) ([]AdminAction, error)
}

// Locker обеспечивает выполнение задачи одним экземпляром.
type Locker interface {
	// Acquire возвращает true, если ключ захвачен текущим вызовом.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
