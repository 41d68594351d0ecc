package domain

import "time"

// SourceType описывает транспорт, из которого приходят публикации источника.
type SourceType string

const (
	SourceTelegram SourceType = "telegram"
	SourceRSS      SourceType = "rss"
	SourceTwitter  SourceType = "twitter"
	SourceWebsite  SourceType = "website"
)

// Valid сообщает, входит ли тип в закрытый перечень.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTelegram, SourceRSS, SourceTwitter, SourceWebsite:
		return true
	}
	return false
}

// SourceStatus описывает состояние источника.
type SourceStatus string

const (
	SourceStatusNew      SourceStatus = "new"
	SourceStatusActive   SourceStatus = "active"
	SourceStatusBlocked  SourceStatus = "blocked"
	SourceStatusArchived SourceStatus = "archived"
)

// Valid сообщает, входит ли статус в закрытый перечень.
func (s SourceStatus) Valid() bool {
	switch s {
	case SourceStatusNew, SourceStatusActive, SourceStatusBlocked, SourceStatusArchived:
		return true
	}
	return false
}

// Source описывает зарегистрированный источник новостей. Источники не удаляются.
type Source struct {
	ID               int64
	Name             string
	Link             string
	Type             SourceType
	Verified         bool
	ReliabilityScore int
	Status           SourceStatus
	AddedBy          *int64
	LastFetchAt      *time.Time
	CreatedAt        time.Time
}

// BlockedSource фиксирует причину глобальной блокировки источника.
type BlockedSource struct {
	SourceID  int64
	Reason    string
	BlockedAt time.Time
}

// MediaType описывает тип вложения публикации.
type MediaType string

const (
	MediaText     MediaType = "text"
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
)

// ModerationStatus описывает состояние модерации новости или комментария.
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "pending"
	StatusApproved ModerationStatus = "approved"
	StatusRejected ModerationStatus = "rejected"
	StatusFlagged  ModerationStatus = "flagged"
)

// Valid сообщает, входит ли статус в закрытый перечень.
func (s ModerationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusFlagged:
		return true
	}
	return false
}

// NewsItem описывает нормализованную новость.
type NewsItem struct {
	ID               int64
	Title            string
	Body             string
	Language         string
	Country          string
	Tags             []string
	Topics           []string
	SourceID         int64
	SourceName       string
	SourceType       SourceType
	Link             string
	PublishedAt      time.Time
	ExpiresAt        time.Time
	MediaRef         string
	MediaType        MediaType
	Tone             string
	SentimentScore   float64
	CitationScore    int
	IsDuplicate      bool
	DuplicateOf      *int64
	IsFake           bool
	ModerationStatus ModerationStatus
	TitleKey         string
	ContentHash      string
	ArchivedAt       *time.Time
	CreatedAt        time.Time
}

// Expired сообщает, истекло ли окно видимости к моменту now.
func (n NewsItem) Expired(now time.Time) bool {
	return !n.ExpiresAt.After(now)
}

// Archived сообщает, перенесена ли новость в архив.
func (n NewsItem) Archived() bool {
	return n.ArchivedAt != nil
}

// Active сообщает, участвует ли новость в дедупликации и выдаче.
func (n NewsItem) Active(now time.Time) bool {
	return !n.Archived() && !n.IsDuplicate && !n.Expired(now)
}

// ArchivedNewsItem хранит неизменяемый снимок новости после архивации.
type ArchivedNewsItem struct {
	ID             int64
	OriginalNewsID int64
	Title          string
	Body           string
	Language       string
	Country        string
	Tags           []string
	SourceID       int64
	Link           string
	PublishedAt    time.Time
	ExpiresAt      time.Time
	ArchivedAt     time.Time
}

// ViewMode определяет режим получения ленты.
type ViewMode string

const (
	// ViewModeManual — пользователь листает ленту сам.
	ViewModeManual ViewMode = "manual"
	// ViewModeAuto — лента доставляется автоматически, прочитанное не повторяется.
	ViewModeAuto ViewMode = "auto"
)

// User описывает пользователя Telegram и его общие настройки.
type User struct {
	ID            int64
	TGUserID      int64
	Language      string
	SafeMode      bool
	ViewMode      ViewMode
	CurrentFeedID *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Comment описывает комментарий к новости.
type Comment struct {
	ID        int64
	NewsID    int64
	UserID    int64
	ParentID  *int64
	Body      string
	Status    ModerationStatus
	DedupKey  string
	CreatedAt time.Time
}

// Report описывает жалобу пользователя на новость.
type Report struct {
	UserID    int64
	NewsID    int64
	Reason    string
	CreatedAt time.Time
}

// AdminAction фиксирует действие администратора или автоматического правила.
type AdminAction struct {
	ID         int64
	ActorID    int64
	ActionType string
	TargetType string
	TargetID   int64
	Details    map[string]any
	CreatedAt  time.Time
}

// RawItem описывает публикацию в том виде, в котором её отдал коннектор.
type RawItem struct {
	SourceOrigin string     `json:"source_origin"`
	SourceName   string     `json:"source_name,omitempty"`
	SourceType   SourceType `json:"source_type"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Link         string     `json:"link"`
	MediaRef     string     `json:"media_ref,omitempty"`
	MediaType    MediaType  `json:"media_type,omitempty"`
	PublishedAt  time.Time  `json:"published_at"`
	Language     string     `json:"language,omitempty"`
	Country      string     `json:"country,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	IsFake       bool       `json:"is_fake,omitempty"`
}
