package httpapi

import (
	"time"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/usecase/comments"
	"tg-news-engine/internal/usecase/feed"
)

type newsDTO struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	Language         string     `json:"language"`
	Country          string     `json:"country,omitempty"`
	Tags             []string   `json:"tags"`
	Topics           []string   `json:"topics"`
	SourceID         int64      `json:"source_id"`
	SourceName       string     `json:"source_name"`
	SourceType       string     `json:"source_type"`
	Link             string     `json:"link"`
	PublishedAt      time.Time  `json:"published_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	MediaRef         string     `json:"media_ref,omitempty"`
	MediaType        string     `json:"media_type"`
	Tone             string     `json:"tone"`
	SentimentScore   float64    `json:"sentiment_score"`
	CitationScore    int        `json:"citation_score"`
	IsDuplicate      bool       `json:"is_duplicate"`
	DuplicateOf      *int64     `json:"duplicate_of,omitempty"`
	IsFake           bool       `json:"is_fake"`
	ModerationStatus string     `json:"moderation_status"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
}

func toNewsDTO(n domain.NewsItem) newsDTO {
	return newsDTO{
		ID:               n.ID,
		Title:            n.Title,
		Body:             n.Body,
		Language:         n.Language,
		Country:          n.Country,
		Tags:             nonNil(n.Tags),
		Topics:           nonNil(n.Topics),
		SourceID:         n.SourceID,
		SourceName:       n.SourceName,
		SourceType:       string(n.SourceType),
		Link:             n.Link,
		PublishedAt:      n.PublishedAt,
		ExpiresAt:        n.ExpiresAt,
		MediaRef:         n.MediaRef,
		MediaType:        string(n.MediaType),
		Tone:             n.Tone,
		SentimentScore:   n.SentimentScore,
		CitationScore:    n.CitationScore,
		IsDuplicate:      n.IsDuplicate,
		DuplicateOf:      n.DuplicateOf,
		IsFake:           n.IsFake,
		ModerationStatus: string(n.ModerationStatus),
		ArchivedAt:       n.ArchivedAt,
	}
}

func toNewsList(items []domain.NewsItem) []newsDTO {
	out := make([]newsDTO, 0, len(items))
	for _, n := range items {
		out = append(out, toNewsDTO(n))
	}
	return out
}

type feedItemDTO struct {
	News  newsDTO `json:"news"`
	Score float64 `json:"score"`
}

type feedPageDTO struct {
	Items      []feedItemDTO `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func toFeedPage(p feed.Page) feedPageDTO {
	out := feedPageDTO{Items: make([]feedItemDTO, 0, len(p.Items)), NextCursor: p.NextCursor}
	for _, it := range p.Items {
		out.Items = append(out.Items, feedItemDTO{News: toNewsDTO(it.News), Score: it.Score})
	}
	return out
}

type savedDTO struct {
	News    newsDTO   `json:"news"`
	SavedAt time.Time `json:"saved_at"`
}

func toSaved(items []domain.SavedItem) []savedDTO {
	out := make([]savedDTO, 0, len(items))
	for _, it := range items {
		out = append(out, savedDTO{News: toNewsDTO(it.News), SavedAt: it.SavedAt})
	}
	return out
}

type trendingDTO struct {
	News      newsDTO `json:"news"`
	Views     int     `json:"views"`
	AvgRating float64 `json:"avg_rating"`
	Score     float64 `json:"score"`
}

func toTrending(items []domain.TrendingItem) []trendingDTO {
	out := make([]trendingDTO, 0, len(items))
	for _, it := range items {
		out = append(out, trendingDTO{News: toNewsDTO(it.News), Views: it.Views, AvgRating: it.AvgRating, Score: it.Score})
	}
	return out
}

type userDTO struct {
	ID            int64     `json:"id"`
	TGUserID      int64     `json:"tg_user_id"`
	Language      string    `json:"language"`
	SafeMode      bool      `json:"safe_mode"`
	ViewMode      string    `json:"view_mode"`
	CurrentFeedID *int64    `json:"current_feed_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toUserDTO(u domain.User) userDTO {
	return userDTO{
		ID:            u.ID,
		TGUserID:      u.TGUserID,
		Language:      u.Language,
		SafeMode:      u.SafeMode,
		ViewMode:      string(u.ViewMode),
		CurrentFeedID: u.CurrentFeedID,
		CreatedAt:     u.CreatedAt,
	}
}

type customFeedDTO struct {
	ID        int64                          `json:"id"`
	Name      string                         `json:"name"`
	Filters   map[domain.FilterType][]string `json:"filters"`
	CreatedAt time.Time                      `json:"created_at"`
	UpdatedAt time.Time                      `json:"updated_at"`
}

func toCustomFeeds(feeds []domain.CustomFeed) []customFeedDTO {
	out := make([]customFeedDTO, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toCustomFeedDTO(f))
	}
	return out
}

func toCustomFeedDTO(f domain.CustomFeed) customFeedDTO {
	filters := map[domain.FilterType][]string(f.Filters)
	if filters == nil {
		filters = map[domain.FilterType][]string{}
	}
	return customFeedDTO{ID: f.ID, Name: f.Name, Filters: filters, CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt}
}

type sourceDTO struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Link             string     `json:"link"`
	Type             string     `json:"type"`
	Verified         bool       `json:"verified"`
	ReliabilityScore int        `json:"reliability_score"`
	Status           string     `json:"status"`
	LastFetchAt      *time.Time `json:"last_fetch_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toSourceDTO(s domain.Source) sourceDTO {
	return sourceDTO{
		ID:               s.ID,
		Name:             s.Name,
		Link:             s.Link,
		Type:             string(s.Type),
		Verified:         s.Verified,
		ReliabilityScore: s.ReliabilityScore,
		Status:           string(s.Status),
		LastFetchAt:      s.LastFetchAt,
		CreatedAt:        s.CreatedAt,
	}
}

type commentDTO struct {
	ID        int64     `json:"id"`
	NewsID    int64     `json:"news_id"`
	UserID    int64     `json:"user_id"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toCommentDTO(c domain.Comment) commentDTO {
	return commentDTO{
		ID:        c.ID,
		NewsID:    c.NewsID,
		UserID:    c.UserID,
		ParentID:  c.ParentID,
		Body:      c.Body,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
	}
}

type threadNodeDTO struct {
	Comment     commentDTO      `json:"comment"`
	Placeholder bool            `json:"placeholder"`
	Children    []threadNodeDTO `json:"children,omitempty"`
}

func toThread(nodes []comments.Node) []threadNodeDTO {
	out := make([]threadNodeDTO, 0, len(nodes))
	for _, n := range nodes {
		node := threadNodeDTO{Comment: toCommentDTO(n.Comment), Placeholder: n.Placeholder}
		if len(n.Children) > 0 {
			node.Children = toThread(n.Children)
		}
		out = append(out, node)
	}
	return out
}

type adminActionDTO struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actor_id"`
	ActionType string         `json:"action_type"`
	TargetType string         `json:"target_type"`
	TargetID   int64          `json:"target_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type archivedDTO struct {
	ID             int64     `json:"id"`
	OriginalNewsID int64     `json:"original_news_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Language       string    `json:"language"`
	Country        string    `json:"country,omitempty"`
	Tags           []string  `json:"tags"`
	SourceID       int64     `json:"source_id"`
	Link           string    `json:"link"`
	PublishedAt    time.Time `json:"published_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ArchivedAt     time.Time `json:"archived_at"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
