package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Action описывает тип пользовательского взаимодействия.
type Action string

const (
	ActionView     Action = "view"
	ActionLike     Action = "like"
	ActionSave     Action = "save"
	ActionShare    Action = "share"
	ActionSkip     Action = "skip"
	ActionReadFull Action = "read_full"
	ActionFeedback Action = "feedback"
	ActionComment  Action = "comment"
	ActionRate     Action = "rate"
)

// Valid сообщает, входит ли действие в закрытый перечень.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionLike, ActionSave, ActionShare, ActionSkip, ActionReadFull,
		ActionFeedback, ActionComment, ActionRate:
		return true
	}
	return false
}

// repeatable — действия, каждая отправка которых считается отдельным событием.
func (a Action) repeatable() bool {
	return a == ActionRate || a == ActionComment || a == ActionFeedback
}

// InteractionEvent — запись журнала взаимодействий. Журнал только дополняется.
type InteractionEvent struct {
	ID               int64
	Key              string
	UserID           int64
	NewsID           int64
	Action           Action
	DedupKey         string
	Value            int
	TimeSpentSeconds int
	OccurredAt       time.Time
}

// Prepare проверяет событие и заполняет ключ идемпотентности.
func (e InteractionEvent) Prepare() (InteractionEvent, error) {
	if !e.Action.Valid() {
		return e, Validationf("неизвестное действие %q", e.Action)
	}
	if e.UserID == 0 || e.NewsID == 0 {
		return e, Validationf("событие без пользователя или новости")
	}
	if e.OccurredAt.IsZero() {
		return e, Validationf("событие без времени")
	}
	if e.Action == ActionRate && (e.Value < 1 || e.Value > 5) {
		return e, Validationf("оценка должна быть от 1 до 5, получено %d", e.Value)
	}
	if e.TimeSpentSeconds < 0 {
		return e, Validationf("отрицательное время чтения")
	}
	e.OccurredAt = e.OccurredAt.UTC()
	if e.DedupKey == "" && e.Action.repeatable() {
		e.DedupKey = strconv.FormatInt(e.OccurredAt.UnixNano(), 10)
	}
	e.Key = fmt.Sprintf("%d:%d:%s:%s", e.UserID, e.NewsID, e.Action, e.DedupKey)
	return e, nil
}

// Counters — приращения счётчиков, которые вносит одно событие.
type Counters struct {
	Views     int `json:"views"`
	Likes     int `json:"likes"`
	Saves     int `json:"saves"`
	Shares    int `json:"shares"`
	Skips     int `json:"skips"`
	ReadFull  int `json:"read_full"`
	Feedback  int `json:"feedback"`
	Comments  int `json:"comments"`
	// Ratings — число оценённых новостей. Повторная оценка той же новости его не меняет.
	Ratings   int `json:"ratings"`
	TimeSpent int `json:"time_spent_seconds"`
}

// Add суммирует счётчики.
func (c Counters) Add(o Counters) Counters {
	c.Views += o.Views
	c.Likes += o.Likes
	c.Saves += o.Saves
	c.Shares += o.Shares
	c.Skips += o.Skips
	c.ReadFull += o.ReadFull
	c.Feedback += o.Feedback
	c.Comments += o.Comments
	c.Ratings += o.Ratings
	c.TimeSpent += o.TimeSpent
	return c
}

// CountersFor возвращает приращения для события.
func CountersFor(e InteractionEvent) Counters {
	c := Counters{TimeSpent: e.TimeSpentSeconds}
	switch e.Action {
	case ActionView:
		c.Views = 1
	case ActionLike:
		c.Likes = 1
	case ActionSave:
		c.Saves = 1
	case ActionShare:
		c.Shares = 1
	case ActionSkip:
		c.Skips = 1
	case ActionReadFull:
		c.ReadFull = 1
	case ActionFeedback:
		c.Feedback = 1
	case ActionComment:
		c.Comments = 1
	case ActionRate:
		c.Ratings = 1
	}
	return c
}

// UserStats — производные счётчики пользователя.
type UserStats struct {
	UserID int64 `json:"user_id"`
	Counters
	Reports      int       `json:"reports"`
	SourcesAdded int       `json:"sources_added"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SourceStats — производные счётчики источника.
type SourceStats struct {
	SourceID int64 `json:"source_id"`
	Counters
	Reports            int       `json:"reports"`
	Publications       int       `json:"publications"`
	WindowPublications int       `json:"window_publications"`
	WindowReports      int       `json:"window_reports"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Rating — оценка новости пользователем, при повторе перезаписывается.
type Rating struct {
	UserID    int64
	NewsID    int64
	Value     int
	UpdatedAt time.Time
}

// AutoBlockPolicy описывает правило автоматической блокировки источника по жалобам.
type AutoBlockPolicy struct {
	Ratio           float64
	Window          time.Duration
	MinPublications int
}

// ShouldBlock сообщает, нужно ли блокировать источник по оконной статистике.
func (p AutoBlockPolicy) ShouldBlock(s SourceStats) bool {
	if p.Ratio <= 0 || s.WindowPublications <= 0 {
		return false
	}
	if s.WindowPublications < p.MinPublications {
		return false
	}
	return float64(s.WindowReports)/float64(s.WindowPublications) >= p.Ratio
}
