package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tg-news-engine/internal/domain"
	httpinfra "tg-news-engine/internal/infra/http"
	"tg-news-engine/internal/usecase/admin"
	"tg-news-engine/internal/usecase/comments"
	"tg-news-engine/internal/usecase/sources"
)

func (h *Handler) getFilters(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writePreferences(w, r, u.ID)
}

func (h *Handler) trending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.Feeds.Trending(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toTrending(items))
}

func (h *Handler) publicNews(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	items, err := h.Feeds.Public(r.Context(), domain.PublicQuery{
		Topic:    domain.NormalizeValue(q.Get("topic")),
		Language: strings.ToLower(q.Get("language")),
		Tone:     strings.ToLower(q.Get("tone")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toNewsList(items))
}

func (h *Handler) searchNews(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.Feeds.Search(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toNewsList(items))
}

// submitNews ставит публикацию в очередь приёма. Ответ 202: дедупликация выполняется асинхронно.
func (h *Handler) submitNews(w http.ResponseWriter, r *http.Request) {
	var item domain.RawItem
	if err := decode(r, &item); err != nil {
		h.fail(w, r, err)
		return
	}
	if item.SourceType == "" {
		item.SourceType = domain.SourceWebsite
	}
	if !item.SourceType.Valid() {
		h.fail(w, r, domain.Validationf("неизвестный тип источника %q", item.SourceType))
		return
	}
	if strings.TrimSpace(item.SourceOrigin) == "" || strings.TrimSpace(item.Title)+strings.TrimSpace(item.Body) == "" {
		h.fail(w, r, domain.Validationf("нужны источник и текст публикации"))
		return
	}
	if h.Queue == nil {
		h.fail(w, r, errors.New("очередь приёма не настроена"))
		return
	}
	job := domain.IngestJob{
		ID:         uuid.NewString(),
		Item:       item,
		ReceivedAt: time.Now().UTC(),
		Origin:     "manual",
	}
	if err := h.Queue.Enqueue(r.Context(), job); err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (h *Handler) translate(w http.ResponseWriter, r *http.Request) {
	newsID, err := pathID(r, "newsID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tr, err := h.Feeds.Translate(r.Context(), newsID, r.URL.Query().Get("lang"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, tr)
}

func (h *Handler) thread(w http.ResponseWriter, r *http.Request) {
	newsID, err := pathID(r, "newsID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	nodes, err := h.Comments.Thread(r.Context(), newsID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toThread(nodes))
}

func (h *Handler) archived(w http.ResponseWriter, r *http.Request) {
	newsID, err := pathID(r, "newsID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.Archive.Archived(r.Context(), newsID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, archivedDTO{
		ID:             a.ID,
		OriginalNewsID: a.OriginalNewsID,
		Title:          a.Title,
		Body:           a.Body,
		Language:       a.Language,
		Country:        a.Country,
		Tags:           nonNil(a.Tags),
		SourceID:       a.SourceID,
		Link:           a.Link,
		PublishedAt:    a.PublishedAt,
		ExpiresAt:      a.ExpiresAt,
		ArchivedAt:     a.ArchivedAt,
	})
}

type interactionRequest struct {
	TGUserID         int64         `json:"tg_user_id"`
	NewsID           int64         `json:"news_id"`
	Action           domain.Action `json:"action"`
	DedupKey         string        `json:"dedup_key"`
	Value            int           `json:"value"`
	TimeSpentSeconds int           `json:"time_spent_seconds"`
	OccurredAt       time.Time     `json:"occurred_at"`
}

func (h *Handler) recordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Users.ByTGID(r.Context(), req.TGUserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	applied, err := h.Engagement.Record(r.Context(), domain.InteractionEvent{
		UserID:           u.ID,
		NewsID:           req.NewsID,
		Action:           req.Action,
		DedupKey:         req.DedupKey,
		Value:            req.Value,
		TimeSpentSeconds: req.TimeSpentSeconds,
		OccurredAt:       req.OccurredAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

type reportRequest struct {
	TGUserID int64  `json:"tg_user_id"`
	NewsID   int64  `json:"news_id"`
	Reason   string `json:"reason"`
}

func (h *Handler) submitReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Users.ByTGID(r.Context(), req.TGUserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Reports.SubmitReport(r.Context(), domain.Report{UserID: u.ID, NewsID: req.NewsID, Reason: req.Reason})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{
		"created":        res.Created,
		"flagged":        res.Flagged,
		"source_blocked": res.SourceBlocked,
	})
}

type commentRequest struct {
	TGUserID int64  `json:"tg_user_id"`
	NewsID   int64  `json:"news_id"`
	ParentID *int64 `json:"parent_id"`
	Body     string `json:"body"`
	DedupKey string `json:"dedup_key"`
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Users.ByTGID(r.Context(), req.TGUserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, created, err := h.Comments.Add(r.Context(), comments.AddInput{
		NewsID:   req.NewsID,
		UserID:   u.ID,
		ParentID: req.ParentID,
		Body:     req.Body,
		DedupKey: req.DedupKey,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpinfra.WriteJSON(w, status, toCommentDTO(c))
}

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	list, err := h.Sources.List(r.Context(), domain.SourceStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]sourceDTO, 0, len(list))
	for _, s := range list {
		out = append(out, toSourceDTO(s))
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

type sourceRequest struct {
	Link     string            `json:"link"`
	Type     domain.SourceType `json:"type"`
	Name     string            `json:"name"`
	TGUserID int64             `json:"tg_user_id"`
}

func (h *Handler) registerSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := sources.RegisterInput{Link: req.Link, Type: req.Type, Name: req.Name}
	if req.TGUserID != 0 {
		u, err := h.Users.ByTGID(r.Context(), req.TGUserID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.AddedBy = &u.ID
	}
	src, created, err := h.Sources.Register(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpinfra.WriteJSON(w, status, toSourceDTO(src))
}

func (h *Handler) sourceStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sourceID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.Engagement.SourceStats(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) adminAction(w http.ResponseWriter, r *http.Request) {
	var cmd admin.Command
	if err := decode(r, &cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Admin.Apply(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch v := res.(type) {
	case domain.NewsItem:
		httpinfra.WriteJSON(w, http.StatusOK, toNewsDTO(v))
	case domain.Comment:
		httpinfra.WriteJSON(w, http.StatusOK, toCommentDTO(v))
	case domain.Source:
		httpinfra.WriteJSON(w, http.StatusOK, toSourceDTO(v))
	default:
		httpinfra.WriteJSON(w, http.StatusOK, v)
	}
}

func (h *Handler) adminHistory(w http.ResponseWriter, r *http.Request) {
	targetID, err := queryInt(r, "target_id", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actions, err := h.Admin.History(r.Context(), r.URL.Query().Get("target_type"), int64(targetID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]adminActionDTO, 0, len(actions))
	for _, a := range actions {
		out = append(out, adminActionDTO{
			ID:         a.ID,
			ActorID:    a.ActorID,
			ActionType: a.ActionType,
			TargetType: a.TargetType,
			TargetID:   a.TargetID,
			Details:    a.Details,
			CreatedAt:  a.CreatedAt,
		})
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

// webappFeed отдаёт ленту пользователю Telegram WebApp, регистрируя его при первом входе.
func (h *Handler) webappFeed(w http.ResponseWriter, r *http.Request) {
	wu, ok := httpinfra.WebAppUserFrom(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("пользователь не определён"))
		return
	}
	u, err := h.Users.Register(r.Context(), wu.ID, wu.LanguageCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeFeed(w, r, u)
}
