package httpapi

import (
	"net/http"

	"tg-news-engine/internal/domain"
	httpinfra "tg-news-engine/internal/infra/http"
	"tg-news-engine/internal/usecase/preferences"
)

type registerUserRequest struct {
	TGUserID int64  `json:"tg_user_id"`
	Language string `json:"language"`
}

func (h *Handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Users.Register(r.Context(), req.TGUserID, req.Language)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req preferences.Settings
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err = h.Users.UpdateSettings(r.Context(), u.ID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) userFeed(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeFeed(w, r, u)
}

func (h *Handler) writeFeed(w http.ResponseWriter, r *http.Request, u domain.User) {
	size, err := queryInt(r, "page_size", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.Feeds.Compose(r.Context(), u.ID, r.URL.Query().Get("cursor"), size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toFeedPage(page))
}

func (h *Handler) userStats(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.Engagement.UserStats(r.Context(), u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) savedNews(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
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
	items, err := h.Feeds.Saved(r.Context(), u.ID, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toSaved(items))
}

type filtersRequest struct {
	Filters []domain.Filter `json:"filters"`
}

func (h *Handler) addFilters(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req filtersRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Users.AddFilters(r.Context(), u.ID, req.Filters); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writePreferences(w, r, u.ID)
}

func (h *Handler) resetFilters(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Users.ResetFilters(r.Context(), u.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writePreferences(w http.ResponseWriter, r *http.Request, userID int64) {
	prefs, err := h.Users.Preferences(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filters := map[domain.FilterType][]string(prefs.Filters)
	if filters == nil {
		filters = map[domain.FilterType][]string{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"filters": filters})
}

type blockRequest struct {
	Type  domain.BlockType `json:"type"`
	Value string           `json:"value"`
}

func (h *Handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	blocks, err := h.Users.Blocks(r.Context(), u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []domain.Block{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, blocks)
}

func (h *Handler) addBlock(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req blockRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Users.AddBlock(r.Context(), u.ID, req.Type, req.Value); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeBlock(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req blockRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Users.RemoveBlock(r.Context(), u.ID, req.Type, req.Value); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type customFeedRequest struct {
	Name    string          `json:"name"`
	Filters []domain.Filter `json:"filters"`
}

func (h *Handler) listCustomFeeds(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	feeds, err := h.Users.Feeds(r.Context(), u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toCustomFeeds(feeds))
}

func (h *Handler) createCustomFeed(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req customFeedRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.Users.CreateFeed(r.Context(), u.ID, req.Name, req.Filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, toCustomFeedDTO(f))
}

func (h *Handler) updateCustomFeed(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	feedID, err := pathID(r, "feedID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req customFeedRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.Users.UpdateFeed(r.Context(), u.ID, feedID, req.Filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toCustomFeedDTO(f))
}

func (h *Handler) deleteCustomFeed(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	feedID, err := pathID(r, "feedID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Users.DeleteFeed(r.Context(), u.ID, feedID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateCustomFeed(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	feedID, err := pathID(r, "feedID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Users.ActivateFeed(r.Context(), u.ID, feedID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateCustomFeed(w http.ResponseWriter, r *http.Request) {
	u, err := h.user(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Users.DeactivateFeed(r.Context(), u.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
