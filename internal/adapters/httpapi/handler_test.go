package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/adapters/memstore"
	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/usecase/admin"
	"tg-news-engine/internal/usecase/comments"
	"tg-news-engine/internal/usecase/engagement"
	"tg-news-engine/internal/usecase/feed"
	"tg-news-engine/internal/usecase/lifecycle"
	"tg-news-engine/internal/usecase/moderation"
	"tg-news-engine/internal/usecase/preferences"
	"tg-news-engine/internal/usecase/sources"
)

const (
	adminToken = "admin-secret"
	botToken   = "bot-token"
)

// Лента сверяет срок жизни с текущим временем, поэтому данные строятся от него.
var testNow = time.Now().UTC().Truncate(time.Second)

type captureQueue struct {
	mu   sync.Mutex
	jobs []domain.IngestJob
}

func (q *captureQueue) Enqueue(_ context.Context, job domain.IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) Receive(ctx context.Context) (domain.IngestJob, domain.AckFunc, error) {
	<-ctx.Done()
	return domain.IngestJob{}, nil, ctx.Err()
}

type fixture struct {
	store  *memstore.Store
	queue  *captureQueue
	router chi.Router
	source domain.Source
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New().WithClock(func() time.Time { return testNow })
	registry := sources.NewService(store, store, domain.AutoBlockPolicy{}, zerolog.Nop())
	eng := engagement.NewService(store, store, registry, 7*24*time.Hour, zerolog.Nop())
	mod := moderation.NewService(store, store, store, registry, store, moderation.Config{}, zerolog.Nop())
	queue := &captureQueue{}

	h := New(Deps{
		Users: preferences.NewService(store, store, zerolog.Nop()),
		Feeds: feed.NewService(store, store, store, nil, feed.Config{
			DefaultPageSize: 10,
			MaxPageSize:     50,
			BatchSize:       10,
			MaxBatches:      10,
			Policy:          domain.DefaultEligibilityPolicy(),
		}, zerolog.Nop()),
		Engagement: eng,
		Reports:    mod,
		Comments:   comments.NewService(store, store, eng, zerolog.Nop()),
		Sources:    registry,
		Admin:      admin.NewService(mod, registry, store, zerolog.Nop()),
		Archive:    lifecycle.NewService(store, nil, nil, lifecycle.Config{}, zerolog.Nop()),
		Queue:      queue,
	}, zerolog.Nop())
	r := chi.NewRouter()
	h.Routes(r, adminToken, botToken)

	src, _, err := store.UpsertSource(context.Background(), domain.Source{Name: "Київ", Link: "https://t.me/kyiv", Type: domain.SourceTelegram})
	require.NoError(t, err)
	return fixture{store: store, queue: queue, router: r, source: src}
}

func (f fixture) news(title string, tags ...string) domain.NewsItem {
	return f.store.PutNews(domain.NewsItem{
		Title:            title,
		Body:             "текст",
		Language:         "uk",
		Tags:             tags,
		SourceID:         f.source.ID,
		Link:             "https://t.me/kyiv/" + strings.ReplaceAll(title, " ", "_"),
		PublishedAt:      testNow.Add(-time.Hour),
		ExpiresAt:        testNow.Add(4 * time.Hour),
		ModerationStatus: domain.StatusApproved,
		Tone:             "neutral",
	})
}

func (f fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUserFeedFlow(t *testing.T) {
	f := newFixture(t)
	f.news("Перша новина", "економіка")
	f.news("Друга новина", "спорт")

	rec := f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"tg_user_id": 42, "language": "UK"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decodeBody[userDTO](t, rec)
	assert.Equal(t, "uk", user.Language)

	rec = f.do(t, http.MethodPut, "/api/v1/users/42/filters", map[string]any{
		"filters": []map[string]string{{"type": "tag", "value": "Спорт"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/users/42/feed?page_size=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decodeBody[feedPageDTO](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Друга новина", page.Items[0].News.Title)
	assert.Equal(t, []string{"спорт"}, page.Items[0].News.Tags)

	rec = f.do(t, http.MethodDelete, "/api/v1/users/42/filters", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/users/42/feed", nil)
	assert.Len(t, decodeBody[feedPageDTO](t, rec).Items, 2)
}

func TestErrorStatuses(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/users/abc/feed", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/users/7/feed", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"tg_user_id": 1, "extra": true}).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"tg_user_id": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/users/5/custom-feeds", map[string]any{"name": "Ранок", "filters": []map[string]string{{"type": "tag", "value": "спорт"}}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/users/5/custom-feeds", map[string]any{"name": "Ранок"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.Validationf("x"), http.StatusBadRequest},
		{domain.NotFoundf("x"), http.StatusNotFound},
		{fmt.Errorf("обёртка: %w", domain.Conflictf("x")), http.StatusConflict},
		{&domain.TransitionError{From: domain.StatusRejected, To: domain.StatusApproved}, http.StatusUnprocessableEntity},
		{domain.ErrCapabilityTimeout, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestInteractionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	n := f.news("Новина")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"tg_user_id": 9}).Code)

	event := map[string]any{"tg_user_id": 9, "news_id": n.ID, "action": "like"}
	rec := f.do(t, http.MethodPost, "/api/v1/interactions", event)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[map[string]bool](t, rec)["applied"])

	rec = f.do(t, http.MethodPost, "/api/v1/interactions", event)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[map[string]bool](t, rec)["applied"])

	rec = f.do(t, http.MethodGet, "/api/v1/users/9/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[domain.UserStats](t, rec).Likes)

	rec = f.do(t, http.MethodPost, "/api/v1/interactions", map[string]any{"tg_user_id": 9, "news_id": n.ID, "action": "rate", "value": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSavedNewsNewestFirst(t *testing.T) {
	f := newFixture(t)
	older := f.news("Стара новина")
	newer := f.news("Нова новина")
	f.news("Не збережена")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"tg_user_id": 11}).Code)

	saves := []struct {
		id int64
		at time.Time
	}{
		{older.ID, testNow.Add(-30 * time.Minute)},
		{newer.ID, testNow.Add(-10 * time.Minute)},
		{older.ID, testNow.Add(-5 * time.Minute)},
	}
	for _, sv := range saves {
		rec := f.do(t, http.MethodPost, "/api/v1/interactions", map[string]any{
			"tg_user_id": 11, "news_id": sv.id, "action": "save", "dedup_key": sv.at.Format(time.RFC3339), "occurred_at": sv.at,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/users/11/saved", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decodeBody[[]savedDTO](t, rec)
	require.Len(t, saved, 2)
	assert.Equal(t, newer.ID, saved[0].News.ID)
	assert.Equal(t, older.ID, saved[1].News.ID)
	assert.True(t, saved[1].SavedAt.Equal(testNow.Add(-30*time.Minute)))

	rec = f.do(t, http.MethodGet, "/api/v1/users/11/saved?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	saved = decodeBody[[]savedDTO](t, rec)
	require.Len(t, saved, 1)
	assert.Equal(t, older.ID, saved[0].News.ID)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/users/12/saved", nil).Code)
}

func TestSearchNews(t *testing.T) {
	f := newFixture(t)
	f.news("Курс гривні зміцнився")
	f.news("Матч завершився внічию", "Спорт")

	search := func(q string) *httptest.ResponseRecorder {
		return f.do(t, http.MethodGet, "/api/v1/news/search?q="+url.QueryEscape(q), nil)
	}
	rec := search("ГРИВН")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decodeBody[[]newsDTO](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, "Курс гривні зміцнився", found[0].Title)

	found = decodeBody[[]newsDTO](t, search("спорт"))
	require.Len(t, found, 1)
	assert.Equal(t, "Матч завершився внічию", found[0].Title)

	assert.Len(t, decodeBody[[]newsDTO](t, search("текст")), 2)
	assert.Empty(t, decodeBody[[]newsDTO](t, search("погода")))
	assert.Equal(t, http.StatusBadRequest, search("  ").Code)
}

func TestCommentsThread(t *testing.T) {
	f := newFixture(t)
	n := f.news("Новина")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"tg_user_id": 3}).Code)

	comment := map[string]any{"tg_user_id": 3, "news_id": n.ID, "body": "Цікаво", "dedup_key": "c1"}
	rec := f.do(t, http.MethodPost, "/api/v1/comments", comment)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[commentDTO](t, rec)
	assert.Equal(t, string(domain.StatusPending), first.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/comments", comment)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ID, decodeBody[commentDTO](t, rec).ID)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/news/%d/comments", n.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]threadNodeDTO](t, rec), "неодобренный комментарий без ответов не показывается")
}

func TestAdminRequiresToken(t *testing.T) {
	f := newFixture(t)
	cmd := map[string]any{"actor_id": 1, "target_type": "source", "target_id": f.source.ID, "action": "adjust_reliability", "delta": -3}

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/admin/actions", cmd).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/actions", cmd, "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, -3, decodeBody[map[string]int](t, rec)["reliability_score"])

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/actions?target_type=source&target_id=%d", f.source.ID), nil, "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	actions := decodeBody[[]adminActionDTO](t, rec)
	require.Len(t, actions, 1)
	assert.Equal(t, admin.ActionAdjustReliability, actions[0].ActionType)
}

func TestSubmitNewsEnqueuesJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/news", map[string]any{
		"source_origin": "https://example.com",
		"title":         "Ручна публікація",
		"body":          "Текст",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, decodeBody[map[string]string](t, rec)["job_id"], job.ID)
	assert.Equal(t, "manual", job.Origin)
	assert.Equal(t, domain.SourceWebsite, job.Item.SourceType)

	rec = f.do(t, http.MethodPost, "/api/v1/news", map[string]any{"source_origin": "https://example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportAndPublicFeed(t *testing.T) {
	f := newFixture(t)
	n := f.news("Новина", "економіка")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/users", map[string]any{"tg_user_id": 11}).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/reports", map[string]any{"tg_user_id": 11, "news_id": n.ID, "reason": "фейк"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[map[string]bool](t, rec)["created"])

	rec = f.do(t, http.MethodGet, "/api/v1/news?limit=5&topic="+url.QueryEscape("Економіка"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decodeBody[[]newsDTO](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, n.ID, items[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/news?offset=-1", nil).Code)
}

func signInitData(token string, values url.Values) string {
	pairs := make([]string, 0, len(values))
	for k := range values {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)
	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(token))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))
	values.Set("hash", hex.EncodeToString(h.Sum(nil)))
	return values.Encode()
}

func TestWebAppFeedRegistersUser(t *testing.T) {
	f := newFixture(t)
	f.news("Новина")

	initData := signInitData(botToken, url.Values{
		"auth_date": {"1700000000"},
		"user":      {`{"id":77,"language_code":"en"}`},
	})
	rec := f.do(t, http.MethodGet, "/webapp/v1/feed?init_data="+url.QueryEscape(initData), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[feedPageDTO](t, rec).Items, 1)

	u, err := f.store.GetUserByTGID(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, "en", u.Language)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/webapp/v1/feed?init_data=hash%3Dbad", nil).Code)
}
