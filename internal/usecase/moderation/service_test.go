package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/adapters/memstore"
	"tg-news-engine/internal/domain"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type stubBlocker struct {
	calls   []int64
	blocked bool
}

func (b *stubBlocker) EvaluateAutoBlock(_ context.Context, id int64) (bool, error) {
	b.calls = append(b.calls, id)
	return b.blocked, nil
}

func newService(store *memstore.Store, blocker AutoBlocker) *Service {
	svc := NewService(store, store, store, blocker, store, Config{FlagReports: 3, FlagWindow: 24 * time.Hour}, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func seedNews(t *testing.T, store *memstore.Store, status domain.ModerationStatus) domain.NewsItem {
	t.Helper()
	src, _, err := store.UpsertSource(context.Background(), domain.Source{Name: "kyiv", Link: "https://t.me/kyiv", Type: domain.SourceTelegram})
	require.NoError(t, err)
	return store.PutNews(domain.NewsItem{
		Title:            "Новина",
		SourceID:         src.ID,
		PublishedAt:      testNow.Add(-time.Hour),
		ExpiresAt:        testNow.Add(4 * time.Hour),
		ModerationStatus: status,
	})
}

func TestTransitionNewsByModerator(t *testing.T) {
	store := memstore.New()
	svc := newService(store, nil)
	n := seedNews(t, store, domain.StatusPending)

	got, err := svc.TransitionNews(context.Background(), Request{TargetID: n.ID, To: domain.StatusApproved, Trigger: domain.TriggerModerator})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.ModerationStatus)
	assert.Empty(t, store.AdminActions())

	_, err = svc.TransitionNews(context.Background(), Request{TargetID: n.ID, To: domain.StatusPending, Trigger: domain.TriggerModerator})
	assert.ErrorIs(t, err, domain.ErrStateTransition)
}

func TestArchivedNewsIsFrozenEvenForOverride(t *testing.T) {
	store := memstore.New()
	svc := newService(store, nil)
	n := seedNews(t, store, domain.StatusApproved)
	archivedAt := testNow
	n.ArchivedAt = &archivedAt
	store.PutNews(n)

	_, err := svc.TransitionNews(context.Background(), Request{TargetID: n.ID, To: domain.StatusRejected, Trigger: domain.TriggerAdminOverride, ActorID: 1})
	assert.ErrorIs(t, err, domain.ErrStateTransition)
	assert.Empty(t, store.AdminActions())
}

func TestOverrideApprovesDuplicateAndIsLogged(t *testing.T) {
	store := memstore.New()
	svc := newService(store, nil)
	original := seedNews(t, store, domain.StatusApproved)
	dup := seedNews(t, store, domain.StatusPending)
	dup.IsDuplicate = true
	dup.DuplicateOf = &original.ID
	store.PutNews(dup)

	_, err := svc.TransitionNews(context.Background(), Request{TargetID: dup.ID, To: domain.StatusApproved, Trigger: domain.TriggerModerator})
	require.ErrorIs(t, err, domain.ErrStateTransition)

	got, err := svc.TransitionNews(context.Background(), Request{
		TargetID: dup.ID, To: domain.StatusApproved, Trigger: domain.TriggerAdminOverride, ActorID: 42, Reason: "ручная проверка",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.ModerationStatus)

	actions := store.AdminActions()
	require.Len(t, actions, 1)
	assert.Equal(t, int64(42), actions[0].ActorID)
	assert.Equal(t, "news", actions[0].TargetType)
	assert.Equal(t, dup.ID, actions[0].TargetID)
	assert.Equal(t, "pending", actions[0].Details["from"])
	assert.Equal(t, "approved", actions[0].Details["to"])
}

func TestReportsFlagNewsAtThreshold(t *testing.T) {
	store := memstore.New()
	blocker := &stubBlocker{}
	svc := newService(store, blocker)
	ctx := context.Background()
	n := seedNews(t, store, domain.StatusApproved)

	for userID := int64(1); userID <= 2; userID++ {
		res, err := svc.SubmitReport(ctx, domain.Report{UserID: userID, NewsID: n.ID, Reason: "фейк"})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.False(t, res.Flagged)
	}

	repeat, err := svc.SubmitReport(ctx, domain.Report{UserID: 1, NewsID: n.ID})
	require.NoError(t, err)
	assert.False(t, repeat.Created, "повторная жалоба не учитывается")

	res, err := svc.SubmitReport(ctx, domain.Report{UserID: 3, NewsID: n.ID})
	require.NoError(t, err)
	assert.True(t, res.Flagged)

	got, err := store.GetNews(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFlagged, got.ModerationStatus)
	assert.Len(t, blocker.calls, 3)

	res, err = svc.SubmitReport(ctx, domain.Report{UserID: 4, NewsID: n.ID})
	require.NoError(t, err)
	assert.False(t, res.Flagged, "уже помеченная новость не помечается повторно")

	var flagged int
	for _, m := range store.BusinessMetrics() {
		if m.Event == domain.BusinessMetricEventNewsFlagged {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
}

func TestOldReportsOutsideWindowDoNotFlag(t *testing.T) {
	store := memstore.New()
	svc := newService(store, nil)
	ctx := context.Background()
	n := seedNews(t, store, domain.StatusPending)

	for userID := int64(1); userID <= 2; userID++ {
		_, err := svc.SubmitReport(ctx, domain.Report{UserID: userID, NewsID: n.ID, CreatedAt: testNow.Add(-48 * time.Hour)})
		require.NoError(t, err)
	}
	res, err := svc.SubmitReport(ctx, domain.Report{UserID: 3, NewsID: n.ID})
	require.NoError(t, err)
	assert.False(t, res.Flagged)
}

func TestTransitionComment(t *testing.T) {
	store := memstore.New()
	svc := newService(store, nil)
	ctx := context.Background()
	n := seedNews(t, store, domain.StatusApproved)
	c, _, err := store.InsertComment(ctx, domain.Comment{NewsID: n.ID, UserID: 1, Body: "текст", Status: domain.StatusPending})
	require.NoError(t, err)

	got, err := svc.TransitionComment(ctx, Request{TargetID: c.ID, To: domain.StatusRejected, Trigger: domain.TriggerModerator})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)

	_, err = svc.TransitionComment(ctx, Request{TargetID: c.ID, To: domain.StatusApproved, Trigger: domain.TriggerModerator})
	assert.ErrorIs(t, err, domain.ErrStateTransition)

	_, err = svc.TransitionComment(ctx, Request{TargetID: 999, To: domain.StatusApproved, Trigger: domain.TriggerModerator})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
