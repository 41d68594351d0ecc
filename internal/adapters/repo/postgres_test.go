package repo

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/domain"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Postgres) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgres(mock)
}

var newsRowColumns = []string{
	"id", "title", "body", "language", "country", "tags", "topics", "source_id", "name", "type",
	"link", "published_at", "expires_at", "media_ref", "media_type", "tone", "sentiment_score", "citation_score",
	"is_duplicate", "duplicate_of", "is_fake", "moderation_status", "title_key", "content_hash", "archived_at", "created_at",
}

func newsValues(id, sourceID int64, status string) []any {
	return []any{
		id, "Заголовок", "текст", "uk", "ua", []string{"економіка"}, []string{"business"}, sourceID, "Київ", "telegram",
		"https://t.me/kyiv/1", testNow.Add(-time.Hour), testNow.Add(23 * time.Hour), "", "text", "neutral", 0.1, 0,
		false, (*int64)(nil), false, status, "заголовок", "hash", (*time.Time)(nil), testNow.Add(-time.Hour),
	}
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestInsertDeduplicatedLocksScopeAndMarksDuplicate(t *testing.T) {
	mock, repo := newMock(t)
	scope := domain.DedupScope{SourceID: 3, TitleKey: "заголовок", Link: "https://t.me/other/5", Since: testNow.Add(-24 * time.Hour), Now: testNow}

	mock.ExpectBegin()
	mock.ExpectExec(q("pg_advisory_xact_lock")).WithArgs("news:source:3").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(q("pg_advisory_xact_lock")).WithArgs("news:title:заголовок").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(q("WHERE n.source_id = $1 AND n.link = $2")).WithArgs(int64(3), scope.Link).
		WillReturnRows(pgxmock.NewRows(newsRowColumns))
	mock.ExpectQuery(q("n.title_key = $2")).
		WithArgs(int64(3), "заголовок", scope.Since, scope.Now).
		WillReturnRows(pgxmock.NewRows(newsRowColumns).AddRow(newsValues(10, 1, "approved")...))
	mock.ExpectExec(q("SET citation_score = citation_score + 1")).WithArgs(int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(q("INSERT INTO news")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "name", "type"}).AddRow(int64(11), testNow, "Інший", "telegram"))
	mock.ExpectCommit()

	var seen []domain.NewsItem
	item, outcome, err := repo.InsertDeduplicated(context.Background(), domain.NewsItem{Title: "Заголовок", SourceID: 3, Link: scope.Link}, scope,
		func(candidates []domain.NewsItem) (domain.IngestDecision, error) {
			seen = candidates
			original := candidates[0].ID
			return domain.IngestDecision{DuplicateOf: &original}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	require.Len(t, seen, 1)
	assert.Equal(t, "Київ", seen[0].SourceName)
	assert.Equal(t, domain.StatusApproved, seen[0].ModerationStatus)
	assert.Equal(t, int64(11), item.ID)
	assert.True(t, item.IsDuplicate)
	require.NotNil(t, item.DuplicateOf)
	assert.Equal(t, int64(10), *item.DuplicateOf)
	assert.Equal(t, domain.StatusPending, item.ModerationStatus)
	assert.Equal(t, domain.SourceTelegram, item.SourceType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDeduplicatedReturnsExistingForRedelivery(t *testing.T) {
	mock, repo := newMock(t)
	scope := domain.DedupScope{SourceID: 1, Link: "https://t.me/kyiv/1", Since: testNow.Add(-time.Hour), Now: testNow}

	mock.ExpectBegin()
	mock.ExpectExec(q("pg_advisory_xact_lock")).WithArgs("news:source:1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(q("n.link = $2")).WithArgs(int64(1), scope.Link).
		WillReturnRows(pgxmock.NewRows(newsRowColumns).AddRow(newsValues(7, 1, "pending")...))
	mock.ExpectCommit()

	item, outcome, err := repo.InsertDeduplicated(context.Background(), domain.NewsItem{SourceID: 1}, scope,
		func([]domain.NewsItem) (domain.IngestDecision, error) {
			t.Fatal("решение не должно приниматься для повторной доставки")
			return domain.IngestDecision{}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExisting, outcome)
	assert.Equal(t, int64(7), item.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDeduplicatedMapsUniqueViolation(t *testing.T) {
	mock, repo := newMock(t)
	scope := domain.DedupScope{SourceID: 2, Since: testNow.Add(-time.Hour), Now: testNow}

	mock.ExpectBegin()
	mock.ExpectExec(q("pg_advisory_xact_lock")).WithArgs("news:source:2").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(q("n.expires_at > $4")).WithArgs(int64(2), "", scope.Since, scope.Now).
		WillReturnRows(pgxmock.NewRows(newsRowColumns))
	mock.ExpectQuery(q("INSERT INTO news")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "news_pkey"})
	mock.ExpectRollback()

	_, _, err := repo.InsertDeduplicated(context.Background(), domain.NewsItem{SourceID: 2, ContentHash: "hash"}, scope,
		func([]domain.NewsItem) (domain.IngestDecision, error) {
			return domain.IngestDecision{Status: domain.StatusPending}, nil
		})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "news_pkey")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupLockKeysAreOrdered(t *testing.T) {
	keys := dedupLockKeys(domain.DedupScope{SourceID: 12, TitleKey: "a"})
	assert.Equal(t, []string{"news:source:12", "news:title:a"}, keys)
	assert.Equal(t, []string{"news:source:5"}, dedupLockKeys(domain.DedupScope{SourceID: 5}))
}

func TestArchiveExpiredSkipsLockedRows(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec(q("FOR UPDATE SKIP LOCKED")).WithArgs(testNow, 500).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.ArchiveExpired(context.Background(), testNow, 500)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNewsNotFound(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(q("WHERE n.id = $1")).WithArgs(int64(99)).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetNews(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFeedCandidatesUsesKeyset(t *testing.T) {
	mock, repo := newMock(t)
	after := domain.FeedCursorKey{PublishedAt: testNow.Add(-30 * time.Minute), ID: 40}

	cols := append(append([]string{}, newsRowColumns...), "source_blocked", "reliability_score", "read_full")
	row := append(newsValues(5, 1, "approved"), true, 4, true)
	mock.ExpectQuery(q("(n.published_at, n.id) < ($5, $6)")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(row...))

	out, err := repo.ListFeedCandidates(context.Background(), domain.FeedQuery{
		Now:          testNow,
		Prefs:        domain.Preferences{User: domain.User{ID: 7}},
		After:        &after,
		Limit:        50,
		ExcludeShown: true,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].SourceBlocked)
	assert.True(t, out[0].ReadFull)
	assert.Equal(t, 4, out[0].ReliabilityScore)
	assert.Equal(t, "Київ", out[0].SourceName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchNewsEscapesPattern(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(q("(lower(n.title) LIKE $5 OR lower(n.body) LIKE $6 OR $7 = ANY(n.tags) OR $8 = ANY(n.topics))")).
		WithArgs(false, false, "approved", testNow, `%100\%\_%`, `%100\%\_%`, "100%_", "100%_").
		WillReturnRows(pgxmock.NewRows(newsRowColumns).AddRow(newsValues(5, 1, "approved")...))

	out, err := repo.SearchNews(context.Background(), domain.SearchQuery{Now: testNow, Text: "100%_", Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(5), out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSavedOrdersByFirstSave(t *testing.T) {
	mock, repo := newMock(t)
	cols := append(append([]string{}, newsRowColumns...), "saved_at")
	mock.ExpectQuery(q("min(occurred_at) AS saved_at FROM interactions WHERE user_id = $1 AND action = $2")).
		WithArgs(int64(7), "save").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(append(newsValues(9, 1, "approved"), testNow)...).
			AddRow(append(newsValues(4, 1, "approved"), testNow.Add(-time.Hour))...))

	out, err := repo.ListSaved(context.Background(), 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(9), out[0].News.ID)
	assert.Equal(t, testNow.Add(-time.Hour), out[1].SavedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInteractionSkipsRepeatedKey(t *testing.T) {
	mock, repo := newMock(t)
	e := domain.InteractionEvent{Key: "1:2:like:", UserID: 1, NewsID: 2, Action: domain.ActionLike, OccurredAt: testNow}

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT n.source_id, EXISTS")).WithArgs(int64(2), int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "exists"}).AddRow(int64(4), true))
	mock.ExpectQuery(q("INSERT INTO interactions")).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	applied, sourceID, err := repo.RecordInteraction(context.Background(), e, domain.CountersFor(e))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(4), sourceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInteractionAppliesRating(t *testing.T) {
	mock, repo := newMock(t)
	e := domain.InteractionEvent{Key: "1:2:rate:x", UserID: 1, NewsID: 2, Action: domain.ActionRate, Value: 4, DedupKey: "x", OccurredAt: testNow}

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT n.source_id, EXISTS")).
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "exists"}).AddRow(int64(4), true))
	mock.ExpectQuery(q("INSERT INTO interactions")).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery(q("INSERT INTO ratings")).WithArgs(int64(1), int64(2), 4, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectExec(q("INSERT INTO user_stats")).
		WithArgs(int64(1), 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q("INSERT INTO source_stats")).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q("INSERT INTO user_news_views")).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	applied, _, err := repo.RecordInteraction(context.Background(), e, domain.CountersFor(e))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInteractionReRatingKeepsRatingCounter(t *testing.T) {
	mock, repo := newMock(t)
	e := domain.InteractionEvent{Key: "1:2:rate:y", UserID: 1, NewsID: 2, Action: domain.ActionRate, Value: 5, DedupKey: "y", OccurredAt: testNow}

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT n.source_id, EXISTS")).
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "exists"}).AddRow(int64(4), true))
	mock.ExpectQuery(q("INSERT INTO interactions")).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectQuery(q("INSERT INTO ratings")).WithArgs(int64(1), int64(2), 5, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectExec(q("INSERT INTO user_stats")).
		WithArgs(int64(1), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q("INSERT INTO source_stats")).
		WithArgs(int64(4), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q("INSERT INTO user_news_views")).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	applied, _, err := repo.RecordInteraction(context.Background(), e, domain.CountersFor(e))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInteractionUnknownUser(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT n.source_id, EXISTS")).
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "exists"}).AddRow(int64(4), false))
	mock.ExpectRollback()

	_, _, err := repo.RecordInteraction(context.Background(), domain.InteractionEvent{UserID: 9, NewsID: 2, Action: domain.ActionView}, domain.Counters{Views: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCurrentFeedRejectsForeignFeed(t *testing.T) {
	mock, repo := newMock(t)
	feedID := int64(8)
	mock.ExpectExec(q("UPDATE users SET current_feed_id = $2")).WithArgs(int64(1), feedID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetCurrentFeed(context.Background(), 1, &feedID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCustomFeedDuplicateName(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(q("INSERT INTO custom_feeds")).
		WithArgs(int64(1), "Спорт", []byte(`{"tag":["спорт"]}`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "custom_feeds_user_id_name_key"})

	_, err := repo.CreateCustomFeed(context.Background(), domain.CustomFeed{
		UserID:  1,
		Name:    "Спорт",
		Filters: domain.FilterSet{domain.FilterTag: {"спорт"}},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSourceReturnsExisting(t *testing.T) {
	mock, repo := newMock(t)
	cols := []string{"id", "name", "link", "type", "verified", "reliability_score", "status", "added_by", "last_fetch_at", "created_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(q("ON CONFLICT (link) DO NOTHING")).WillReturnRows(pgxmock.NewRows(cols))
	mock.ExpectQuery(q("FROM sources WHERE link = $1")).WithArgs("https://t.me/kyiv").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(3), "Київ", "https://t.me/kyiv", "telegram", true, 2, "active", (*int64)(nil), (*time.Time)(nil), testNow))
	mock.ExpectCommit()

	src, created, err := repo.UpsertSource(context.Background(), domain.Source{Name: "Київ", Link: "https://t.me/kyiv", Type: domain.SourceTelegram})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), src.ID)
	assert.Equal(t, domain.SourceStatusActive, src.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterUpsertStatement(t *testing.T) {
	sql := counterUpsert("user_stats", "user_id")
	assert.True(t, strings.HasPrefix(sql, "INSERT INTO user_stats (user_id, views,"))
	assert.Contains(t, sql, "$12")
	assert.Contains(t, sql, "views = user_stats.views + EXCLUDED.views")
	assert.Contains(t, sql, "ON CONFLICT (user_id)")

	agg := aggregatedCounters()
	assert.Contains(t, agg, "count(*) FILTER (WHERE action = 'read_full') AS read_full")
	assert.Contains(t, agg, "COALESCE(sum(time_spent_seconds), 0) AS time_spent_seconds")
	assert.Contains(t, agg, "count(DISTINCT user_id::text || ':' || news_id::text) FILTER (WHERE action = 'rate') AS ratings")
}
