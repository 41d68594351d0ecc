package sources

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/domain"
)

type stubSourceRepo struct {
	byLink  map[string]domain.Source
	byID    map[int64]domain.Source
	blocked map[int64]string
	stats   domain.SourceStats
	nextID  int64
}

func newStubSourceRepo() *stubSourceRepo {
	return &stubSourceRepo{byLink: map[string]domain.Source{}, byID: map[int64]domain.Source{}, blocked: map[int64]string{}}
}

func (r *stubSourceRepo) UpsertSource(_ context.Context, s domain.Source) (domain.Source, bool, error) {
	if existing, ok := r.byLink[s.Link]; ok {
		return existing, false, nil
	}
	r.nextID++
	s.ID = r.nextID
	r.byLink[s.Link] = s
	r.byID[s.ID] = s
	return s, true, nil
}

func (r *stubSourceRepo) GetSource(_ context.Context, id int64) (domain.Source, error) {
	s, ok := r.byID[id]
	if !ok {
		return domain.Source{}, domain.ErrNotFound
	}
	return s, nil
}

func (r *stubSourceRepo) ListSources(context.Context, domain.SourceStatus) ([]domain.Source, error) {
	return nil, nil
}

func (r *stubSourceRepo) SetSourceStatus(_ context.Context, id int64, status domain.SourceStatus, reason string, _ time.Time) (domain.Source, error) {
	s, ok := r.byID[id]
	if !ok {
		return domain.Source{}, domain.ErrNotFound
	}
	s.Status = status
	r.byID[id] = s
	if status == domain.SourceStatusBlocked {
		r.blocked[id] = reason
	}
	return s, nil
}

func (r *stubSourceRepo) AdjustReliability(_ context.Context, id int64, delta int) (int, error) {
	s := r.byID[id]
	s.ReliabilityScore += delta
	r.byID[id] = s
	return s.ReliabilityScore, nil
}

func (r *stubSourceRepo) MarkSourceFetched(context.Context, int64, time.Time) error { return nil }

func (r *stubSourceRepo) SourceStats(_ context.Context, id int64, _ time.Time) (domain.SourceStats, error) {
	st := r.stats
	st.SourceID = id
	return st, nil
}

type stubEvents struct{ events []domain.BusinessMetric }

func (s *stubEvents) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	s.events = append(s.events, m)
	return nil
}

func TestNormalizeLink(t *testing.T) {
	cases := []struct {
		raw  string
		typ  domain.SourceType
		want string
	}{
		{"@Kyiv_News", domain.SourceTelegram, "https://t.me/kyiv_news"},
		{"https://t.me/s/kyiv_news/", domain.SourceTelegram, "https://t.me/kyiv_news"},
		{"HTTPS://Example.COM/feed/", domain.SourceRSS, "https://example.com/feed"},
		{"http://site.ua/news#top", domain.SourceWebsite, "http://site.ua/news"},
	}
	for _, tc := range cases {
		got, err := NormalizeLink(tc.raw, tc.typ)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}

	for _, bad := range []string{"", "ftp://x.org", "not a url"} {
		_, err := NormalizeLink(bad, domain.SourceRSS)
		assert.ErrorIs(t, err, domain.ErrValidation, bad)
	}
	_, err := NormalizeLink("@ab", domain.SourceTelegram)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeriveName(t *testing.T) {
	assert.Equal(t, "@kyiv_news", DeriveName("https://t.me/kyiv_news"))
	assert.Equal(t, "example.com/feed", DeriveName("https://www.example.com/feed"))
	assert.Equal(t, "example.com", DeriveName("https://example.com"))
}

func TestRegisterIsIdempotentOnLink(t *testing.T) {
	repo := newStubSourceRepo()
	svc := NewService(repo, nil, domain.AutoBlockPolicy{}, zerolog.Nop())
	ctx := context.Background()

	first, created, err := svc.Register(ctx, RegisterInput{Link: "https://example.com/rss/", Type: domain.SourceRSS})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SourceStatusNew, first.Status)

	second, created, err := svc.Register(ctx, RegisterInput{Link: "https://EXAMPLE.com/rss", Type: domain.SourceRSS, Name: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = svc.Register(ctx, RegisterInput{Link: "https://example.com", Type: "podcast"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEvaluateAutoBlock(t *testing.T) {
	repo := newStubSourceRepo()
	events := &stubEvents{}
	policy := domain.AutoBlockPolicy{Ratio: 0.5, Window: 7 * 24 * time.Hour, MinPublications: 5}
	svc := NewService(repo, events, policy, zerolog.Nop())
	ctx := context.Background()

	src, _, err := svc.Register(ctx, RegisterInput{Link: "https://example.com", Type: domain.SourceWebsite})
	require.NoError(t, err)

	repo.stats = domain.SourceStats{WindowPublications: 10, WindowReports: 4}
	blocked, err := svc.EvaluateAutoBlock(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, blocked)

	repo.stats = domain.SourceStats{WindowPublications: 10, WindowReports: 5}
	blocked, err = svc.EvaluateAutoBlock(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Contains(t, repo.blocked[src.ID], "5 жалоб")
	require.Len(t, events.events, 1)
	assert.Equal(t, domain.BusinessMetricEventSourceBlocked, events.events[0].Event)

	blocked, err = svc.EvaluateAutoBlock(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, blocked, "уже заблокированный источник не блокируется повторно")
}

func TestSetStatusValidates(t *testing.T) {
	svc := NewService(newStubSourceRepo(), nil, domain.AutoBlockPolicy{}, zerolog.Nop())
	_, err := svc.SetStatus(context.Background(), 1, "deleted", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
