package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-news-engine/internal/domain"
)

const body = "Уряд оголосив нові правила оподаткування малого бізнесу які почнуть діяти з першого січня наступного року"

func TestTitleKeyNormalisesPunctuationAndCase(t *testing.T) {
	assert.Equal(t, TitleKey("Уряд: нові правила!"), TitleKey("уряд нові   правила"))
	assert.NotEqual(t, TitleKey("Уряд нові правила"), TitleKey("Уряд старі правила"))
	assert.Empty(t, TitleKey("!!!"))
}

func TestSimilarity(t *testing.T) {
	e := New(0.8, 3)
	a := domain.NewsItem{Title: "Нові правила для бізнесу", Body: body}
	b := domain.NewsItem{Title: "Нові правила для бізнесу", Body: body + " Про це повідомили у мінфіні"}
	c := domain.NewsItem{Title: "Футбол: збірна виграла", Body: "Збірна України перемогла у матчі відбору до чемпіонату"}

	assert.GreaterOrEqual(t, e.Similarity(a, b), 0.8)
	assert.Less(t, e.Similarity(a, c), 0.2)

	a.ContentHash, b.ContentHash = "same", "same"
	assert.Equal(t, 1.0, e.Similarity(a, b))
}

func TestSharedBoilerplateBodyIsNotDuplicate(t *testing.T) {
	e := New(0.8, 3)
	const teaser = "Читати далі на сайті"
	a := domain.NewsItem{Title: "Курс гривні зміцнився на міжбанку", Body: teaser, ContentHash: ContentHash(teaser)}
	b := domain.NewsItem{Title: "У Львові відкрили новий міст через Полтву", Body: teaser, ContentHash: ContentHash(teaser)}

	assert.Less(t, e.Similarity(a, b), e.Threshold())
	original, _ := e.FindOriginal(b, []domain.NewsItem{a})
	assert.Nil(t, original)

	b.Title = a.Title
	assert.Equal(t, 1.0, e.Similarity(a, b))
}

func TestFindOriginalPrefersEarliest(t *testing.T) {
	e := New(0.8, 3)
	now := time.Now()
	candidate := domain.NewsItem{Title: "Нові правила для бізнесу", Body: body}
	active := []domain.NewsItem{
		{ID: 5, Title: candidate.Title, Body: body, PublishedAt: now.Add(-time.Hour)},
		{ID: 3, Title: candidate.Title, Body: body, PublishedAt: now.Add(-2 * time.Hour)},
		{ID: 2, Title: candidate.Title, Body: body, PublishedAt: now.Add(-2 * time.Hour)},
		{ID: 1, Title: candidate.Title, Body: body, PublishedAt: now.Add(-3 * time.Hour), IsDuplicate: true},
		{ID: 9, Title: "Інше", Body: "Зовсім інший текст про погоду", PublishedAt: now.Add(-4 * time.Hour)},
	}

	original, score := e.FindOriginal(candidate, active)
	require.NotNil(t, original)
	assert.Equal(t, int64(2), original.ID)
	assert.GreaterOrEqual(t, score, 0.8)

	none, _ := e.FindOriginal(candidate, active[4:])
	assert.Nil(t, none)
}
