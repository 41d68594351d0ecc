package dedup

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"unicode"

	"tg-news-engine/internal/domain"
)

// Engine определяет, является ли новость повтором уже видимой.
type Engine struct {
	threshold   float64
	shingleSize int
}

// New создаёт движок с порогом схожести и размером шингла в словах.
func New(threshold float64, shingleSize int) *Engine {
	if shingleSize < 1 {
		shingleSize = 3
	}
	return &Engine{threshold: threshold, shingleSize: shingleSize}
}

// Threshold возвращает порог схожести.
func (e *Engine) Threshold() float64 { return e.threshold }

// Words разбивает текст на нормализованные слова.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// TitleKey возвращает ключ кластера для заголовка.
func TitleKey(title string) string {
	words := Words(title)
	if len(words) == 0 {
		return ""
	}
	sum := sha1.Sum([]byte(strings.Join(words, " ")))
	return hex.EncodeToString(sum[:])
}

// ContentHash возвращает хеш нормализованного текста.
func ContentHash(body string) string {
	words := Words(body)
	if len(words) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(words, " ")))
	return hex.EncodeToString(sum[:])
}

// Similarity оценивает схожесть двух новостей в диапазоне [0, 1].
// Совпадение хеша текста учитывается только в текстовой составляющей, заголовок сравнивается всегда.
func (e *Engine) Similarity(a, b domain.NewsItem) float64 {
	aTitle, bTitle := Words(a.Title), Words(b.Title)
	title := jaccard(wordSet(aTitle), wordSet(bTitle))

	var body float64
	sameHash := a.ContentHash != "" && a.ContentHash == b.ContentHash
	aBody, bBody := Words(a.Body), Words(b.Body)
	switch {
	case sameHash:
		body = 1
	case len(aBody) == 0 || len(bBody) == 0:
		return title
	default:
		body = jaccard(e.shingles(aBody), e.shingles(bBody))
	}
	if len(aTitle) == 0 || len(bTitle) == 0 {
		return body
	}
	return 0.4*title + 0.6*body
}

// FindOriginal возвращает новость, повтором которой является candidate.
// При нескольких совпадениях выбирается самая ранняя, затем с меньшим id.
func (e *Engine) FindOriginal(candidate domain.NewsItem, active []domain.NewsItem) (*domain.NewsItem, float64) {
	var (
		best      *domain.NewsItem
		bestScore float64
	)
	for i := range active {
		other := active[i]
		if other.IsDuplicate {
			continue
		}
		score := e.Similarity(candidate, other)
		if score < e.threshold {
			continue
		}
		if best == nil || earlier(other, *best) {
			best = &active[i]
			bestScore = score
		}
	}
	return best, bestScore
}

func earlier(a, b domain.NewsItem) bool {
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.Before(b.PublishedAt)
	}
	return a.ID < b.ID
}

func (e *Engine) shingles(words []string) map[uint64]struct{} {
	set := make(map[uint64]struct{})
	if len(words) < e.shingleSize {
		set[hashWords(words)] = struct{}{}
		return set
	}
	for i := 0; i+e.shingleSize <= len(words); i++ {
		set[hashWords(words[i:i+e.shingleSize])] = struct{}{}
	}
	return set
}

func hashWords(words []string) uint64 {
	h := fnv.New64a()
	for _, w := range words {
		_, _ = h.Write([]byte(w))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func wordSet(words []string) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(words))
	for _, w := range words {
		set[hashWords([]string{w})] = struct{}{}
	}
	return set
}

func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
