package capability

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"tg-news-engine/internal/domain"
)

// ErrTranslationUnavailable возвращается, когда перевод не настроен.
var ErrTranslationUnavailable = errors.New("перевод недоступен")

// Simple реализует классификацию и тональность по словарям ключевых слов.
// Используется, когда LLM не настроен.
type Simple struct {
	topics   map[string][]string
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewSimple создаёт эвристический провайдер со встроенными словарями.
func NewSimple() *Simple {
	return &Simple{
		topics:   defaultTopics,
		positive: toSet(positiveWords),
		negative: toSet(negativeWords),
	}
}

var defaultTopics = map[string][]string{
	"политика":   {"выбор", "парламент", "президент", "министр", "уряд", "правительств", "депутат", "вибор"},
	"экономика":  {"экономик", "економік", "инфляц", "інфляц", "бюджет", "банк", "курс", "налог", "податк"},
	"спорт":      {"матч", "футбол", "турнир", "турнір", "чемпион", "чемпіон", "олимпи", "олімпі"},
	"технологии": {"технолог", "смартфон", "стартап", "искусственн", "штучн", "програм"},
	"общество":   {"школ", "больниц", "лікарн", "пенси", "пенсі", "транспорт"},
}

var positiveWords = []string{
	"победа", "перемога", "рост", "зростання", "успех", "успіх", "рекорд", "открыт", "відкри", "помощь", "допомог",
}

var negativeWords = []string{
	"атака", "обстрел", "обстріл", "погиб", "загин", "авария", "аварія", "кризис", "криза", "пожар", "пожеж", "падение", "падіння",
}

// Classify присваивает темы по совпадению корней слов, а теги берёт из хэштегов текста.
func (s *Simple) Classify(ctx context.Context, title, body string) (domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}
	text := strings.ToLower(title + " " + body)
	var topics []string
	for topic, stems := range s.topics {
		for _, stem := range stems {
			if strings.Contains(text, stem) {
				topics = append(topics, topic)
				break
			}
		}
	}
	sort.Strings(topics)
	return domain.Classification{Tags: hashtags(text), Topics: topics}, nil
}

// AnalyzeSentiment считает разницу положительных и отрицательных слов.
func (s *Simple) AnalyzeSentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Sentiment{}, err
	}
	var pos, neg int
	for _, word := range words(strings.ToLower(text)) {
		if matchStem(s.positive, word) {
			pos++
		}
		if matchStem(s.negative, word) {
			neg++
		}
	}
	if pos+neg == 0 {
		return domain.Sentiment{Tone: "neutral"}, nil
	}
	score := clamp(float64(pos-neg) / float64(pos+neg))
	return domain.Sentiment{Tone: toneFor(score), Score: score}, nil
}

// Noop — переводчик-заглушка, всегда отказывает.
type Noop struct{}

// Translate возвращает ErrTranslationUnavailable.
func (Noop) Translate(context.Context, string, string) (string, error) {
	return "", ErrTranslationUnavailable
}

func toneFor(score float64) string {
	switch {
	case score >= 0.2:
		return "positive"
	case score <= -0.2:
		return "negative"
	}
	return "neutral"
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#' && r != '_'
	})
}

func hashtags(text string) []string {
	var out []string
	for _, w := range words(text) {
		if len(w) > 1 && strings.HasPrefix(w, "#") {
			out = append(out, strings.TrimPrefix(w, "#"))
		}
	}
	return filterValues(out)
}

func matchStem(stems map[string]struct{}, word string) bool {
	for stem := range stems {
		if strings.HasPrefix(word, stem) {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
