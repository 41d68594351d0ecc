package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tg-news-engine/internal/domain"
	openai "tg-news-engine/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует классификацию, тональность и перевод через Chat Completions.
// Таймаут задаёт вызывающая сторона через ctx.
type OpenAI struct {
	client chatClient
	model  string
}

// NewOpenAI создаёт провайдер.
func NewOpenAI(client chatClient, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{client: client, model: model}
}

type classifyPayload struct {
	Tags   []string `json:"tags"`
	Topics []string `json:"topics"`
	IsFake bool     `json:"is_fake"`
}

// Classify присваивает новости теги и темы.
func (o *OpenAI) Classify(ctx context.Context, title, body string) (domain.Classification, error) {
	prompt := fmt.Sprintf(`Определи теги и темы новости.
Верни JSON формата {"tags": ["..."], "topics": ["..."], "is_fake": false} без пояснений.
Теги и темы пиши в нижнем регистре, не больше пяти каждого.
Заголовок: %s
Текст:
%s`, clipRunes(title, 300), clipRunes(body, 2000))

	var parsed classifyPayload
	if err := o.completeJSON(ctx, "Ты редактор новостной ленты. Опирайся только на текст новости.", prompt, 200, &parsed); err != nil {
		return domain.Classification{}, err
	}
	return domain.Classification{
		Tags:   filterValues(parsed.Tags),
		Topics: filterValues(parsed.Topics),
		IsFake: parsed.IsFake,
	}, nil
}

type sentimentPayload struct {
	Tone  string  `json:"tone"`
	Score float64 `json:"score"`
}

// AnalyzeSentiment оценивает тональность. Оценка приводится к [-1, 1].
func (o *OpenAI) AnalyzeSentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	prompt := fmt.Sprintf(`Оцени тональность текста.
Верни JSON формата {"tone": "positive|neutral|negative", "score": 0.0} без пояснений, score от -1 до 1.
Текст:
%s`, clipRunes(text, 2000))

	var parsed sentimentPayload
	if err := o.completeJSON(ctx, "Ты аналитик тональности новостей.", prompt, 60, &parsed); err != nil {
		return domain.Sentiment{}, err
	}
	score := clamp(parsed.Score)
	tone := strings.ToLower(strings.TrimSpace(parsed.Tone))
	if tone == "" {
		tone = toneFor(score)
	}
	return domain.Sentiment{Tone: tone, Score: score}, nil
}

type translatePayload struct {
	Text string `json:"text"`
}

// Translate переводит текст на язык lang (код BCP 47).
func (o *OpenAI) Translate(ctx context.Context, text, lang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	prompt := fmt.Sprintf(`Переведи текст на язык с кодом %q, сохранив факты и имена.
Верни JSON формата {"text": "..."} без пояснений.
Текст:
%s`, lang, clipRunes(text, 4000))

	var parsed translatePayload
	if err := o.completeJSON(ctx, "Ты переводчик новостей.", prompt, 1500, &parsed); err != nil {
		return "", err
	}
	out := strings.TrimSpace(parsed.Text)
	if out == "" {
		return "", fmt.Errorf("openai translate: пустой перевод")
	}
	return out, nil
}

func (o *OpenAI) completeJSON(ctx context.Context, system, prompt string, maxTokens int, dst any) error {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: system},
			{Role: openai.RoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return fmt.Errorf("openai completion: %w", err)
	}
	content, err := resp.Content()
	if err != nil {
		return fmt.Errorf("openai completion: %w", err)
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), dst); err != nil {
		return fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	return nil
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func clamp(score float64) float64 {
	switch {
	case score > 1:
		return 1
	case score < -1:
		return -1
	}
	return score
}
