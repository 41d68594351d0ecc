package ingest

import (
	"context"
	"errors"
	"html"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
	"tg-news-engine/internal/usecase/dedup"
)

const (
	maxDerivedTitle = 120
	neutralTone     = "neutral"
)

// Normalize превращает сырую публикацию в новость в статусе pending.
// Отказы классификации и оценки тональности заменяются значениями по умолчанию.
func (s *Service) Normalize(ctx context.Context, raw domain.RawItem, src domain.Source) (domain.NewsItem, error) {
	if err := validateRaw(raw); err != nil {
		return domain.NewsItem{}, err
	}
	body := s.cleanText(raw.Body)
	title := s.cleanText(raw.Title)
	if title == "" {
		title = deriveTitle(body)
	}
	if title == "" && body == "" {
		return domain.NewsItem{}, domain.Validationf("публикация без текста")
	}

	published := raw.PublishedAt.UTC()
	if raw.PublishedAt.IsZero() {
		published = s.now()
	}
	lang, country := s.canonicalLocale(raw.Language, raw.Country)

	item := domain.NewsItem{
		Title:            title,
		Body:             body,
		Language:         lang,
		Country:          country,
		Tags:             mergeTags(raw.Tags, nil),
		SourceID:         src.ID,
		SourceName:       src.Name,
		SourceType:       src.Type,
		Link:             strings.TrimSpace(raw.Link),
		PublishedAt:      published,
		ExpiresAt:        published.Add(s.cfg.VisibilityWindow),
		MediaRef:         strings.TrimSpace(raw.MediaRef),
		MediaType:        mediaType(raw),
		Tone:             neutralTone,
		IsFake:           raw.IsFake,
		ModerationStatus: domain.StatusPending,
		TitleKey:         dedup.TitleKey(title),
		ContentHash:      dedup.ContentHash(body),
	}

	if class, err := s.classify(ctx, title, body); err != nil {
		s.capabilityFailed("classify", err, raw)
	} else {
		item.Tags = mergeTags(item.Tags, class.Tags)
		item.Topics = mergeTags(nil, class.Topics)
		item.IsFake = item.IsFake || class.IsFake
	}

	if sentiment, err := s.analyze(ctx, title+"\n"+body); err != nil {
		s.capabilityFailed("sentiment", err, raw)
	} else {
		item.SentimentScore = clampScore(sentiment.Score)
		if sentiment.Tone != "" {
			item.Tone = strings.ToLower(sentiment.Tone)
		}
	}
	return item, nil
}

func validateRaw(raw domain.RawItem) error {
	if !raw.SourceType.Valid() {
		return domain.Validationf("неизвестный тип источника %q", raw.SourceType)
	}
	if strings.TrimSpace(raw.SourceOrigin) == "" {
		return domain.Validationf("не указан источник публикации")
	}
	if strings.TrimSpace(raw.Title) == "" && strings.TrimSpace(raw.Body) == "" {
		return domain.Validationf("публикация без текста")
	}
	if raw.MediaType != "" {
		switch raw.MediaType {
		case domain.MediaText, domain.MediaPhoto, domain.MediaVideo, domain.MediaDocument:
		default:
			return domain.Validationf("неизвестный тип вложения %q", raw.MediaType)
		}
	}
	return nil
}

func (s *Service) classify(ctx context.Context, title, body string) (domain.Classification, error) {
	if s.classifier == nil {
		return domain.Classification{}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CapabilityTimeout)
	defer cancel()
	class, err := s.classifier.Classify(cctx, title, body)
	return class, capabilityError(cctx, err)
}

func (s *Service) analyze(ctx context.Context, text string) (domain.Sentiment, error) {
	if s.sentiment == nil {
		return domain.Sentiment{Tone: neutralTone}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CapabilityTimeout)
	defer cancel()
	sentiment, err := s.sentiment.AnalyzeSentiment(cctx, text)
	return sentiment, capabilityError(cctx, err)
}

func capabilityError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Join(domain.ErrCapabilityTimeout, err)
	}
	return err
}

func (s *Service) capabilityFailed(capability string, err error, raw domain.RawItem) {
	metrics.ObserveCapabilityFailure(capability)
	s.log.Warn().
		Err(err).
		Str("capability", capability).
		Bool("timeout", errors.Is(err, domain.ErrCapabilityTimeout)).
		Str("source", raw.SourceOrigin).
		Msg("внешний сервис недоступен, используется значение по умолчанию")
}

func (s *Service) cleanText(text string) string {
	if text == "" {
		return ""
	}
	stripped := html.UnescapeString(s.sanitizer.Sanitize(text))
	return strings.Join(strings.Fields(stripped), " ")
}

func deriveTitle(body string) string {
	if body == "" {
		return ""
	}
	cut := body
	if idx := strings.IndexAny(body, ".!?"); idx > 0 {
		cut = body[:idx]
	}
	if utf8.RuneCountInString(cut) > maxDerivedTitle {
		runes := []rune(cut)
		cut = strings.TrimSpace(string(runes[:maxDerivedTitle])) + "…"
	}
	return strings.TrimSpace(cut)
}

func (s *Service) canonicalLocale(rawLang, rawCountry string) (string, string) {
	lang := s.cfg.DefaultLanguage
	country := ""
	if tag, err := language.Parse(strings.TrimSpace(rawLang)); err == nil && rawLang != "" {
		base, _ := tag.Base()
		lang = base.String()
		if region, conf := tag.Region(); conf == language.Exact {
			country = region.String()
		}
	}
	if rawCountry != "" {
		if region, err := language.ParseRegion(strings.TrimSpace(rawCountry)); err == nil {
			country = region.String()
		}
	}
	return lang, country
}

func mediaType(raw domain.RawItem) domain.MediaType {
	if raw.MediaType != "" {
		return raw.MediaType
	}
	if raw.MediaRef != "" {
		return domain.MediaPhoto
	}
	return domain.MediaText
}

func mergeTags(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	var out []string
	for _, list := range [][]string{base, extra} {
		for _, tag := range list {
			t := domain.NormalizeValue(strings.TrimPrefix(tag, "#"))
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
