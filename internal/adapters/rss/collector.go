package rss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
)

const maxFeedBytes = 5 << 20

// Collector загружает RSS/Atom ленты и превращает записи в сырые публикации.
type Collector struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewCollector создаёт сборщик. nil client заменяется клиентом с таймаутом 20 секунд.
func NewCollector(client *http.Client) *Collector {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Collector{client: client, parser: gofeed.NewParser()}
}

// Fetch читает ленту источника. Записи, опубликованные не позже since, пропускаются.
func (c *Collector) Fetch(ctx context.Context, src domain.Source, since time.Time) ([]domain.RawItem, error) {
	body, err := c.download(ctx, src.Link)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	feed, err := c.parser.Parse(io.LimitReader(body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("разбор ленты %s: %w", src.Link, err)
	}
	items := make([]domain.RawItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		raw, ok := toRaw(src, feed, it)
		if !ok {
			continue
		}
		if !since.IsZero() && !raw.PublishedAt.After(since) {
			continue
		}
		items = append(items, raw)
	}
	return items, nil
}

func (c *Collector) download(ctx context.Context, link string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("запрос ленты: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	start := time.Now()
	resp, err := c.client.Do(req)
	if err == nil && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err = fmt.Errorf("статус %d", resp.StatusCode)
	}
	metrics.ObserveNetworkRequest("rss", "fetch", req.URL.Host, start, err)
	if err != nil {
		return nil, fmt.Errorf("загрузка ленты %s: %w", link, err)
	}
	return resp.Body, nil
}

func toRaw(src domain.Source, feed *gofeed.Feed, it *gofeed.Item) (domain.RawItem, bool) {
	body := it.Content
	if strings.TrimSpace(body) == "" {
		body = it.Description
	}
	if strings.TrimSpace(it.Title) == "" && strings.TrimSpace(body) == "" {
		return domain.RawItem{}, false
	}
	raw := domain.RawItem{
		SourceOrigin: src.Link,
		SourceName:   src.Name,
		SourceType:   domain.SourceRSS,
		Title:        it.Title,
		Body:         body,
		Link:         strings.TrimSpace(it.Link),
		Language:     feed.Language,
		Tags:         it.Categories,
		MediaType:    domain.MediaText,
	}
	switch {
	case it.PublishedParsed != nil:
		raw.PublishedAt = it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		raw.PublishedAt = it.UpdatedParsed.UTC()
	}
	if ref, kind := media(it, body); ref != "" {
		raw.MediaRef, raw.MediaType = ref, kind
	}
	return raw, true
}

// media ищет вложение: enclosure, картинку записи или первый тег img/video в тексте.
func media(it *gofeed.Item, body string) (string, domain.MediaType) {
	for _, enc := range it.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		switch {
		case strings.HasPrefix(enc.Type, "image/"):
			return enc.URL, domain.MediaPhoto
		case strings.HasPrefix(enc.Type, "video/"):
			return enc.URL, domain.MediaVideo
		case enc.Type != "":
			return enc.URL, domain.MediaDocument
		}
	}
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL, domain.MediaPhoto
	}
	if !strings.Contains(body, "<") {
		return "", ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", ""
	}
	if src, ok := doc.Find("video[src], video source[src]").First().Attr("src"); ok && src != "" {
		return src, domain.MediaVideo
	}
	if src, ok := doc.Find("img[src]").First().Attr("src"); ok && src != "" {
		return src, domain.MediaPhoto
	}
	return "", ""
}
