package delivery

import (
	"fmt"
	"html"
	"strings"

	"tg-news-engine/internal/usecase/feed"
)

const fallbackTopic = "Другие темы"

// FormatFeed собирает HTML-сообщение с подборкой новостей, сгруппированной по первой теме.
func FormatFeed(items []feed.Item) string {
	if len(items) == 0 {
		return ""
	}

	order := make([]string, 0)
	groups := make(map[string][]string)
	for _, it := range items {
		topic := fallbackTopic
		for _, t := range it.News.Topics {
			if t = strings.TrimSpace(t); t != "" {
				topic = t
				break
			}
		}
		line := formatLine(it)
		if line == "" {
			continue
		}
		if _, ok := groups[topic]; !ok {
			order = append(order, topic)
		}
		groups[topic] = append(groups[topic], line)
	}
	if len(order) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("📰 <b>Свежие новости</b>")
	for _, topic := range order {
		b.WriteString("\n\n<b>" + html.EscapeString(topic) + "</b>")
		for _, line := range groups[topic] {
			b.WriteString("\n" + line)
		}
	}
	return b.String()
}

func formatLine(it feed.Item) string {
	title := strings.TrimSpace(it.News.Title)
	if title == "" {
		return ""
	}
	text := html.EscapeString(title)
	if link := strings.TrimSpace(it.News.Link); link != "" {
		text = fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(link), text)
	}
	if src := strings.TrimSpace(it.News.SourceName); src != "" {
		text += " — <i>" + html.EscapeString(src) + "</i>"
	}
	return "• " + text
}
