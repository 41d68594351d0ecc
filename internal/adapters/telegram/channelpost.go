package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-news-engine/internal/domain"
)

// RawFromChannelPost превращает пост канала в сырую публикацию.
// Возвращает false для постов без текста и подписи.
func RawFromChannelPost(msg *tgbotapi.Message) (domain.RawItem, bool) {
	if msg == nil || msg.Chat == nil {
		return domain.RawItem{}, false
	}
	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	if strings.TrimSpace(text) == "" {
		return domain.RawItem{}, false
	}

	raw := domain.RawItem{
		SourceType:  domain.SourceTelegram,
		SourceName:  msg.Chat.Title,
		Body:        text,
		PublishedAt: time.Unix(int64(msg.Date), 0).UTC(),
		Tags:        hashtags(text, entities),
		MediaType:   domain.MediaText,
	}
	if msg.Chat.UserName != "" {
		raw.SourceOrigin = "@" + msg.Chat.UserName
		raw.Link = fmt.Sprintf("https://t.me/%s/%d", msg.Chat.UserName, msg.MessageID)
	} else {
		raw.SourceOrigin = "tg:" + strconv.FormatInt(msg.Chat.ID, 10)
	}

	switch {
	case len(msg.Photo) > 0:
		raw.MediaType = domain.MediaPhoto
		raw.MediaRef = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		raw.MediaType = domain.MediaVideo
		raw.MediaRef = msg.Video.FileID
	case msg.Document != nil:
		raw.MediaType = domain.MediaDocument
		raw.MediaRef = msg.Document.FileID
	}
	return raw, true
}

// hashtags извлекает хештеги. Смещения сущностей Telegram считаются в UTF-16.
func hashtags(text string, entities []tgbotapi.MessageEntity) []string {
	units := utf16.Encode([]rune(text))
	var tags []string
	for _, e := range entities {
		if e.Type != "hashtag" || e.Offset < 0 || e.Offset+e.Length > len(units) {
			continue
		}
		tag := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		tags = append(tags, strings.TrimPrefix(tag, "#"))
	}
	return tags
}
