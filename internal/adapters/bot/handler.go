package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-news-engine/internal/adapters/telegram"
	"tg-news-engine/internal/domain"
	"tg-news-engine/internal/infra/metrics"
	"tg-news-engine/internal/usecase/feed"
	"tg-news-engine/internal/usecase/preferences"
)

// updateTTL — сколько помнить обработанные update_id. Telegram повторяет доставку вебхука не дольше суток.
const updateTTL = 24 * time.Hour

// BotAPI — часть клиента бота, которую использует обработчик.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Users — регистрация и настройки пользователя.
type Users interface {
	Register(ctx context.Context, tgUserID int64, language string) (domain.User, error)
	UpdateSettings(ctx context.Context, userID int64, in preferences.Settings) (domain.User, error)
	AddFilters(ctx context.Context, userID int64, filters []domain.Filter) error
	ResetFilters(ctx context.Context, userID int64) error
	AddBlock(ctx context.Context, userID int64, t domain.BlockType, value string) error
}

// Feeds строит страницы ленты.
type Feeds interface {
	Compose(ctx context.Context, userID int64, cursor string, pageSize int) (feed.Page, error)
}

// Engagement фиксирует реакции и отдаёт статистику.
type Engagement interface {
	Record(ctx context.Context, e domain.InteractionEvent) (bool, error)
	UserStats(ctx context.Context, userID int64) (domain.UserStats, error)
}

// Deduper выполняет функцию один раз на ключ.
type Deduper interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Deps — зависимости обработчика. Dedup может быть nil.
type Deps struct {
	Users      Users
	Feeds      Feeds
	Engagement Engagement
	Queue      domain.IngestQueue
	Dedup      Deduper
	PageSize   int
}

// Handler обслуживает вебхук бота: посты каналов идут в очередь приёма, команды пользователей управляют лентой.
type Handler struct {
	bot  BotAPI
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	cursors map[int64]string
}

// NewHandler создаёт обработчик.
func NewHandler(bot BotAPI, deps Deps, logger zerolog.Logger) *Handler {
	if deps.PageSize <= 0 {
		deps.PageSize = 5
	}
	return &Handler{
		bot:     bot,
		deps:    deps,
		log:     logger.With().Str("component", "bot").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
		cursors: make(map[int64]string),
	}
}

// HandleUpdate обрабатывает входящий апдейт. Повторная доставка того же update_id пропускается.
// Ошибка возвращается только тогда, когда апдейт стоит доставить повторно.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) error {
	if h.deps.Dedup == nil {
		return h.dispatch(ctx, upd)
	}
	key := "tg:update:" + strconv.Itoa(upd.UpdateID)
	return h.deps.Dedup.Once(ctx, key, updateTTL, func() error { return h.dispatch(ctx, upd) })
}

func (h *Handler) dispatch(ctx context.Context, upd tgbotapi.Update) error {
	switch {
	case upd.ChannelPost != nil:
		return h.enqueuePost(ctx, upd.ChannelPost)
	case upd.EditedChannelPost != nil:
		return h.enqueuePost(ctx, upd.EditedChannelPost)
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	}
	return nil
}

func (h *Handler) enqueuePost(ctx context.Context, msg *tgbotapi.Message) error {
	raw, ok := telegram.RawFromChannelPost(msg)
	if !ok {
		return nil
	}
	if h.deps.Queue == nil {
		return errors.New("очередь приёма не настроена")
	}
	job := domain.IngestJob{
		ID:         uuid.NewString(),
		Item:       raw,
		ReceivedAt: h.now(),
		Origin:     "telegram",
	}
	if err := h.deps.Queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("публикация поста %s: %w", raw.SourceOrigin, err)
	}
	h.log.Debug().Str("job_id", job.ID).Str("source", raw.SourceOrigin).Msg("пост канала поставлен в очередь")
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	command, args := splitCommand(text)
	if command == "" {
		h.reply(chatID, "Неизвестная команда. Используйте /help", nil)
		return
	}

	user, err := h.deps.Users.Register(ctx, msg.From.ID, msg.From.LanguageCode)
	if err != nil {
		h.fail(chatID, err)
		return
	}

	switch command {
	case "start":
		h.reply(chatID, startMessage, mainKeyboard())
	case "help":
		h.reply(chatID, helpMessage, mainKeyboard())
	case "feed":
		h.sendFeed(ctx, chatID, user, false)
	case "fresh":
		h.sendFeed(ctx, chatID, user, true)
	case "safe":
		h.toggleSafe(ctx, chatID, user, args)
	case "auto":
		h.toggleAuto(ctx, chatID, user, args)
	case "filter":
		h.addFilter(ctx, chatID, user, args)
	case "reset":
		if err := h.deps.Users.ResetFilters(ctx, user.ID); err != nil {
			h.fail(chatID, err)
			return
		}
		h.resetCursor(user.ID)
		h.reply(chatID, "Фильтры сброшены", nil)
	case "block":
		h.addBlock(ctx, chatID, user, args)
	case "stats":
		h.sendStats(ctx, chatID, user)
	default:
		h.reply(chatID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) sendFeed(ctx context.Context, chatID int64, user domain.User, fromStart bool) {
	if fromStart {
		h.resetCursor(user.ID)
	}
	h.mu.Lock()
	cursor := h.cursors[user.ID]
	h.mu.Unlock()

	page, err := h.deps.Feeds.Compose(ctx, user.ID, cursor, h.deps.PageSize)
	if err != nil {
		h.fail(chatID, err)
		return
	}
	if len(page.Items) == 0 {
		h.resetCursor(user.ID)
		h.reply(chatID, "Новых новостей нет. Загляните позже или ослабьте фильтры.", nil)
		return
	}
	for _, it := range page.Items {
		h.sendItem(chatID, it)
		h.record(ctx, domain.InteractionEvent{UserID: user.ID, NewsID: it.News.ID, Action: domain.ActionView})
	}

	h.mu.Lock()
	h.cursors[user.ID] = page.NextCursor
	h.mu.Unlock()
	if page.NextCursor != "" {
		more := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Ещё ⬇️", "feed_more"),
		))
		h.reply(chatID, "Продолжить ленту?", &more)
	}
}

func (h *Handler) sendItem(chatID int64, it feed.Item) {
	n := it.News
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(n.Title) + "</b>")
	if n.SourceName != "" {
		b.WriteString("\n<i>" + html.EscapeString(n.SourceName) + "</i>")
	}
	if n.Link != "" {
		b.WriteString(fmt.Sprintf("\n<a href=\"%s\">Читать</a>", html.EscapeString(n.Link)))
	}
	id := strconv.FormatInt(n.ID, 10)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("👍", "like:"+id),
		tgbotapi.NewInlineKeyboardButtonData("🔖", "save:"+id),
		tgbotapi.NewInlineKeyboardButtonData("✅ Прочитано", "read_full:"+id),
		tgbotapi.NewInlineKeyboardButtonData("➡️", "skip:"+id),
	))
	msg := tgbotapi.NewMessage(chatID, b.String())
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	h.send(chatID, msg)
}

func (h *Handler) toggleSafe(ctx context.Context, chatID int64, user domain.User, args string) {
	enabled, ok := parseSwitch(args)
	if !ok {
		h.reply(chatID, "Используйте /safe on или /safe off", nil)
		return
	}
	if _, err := h.deps.Users.UpdateSettings(ctx, user.ID, preferences.Settings{SafeMode: &enabled}); err != nil {
		h.fail(chatID, err)
		return
	}
	h.resetCursor(user.ID)
	if enabled {
		h.reply(chatID, "Безопасный режим включён", nil)
		return
	}
	h.reply(chatID, "Безопасный режим выключен", nil)
}

func (h *Handler) toggleAuto(ctx context.Context, chatID int64, user domain.User, args string) {
	enabled, ok := parseSwitch(args)
	if !ok {
		h.reply(chatID, "Используйте /auto on или /auto off", nil)
		return
	}
	mode := domain.ViewModeManual
	if enabled {
		mode = domain.ViewModeAuto
	}
	if _, err := h.deps.Users.UpdateSettings(ctx, user.ID, preferences.Settings{ViewMode: &mode}); err != nil {
		h.fail(chatID, err)
		return
	}
	h.resetCursor(user.ID)
	if enabled {
		h.reply(chatID, "Лента будет приходить автоматически, прочитанное не повторится", nil)
		return
	}
	h.reply(chatID, "Автоматическая доставка выключена, листайте ленту командой /feed", nil)
}

func (h *Handler) addFilter(ctx context.Context, chatID int64, user domain.User, args string) {
	kind, value, ok := splitPair(args)
	if !ok {
		h.reply(chatID, "Используйте /filter &lt;tag|category|source|language|country|content_type&gt; значение", nil)
		return
	}
	if err := h.deps.Users.AddFilters(ctx, user.ID, []domain.Filter{{Type: domain.FilterType(kind), Value: value}}); err != nil {
		h.fail(chatID, err)
		return
	}
	h.resetCursor(user.ID)
	h.reply(chatID, fmt.Sprintf("Фильтр %s: %s добавлен", kind, html.EscapeString(value)), nil)
}

func (h *Handler) addBlock(ctx context.Context, chatID int64, user domain.User, args string) {
	kind, value, ok := splitPair(args)
	if !ok {
		h.reply(chatID, "Используйте /block &lt;tag|category|source|language&gt; значение", nil)
		return
	}
	if err := h.deps.Users.AddBlock(ctx, user.ID, domain.BlockType(kind), value); err != nil {
		h.fail(chatID, err)
		return
	}
	h.resetCursor(user.ID)
	h.reply(chatID, fmt.Sprintf("Блокировка %s: %s добавлена", kind, html.EscapeString(value)), nil)
}

func (h *Handler) sendStats(ctx context.Context, chatID int64, user domain.User) {
	stats, err := h.deps.Engagement.UserStats(ctx, user.ID)
	if err != nil {
		h.fail(chatID, err)
		return
	}
	lines := []string{
		"📊 Ваша активность:",
		fmt.Sprintf("Просмотры: %d", stats.Views),
		fmt.Sprintf("Лайки: %d", stats.Likes),
		fmt.Sprintf("Сохранено: %d", stats.Saves),
		fmt.Sprintf("Прочитано полностью: %d", stats.ReadFull),
		fmt.Sprintf("Комментарии: %d", stats.Comments),
		fmt.Sprintf("Жалобы: %d", stats.Reports),
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	answer := ""
	defer func() {
		start := time.Now()
		_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, answer))
		metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось ответить на callback")
		}
	}()
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	user, err := h.deps.Users.Register(ctx, cb.From.ID, cb.From.LanguageCode)
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", cb.From.ID).Msg("не удалось определить пользователя")
		return
	}

	switch cb.Data {
	case "feed_more":
		h.sendFeed(ctx, chatID, user, false)
		return
	case "help_menu":
		h.reply(chatID, helpMessage, mainKeyboard())
		return
	case "stats":
		h.sendStats(ctx, chatID, user)
		return
	}

	action, newsID, ok := parseReaction(cb.Data)
	if !ok {
		return
	}
	applied := h.record(ctx, domain.InteractionEvent{UserID: user.ID, NewsID: newsID, Action: action})
	if applied {
		answer = "Учтено"
	}
}

// record фиксирует реакцию. Ошибка не прерывает диалог: реакция лишь влияет на статистику.
func (h *Handler) record(ctx context.Context, e domain.InteractionEvent) bool {
	e.OccurredAt = h.now()
	applied, err := h.deps.Engagement.Record(ctx, e)
	if err != nil {
		h.log.Warn().Err(err).Int64("news_id", e.NewsID).Str("action", string(e.Action)).Msg("не удалось сохранить реакцию")
		return false
	}
	return applied
}

func (h *Handler) resetCursor(userID int64) {
	h.mu.Lock()
	delete(h.cursors, userID)
	h.mu.Unlock()
}

func (h *Handler) fail(chatID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, html.EscapeString(err.Error()), nil)
	default:
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("ошибка обработки команды")
		h.reply(chatID, "Что-то пошло не так, попробуйте позже", nil)
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	for i, part := range telegram.SplitMessage(text, telegram.MessageLimit) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		if !h.send(chatID, msg) {
			return
		}
	}
}

func (h *Handler) send(chatID int64, msg tgbotapi.MessageConfig) bool {
	start := time.Now()
	_, err := h.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", "chat", start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось отправить сообщение")
		return false
	}
	return true
}

func mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📰 Лента", "feed_more"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Статистика", "stats"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", "help_menu"),
		),
	)
	return &buttons
}

// splitCommand отделяет команду от аргументов и отбрасывает упоминание бота: /feed@news_bot.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	command, args, _ := strings.Cut(text[1:], " ")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(args)
}

func splitPair(args string) (string, string, bool) {
	kind, value, ok := strings.Cut(strings.TrimSpace(args), " ")
	value = strings.TrimSpace(value)
	if !ok || kind == "" || value == "" {
		return "", "", false
	}
	return strings.ToLower(kind), value, true
}

func parseSwitch(args string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on", "1", "вкл":
		return true, true
	case "off", "0", "выкл":
		return false, true
	}
	return false, false
}

// parseReaction разбирает данные кнопки вида like:42.
func parseReaction(data string) (domain.Action, int64, bool) {
	name, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return "", 0, false
	}
	action := domain.Action(name)
	switch action {
	case domain.ActionLike, domain.ActionSave, domain.ActionReadFull, domain.ActionSkip:
	default:
		return "", 0, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return action, id, true
}

const startMessage = `👋 Привет! Я собираю новости из каналов и лент и показываю их с учётом ваших интересов.

Откройте ленту командой /feed или кнопкой ниже. Все команды: /help`

const helpMessage = `📖 Команды:

Лента:
• /feed — следующая страница ленты.
• /fresh — начать ленту сначала.
• /auto on — получать новости автоматически, прочитанное не повторится.

Настройки:
• /filter tag спорт — показывать только новости с тегом.
• /block source @channel — скрыть источник.
• /reset — сбросить фильтры.
• /safe on — скрывать тревожные и недостоверные новости.

• /stats — ваша активность.`
