// Package telegram adapts the Telegram Bot API to the channel transport
// interfaces: long-poll receive, send/edit/delete, typing, callbacks and
// forum topics.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/memohai/relay/internal/channel"
)

// Type is the channel type of this adapter.
const Type channel.ChannelType = "telegram"

const telegramMaxMessageLength = 4096

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// botAPI is the subset of *tgbotapi.BotAPI the adapter calls.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Adapter implements channel.Transport on top of one bot token.
type Adapter struct {
	logger      *slog.Logger
	bot         botAPI
	pollTimeout int
	now         func() time.Time
}

var _ channel.Transport = (*Adapter)(nil)

// New connects to the Bot API with token.
func New(log *slog.Logger, token string, pollTimeout int) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", "telegram"))
	_ = tgbotapi.SetLogger(&slogBotLogger{log: log})
	bot, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		log.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	log.Info("bot authorized", slog.String("username", bot.Self.UserName))
	return newAdapter(log, bot, pollTimeout), nil
}

func newAdapter(log *slog.Logger, bot botAPI, pollTimeout int) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Adapter{logger: log, bot: bot, pollTimeout: pollTimeout, now: time.Now}
}

// Run long-polls for updates and hands each one to handler until ctx ends.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = a.pollTimeout
	updateConfig.AllowedUpdates = []string{"message", "callback_query"}
	updates := a.bot.GetUpdatesChan(updateConfig)
	a.logger.Info("polling started")

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			// Drain so the library's poll goroutine can exit and release the
			// getUpdates session; otherwise the next poller gets a Conflict.
			for range updates {
			}
			a.logger.Info("polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				a.logger.Info("updates channel closed")
				return nil
			}
			a.dispatch(ctx, handler, update)
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, handler channel.Handler, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		cb, ok := toCallback(update.CallbackQuery, a.now())
		if !ok {
			return
		}
		handler.HandleCallback(ctx, cb)
		return
	}
	msg, ok := toInbound(update.Message)
	if !ok {
		return
	}
	a.logger.Info(
		"inbound received",
		slog.String("chat_id", msg.Sender.ChatID),
		slog.String("user_id", msg.Sender.UserID),
		slog.Int("attachments", len(msg.Attachments)),
	)
	handler.HandleMessage(ctx, msg)
}

func toInbound(msg *tgbotapi.Message) (channel.InboundMessage, bool) {
	if msg == nil || msg.Chat == nil {
		return channel.InboundMessage{}, false
	}
	out := channel.InboundMessage{
		Channel:     Type,
		ID:          strconv.Itoa(msg.MessageID),
		Sender:      resolveSender(msg.From, msg.Chat),
		Text:        strings.TrimSpace(msg.Text),
		Caption:     strings.TrimSpace(msg.Caption),
		Attachments: collectAttachments(msg),
		SentAt:      time.Unix(int64(msg.Date), 0).UTC(),
	}
	if out.Text == "" && out.Caption == "" && len(out.Attachments) == 0 {
		return channel.InboundMessage{}, false
	}
	return out, true
}

// toCallback stamps the callback with receipt time; a button press is fresh
// even when the message carrying the keyboard predates the process.
func toCallback(q *tgbotapi.CallbackQuery, receivedAt time.Time) (channel.Callback, bool) {
	if q == nil || q.Message == nil || q.Message.Chat == nil {
		return channel.Callback{}, false
	}
	return channel.Callback{
		Channel:   Type,
		ID:        q.ID,
		Sender:    resolveSender(q.From, q.Message.Chat),
		MessageID: strconv.Itoa(q.Message.MessageID),
		Data:      q.Data,
		SentAt:    receivedAt.UTC(),
	}, true
}

func resolveSender(from *tgbotapi.User, chat *tgbotapi.Chat) channel.Identity {
	id := channel.Identity{}
	if chat != nil {
		id.ChatID = strconv.FormatInt(chat.ID, 10)
	}
	if from == nil {
		return id
	}
	id.UserID = strconv.FormatInt(from.ID, 10)
	id.Username = strings.TrimSpace(from.UserName)
	id.DisplayName = strings.TrimSpace(from.FirstName + " " + from.LastName)
	if id.DisplayName == "" {
		id.DisplayName = id.Username
	}
	return id
}

func collectAttachments(msg *tgbotapi.Message) []channel.Attachment {
	attachments := make([]channel.Attachment, 0, 1)
	if msg.Voice != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentVoice,
			PlatformKey: msg.Voice.FileID,
			Mime:        msg.Voice.MimeType,
			Size:        int64(msg.Voice.FileSize),
			DurationMs:  int64(msg.Voice.Duration) * 1000,
		})
	}
	if msg.Audio != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentAudio,
			PlatformKey: msg.Audio.FileID,
			Name:        msg.Audio.FileName,
			Mime:        msg.Audio.MimeType,
			Size:        int64(msg.Audio.FileSize),
			DurationMs:  int64(msg.Audio.Duration) * 1000,
		})
	}
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentImage,
			PlatformKey: photo.FileID,
			Size:        int64(photo.FileSize),
			Width:       photo.Width,
			Height:      photo.Height,
		})
	}
	if msg.Video != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentVideo,
			PlatformKey: msg.Video.FileID,
			Name:        msg.Video.FileName,
			Mime:        msg.Video.MimeType,
			Size:        int64(msg.Video.FileSize),
			DurationMs:  int64(msg.Video.Duration) * 1000,
			Width:       msg.Video.Width,
			Height:      msg.Video.Height,
		})
	}
	if msg.VideoNote != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentVideo,
			PlatformKey: msg.VideoNote.FileID,
			Mime:        "video/mp4",
			Size:        int64(msg.VideoNote.FileSize),
			DurationMs:  int64(msg.VideoNote.Duration) * 1000,
			Width:       msg.VideoNote.Length,
			Height:      msg.VideoNote.Length,
		})
	}
	if msg.Document != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        documentType(msg.Document.MimeType),
			PlatformKey: msg.Document.FileID,
			Name:        msg.Document.FileName,
			Mime:        msg.Document.MimeType,
			Size:        int64(msg.Document.FileSize),
		})
	}
	return attachments
}

// documentType lets images sent "as file" go through the photo path.
func documentType(mime string) channel.AttachmentType {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "image/") {
		return channel.AttachmentImage
	}
	return channel.AttachmentFile
}

// pickTelegramPhoto returns the largest size of a photo.
func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.FileSize == best.FileSize && item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// SendText sends text to chatID and returns the new message id. A thread id
// routes the message into a forum topic.
func (a *Adapter) SendText(ctx context.Context, chatID, text string, opts channel.SendOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	text = truncateTelegramText(sanitizeTelegramText(text))
	replyTo, _ := strconv.Atoi(strings.TrimSpace(opts.ReplyTo))
	markup := buildKeyboard(opts.Keyboard)

	if strings.TrimSpace(opts.ThreadID) == "" {
		message := tgbotapi.NewMessage(id, text)
		message.ReplyToMessageID = replyTo
		if markup != nil {
			message.ReplyMarkup = *markup
		}
		sent, err := a.bot.Send(message)
		if err != nil {
			a.logSendFailure(chatID, err)
			return "", err
		}
		return strconv.Itoa(sent.MessageID), nil
	}

	params := tgbotapi.Params{}
	params.AddNonEmpty("chat_id", chatID)
	params.AddNonEmpty("message_thread_id", strings.TrimSpace(opts.ThreadID))
	params.AddNonEmpty("text", text)
	params.AddNonZero("reply_to_message_id", replyTo)
	if markup != nil {
		if err := params.AddInterface("reply_markup", markup); err != nil {
			return "", err
		}
	}
	resp, err := a.bot.MakeRequest("sendMessage", params)
	if err != nil {
		a.logSendFailure(chatID, err)
		return "", err
	}
	var sent tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return "", fmt.Errorf("decode sent message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func buildKeyboard(kb channel.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// EditText replaces the text of a sent message. An unchanged text is not an error.
func (a *Adapter) EditText(ctx context.Context, chatID, messageID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cid, mid, err := parseMessageRef(chatID, messageID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(cid, mid, truncateTelegramText(sanitizeTelegramText(text)))
	_, err = a.bot.Send(edit)
	if err != nil && isTelegramMessageNotModified(err) {
		return nil
	}
	return err
}

func (a *Adapter) Delete(ctx context.Context, chatID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cid, mid, err := parseMessageRef(chatID, messageID)
	if err != nil {
		return err
	}
	_, err = a.bot.Request(tgbotapi.NewDeleteMessage(cid, mid))
	return err
}

// SendTyping shows the typing indicator; Telegram clears it after a few seconds.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = a.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

type forumTopic struct {
	MessageThreadID int64  `json:"message_thread_id"`
	Name            string `json:"name"`
}

// CreateForumTopic opens a topic in a forum supergroup and returns its thread id.
func (a *Adapter) CreateForumTopic(ctx context.Context, chatID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := parseChatID(chatID); err != nil {
		return "", err
	}
	params := tgbotapi.Params{}
	params.AddNonEmpty("chat_id", chatID)
	params.AddNonEmpty("name", name)
	resp, err := a.bot.MakeRequest("createForumTopic", params)
	if err != nil {
		return "", err
	}
	var topic forumTopic
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return "", fmt.Errorf("decode forum topic: %w", err)
	}
	if topic.MessageThreadID == 0 {
		return "", fmt.Errorf("forum topic without thread id")
	}
	return strconv.FormatInt(topic.MessageThreadID, 10), nil
}

// ResolveAttachment turns an attachment into a downloadable URL.
func (a *Adapter) ResolveAttachment(ctx context.Context, att channel.Attachment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if url := strings.TrimSpace(att.URL); url != "" {
		return url, nil
	}
	fileID := strings.TrimSpace(att.PlatformKey)
	if fileID == "" {
		return "", fmt.Errorf("telegram attachment requires platform_key or url")
	}
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve telegram file url: %w", err)
	}
	return url, nil
}

// Ping reports whether the bot token is still accepted.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.MakeRequest("getMe", tgbotapi.Params{})
	return err
}

func parseChatID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id must be numeric: %q", raw)
	}
	return id, nil
}

func parseMessageRef(chatID, messageID string) (int64, int, error) {
	cid, err := parseChatID(chatID)
	if err != nil {
		return 0, 0, err
	}
	mid, err := strconv.Atoi(strings.TrimSpace(messageID))
	if err != nil {
		return 0, 0, fmt.Errorf("telegram message id must be numeric: %q", messageID)
	}
	return cid, mid, nil
}

// apiError unwraps a Bot API error whether the library returned it by value or pointer.
func apiError(err error) (tgbotapi.Error, bool) {
	if err == nil {
		return tgbotapi.Error{}, false
	}
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

func isTelegramMessageNotModified(err error) bool {
	apiErr, ok := apiError(err)
	return ok && apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified")
}

func (a *Adapter) logSendFailure(chatID string, err error) {
	if wait := RetryAfter(err); wait > 0 {
		a.logger.Warn("telegram flood control", slog.String("chat_id", chatID), slog.Duration("retry_after", wait))
		return
	}
	a.logger.Warn("telegram send failed", slog.String("chat_id", chatID), slog.Any("error", err))
}

// RetryAfter returns the flood-control wait carried by err, or 0.
func RetryAfter(err error) time.Duration {
	apiErr, ok := apiError(err)
	if !ok || apiErr.Code != 429 || apiErr.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(apiErr.RetryAfter) * time.Second
}

func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText cuts text to the message limit on a rune boundary,
// appending "..." when it truncates.
func truncateTelegramText(text string) string {
	if len(text) <= telegramMaxMessageLength {
		return text
	}
	const suffix = "..."
	limit := telegramMaxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
