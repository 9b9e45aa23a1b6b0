// Package telegram adapts the Telegram Bot API to the source.Client surface.
// The Bot API is a push transport: live updates arrive in full, but history
// pagination, dialog listing, and read acknowledgements are not exposed to
// bots, so those capabilities report source.ErrUnsupported and the periodic
// jobs disable themselves.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/chatscribe/chatscribe/internal/source"
)

const fileDownloadTimeout = 60 * time.Second

// Adapter wraps a go-telegram bot and translates its updates into normalized
// events. It implements source.Client.
type Adapter struct {
	bot     *tgbot.Bot
	token   string
	handler source.Handler
	logger  *slog.Logger
}

// New creates the adapter and wires its update dispatcher as the bot's
// default handler.
func New(token string, logger *slog.Logger, handler source.Handler, opts ...tgbot.Option) (*Adapter, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	a := &Adapter{
		token:   token,
		handler: handler,
		logger:  logger.With("component", "telegram_adapter"),
	}

	opts = append(opts, tgbot.WithDefaultHandler(a.dispatch))
	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	a.bot = b
	return a, nil
}

// Run starts long polling and blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) {
	a.bot.Start(ctx)
}

// dispatch maps one raw update onto the event union and hands it to the
// pipeline. Handler panics are contained here so a bad update can never take
// down the polling loop.
func (a *Adapter) dispatch(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	ev, ok := mapUpdate(update)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "Event handler panicked",
				"kind", ev.Kind, "panic", r)
		}
	}()
	a.handler.Handle(ctx, ev)
}

// mapUpdate normalizes a raw update. The second return is false for update
// shapes the pipeline does not consume.
func mapUpdate(update *models.Update) (source.Event, bool) {
	switch {
	case update == nil:
		return source.Event{}, false

	case update.Message != nil:
		msg := adaptMessage(update.Message)
		return source.Event{
			Kind:    source.EventNewMessage,
			Message: msg,
			Chat:    adaptChat(&update.Message.Chat),
			Sender:  adaptUser(update.Message.From),
		}, true

	case update.EditedMessage != nil:
		msg := adaptMessage(update.EditedMessage)
		return source.Event{
			Kind:    source.EventEditedMessage,
			Message: msg,
			Chat:    adaptChat(&update.EditedMessage.Chat),
			Sender:  adaptUser(update.EditedMessage.From),
		}, true

	case update.DeletedBusinessMessages != nil:
		del := update.DeletedBusinessMessages
		ids := make([]int64, len(del.MessageIDs))
		for i, id := range del.MessageIDs {
			ids[i] = int64(id)
		}
		return source.Event{
			Kind:    source.EventDeletedMessages,
			Chat:    adaptChat(&del.Chat),
			Deleted: &source.DeletedBatch{ChatID: del.Chat.ID, MessageIDs: ids},
		}, true

	case update.MyChatMember != nil:
		return source.Event{
			Kind:   source.EventChatAction,
			Chat:   adaptChat(&update.MyChatMember.Chat),
			Sender: adaptUser(&update.MyChatMember.From),
		}, true

	case update.ChatMember != nil:
		return source.Event{
			Kind:   source.EventChatAction,
			Chat:   adaptChat(&update.ChatMember.Chat),
			Sender: adaptUser(&update.ChatMember.From),
		}, true
	}

	return source.Event{}, false
}

func adaptChat(c *models.Chat) *source.Chat {
	if c == nil {
		return nil
	}

	kind := string(c.Type)
	if kind == "private" {
		kind = "user"
	}

	title := c.Title
	if title == "" {
		// Private chats carry the counterpart's name instead of a title.
		title = joinName(c.FirstName, c.LastName)
	}

	return &source.Chat{
		ID:       c.ID,
		Kind:     kind,
		Title:    title,
		Username: c.Username,
		Raw: map[string]any{
			"id":       c.ID,
			"type":     string(c.Type),
			"title":    c.Title,
			"username": c.Username,
		},
	}
}

func adaptUser(u *models.User) *source.User {
	if u == nil {
		return nil
	}
	return &source.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bot:       u.IsBot,
		Premium:   u.IsPremium,
		Raw: map[string]any{
			"id":         u.ID,
			"username":   u.Username,
			"first_name": u.FirstName,
			"last_name":  u.LastName,
			"is_bot":     u.IsBot,
			"is_premium": u.IsPremium,
		},
	}
}

func adaptMessage(m *models.Message) *source.Message {
	if m == nil {
		return nil
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}

	mediaKind, fileRef := classifyMedia(m)

	msg := &source.Message{
		ID:        int64(m.ID),
		ChatID:    m.Chat.ID,
		Date:      time.Unix(int64(m.Date), 0).UTC(),
		Text:      text,
		MediaKind: mediaKind,
		IsAction:  isServiceAction(m),
		FileRef:   fileRef,
	}
	if m.From != nil {
		id := m.From.ID
		msg.SenderID = &id
	}

	raw := map[string]any{
		"id":      int64(m.ID),
		"chat_id": m.Chat.ID,
		"date":    msg.Date,
		"message": text,
	}
	if msg.SenderID != nil {
		raw["sender_id"] = *msg.SenderID
	}
	if m.ReplyToMessage != nil {
		replyID := int64(m.ReplyToMessage.ID)
		msg.ReplyToID = &replyID
		raw["reply_to"] = map[string]any{"reply_to_msg_id": replyID}
	}
	if mediaKind != "" {
		raw["media"] = mediaKind
	}
	if fileRef != "" {
		raw["file_id"] = fileRef
	}
	if msg.IsAction {
		raw["action"] = true
	}
	msg.Raw = raw

	return msg
}

func classifyMedia(m *models.Message) (kind, fileRef string) {
	switch {
	case len(m.Photo) > 0:
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return "photo", best.FileID
	case m.Video != nil:
		return "video", m.Video.FileID
	case m.Voice != nil:
		return "voice", m.Voice.FileID
	case m.Audio != nil:
		return "audio", m.Audio.FileID
	case m.Sticker != nil:
		return "sticker", m.Sticker.FileID
	case m.Document != nil:
		return "document", m.Document.FileID
	}
	return "", ""
}

func isServiceAction(m *models.Message) bool {
	return len(m.NewChatMembers) > 0 ||
		m.LeftChatMember != nil ||
		m.NewChatTitle != "" ||
		m.GroupChatCreated ||
		m.SupergroupChatCreated ||
		m.ChannelChatCreated ||
		m.PinnedMessage != nil
}

func joinName(first, last string) string {
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	}
	return last
}

// Authorized verifies the token by asking the API who we are.
func (a *Adapter) Authorized(ctx context.Context) (bool, error) {
	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to verify bot credentials: %w", err)
	}
	a.logger.InfoContext(ctx, "Bot credentials verified",
		"bot_id", me.ID, "bot_username", me.Username)
	return true, nil
}

// History is not available to bots.
func (a *Adapter) History(context.Context, int64, int64, int) ([]source.Message, error) {
	return nil, source.ErrUnsupported
}

// Dialogs is not available to bots.
func (a *Adapter) Dialogs(context.Context) ([]source.Dialog, error) {
	return nil, source.ErrUnsupported
}

// Participants is not available to bots.
func (a *Adapter) Participants(context.Context, int64) ([]source.User, error) {
	return nil, source.ErrUnsupported
}

// ChatInfo resolves a chat snapshot, including the member count when the API
// grants it.
func (a *Adapter) ChatInfo(ctx context.Context, chatID int64) (*source.Chat, error) {
	info, err := a.bot.GetChat(ctx, &tgbot.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}

	chat := adaptChat(&models.Chat{
		ID:        info.ID,
		Type:      models.ChatType(info.Type),
		Title:     info.Title,
		Username:  info.Username,
		FirstName: info.FirstName,
		LastName:  info.LastName,
	})

	count, err := a.bot.GetChatMemberCount(ctx, &tgbot.GetChatMemberCountParams{ChatID: chatID})
	if err != nil {
		a.logger.DebugContext(ctx, "Member count unavailable", "chat_id", chatID, "error", err)
	} else {
		chat.MemberCount = count
	}
	return chat, nil
}

// MarkRead is not available to bots.
func (a *Adapter) MarkRead(context.Context, int64, int64) error {
	return source.ErrUnsupported
}

// DownloadFile fetches an attachment's bytes through the file API.
func (a *Adapter) DownloadFile(ctx context.Context, fileRef string) (data []byte, mimeType string, err error) {
	if fileRef == "" {
		return nil, "", fmt.Errorf("empty file reference")
	}

	downloadCtx, cancel := context.WithTimeout(ctx, fileDownloadTimeout)
	defer cancel()

	fileObj, err := a.bot.GetFile(downloadCtx, &tgbot.GetFileParams{FileID: fileRef})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file info: %w", err)
	}
	if fileObj.FilePath == "" {
		return nil, "", fmt.Errorf("empty file path returned for file %s", fileRef)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", a.token, fileObj.FilePath)
	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close download body: %w", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("unexpected status %d downloading file: %s", resp.StatusCode, string(body))
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
