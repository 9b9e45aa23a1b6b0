// Package hooks consumes the live event stream and drives the per-message
// pipeline: persist, acknowledge, and optionally enrich. Every failure is
// logged and swallowed so one bad event can never stall the stream; periodic
// jobs repair whatever the hooks missed.
package hooks

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/chatscribe/chatscribe/internal/database"
	"github.com/chatscribe/chatscribe/internal/source"
	"github.com/chatscribe/chatscribe/internal/vision"
)

// Enricher runs the two-call enrichment flow for one stored message.
type Enricher interface {
	EnrichMessage(ctx context.Context, chatID, messageID int64, cfg *database.ChatConfig) error
}

// Stores bundles the repository surfaces the hooks write through.
type Stores struct {
	Chats    database.ChatRepo
	Users    database.UserRepo
	Messages database.MessageRepo
	Configs  database.ChatConfigRepo
	Media    database.MediaRepo
}

// Hooks is the live event handler. It implements source.Handler.
type Hooks struct {
	stores    Stores
	client    source.Client
	enricher  Enricher
	describer vision.Describer
	logger    *slog.Logger
	dispatch  map[source.EventKind]func(ctx context.Context, ev source.Event)

	markReadUnsupported bool
}

// Config wires the hooks' collaborators. Enricher and Describer are optional;
// without them the matching pipeline stages are skipped.
type Config struct {
	Stores    Stores
	Client    source.Client
	Enricher  Enricher
	Describer vision.Describer
	Logger    *slog.Logger
}

// New creates the live event handler.
func New(cfg Config) *Hooks {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Hooks{
		stores:    cfg.Stores,
		client:    cfg.Client,
		enricher:  cfg.Enricher,
		describer: cfg.Describer,
		logger:    logger.With("component", "hooks"),
	}
	h.dispatch = map[source.EventKind]func(ctx context.Context, ev source.Event){
		source.EventNewMessage:      h.onNewMessage,
		source.EventEditedMessage:   h.onEditedMessage,
		source.EventDeletedMessages: h.onDeletedMessages,
		source.EventChatAction:      h.onChatAction,
	}
	return h
}

// BindClient attaches the source client after construction. The adapter
// delivers events to the hooks and the hooks acknowledge through the adapter,
// so the client is bound once both exist.
func (h *Hooks) BindClient(c source.Client) {
	h.client = c
}

// Handle routes one event to its handler. Unknown kinds are dropped.
func (h *Hooks) Handle(ctx context.Context, ev source.Event) {
	handler, ok := h.dispatch[ev.Kind]
	if !ok {
		h.logger.DebugContext(ctx, "Dropping event of unknown kind", "kind", ev.Kind)
		return
	}
	handler(ctx, ev)
}

// config returns the chat's pipeline configuration, or nil when the chat has
// none. Persistence never depends on it; a missing row only keeps the
// optional stages (photo recognition, enrichment) off.
func (h *Hooks) config(ctx context.Context, chatID int64) *database.ChatConfig {
	cfg, err := h.stores.Configs.Get(ctx, chatID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load chat config", "chat_id", chatID, "error", err)
		return nil
	}
	return cfg
}

func (h *Hooks) onNewMessage(ctx context.Context, ev source.Event) {
	if ev.Message == nil {
		return
	}
	msg := ev.Message

	// The message row references the chat, so the chat snapshot must land
	// first; its failure aborts the event.
	if ev.Chat != nil {
		if _, err := h.stores.Chats.SaveChat(ctx, ev.Chat); err != nil {
			h.logger.ErrorContext(ctx, "Failed to save chat snapshot",
				"chat_id", msg.ChatID, "error", err)
			return
		}
	}
	if ev.Sender != nil {
		if _, err := h.stores.Users.SaveUser(ctx, ev.Sender); err != nil {
			h.logger.ErrorContext(ctx, "Failed to save sender",
				"chat_id", msg.ChatID, "user_id", ev.Sender.ID, "error", err)
		}
	}

	if _, err := h.stores.Messages.SaveMessage(ctx, msg); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save message",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		return
	}

	h.markRead(ctx, msg.ChatID, msg.ID)

	// The optional stages consult the chat config; no row means both stay off.
	cfg := h.config(ctx, msg.ChatID)
	if cfg == nil {
		return
	}

	if cfg.RecognizePhoto && msg.MediaKind == "photo" && msg.FileRef != "" {
		h.recognizePhoto(ctx, msg)
	}

	if cfg.EnrichMessages && h.enricher != nil {
		if err := h.enricher.EnrichMessage(ctx, msg.ChatID, msg.ID, cfg); err != nil {
			h.logger.ErrorContext(ctx, "Inline enrichment failed, leaving message for the sweep",
				"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		}
	}
}

func (h *Hooks) markRead(ctx context.Context, chatID, messageID int64) {
	if h.client == nil || h.markReadUnsupported {
		return
	}
	if err := h.client.MarkRead(ctx, chatID, messageID); err != nil {
		if errors.Is(err, source.ErrUnsupported) {
			h.logger.InfoContext(ctx, "Read acknowledgement unsupported by this client, disabling")
			h.markReadUnsupported = true
			return
		}
		h.logger.WarnContext(ctx, "Failed to acknowledge message",
			"chat_id", chatID, "message_id", messageID, "error", err)
		return
	}
	if err := h.stores.Messages.MarkMessageRead(ctx, chatID, messageID); err != nil {
		h.logger.WarnContext(ctx, "Failed to record read flag",
			"chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (h *Hooks) recognizePhoto(ctx context.Context, msg *source.Message) {
	if h.describer == nil || h.client == nil {
		return
	}

	data, mimeType, err := h.client.DownloadFile(ctx, msg.FileRef)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to download photo",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		return
	}

	description, err := h.describer.DescribeImage(ctx, data, mimeType)
	if err != nil {
		h.logger.ErrorContext(ctx, "Photo recognition failed",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		return
	}

	media := &database.Media{
		FileReference:   msg.FileRef,
		ChatID:          msg.ChatID,
		MessageID:       msg.ID,
		MediaType:       msg.MediaKind,
		TextDescription: database.NullString(description),
	}
	if err := h.stores.Media.SaveMedia(ctx, media); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save photo description",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
}

func (h *Hooks) onEditedMessage(ctx context.Context, ev source.Event) {
	if ev.Message == nil {
		return
	}
	msg := ev.Message

	existing, err := h.stores.Messages.GetMessage(ctx, msg.ChatID, msg.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to look up edited message",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		return
	}
	if existing == nil {
		// Edits of messages we never stored are not ingestion events.
		h.logger.DebugContext(ctx, "Edit for unstored message ignored",
			"chat_id", msg.ChatID, "message_id", msg.ID)
		return
	}

	if err := h.stores.Messages.UpdateMessageRaw(ctx, msg.ChatID, msg.ID, msg.Raw); err != nil {
		h.logger.ErrorContext(ctx, "Failed to apply edit",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
}

func (h *Hooks) onDeletedMessages(ctx context.Context, ev source.Event) {
	if ev.Deleted == nil || len(ev.Deleted.MessageIDs) == 0 {
		return
	}

	affected, err := h.stores.Messages.DeleteMessages(ctx, ev.Deleted.ChatID, ev.Deleted.MessageIDs)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to process delete notification",
			"chat_id", ev.Deleted.ChatID, "error", err)
		return
	}
	h.logger.InfoContext(ctx, "Messages marked deleted",
		"chat_id", ev.Deleted.ChatID, "requested", len(ev.Deleted.MessageIDs), "affected", affected)
}

func (h *Hooks) onChatAction(ctx context.Context, ev source.Event) {
	if ev.Chat == nil {
		return
	}

	if _, err := h.stores.Chats.SaveChat(ctx, ev.Chat); err != nil {
		h.logger.ErrorContext(ctx, "Failed to refresh chat snapshot",
			"chat_id", ev.Chat.ID, "error", err)
		return
	}
	if ev.Sender != nil {
		if _, err := h.stores.Users.SaveUser(ctx, ev.Sender); err != nil {
			h.logger.ErrorContext(ctx, "Failed to save action actor",
				"chat_id", ev.Chat.ID, "user_id", ev.Sender.ID, "error", err)
		}
	}
}
