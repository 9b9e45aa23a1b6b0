// Package source defines the narrow interface the pipeline consumes from a
// real-time messaging client, together with the typed intermediate structures
// every adapter must produce. The pipeline never touches a transport's wire
// types directly; adapters map them into these structures with documented
// defaults.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by adapters for capabilities their transport
// cannot provide (for example, the Bot API exposes no history pagination).
// Jobs treat it as "disable this subsystem with a warning", not as a fault.
var ErrUnsupported = errors.New("source: operation not supported by this client")

// EventKind tags the four event shapes delivered by a live subscription.
type EventKind string

const (
	EventNewMessage      EventKind = "new_message"
	EventEditedMessage   EventKind = "edited_message"
	EventDeletedMessages EventKind = "deleted_messages"
	EventChatAction      EventKind = "chat_action"
)

// Event is the tagged union delivered to the live hooks. Exactly the fields
// implied by Kind are set; everything else is nil.
type Event struct {
	Kind    EventKind
	Message *Message      // new_message, edited_message
	Chat    *Chat         // new_message, chat_action; snapshot at event time
	Sender  *User         // new_message when the sender is a user; chat_action actor
	Deleted *DeletedBatch // deleted_messages
}

// DeletedBatch carries a delete notification: all ids belong to one chat.
type DeletedBatch struct {
	ChatID     int64
	MessageIDs []int64
}

// Chat is the adapter-normalized snapshot of a conversation.
type Chat struct {
	ID          int64
	Kind        string // user, group, supergroup, channel
	Title       string
	Username    string
	Verified    bool
	Scam        bool
	Fake        bool
	MemberCount int
	Raw         map[string]any
}

// User is the adapter-normalized snapshot of an account.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Bot       bool
	Verified  bool
	Scam      bool
	Fake      bool
	Premium   bool
	Raw       map[string]any
}

// Message is the adapter-normalized form of one chat message. SenderID is nil
// for service messages. Raw is the full JSON-safe snapshot persisted next to
// the typed columns; adapters must include at least "id", "message" and, for
// replies, "reply_to".
type Message struct {
	ID        int64
	ChatID    int64
	SenderID  *int64
	Date      time.Time
	Text      string
	ReplyToID *int64
	MediaKind string // "", photo, video, document, audio, voice, sticker, media
	IsAction  bool   // non-content system action (join, pin, title change)
	Read      bool
	FileRef   string // content reference of the attachment, if any
	Raw       map[string]any
}

// Dialog is one entry of the conversation roster. Peer is set when the
// dialog's counterpart is a single account rather than a group.
type Dialog struct {
	Chat Chat
	Peer *User
}

// Handler consumes live events. Implementations must not panic; the adapter
// logs and drops anything a handler lets escape.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// Client is the full capability surface the pipeline consumes. Every call
// that reaches the network must honor ctx cancellation. Adapters return
// ErrUnsupported from capabilities they cannot serve.
type Client interface {
	// Authorized reports whether the client holds working credentials.
	// Subsystems gate themselves on this at startup.
	Authorized(ctx context.Context) (bool, error)

	// History returns up to limit messages with id strictly below offsetID,
	// newest first. offsetID zero means "start from the newest message".
	History(ctx context.Context, chatID, offsetID int64, limit int) ([]Message, error)

	// Dialogs enumerates every conversation the client can see.
	Dialogs(ctx context.Context) ([]Dialog, error)

	// Participants enumerates the members of one conversation.
	Participants(ctx context.Context, chatID int64) ([]User, error)

	// ChatInfo resolves a single conversation snapshot.
	ChatInfo(ctx context.Context, chatID int64) (*Chat, error)

	// MarkRead acknowledges a message back to the source.
	MarkRead(ctx context.Context, chatID, messageID int64) error

	// DownloadFile fetches an attachment's content and MIME type.
	DownloadFile(ctx context.Context, fileRef string) ([]byte, string, error)
}
