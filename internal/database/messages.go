package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatscribe/chatscribe/internal/normalize"
	"github.com/chatscribe/chatscribe/internal/source"
)

// MessageRepo owns the messages table. All writes are idempotent merges keyed
// by (chat_id, message_id), so the live hooks and the backfill job can race
// over the same ids without duplicating rows.
type MessageRepo interface {
	// SaveMessage upserts one message, overwriting the stored snapshot.
	SaveMessage(ctx context.Context, msg *source.Message) (*Message, error)

	// SaveBatch inserts messages that are not yet stored and leaves existing
	// rows untouched. Used by backfill, where the live hooks may already have
	// written a fresher snapshot.
	SaveBatch(ctx context.Context, msgs []source.Message) (int64, error)

	// GetMessage returns the message or (nil, nil) when no row exists.
	GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error)

	// GetFirstMessageID returns the oldest stored message id for the chat, or
	// zero when the chat has no messages.
	GetFirstMessageID(ctx context.Context, chatID int64) (int64, error)

	// DeleteMessages soft-deletes the given ids and reports how many rows
	// changed. Unknown ids are ignored.
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) (int64, error)

	// GetMessagesThread walks the reply chain ending at messageID and returns
	// the ancestors in chronological order, excluding the message itself.
	GetMessagesThread(ctx context.Context, chatID, messageID int64) ([]Message, error)

	// GetPreviousNMessages returns up to n messages with id below messageID,
	// oldest first.
	GetPreviousNMessages(ctx context.Context, chatID, messageID int64, n int) ([]Message, error)

	// GetUnenrichedMessages returns ids of stored text messages that have no
	// enrichment row yet, newest first, capped at limit.
	GetUnenrichedMessages(ctx context.Context, chatID int64, limit int) ([]int64, error)

	// UpdateMessageRaw replaces the stored snapshot of an already known
	// message. Used for edits; unknown messages are left alone.
	UpdateMessageRaw(ctx context.Context, chatID, messageID int64, raw map[string]any) error

	// MarkMessageRead flips the read flag after the source acknowledged it.
	MarkMessageRead(ctx context.Context, chatID, messageID int64) error
}

type sqlxMessageRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewMessageRepo creates a MessageRepo backed by sqlx.
func NewMessageRepo(db *sqlx.DB, logger *slog.Logger) MessageRepo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxMessageRepo{db: db, logger: logger.With("component", "message_repo")}
}

// classifyMessage derives the message_type column from the normalized shape.
func classifyMessage(msg *source.Message) string {
	switch {
	case msg.IsAction:
		return "action"
	case msg.MediaKind != "":
		return msg.MediaKind
	default:
		return "text"
	}
}

func prepareMessageRow(msg *source.Message) Message {
	now := time.Now().UTC()
	row := Message{
		MessageID:   msg.ID,
		ChatID:      msg.ChatID,
		Date:        msg.Date.UTC(),
		MessageType: classifyMessage(msg),
		IsRead:      msg.Read,
		RawData:     normalize.JSON(msg.Raw),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if msg.SenderID != nil {
		row.SenderID = sql.NullInt64{Int64: *msg.SenderID, Valid: true}
	}
	return row
}

const insertMessageColumns = `
    (message_id, chat_id, sender_id, date, message_type, is_read, is_deleted, raw_data, created_at, updated_at)
    VALUES (:message_id, :chat_id, :sender_id, :date, :message_type, :is_read, :is_deleted, :raw_data, :created_at, :updated_at)`

func (r *sqlxMessageRepo) SaveMessage(ctx context.Context, msg *source.Message) (*Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot save nil message")
	}
	if msg.ID == 0 || msg.ChatID == 0 {
		return nil, fmt.Errorf("message must have non-zero chat and message ids")
	}

	row := prepareMessageRow(msg)
	query := `
        INSERT INTO messages ` + insertMessageColumns + `
        ON CONFLICT (chat_id, message_id) DO UPDATE SET
            sender_id    = EXCLUDED.sender_id,
            date         = EXCLUDED.date,
            message_type = EXCLUDED.message_type,
            is_read      = EXCLUDED.is_read,
            raw_data     = EXCLUDED.raw_data,
            updated_at   = EXCLUDED.updated_at;
    `
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.ErrorContext(ctx, "Error saving message",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		return nil, fmt.Errorf("failed to save message %d in chat %d: %w", msg.ID, msg.ChatID, err)
	}
	return &row, nil
}

func (r *sqlxMessageRepo) SaveBatch(ctx context.Context, msgs []source.Message) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	rows := make([]Message, 0, len(msgs))
	for i := range msgs {
		if msgs[i].ID == 0 || msgs[i].ChatID == 0 {
			continue
		}
		rows = append(rows, prepareMessageRow(&msgs[i]))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	// Existing rows win: a live hook may already have stored a fresher
	// snapshot than the history page carries.
	query := `
        INSERT INTO messages ` + insertMessageColumns + `
        ON CONFLICT (chat_id, message_id) DO NOTHING;
    `
	res, err := r.db.NamedExecContext(ctx, query, rows)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error saving message batch", "count", len(rows), "error", err)
		return 0, fmt.Errorf("failed to save message batch: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count inserted messages: %w", err)
	}
	return inserted, nil
}

func (r *sqlxMessageRepo) GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error) {
	var msg Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT message_id, chat_id, sender_id, date, message_type, is_read, is_deleted, raw_data, created_at, updated_at
		 FROM messages WHERE chat_id = $1 AND message_id = $2`, chatID, messageID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get message %d in chat %d: %w", messageID, chatID, err)
	}
	return &msg, nil
}

func (r *sqlxMessageRepo) GetFirstMessageID(ctx context.Context, chatID int64) (int64, error) {
	var id sql.NullInt64
	err := r.db.GetContext(ctx, &id,
		`SELECT MIN(message_id) FROM messages WHERE chat_id = $1`, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to get first message id for chat %d: %w", chatID, err)
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}

func (r *sqlxMessageRepo) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		`UPDATE messages SET is_deleted = TRUE, updated_at = NOW()
		 WHERE chat_id = ? AND message_id IN (?) AND is_deleted = FALSE`, chatID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting messages",
			"chat_id", chatID, "count", len(messageIDs), "error", err)
		return 0, fmt.Errorf("failed to delete messages in chat %d: %w", chatID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return affected, nil
}

// messageFetcher abstracts single-message lookup so the thread walk can be
// exercised without a live database.
type messageFetcher func(ctx context.Context, chatID, messageID int64) (*Message, error)

// walkReplyThread follows reply_to references backwards from messageID,
// collecting each ancestor until the chain ends, a referenced message is
// missing, or a cycle is detected. The result is chronological (ascending id)
// and excludes the starting message itself.
func walkReplyThread(ctx context.Context, fetch messageFetcher, chatID, messageID int64) ([]Message, error) {
	seen := map[int64]bool{messageID: true}
	var thread []Message

	current, err := fetch(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	for current != nil {
		replyID, ok := current.ReplyToID()
		if !ok || seen[replyID] {
			break
		}
		seen[replyID] = true

		parent, err := fetch(ctx, chatID, replyID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		thread = append(thread, *parent)
		current = parent
	}

	sort.Slice(thread, func(i, j int) bool {
		return thread[i].MessageID < thread[j].MessageID
	})
	return thread, nil
}

func (r *sqlxMessageRepo) GetMessagesThread(ctx context.Context, chatID, messageID int64) ([]Message, error) {
	return walkReplyThread(ctx, r.GetMessage, chatID, messageID)
}

func (r *sqlxMessageRepo) GetPreviousNMessages(ctx context.Context, chatID, messageID int64, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}

	var msgs []Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT message_id, chat_id, sender_id, date, message_type, is_read, is_deleted, raw_data, created_at, updated_at
		 FROM messages
		 WHERE chat_id = $1 AND message_id < $2 AND is_deleted = FALSE
		 ORDER BY message_id DESC
		 LIMIT $3`, chatID, messageID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get previous messages in chat %d: %w", chatID, err)
	}

	// Query walks backwards for the LIMIT; callers want oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *sqlxMessageRepo) GetUnenrichedMessages(ctx context.Context, chatID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}

	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT m.message_id
		 FROM messages m
		 LEFT JOIN messages_enriched e
		   ON e.chat_id = m.chat_id AND e.message_id = m.message_id
		 WHERE m.chat_id = $1
		   AND m.message_type = 'text'
		   AND m.is_deleted = FALSE
		   AND e.message_id IS NULL
		 ORDER BY m.message_id DESC
		 LIMIT $2`, chatID, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error getting unenriched messages", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get unenriched messages for chat %d: %w", chatID, err)
	}
	return ids, nil
}

func (r *sqlxMessageRepo) UpdateMessageRaw(ctx context.Context, chatID, messageID int64, raw map[string]any) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET raw_data = $1, updated_at = NOW()
		 WHERE chat_id = $2 AND message_id = $3`,
		normalize.JSON(raw), chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to update message %d in chat %d: %w", messageID, chatID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		r.logger.DebugContext(ctx, "Edit for unknown message ignored",
			"chat_id", chatID, "message_id", messageID)
	}
	return nil
}

func (r *sqlxMessageRepo) MarkMessageRead(ctx context.Context, chatID, messageID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE, updated_at = NOW()
		 WHERE chat_id = $1 AND message_id = $2`, chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message %d read in chat %d: %w", messageID, chatID, err)
	}
	return nil
}
