package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatscribe/chatscribe/internal/normalize"
	"github.com/chatscribe/chatscribe/internal/source"
)

// ChatRepo owns the chats table. Every write is an idempotent merge keyed by
// the source-assigned chat id: re-saving the same chat overwrites every
// mutable field and never creates a second row.
type ChatRepo interface {
	// SaveChat upserts a chat snapshot and returns the stored row.
	SaveChat(ctx context.Context, chat *source.Chat) (*Chat, error)

	// GetChat returns the chat or (nil, nil) when no row exists.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// ListChats returns all chats ordered by title.
	ListChats(ctx context.Context) ([]Chat, error)
}

type sqlxChatRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewChatRepo creates a ChatRepo backed by sqlx.
func NewChatRepo(db *sqlx.DB, logger *slog.Logger) ChatRepo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxChatRepo{db: db, logger: logger.With("component", "chat_repo")}
}

func (r *sqlxChatRepo) SaveChat(ctx context.Context, chat *source.Chat) (*Chat, error) {
	if chat == nil {
		return nil, fmt.Errorf("cannot save nil chat")
	}
	if chat.ID == 0 {
		return nil, fmt.Errorf("chat must have a non-zero id")
	}

	now := time.Now().UTC()
	row := Chat{
		ID:          chat.ID,
		ChatType:    chat.Kind,
		Title:       NullString(chat.Title),
		Username:    NullString(chat.Username),
		IsVerified:  chat.Verified,
		IsScam:      chat.Scam,
		IsFake:      chat.Fake,
		MemberCount: toNullInt32(chat.MemberCount),
		RawData:     normalize.JSON(chat.Raw),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if row.ChatType == "" {
		row.ChatType = "unknown"
	}

	query := `
        INSERT INTO chats (id, chat_type, title, username, is_verified, is_scam, is_fake, member_count, raw_data, created_at, updated_at)
        VALUES (:id, :chat_type, :title, :username, :is_verified, :is_scam, :is_fake, :member_count, :raw_data, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            chat_type    = EXCLUDED.chat_type,
            title        = EXCLUDED.title,
            username     = EXCLUDED.username,
            is_verified  = EXCLUDED.is_verified,
            is_scam      = EXCLUDED.is_scam,
            is_fake      = EXCLUDED.is_fake,
            member_count = EXCLUDED.member_count,
            raw_data     = EXCLUDED.raw_data,
            updated_at   = EXCLUDED.updated_at;
    `
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.ErrorContext(ctx, "Error saving chat", "chat_id", chat.ID, "error", err)
		return nil, fmt.Errorf("failed to save chat %d: %w", chat.ID, err)
	}

	r.logger.DebugContext(ctx, "Chat saved", "chat_id", chat.ID, "chat_type", row.ChatType)
	return &row, nil
}

func (r *sqlxChatRepo) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	err := r.db.GetContext(ctx, &chat,
		`SELECT id, chat_type, title, username, is_verified, is_scam, is_fake, member_count, raw_data, created_at, updated_at
		 FROM chats WHERE id = $1`, chatID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		r.logger.ErrorContext(ctx, "Error getting chat", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}
	return &chat, nil
}

func (r *sqlxChatRepo) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	err := r.db.SelectContext(ctx, &chats,
		`SELECT id, chat_type, title, username, is_verified, is_scam, is_fake, member_count, raw_data, created_at, updated_at
		 FROM chats ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// NullTime maps the zero time to SQL NULL.
func NullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// NullString maps the empty string to SQL NULL.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt32(n int) sql.NullInt32 {
	if n == 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(n), Valid: true}
}
