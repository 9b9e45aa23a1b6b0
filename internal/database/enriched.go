package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// EnrichedRepo owns the messages_enriched table, the 1:1 derived companion of
// messages. Rows appear only after both model calls succeed.
type EnrichedRepo interface {
	// Save upserts the enrichment row for one message.
	Save(ctx context.Context, enriched *EnrichedMessage) error

	// Get returns the enrichment row or (nil, nil) when none exists.
	Get(ctx context.Context, chatID, messageID int64) (*EnrichedMessage, error)

	// GetAll returns every enrichment row.
	GetAll(ctx context.Context) ([]EnrichedMessage, error)

	// CountForChat reports how many messages of the chat are enriched.
	CountForChat(ctx context.Context, chatID int64) (int64, error)
}

type sqlxEnrichedRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewEnrichedRepo creates an EnrichedRepo backed by sqlx.
func NewEnrichedRepo(db *sqlx.DB, logger *slog.Logger) EnrichedRepo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxEnrichedRepo{db: db, logger: logger.With("component", "enriched_repo")}
}

func (r *sqlxEnrichedRepo) Save(ctx context.Context, enriched *EnrichedMessage) error {
	if enriched == nil {
		return fmt.Errorf("cannot save nil enrichment")
	}

	query := `
        INSERT INTO messages_enriched (chat_id, message_id, context, meaning, embeddings)
        VALUES (:chat_id, :message_id, :context, :meaning, :embeddings)
        ON CONFLICT (chat_id, message_id) DO UPDATE SET
            context    = EXCLUDED.context,
            meaning    = EXCLUDED.meaning,
            embeddings = EXCLUDED.embeddings;
    `
	if _, err := r.db.NamedExecContext(ctx, query, enriched); err != nil {
		r.logger.ErrorContext(ctx, "Error saving enrichment",
			"chat_id", enriched.ChatID, "message_id", enriched.MessageID, "error", err)
		return fmt.Errorf("failed to save enrichment for message %d in chat %d: %w",
			enriched.MessageID, enriched.ChatID, err)
	}
	return nil
}

func (r *sqlxEnrichedRepo) Get(ctx context.Context, chatID, messageID int64) (*EnrichedMessage, error) {
	var enriched EnrichedMessage
	err := r.db.GetContext(ctx, &enriched,
		`SELECT chat_id, message_id, context, meaning, embeddings
		 FROM messages_enriched WHERE chat_id = $1 AND message_id = $2`, chatID, messageID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get enrichment for message %d in chat %d: %w", messageID, chatID, err)
	}
	return &enriched, nil
}

func (r *sqlxEnrichedRepo) GetAll(ctx context.Context) ([]EnrichedMessage, error) {
	var rows []EnrichedMessage
	err := r.db.SelectContext(ctx, &rows,
		`SELECT chat_id, message_id, context, meaning, embeddings
		 FROM messages_enriched ORDER BY chat_id, message_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrichments: %w", err)
	}
	return rows, nil
}

func (r *sqlxEnrichedRepo) CountForChat(ctx context.Context, chatID int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages_enriched WHERE chat_id = $1`, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrichments for chat %d: %w", chatID, err)
	}
	return count, nil
}
