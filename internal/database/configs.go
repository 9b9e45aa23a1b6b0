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

// ChatConfigRepo owns the chat_configs table. Configuration is opt-in per
// chat: the absence of a row disables every pipeline stage for that chat.
type ChatConfigRepo interface {
	// Get returns the config or (nil, nil) when the chat has none.
	Get(ctx context.Context, chatID int64) (*ChatConfig, error)

	// ListAll returns every configured chat.
	ListAll(ctx context.Context) ([]ChatConfig, error)

	// CreateOrUpdate upserts a config row.
	CreateOrUpdate(ctx context.Context, cfg *ChatConfig) error

	// Delete removes a config row; deleting an absent row is not an error.
	Delete(ctx context.Context, chatID int64) error
}

type sqlxChatConfigRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewChatConfigRepo creates a ChatConfigRepo backed by sqlx.
func NewChatConfigRepo(db *sqlx.DB, logger *slog.Logger) ChatConfigRepo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxChatConfigRepo{db: db, logger: logger.With("component", "chat_config_repo")}
}

func (r *sqlxChatConfigRepo) Get(ctx context.Context, chatID int64) (*ChatConfig, error) {
	var cfg ChatConfig
	err := r.db.GetContext(ctx, &cfg,
		`SELECT chat_id, save_messages, enrich_messages, recognize_photo, load_from_date, system_prompt, answer_threshold
		 FROM chat_configs WHERE chat_id = $1`, chatID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get config for chat %d: %w", chatID, err)
	}
	return &cfg, nil
}

func (r *sqlxChatConfigRepo) ListAll(ctx context.Context) ([]ChatConfig, error) {
	var cfgs []ChatConfig
	err := r.db.SelectContext(ctx, &cfgs,
		`SELECT chat_id, save_messages, enrich_messages, recognize_photo, load_from_date, system_prompt, answer_threshold
		 FROM chat_configs ORDER BY chat_id`)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing chat configs", "error", err)
		return nil, fmt.Errorf("failed to list chat configs: %w", err)
	}
	return cfgs, nil
}

func (r *sqlxChatConfigRepo) CreateOrUpdate(ctx context.Context, cfg *ChatConfig) error {
	if cfg == nil {
		return fmt.Errorf("cannot save nil chat config")
	}

	query := `
        INSERT INTO chat_configs (chat_id, save_messages, enrich_messages, recognize_photo, load_from_date, system_prompt, answer_threshold)
        VALUES (:chat_id, :save_messages, :enrich_messages, :recognize_photo, :load_from_date, :system_prompt, :answer_threshold)
        ON CONFLICT (chat_id) DO UPDATE SET
            save_messages    = EXCLUDED.save_messages,
            enrich_messages  = EXCLUDED.enrich_messages,
            recognize_photo  = EXCLUDED.recognize_photo,
            load_from_date   = EXCLUDED.load_from_date,
            system_prompt    = EXCLUDED.system_prompt,
            answer_threshold = EXCLUDED.answer_threshold;
    `
	if _, err := r.db.NamedExecContext(ctx, query, cfg); err != nil {
		return fmt.Errorf("failed to save config for chat %d: %w", cfg.ChatID, err)
	}
	return nil
}

func (r *sqlxChatConfigRepo) Delete(ctx context.Context, chatID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_configs WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("failed to delete config for chat %d: %w", chatID, err)
	}
	return nil
}
