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
)

// MediaRepo owns the media table: one row per recognized attachment, keyed by
// the source content reference so re-processing the same file is a no-op
// overwrite.
type MediaRepo interface {
	SaveMedia(ctx context.Context, media *Media) error

	// GetMedia returns the row or (nil, nil) when the reference is unknown.
	GetMedia(ctx context.Context, fileReference string) (*Media, error)
}

type sqlxMediaRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewMediaRepo creates a MediaRepo backed by sqlx.
func NewMediaRepo(db *sqlx.DB, logger *slog.Logger) MediaRepo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxMediaRepo{db: db, logger: logger.With("component", "media_repo")}
}

func (r *sqlxMediaRepo) SaveMedia(ctx context.Context, media *Media) error {
	if media == nil {
		return fmt.Errorf("cannot save nil media")
	}
	if media.FileReference == "" {
		return fmt.Errorf("media must have a file reference")
	}

	now := time.Now().UTC()
	media.CreatedAt = now
	media.UpdatedAt = now

	query := `
        INSERT INTO media (file_reference, chat_id, message_id, media_type, text_description, created_at, updated_at)
        VALUES (:file_reference, :chat_id, :message_id, :media_type, :text_description, :created_at, :updated_at)
        ON CONFLICT (file_reference) DO UPDATE SET
            media_type       = EXCLUDED.media_type,
            text_description = EXCLUDED.text_description,
            updated_at       = EXCLUDED.updated_at;
    `
	if _, err := r.db.NamedExecContext(ctx, query, media); err != nil {
		r.logger.ErrorContext(ctx, "Error saving media",
			"file_reference", media.FileReference, "error", err)
		return fmt.Errorf("failed to save media %q: %w", media.FileReference, err)
	}
	return nil
}

func (r *sqlxMediaRepo) GetMedia(ctx context.Context, fileReference string) (*Media, error) {
	var media Media
	err := r.db.GetContext(ctx, &media,
		`SELECT file_reference, chat_id, message_id, media_type, text_description, created_at, updated_at
		 FROM media WHERE file_reference = $1`, fileReference)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get media %q: %w", fileReference, err)
	}
	return &media, nil
}
