package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatscribe/chatscribe/internal/database"
	"github.com/chatscribe/chatscribe/internal/source"
)

const (
	defaultBackfillBatchSize = 100
	defaultBackfillPause     = 2 * time.Second
)

// newBackfillTask creates the periodic history walk. For every chat with
// save_messages enabled, it pages backwards from the oldest stored message
// until the history is exhausted or the chat's load floor is reached.
func newBackfillTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "backfill")
	unsupported := false

	return func(ctx context.Context) error {
		if unsupported {
			return nil
		}

		configs, err := deps.Configs.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to list chat configs: %w", err)
		}

		for i := range configs {
			cfg := &configs[i]
			if !cfg.SaveMessages {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err := backfillChat(ctx, deps, cfg); err != nil {
				if errors.Is(err, source.ErrUnsupported) {
					log.WarnContext(ctx, "History pagination unsupported by this client, task disabled")
					unsupported = true
					return nil
				}
				log.ErrorContext(ctx, "Backfill failed for chat, moving on",
					"chat_id", cfg.ChatID, "error", err)
			}
		}
		return nil
	}
}

// backfillChat walks one chat's history backwards. The watermark is the
// oldest stored message id; each page must move it further down or the walk
// stops. A load floor only filters what gets persisted, never what gets
// paged, so the watermark keeps advancing past filtered pages.
func backfillChat(ctx context.Context, deps TaskDeps, cfg *database.ChatConfig) error {
	log := deps.Logger.With("task", "backfill", "chat_id", cfg.ChatID)

	batchSize := deps.Pipeline.BackfillBatchSize
	if batchSize <= 0 {
		batchSize = defaultBackfillBatchSize
	}
	pause := deps.Pipeline.BackfillPause
	if pause <= 0 {
		pause = defaultBackfillPause
	}

	if err := ensureChatRow(ctx, deps, cfg.ChatID); err != nil {
		return err
	}

	offsetID, err := deps.Messages.GetFirstMessageID(ctx, cfg.ChatID)
	if err != nil {
		return fmt.Errorf("failed to read backfill watermark: %w", err)
	}

	var totalSaved int64
	for {
		page, err := deps.Client.History(ctx, cfg.ChatID, offsetID, batchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		oldest := page[0].ID
		keep := make([]source.Message, 0, len(page))
		floorReached := false
		for i := range page {
			msg := &page[i]
			if msg.ID < oldest {
				oldest = msg.ID
			}
			if msg.IsAction {
				continue
			}
			if cfg.LoadFromDate.Valid && msg.Date.Before(cfg.LoadFromDate.Time) {
				floorReached = true
				continue
			}
			keep = append(keep, page[i])
		}

		saved, err := deps.Messages.SaveBatch(ctx, keep)
		if err != nil {
			return fmt.Errorf("failed to persist history page: %w", err)
		}
		totalSaved += saved

		// The watermark must strictly advance, or the walk would spin on
		// the same page forever.
		if offsetID != 0 && oldest >= offsetID {
			log.WarnContext(ctx, "History watermark did not advance, stopping",
				"offset_id", offsetID, "oldest_in_page", oldest)
			break
		}
		offsetID = oldest

		if floorReached {
			log.DebugContext(ctx, "Reached the chat's load floor", "offset_id", offsetID)
			break
		}

		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if totalSaved > 0 {
		log.InfoContext(ctx, "Backfill pass finished", "messages_saved", totalSaved)
	}
	return nil
}

// ensureChatRow makes sure the chat exists before message rows reference it.
func ensureChatRow(ctx context.Context, deps TaskDeps, chatID int64) error {
	existing, err := deps.Chats.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	info, err := deps.Client.ChatInfo(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to resolve chat %d: %w", chatID, err)
	}
	if _, err := deps.Chats.SaveChat(ctx, info); err != nil {
		return err
	}
	return nil
}
