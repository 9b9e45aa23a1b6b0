package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatscribe/chatscribe/internal/source"
)

// newSyncDialogsTask creates the periodic roster sync: every dialog's chat
// snapshot, its counterpart, and its enumerable participants are merged into
// the store. A failure in one dialog never aborts the rest of the sweep.
func newSyncDialogsTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sync_dialogs")
	unsupported := false

	return func(ctx context.Context) error {
		if unsupported {
			return nil
		}

		start := time.Now()
		dialogs, err := deps.Client.Dialogs(ctx)
		if err != nil {
			if errors.Is(err, source.ErrUnsupported) {
				log.WarnContext(ctx, "Dialog listing unsupported by this client, task disabled")
				unsupported = true
				return nil
			}
			return fmt.Errorf("failed to list dialogs: %w", err)
		}

		var chats, users int
		for _, dialog := range dialogs {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if _, err := deps.Chats.SaveChat(ctx, &dialog.Chat); err != nil {
				log.ErrorContext(ctx, "Failed to save dialog chat",
					"chat_id", dialog.Chat.ID, "error", err)
				continue
			}
			chats++

			if dialog.Peer != nil {
				if _, err := deps.Users.SaveUser(ctx, dialog.Peer); err != nil {
					log.ErrorContext(ctx, "Failed to save dialog peer",
						"user_id", dialog.Peer.ID, "error", err)
				} else {
					users++
				}
			}

			users += syncParticipants(ctx, deps, dialog.Chat.ID)
		}

		log.InfoContext(ctx, "Dialog sync finished",
			"dialogs", len(dialogs), "chats_saved", chats, "users_saved", users, "duration", time.Since(start))
		return nil
	}
}

func syncParticipants(ctx context.Context, deps TaskDeps, chatID int64) int {
	participants, err := deps.Client.Participants(ctx, chatID)
	if err != nil {
		if !errors.Is(err, source.ErrUnsupported) {
			deps.Logger.WarnContext(ctx, "Failed to list participants",
				"task", "sync_dialogs", "chat_id", chatID, "error", err)
		}
		return 0
	}

	saved := 0
	for i := range participants {
		if _, err := deps.Users.SaveUser(ctx, &participants[i]); err != nil {
			deps.Logger.ErrorContext(ctx, "Failed to save participant",
				"task", "sync_dialogs", "chat_id", chatID, "user_id", participants[i].ID, "error", err)
			continue
		}
		saved++
	}
	return saved
}
