package jobs

import (
	"context"
	"fmt"
	"time"
)

const defaultEnrichLimit = 25

// newEnrichSweepTask creates the periodic repair pass: messages that were
// stored without an enrichment row (inline failure, backfill, restart) are
// picked up and enriched, newest first.
func newEnrichSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "enrich_sweep")

	return func(ctx context.Context) error {
		if deps.Enricher == nil {
			return nil
		}

		configs, err := deps.Configs.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to list chat configs: %w", err)
		}

		limit := deps.Pipeline.EnrichLimit
		if limit <= 0 {
			limit = defaultEnrichLimit
		}

		start := time.Now()
		var enriched, failed int
		for i := range configs {
			cfg := &configs[i]
			if !cfg.EnrichMessages {
				continue
			}

			ids, err := deps.Messages.GetUnenrichedMessages(ctx, cfg.ChatID, limit)
			if err != nil {
				log.ErrorContext(ctx, "Failed to find unenriched messages",
					"chat_id", cfg.ChatID, "error", err)
				continue
			}

			for _, id := range ids {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := deps.Enricher.EnrichMessage(ctx, cfg.ChatID, id, cfg); err != nil {
					// Leave the message for the next pass.
					log.ErrorContext(ctx, "Sweep enrichment failed",
						"chat_id", cfg.ChatID, "message_id", id, "error", err)
					failed++
					continue
				}
				enriched++
			}
		}

		if enriched > 0 || failed > 0 {
			log.InfoContext(ctx, "Enrichment sweep finished",
				"enriched", enriched, "failed", failed, "duration", time.Since(start))
		}
		return nil
	}
}
