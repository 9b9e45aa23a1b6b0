// Package jobs implements the periodic half of the pipeline: dialog sync,
// history backfill, and the enrichment sweep. The jobs converge on the same
// tables as the live hooks through idempotent upserts, so both paths can run
// concurrently without coordination.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatscribe/chatscribe/internal/database"
	"github.com/chatscribe/chatscribe/internal/source"
)

// ScheduledTaskFunc is the signature every scheduled task exposes to the
// scheduler. The context carries the scheduler's cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// Enricher runs the two-call enrichment flow for one stored message.
type Enricher interface {
	EnrichMessage(ctx context.Context, chatID, messageID int64, cfg *database.ChatConfig) error
}

// PipelineConfig tunes the periodic jobs.
type PipelineConfig struct {
	// BackfillBatchSize is the page size of one history request.
	BackfillBatchSize int

	// BackfillPause is the courtesy pause between history pages.
	BackfillPause time.Duration

	// EnrichLimit caps how many messages one sweep pass enriches per chat.
	EnrichLimit int
}

// TaskDeps contains all dependencies required by the scheduled tasks. Client
// is nil when the process runs without transport credentials; tasks that need
// it are then not registered.
type TaskDeps struct {
	Logger   *slog.Logger
	Client   source.Client
	Chats    database.ChatRepo
	Users    database.UserRepo
	Messages database.MessageRepo
	Configs  database.ChatConfigRepo
	Enricher Enricher
	Pipeline PipelineConfig
}
