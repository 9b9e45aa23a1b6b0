package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pgvector/pgvector-go"

	"github.com/chatscribe/chatscribe/internal/database"
)

// MessageStore is the slice of the message repository the engine reads from.
type MessageStore interface {
	GetMessage(ctx context.Context, chatID, messageID int64) (*database.Message, error)
	GetMessagesThread(ctx context.Context, chatID, messageID int64) ([]database.Message, error)
	GetPreviousNMessages(ctx context.Context, chatID, messageID int64, n int) ([]database.Message, error)
}

// UserStore resolves sender display names for the prompt.
type UserStore interface {
	GetUsers(ctx context.Context, ids []int64) ([]database.User, error)
}

// EnrichedStore persists the finished enrichment row.
type EnrichedStore interface {
	Save(ctx context.Context, enriched *database.EnrichedMessage) error
}

// Engine runs the two-call enrichment flow for one message at a time. A row
// is written only after both the completion and the embedding succeed; any
// failure leaves the message untouched for a later sweep.
type Engine struct {
	messages    MessageStore
	users       UserStore
	enriched    EnrichedStore
	analyzer    Analyzer
	embedder    Embedder
	logger      *slog.Logger
	window      int
	instruction string
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Messages MessageStore
	Users    UserStore
	Enriched EnrichedStore
	Analyzer Analyzer
	Embedder Embedder
	Logger   *slog.Logger

	// ContextWindow is how many preceding messages accompany the target.
	ContextWindow int

	// Instruction is the default system prompt; a chat config can override it.
	Instruction string
}

// NewEngine creates an enrichment engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	window := cfg.ContextWindow
	if window <= 0 {
		window = 50
	}
	return &Engine{
		messages:    cfg.Messages,
		users:       cfg.Users,
		enriched:    cfg.Enriched,
		analyzer:    cfg.Analyzer,
		embedder:    cfg.Embedder,
		logger:      logger.With("component", "enrich_engine"),
		window:      window,
		instruction: cfg.Instruction,
	}
}

// EnrichMessage derives and stores the enrichment row for one stored message.
// Non-text messages and messages that vanished before the call are skipped
// without error.
func (e *Engine) EnrichMessage(ctx context.Context, chatID, messageID int64, cfg *database.ChatConfig) error {
	target, err := e.messages.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to load target message: %w", err)
	}
	if target == nil {
		e.logger.DebugContext(ctx, "Message gone before enrichment, skipping",
			"chat_id", chatID, "message_id", messageID)
		return nil
	}
	if target.MessageType != "text" || target.Text() == "" {
		e.logger.DebugContext(ctx, "Skipping non-text message",
			"chat_id", chatID, "message_id", messageID, "message_type", target.MessageType)
		return nil
	}

	thread, err := e.messages.GetMessagesThread(ctx, chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to walk reply thread: %w", err)
	}
	recent, err := e.messages.GetPreviousNMessages(ctx, chatID, messageID, e.window)
	if err != nil {
		return fmt.Errorf("failed to load recent messages: %w", err)
	}

	contextMsgs := mergeContext(thread, recent, messageID)
	names, err := e.resolveNames(ctx, contextMsgs, target)
	if err != nil {
		return err
	}

	systemPrompt := e.instruction
	if cfg != nil && cfg.SystemPrompt.Valid && cfg.SystemPrompt.String != "" {
		systemPrompt = cfg.SystemPrompt.String
	}

	analysis, err := e.analyzer.Analyze(ctx, systemPrompt, buildPrompt(contextMsgs, target, names))
	if err != nil {
		return fmt.Errorf("analysis failed for message %d in chat %d: %w", messageID, chatID, err)
	}

	vector, err := e.embedder.Embed(ctx, analysis.Context+"\n"+analysis.Meaning)
	if err != nil {
		return fmt.Errorf("embedding failed for message %d in chat %d: %w", messageID, chatID, err)
	}
	if len(vector) != e.embedder.Dimensions() {
		return fmt.Errorf("embedding for message %d in chat %d has %d dimensions, expected %d",
			messageID, chatID, len(vector), e.embedder.Dimensions())
	}

	row := &database.EnrichedMessage{
		ChatID:     chatID,
		MessageID:  messageID,
		Context:    database.NullString(analysis.Context),
		Meaning:    database.NullString(analysis.Meaning),
		Embeddings: pgvector.NewVector(vector),
	}
	if err := e.enriched.Save(ctx, row); err != nil {
		return fmt.Errorf("failed to persist enrichment: %w", err)
	}

	e.logger.InfoContext(ctx, "Message enriched",
		"chat_id", chatID, "message_id", messageID, "context_messages", len(contextMsgs))
	return nil
}

func (e *Engine) resolveNames(ctx context.Context, contextMsgs []database.Message, target *database.Message) (map[int64]string, error) {
	idSet := map[int64]bool{}
	collect := func(m *database.Message) {
		if m.SenderID.Valid {
			idSet[m.SenderID.Int64] = true
		}
	}
	for i := range contextMsgs {
		collect(&contextMsgs[i])
	}
	collect(target)

	if len(idSet) == 0 {
		return map[int64]string{}, nil
	}

	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	users, err := e.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sender names: %w", err)
	}

	names := make(map[int64]string, len(users))
	for i := range users {
		names[users[i].ID] = users[i].DisplayName()
	}
	return names, nil
}
