package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chatscribe/chatscribe/internal/database"
)

type fakeMessageStore struct {
	msgs map[int64]database.Message
}

func (s *fakeMessageStore) GetMessage(_ context.Context, _ int64, messageID int64) (*database.Message, error) {
	if m, ok := s.msgs[messageID]; ok {
		return &m, nil
	}
	return nil, nil
}

func (s *fakeMessageStore) GetMessagesThread(ctx context.Context, chatID, messageID int64) ([]database.Message, error) {
	var thread []database.Message
	current, _ := s.GetMessage(ctx, chatID, messageID)
	for current != nil {
		replyID, ok := current.ReplyToID()
		if !ok {
			break
		}
		parent, _ := s.GetMessage(ctx, chatID, replyID)
		if parent == nil {
			break
		}
		thread = append([]database.Message{*parent}, thread...)
		current = parent
	}
	return thread, nil
}

func (s *fakeMessageStore) GetPreviousNMessages(_ context.Context, _ int64, messageID int64, n int) ([]database.Message, error) {
	var out []database.Message
	for id := messageID - int64(n); id < messageID; id++ {
		if m, ok := s.msgs[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeUserStore struct {
	users map[int64]database.User
}

func (s *fakeUserStore) GetUsers(_ context.Context, ids []int64) ([]database.User, error) {
	var out []database.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeEnrichedStore struct {
	saved []database.EnrichedMessage
}

func (s *fakeEnrichedStore) Save(_ context.Context, e *database.EnrichedMessage) error {
	s.saved = append(s.saved, *e)
	return nil
}

type fakeLLM struct {
	analysis     *Analysis
	analyzeErr   error
	embedErr     error
	dimensions   int
	lastSystem   string
	lastPrompt   string
	embeddedText string
}

func (f *fakeLLM) Analyze(_ context.Context, systemPrompt, prompt string) (*Analysis, error) {
	f.lastSystem = systemPrompt
	f.lastPrompt = prompt
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.analysis, nil
}

func (f *fakeLLM) Embed(_ context.Context, text string) ([]float32, error) {
	f.embeddedText = text
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return make([]float32, f.dimensions), nil
}

func (f *fakeLLM) Dimensions() int { return 4096 }

func newTestEngine(store *fakeMessageStore, enriched *fakeEnrichedStore, llm *fakeLLM) *Engine {
	return NewEngine(EngineConfig{
		Messages:      store,
		Users:         &fakeUserStore{users: map[int64]database.User{5: {ID: 5, Username: database.NullString("ada")}}},
		Enriched:      enriched,
		Analyzer:      llm,
		Embedder:      llm,
		ContextWindow: 50,
		Instruction:   "default instruction",
	})
}

func TestEnrichMessage(t *testing.T) {
	t.Parallel()

	t.Run("full round trip writes exactly one row", func(t *testing.T) {
		t.Parallel()

		store := &fakeMessageStore{msgs: map[int64]database.Message{
			6: textMessage(t, 42, 6, 5, "how are you", 0),
			7: textMessage(t, 42, 7, 5, "hello", 0),
		}}
		enriched := &fakeEnrichedStore{}
		llm := &fakeLLM{
			analysis:   &Analysis{Context: "greeting exchange", Meaning: "a greeting"},
			dimensions: 4096,
		}

		if err := newTestEngine(store, enriched, llm).EnrichMessage(context.Background(), 42, 7, nil); err != nil {
			t.Fatalf("EnrichMessage: %v", err)
		}

		if len(enriched.saved) != 1 {
			t.Fatalf("expected exactly one enrichment row, got %d", len(enriched.saved))
		}
		row := enriched.saved[0]
		if row.ChatID != 42 || row.MessageID != 7 {
			t.Errorf("row keyed (%d, %d), want (42, 7)", row.ChatID, row.MessageID)
		}
		if row.Context.String != "greeting exchange" || row.Meaning.String != "a greeting" {
			t.Error("analysis fields were not persisted verbatim")
		}
		if got := len(row.Embeddings.Slice()); got != 4096 {
			t.Errorf("stored vector has %d dimensions, want 4096", got)
		}
		if llm.embeddedText != "greeting exchange\na greeting" {
			t.Errorf("embedded text = %q", llm.embeddedText)
		}
		if llm.lastSystem != "default instruction" {
			t.Errorf("system prompt = %q, want the default instruction", llm.lastSystem)
		}
	})

	t.Run("chat config overrides the system prompt", func(t *testing.T) {
		t.Parallel()

		store := &fakeMessageStore{msgs: map[int64]database.Message{
			7: textMessage(t, 42, 7, 5, "hello", 0),
		}}
		llm := &fakeLLM{
			analysis:   &Analysis{Context: "c", Meaning: "m"},
			dimensions: 4096,
		}
		cfg := &database.ChatConfig{ChatID: 42, SystemPrompt: database.NullString("be terse")}

		if err := newTestEngine(store, &fakeEnrichedStore{}, llm).EnrichMessage(context.Background(), 42, 7, cfg); err != nil {
			t.Fatalf("EnrichMessage: %v", err)
		}
		if llm.lastSystem != "be terse" {
			t.Errorf("system prompt = %q, want the chat override", llm.lastSystem)
		}
	})

	t.Run("analysis failure writes nothing", func(t *testing.T) {
		t.Parallel()

		store := &fakeMessageStore{msgs: map[int64]database.Message{
			7: textMessage(t, 42, 7, 5, "hello", 0),
		}}
		enriched := &fakeEnrichedStore{}
		llm := &fakeLLM{analyzeErr: errors.New("contract violation"), dimensions: 4096}

		if err := newTestEngine(store, enriched, llm).EnrichMessage(context.Background(), 42, 7, nil); err == nil {
			t.Fatal("expected analysis failure to propagate")
		}
		if len(enriched.saved) != 0 {
			t.Error("no row may be written when the completion fails")
		}
	})

	t.Run("wrong embedding width writes nothing", func(t *testing.T) {
		t.Parallel()

		store := &fakeMessageStore{msgs: map[int64]database.Message{
			7: textMessage(t, 42, 7, 5, "hello", 0),
		}}
		enriched := &fakeEnrichedStore{}
		llm := &fakeLLM{
			analysis:   &Analysis{Context: "c", Meaning: "m"},
			dimensions: 1536,
		}

		if err := newTestEngine(store, enriched, llm).EnrichMessage(context.Background(), 42, 7, nil); err == nil {
			t.Fatal("expected a dimension mismatch error")
		}
		if len(enriched.saved) != 0 {
			t.Error("no row may be written on a dimension mismatch")
		}
	})

	t.Run("missing and non-text messages are skipped silently", func(t *testing.T) {
		t.Parallel()

		photo := textMessage(t, 42, 8, 5, "", 0)
		photo.MessageType = "photo"
		store := &fakeMessageStore{msgs: map[int64]database.Message{8: photo}}
		enriched := &fakeEnrichedStore{}
		llm := &fakeLLM{analysis: &Analysis{Context: "c", Meaning: "m"}, dimensions: 4096}
		engine := newTestEngine(store, enriched, llm)

		if err := engine.EnrichMessage(context.Background(), 42, 999, nil); err != nil {
			t.Errorf("missing message should not error: %v", err)
		}
		if err := engine.EnrichMessage(context.Background(), 42, 8, nil); err != nil {
			t.Errorf("non-text message should not error: %v", err)
		}
		if len(enriched.saved) != 0 {
			t.Error("skipped messages must not produce rows")
		}
	})

	t.Run("reply thread lands in the prompt", func(t *testing.T) {
		t.Parallel()

		store := &fakeMessageStore{msgs: map[int64]database.Message{
			1: textMessage(t, 42, 1, 5, "root question", 0),
			7: textMessage(t, 42, 7, 5, "answer", 1),
		}}
		llm := &fakeLLM{analysis: &Analysis{Context: "c", Meaning: "m"}, dimensions: 4096}

		if err := newTestEngine(store, &fakeEnrichedStore{}, llm).EnrichMessage(context.Background(), 42, 7, nil); err != nil {
			t.Fatalf("EnrichMessage: %v", err)
		}
		if want := `Message 1: from ada: "root question"`; !strings.Contains(llm.lastPrompt, want) {
			t.Errorf("prompt is missing the thread ancestor:\n%s", llm.lastPrompt)
		}
	})
}
