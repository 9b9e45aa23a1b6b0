package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/chatscribe/chatscribe/internal/database"
	"github.com/chatscribe/chatscribe/internal/source"
)

type recordingEnricher struct {
	calls   []int64
	failIDs map[int64]bool
}

func (e *recordingEnricher) EnrichMessage(_ context.Context, _ int64, messageID int64, _ *database.ChatConfig) error {
	e.calls = append(e.calls, messageID)
	if e.failIDs[messageID] {
		return errors.New("model unavailable")
	}
	return nil
}

func TestEnrichSweepTask(t *testing.T) {
	t.Parallel()

	t.Run("sweeps only chats with enrichment enabled", func(t *testing.T) {
		t.Parallel()

		configs := &fakeConfigRepo{configs: []database.ChatConfig{
			{ChatID: 42, SaveMessages: true, EnrichMessages: true},
			{ChatID: 43, SaveMessages: true},
		}}
		msgs := &fakeMessageRepo{stored: map[int64]source.Message{}, unenriched: []int64{9, 8, 7}}
		enricher := &recordingEnricher{}

		task := newEnrichSweepTask(testDeps(nil, msgs, configs, enricher))
		if err := task(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}

		if len(enricher.calls) != 3 {
			t.Errorf("enriched %d messages, want 3", len(enricher.calls))
		}
	})

	t.Run("a failing message does not stop the pass", func(t *testing.T) {
		t.Parallel()

		configs := &fakeConfigRepo{configs: []database.ChatConfig{
			{ChatID: 42, EnrichMessages: true},
		}}
		msgs := &fakeMessageRepo{stored: map[int64]source.Message{}, unenriched: []int64{9, 8, 7}}
		enricher := &recordingEnricher{failIDs: map[int64]bool{8: true}}

		task := newEnrichSweepTask(testDeps(nil, msgs, configs, enricher))
		if err := task(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}

		if len(enricher.calls) != 3 {
			t.Errorf("all candidates must be attempted, got %d calls", len(enricher.calls))
		}
	})

	t.Run("without an enricher the task is a no-op", func(t *testing.T) {
		t.Parallel()

		configs := &fakeConfigRepo{configs: []database.ChatConfig{
			{ChatID: 42, EnrichMessages: true},
		}}
		msgs := &fakeMessageRepo{stored: map[int64]source.Message{}, unenriched: []int64{9}}

		task := newEnrichSweepTask(testDeps(nil, msgs, configs, nil))
		if err := task(context.Background()); err != nil {
			t.Errorf("no-op sweep must not fail: %v", err)
		}
	})
}

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()

	msgs := &fakeMessageRepo{stored: map[int64]source.Message{}}
	configs := &fakeConfigRepo{}

	withClient := RegisterAllTasks(testDeps(newHistoryClient(), msgs, configs, nil))
	for _, name := range []string{"sync_dialogs", "backfill", "enrich_sweep"} {
		if withClient[name] == nil {
			t.Errorf("task %q missing with a client configured", name)
		}
	}

	withoutClient := RegisterAllTasks(testDeps(nil, msgs, configs, nil))
	if withoutClient["enrich_sweep"] == nil {
		t.Error("enrich_sweep must run even without a client")
	}
	if withoutClient["backfill"] != nil || withoutClient["sync_dialogs"] != nil {
		t.Error("transport-bound tasks must be skipped without a client")
	}
}
