// Package main contains the entrypoint of the chat ingestion and enrichment
// pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatscribe/chatscribe/internal/app"
	"github.com/chatscribe/chatscribe/internal/config"
	"github.com/chatscribe/chatscribe/internal/database"
	"github.com/chatscribe/chatscribe/internal/enrich"
	"github.com/chatscribe/chatscribe/internal/hooks"
	"github.com/chatscribe/chatscribe/internal/jobs"
	"github.com/chatscribe/chatscribe/internal/logger"
	"github.com/chatscribe/chatscribe/internal/scheduler"
	"github.com/chatscribe/chatscribe/internal/source/telegram"
	"github.com/chatscribe/chatscribe/internal/vision"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, starts the application, and returns the
// process exit code.
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer database.CloseDB(db)

	chats := database.NewChatRepo(db, log)
	users := database.NewUserRepo(db, log)
	messages := database.NewMessageRepo(db, log)
	configs := database.NewChatConfigRepo(db, log)
	media := database.NewMediaRepo(db, log)
	enriched := database.NewEnrichedRepo(db, log)

	llm, err := enrich.NewClient(enrich.ClientConfig{
		Token:               cfg.AI.Token,
		BaseURL:             cfg.AI.BaseURL,
		Model:               cfg.AI.Model,
		EmbeddingModel:      cfg.AI.EmbeddingModel,
		EmbeddingDimensions: cfg.AI.EmbeddingDimensions,
		Temperature:         cfg.AI.Temperature,
		Timeout:             cfg.AI.Timeout,
	})
	if err != nil {
		log.Error("Failed to create model client", "error", err)
		return 1
	}

	engine := enrich.NewEngine(enrich.EngineConfig{
		Messages:      messages,
		Users:         users,
		Enriched:      enriched,
		Analyzer:      llm,
		Embedder:      llm,
		Logger:        log,
		ContextWindow: cfg.Pipeline.ContextWindow,
		Instruction:   cfg.AI.Instruction,
	})

	var describer vision.Describer
	if cfg.Vision.APIKey != "" {
		describer, err = vision.NewClient(ctx, vision.Config{
			APIKey: cfg.Vision.APIKey,
			Model:  cfg.Vision.Model,
		}, log)
		if err != nil {
			log.Error("Failed to create vision client", "error", err)
			return 1
		}
	} else {
		log.Warn("No vision API key configured, photo recognition disabled")
	}

	eventHooks := hooks.New(hooks.Config{
		Stores: hooks.Stores{
			Chats:    chats,
			Users:    users,
			Messages: messages,
			Configs:  configs,
			Media:    media,
		},
		Enricher:  engine,
		Describer: describer,
		Logger:    log,
	})

	// The adapter is optional: without a token the live hooks and the
	// transport-bound jobs stay off, the enrichment sweep keeps running.
	var adapter *telegram.Adapter
	if cfg.Telegram.Token != "" {
		adapter, err = telegram.New(cfg.Telegram.Token, log, eventHooks)
		if err != nil {
			log.Error("Failed to create telegram adapter", "error", err)
			return 1
		}
		if _, err := adapter.Authorized(ctx); err != nil {
			log.Warn("Source authorization failed, running without a live source", "error", err)
			adapter = nil
		} else {
			eventHooks.BindClient(adapter)
		}
	} else {
		log.Warn("No telegram token configured, running without a live source")
	}

	taskDeps := jobs.TaskDeps{
		Logger:   log,
		Chats:    chats,
		Users:    users,
		Messages: messages,
		Configs:  configs,
		Enricher: engine,
		Pipeline: jobs.PipelineConfig{
			BackfillBatchSize: cfg.Pipeline.BackfillBatchSize,
			BackfillPause:     cfg.Pipeline.BackfillPause,
			EnrichLimit:       cfg.Pipeline.EnrichLimit,
		},
	}
	if adapter != nil {
		taskDeps.Client = adapter
	}

	sched, err := scheduler.New(log, &cfg.Scheduler, jobs.RegisterAllTasks(taskDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	runErr := app.New(log, adapter, sched).Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Application stopped due to error", "error", runErr)
		return 1
	}
	return 0
}
