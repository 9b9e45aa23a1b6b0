// Package app orchestrates the process lifecycle: the live event listener
// and the job scheduler run side by side until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/chatscribe/chatscribe/internal/scheduler"
	"github.com/chatscribe/chatscribe/internal/source/telegram"
)

// App bundles the long-running components.
type App struct {
	logger    *slog.Logger
	adapter   *telegram.Adapter // nil when running without transport credentials
	scheduler *scheduler.Scheduler
}

// New creates the orchestrator. Adapter may be nil; the scheduler alone then
// keeps the process alive.
func New(logger *slog.Logger, adapter *telegram.Adapter, sched *scheduler.Scheduler) *App {
	return &App{
		logger:    logger.With("component", "app"),
		adapter:   adapter,
		scheduler: sched,
	}
}

// Run starts all components and blocks until ctx is cancelled or a component
// fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	g, gCtx := errgroup.WithContext(ctx)

	if a.adapter != nil {
		g.Go(func() error {
			a.logger.Info("Starting event listener...")
			a.adapter.Run(gCtx)
			a.logger.Info("Event listener stopped.")

			if gCtx.Err() == nil {
				return fmt.Errorf("event listener stopped unexpectedly")
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.scheduler.Start(gCtx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
