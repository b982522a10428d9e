package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. Components close in
// pipeline order so every stage drains before its consumer goes away.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to stop venue streams and in-flight stages.
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Market data first: consume goroutines stop, update channel closes,
	// detector workers drain, then the coordinator finishes open work and
	// closes the result channel, ending the results consumer.
	if err := a.agg.Close(); err != nil {
		a.logger.Error("aggregator-close-error", zap.Error(err))
	}
	if err := a.det.Close(); err != nil {
		a.logger.Error("detector-close-error", zap.Error(err))
	}
	if err := a.coordinator.Close(); err != nil {
		a.logger.Error("coordinator-close-error", zap.Error(err))
	}

	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Error("recorder-close-error", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}
	if err := a.hub.Close(); err != nil {
		a.logger.Error("event-hub-close-error", zap.Error(err))
	}

	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")
	return nil
}
