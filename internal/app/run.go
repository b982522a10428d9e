package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taku247/omg-tool/pkg/connector"
	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.Strings("instruments", a.cfg.Instruments),
		zap.Strings("venues", a.registry.Names()),
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	if err := a.hub.Start(a.ctx); err != nil {
		return fmt.Errorf("start event hub: %w", err)
	}

	a.wg.Add(1)
	go a.runHTTPServer()

	// Subscribe every venue before detection starts so the first
	// evaluation already sees all venues.
	for _, venue := range a.registry.Names() {
		conn, _ := a.registry.Get(venue)
		events, err := conn.Subscribe(a.ctx, a.cfg.Instruments)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", venue, err)
		}
		a.pumpVenue(venue, events)
	}

	if err := a.det.Start(a.ctx); err != nil {
		return fmt.Errorf("start detector: %w", err)
	}
	if err := a.coordinator.Start(a.ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	a.wg.Add(1)
	go a.consumeResults()

	a.wg.Add(1)
	go a.resetDailyRiskStats()

	return nil
}

// pumpVenue fans one venue stream out to the aggregator, the optional
// price recorder, and the dashboard venue-status feed.
func (a *App) pumpVenue(venue string, events <-chan connector.StreamEvent) {
	aggCh := make(chan connector.StreamEvent, 256)
	a.agg.Consume(a.ctx, aggCh)

	var recCh chan connector.StreamEvent
	if a.recorder != nil {
		recCh = make(chan connector.StreamEvent, 256)
		a.recorder.Consume(recCh)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(aggCh)
		if recCh != nil {
			defer close(recCh)
		}

		for {
			select {
			case <-a.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					a.logger.Warn("venue-stream-closed", zap.String("venue", venue))
					return
				}
				switch ev.Kind {
				case connector.EventConnectionLost:
					a.hub.PublishVenueStatus(ev.Venue, true)
				case connector.EventConnectionRestored:
					a.hub.PublishVenueStatus(ev.Venue, false)
				}

				select {
				case aggCh <- ev:
				case <-a.ctx.Done():
					return
				}
				if recCh != nil {
					select {
					case recCh <- ev:
					default:
						// Recording is best effort; never stall market data.
					}
				}
			}
		}
	}()
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

// consumeResults drains terminal execution results into storage and the
// event stream. The loop ends when the coordinator closes its channel.
func (a *App) consumeResults() {
	defer a.wg.Done()

	for result := range a.coordinator.ResultChan() {
		a.hub.PublishExecutionResult(result)
		// Results still drain after the run context is cancelled; storage
		// writes get their own deadline.
		storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.store.StoreExecutionResult(storeCtx, result); err != nil {
			a.logger.Error("store-execution-result-failed",
				zap.String("position-id", result.PositionID),
				zap.Error(err))
		}
		cancel()
	}
}

// resetDailyRiskStats zeroes the gate's daily loss counter at each UTC
// midnight.
func (a *App) resetDailyRiskStats() {
	defer a.wg.Done()

	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-a.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			a.gate.ResetDailyStats()
		}
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
