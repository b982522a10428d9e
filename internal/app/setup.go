package app

import (
	"context"
	"fmt"
	"time"

	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/detector"
	"github.com/taku247/omg-tool/internal/eventstream"
	"github.com/taku247/omg-tool/internal/execution"
	"github.com/taku247/omg-tool/internal/paper"
	"github.com/taku247/omg-tool/internal/recorder"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/internal/storage"
	"github.com/taku247/omg-tool/pkg/config"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/fees"
	"github.com/taku247/omg-tool/pkg/healthprobe"
	"github.com/taku247/omg-tool/pkg/httpserver"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := healthprobe.New()
	hub := eventstream.NewHub(logger)

	registry := setupRegistry(cfg, logger, opts)

	agg := aggregator.New(&aggregator.Config{
		Logger:       logger,
		UpdateBuffer: 1024,
	})

	rateCache, err := fees.NewRateCache(&fees.RateCacheConfig{
		TTL:    time.Hour,
		Logger: logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup fee rate cache: %w", err)
	}
	feeProvider := fees.NewCachedProvider(&fees.CachedConfig{
		Registry: registry,
		Fallback: fees.NewStaticProvider(cfg.Fees),
		Cache:    rateCache,
		Logger:   logger,
	})

	store, err := setupStorage(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	// Opportunities reach the dashboard and storage on the publish path,
	// and the coordinator through the detector's output channel.
	det := detector.New(detector.Config{
		MinSpreadThreshold:     cfg.MinSpreadThreshold,
		MaxPositionSize:        cfg.MaxPositionSize,
		MinProfitThreshold:     cfg.MinProfitThreshold,
		LiquidityFraction:      cfg.LiquidityFraction,
		EnableDetailedAnalysis: cfg.EnableDetailedAnalysis,
		StalenessBound:         cfg.StalenessBound,
		Workers:                cfg.DetectionWorkers,
		Logger:                 logger,
	}, agg, feeProvider, &opportunityPublisher{
		ctx:    ctx,
		hub:    hub,
		store:  store,
		logger: logger,
	})

	gate := risk.New(risk.Config{
		MaxPositionsPerSymbol: cfg.MaxPositionsPerSymbol,
		MaxTotalPositions:     cfg.MaxTotalPositions,
		MaxExchangeExposure:   cfg.MaxExchangeExposure,
		MaxTotalExposure:      cfg.MaxTotalExposure,
		MaxDailyLoss:          cfg.MaxDailyLoss,
		MaxDrawdown:           cfg.MaxDrawdown,
		MaxSlippagePct:        cfg.MaxSlippagePct,
		MinExchangeBalance:    cfg.MinExchangeBalance,
		CooldownPeriod:        cfg.CooldownPeriod,
		Logger:                logger,
	})

	coordinator := execution.New(execution.Config{
		ConcurrentLegs:      cfg.ConcurrentLegs,
		OrderTimeout:        cfg.OrderTimeout,
		ExitThreshold:       cfg.ExitThreshold,
		StopLossPct:         cfg.StopLossPct,
		MaxPositionDuration: cfg.MaxPositionDuration,
		ExitCheckInterval:   cfg.ExitCheckInterval,
		Logger:              logger,
	}, registry, gate, agg, det.OpportunityChan(), hub)

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Aggregator:    agg,
		Gate:          gate,
		Coordinator:   coordinator,
		Hub:           hub,
	})

	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		hub:           hub,
		registry:      registry,
		agg:           agg,
		det:           det,
		gate:          gate,
		coordinator:   coordinator,
		store:         store,
		ctx:           ctx,
		cancel:        cancel,
	}
	if opts.RecordPrices {
		a.recorder = recorder.New(cfg.RecordDir, logger)
	}
	return a, nil
}

// setupRegistry builds the venue registry from the supplied adapters, or
// from configured paper venues when none were registered.
func setupRegistry(cfg *config.Config, logger *zap.Logger, opts *Options) *connector.Registry {
	conns := opts.Connectors
	if len(conns) == 0 {
		logger.Info("no-venue-adapters-registered-using-paper-venues",
			zap.Strings("venues", cfg.PaperVenues))
		for i, name := range cfg.PaperVenues {
			conns = append(conns, paper.New(paper.Config{
				Name:          name,
				Instruments:   cfg.Instruments,
				VolatilityPct: cfg.PaperVolatility,
				TickInterval:  cfg.PaperTickEvery,
				TakerFee:      cfg.FeesFor(name).Taker,
				Seed:          int64(i + 1),
				Logger:        logger,
			}))
		}
	}
	return connector.NewRegistry(conns...)
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pgStorage, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStorage, nil
	}

	return storage.NewConsoleStorage(logger), nil
}

// opportunityPublisher fans a detected opportunity out to the event stream
// and storage. Storage writes happen off the detection worker.
type opportunityPublisher struct {
	ctx    context.Context
	hub    *eventstream.Hub
	store  storage.Storage
	logger *zap.Logger
}

func (p *opportunityPublisher) PublishOpportunity(opp *types.Opportunity) {
	p.hub.PublishOpportunity(opp)
	go func() {
		if err := p.store.StoreOpportunity(p.ctx, opp); err != nil {
			p.logger.Error("store-opportunity-failed",
				zap.String("opportunity-id", opp.ID),
				zap.Error(err))
		}
	}()
}
