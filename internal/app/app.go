// Package app wires the engine together: venue streams into the aggregator,
// aggregator updates into the detector, detected opportunities through the
// risk gate into the execution coordinator, and terminal results out to
// storage and the event stream.
package app

import (
	"context"
	"sync"

	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/detector"
	"github.com/taku247/omg-tool/internal/eventstream"
	"github.com/taku247/omg-tool/internal/execution"
	"github.com/taku247/omg-tool/internal/recorder"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/internal/storage"
	"github.com/taku247/omg-tool/pkg/config"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/healthprobe"
	"github.com/taku247/omg-tool/pkg/httpserver"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	hub           *eventstream.Hub
	registry      *connector.Registry
	agg           *aggregator.Manager
	det           *detector.Detector
	gate          *risk.Gate
	coordinator   *execution.Coordinator
	store         storage.Storage
	recorder      *recorder.Recorder
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// Connectors are the venue adapters to trade on. When empty, paper
	// venues from the configuration are used instead.
	Connectors []connector.Connector

	// RecordPrices appends every received quote to the CSV price log.
	RecordPrices bool
}
