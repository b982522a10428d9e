package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taku247/omg-tool/pkg/config"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HTTP_PORT", "0")
	t.Setenv("STORAGE_MODE", "console")
	t.Setenv("PAPER_TICK_INTERVAL", "10ms")
	t.Setenv("INSTRUMENTS", "BTC/USDT")
	// Keep the random walks from actually trading during the smoke test.
	t.Setenv("MIN_SPREAD_THRESHOLD", "50")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	return cfg
}

func TestAppWiresPaperVenuesEndToEnd(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, a.startComponents())
	a.healthChecker.SetReady(true)

	// Paper venue quotes must reach the aggregator through the pump.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.agg.CurrentState("BTC/USDT")) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Len(t, a.agg.CurrentState("BTC/USDT"), 2, "both paper venues should be streaming")

	require.NoError(t, a.Shutdown())
}

func TestAppShutdownIsIdempotentWithNoTraffic(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, a.startComponents())
	require.NoError(t, a.Shutdown())
}
