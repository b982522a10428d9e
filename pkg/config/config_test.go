package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Instruments)
	assert.True(t, cfg.MinSpreadThreshold.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, cfg.LiquidityFraction.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, 5*time.Second, cfg.StalenessBound)
	assert.Equal(t, 3, cfg.MaxPositionsPerSymbol)
	assert.Equal(t, 10, cfg.MaxTotalPositions)
	assert.False(t, cfg.EnableDetailedAnalysis)
	assert.Equal(t, "console", cfg.StorageMode)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("MIN_SPREAD_THRESHOLD", "0.1")
	t.Setenv("EXIT_THRESHOLD", "0.05")
	t.Setenv("INSTRUMENTS", "BTC, SOL ,")
	t.Setenv("ENABLE_DETAILED_ANALYSIS", "true")
	t.Setenv("COOLDOWN_PERIOD", "90s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.MinSpreadThreshold.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, []string{"BTC", "SOL"}, cfg.Instruments)
	assert.True(t, cfg.EnableDetailedAnalysis)
	assert.Equal(t, 90*time.Second, cfg.CooldownPeriod)
}

func TestLoadFeeRates(t *testing.T) {
	t.Setenv("FEE_KUCOIN_TAKER", "0.001")
	t.Setenv("FEE_KUCOIN_MAKER", "0.0008")
	t.Setenv("FEE_GATEIO_TAKER", "0.002")
	t.Setenv("FEE_BAD_RATE_TAKER", "not-a-number")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	ku := cfg.FeesFor("kucoin")
	assert.True(t, ku.Taker.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, ku.Maker.Equal(decimal.RequireFromString("0.0008")))

	gate := cfg.FeesFor("GATEIO")
	assert.True(t, gate.Taker.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, gate.Maker.IsZero())

	// Unparseable rates are skipped, unconfigured venues get zero rates.
	assert.True(t, cfg.FeesFor("bad_rate").Taker.IsZero())
	assert.True(t, cfg.FeesFor("unknown").Taker.IsZero())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero-spread-threshold",
			mutate:  func(c *Config) { c.MinSpreadThreshold = decimal.Zero },
			wantErr: "MIN_SPREAD_THRESHOLD",
		},
		{
			name:    "exit-above-entry",
			mutate:  func(c *Config) { c.ExitThreshold = c.MinSpreadThreshold.Add(decimal.NewFromInt(1)) },
			wantErr: "EXIT_THRESHOLD",
		},
		{
			name:    "liquidity-fraction-above-one",
			mutate:  func(c *Config) { c.LiquidityFraction = decimal.NewFromInt(2) },
			wantErr: "LIQUIDITY_FRACTION",
		},
		{
			name:    "no-instruments",
			mutate:  func(c *Config) { c.Instruments = nil },
			wantErr: "INSTRUMENTS",
		},
		{
			name:    "bad-storage-mode",
			mutate:  func(c *Config) { c.StorageMode = "redis" },
			wantErr: "STORAGE_MODE",
		},
		{
			name:    "zero-workers",
			mutate:  func(c *Config) { c.DetectionWorkers = 0 },
			wantErr: "DETECTION_WORKERS",
		},
		{
			name:    "zero-daily-loss",
			mutate:  func(c *Config) { c.MaxDailyLoss = decimal.Zero },
			wantErr: "MAX_DAILY_LOSS",
		},
		{
			name:    "negative-drawdown",
			mutate:  func(c *Config) { c.MaxDrawdown = decimal.NewFromInt(-1) },
			wantErr: "MAX_DRAWDOWN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromEnv()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
