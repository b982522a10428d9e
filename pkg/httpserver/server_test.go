package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/healthprobe"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	hc := healthprobe.New()
	hc.SetReady(true)

	cfg := &Config{
		Port:          "0",
		Logger:        zap.NewNop(),
		HealthChecker: hc,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func seededAggregator() *aggregator.Manager {
	agg := aggregator.New(&aggregator.Config{Logger: zap.NewNop(), UpdateBuffer: 4})
	agg.OnQuote(&types.Quote{
		Venue:      "kucoin",
		Instrument: "BTC/USDT",
		Bid:        decimal.RequireFromString("100.00"),
		Ask:        decimal.RequireFromString("100.05"),
		BidSize:    decimal.NewFromInt(3),
		AskSize:    decimal.NewFromInt(4),
		Volume24h:  decimal.NewFromInt(12000),
		ObservedAt: time.Now(),
	})
	return agg
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doGet(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyBeforeStartupIs503(t *testing.T) {
	hc := healthprobe.New()
	s := New(&Config{Port: "0", Logger: zap.NewNop(), HealthChecker: hc})

	rec := doGet(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doGet(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.Aggregator = seededAggregator()
	})

	rec := doGet(t, s, "/api/state?instrument=BTC/USDT")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BTC/USDT", resp.Instrument)
	require.Len(t, resp.Venues, 1)
	assert.Equal(t, "kucoin", resp.Venues[0].Venue)
	assert.Equal(t, "100.05", resp.Venues[0].Ask)
	assert.False(t, resp.Venues[0].Stale)
}

func TestStateEndpointMissingInstrument(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.Aggregator = seededAggregator()
	})

	rec := doGet(t, s, "/api/state")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "instrument")
}

func TestStateEndpointUnknownInstrument(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.Aggregator = seededAggregator()
	})

	rec := doGet(t, s, "/api/state?instrument=DOGE/USDT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstrumentsEndpoint(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.Aggregator = seededAggregator()
	})

	rec := doGet(t, s, "/api/instruments")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"BTC/USDT"}, resp["instruments"])
}

func TestRiskEndpoint(t *testing.T) {
	gate := risk.New(risk.Config{
		MaxPositionsPerSymbol: 1,
		MaxTotalPositions:     5,
		MaxExchangeExposure:   decimal.NewFromInt(100000),
		MaxTotalExposure:      decimal.NewFromInt(100000),
		Logger:                zap.NewNop(),
	})
	gate.Freeze("BTC/USDT")

	s := newTestServer(t, func(cfg *Config) {
		cfg.Gate = gate
	})

	rec := doGet(t, s, "/api/risk")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap risk.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, []string{"BTC/USDT"}, snap.FrozenInstruments)
	assert.Zero(t, snap.TotalPositions)
}

func TestRouteNotMountedWithoutComponent(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doGet(t, s, "/api/risk")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
