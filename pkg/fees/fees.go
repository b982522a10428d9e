// Package fees resolves per-venue trading fee rates. Venues publish rates via
// their API; lookups are cached because rates change rarely and the detector
// asks on every evaluation.
package fees

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/config"
	"github.com/taku247/omg-tool/pkg/connector"
	"go.uber.org/zap"
)

// Rates is one venue's maker/taker fee fractions for an instrument.
type Rates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// RoundTripTaker returns the taker cost of a full two-leg round trip as a
// fraction (buy taker + sell taker).
func (r Rates) RoundTripTaker(sell Rates) decimal.Decimal {
	return r.Taker.Add(sell.Taker)
}

// Provider resolves fee rates for a (venue, instrument) pair.
type Provider interface {
	Rates(ctx context.Context, venue, instrument string) (Rates, error)
}

// StaticProvider serves rates from configuration only.
type StaticProvider struct {
	rates map[string]config.FeeRates
}

// NewStaticProvider builds a provider over configured per-venue rates.
func NewStaticProvider(rates map[string]config.FeeRates) *StaticProvider {
	return &StaticProvider{rates: rates}
}

// Rates returns the configured rates for a venue; zero rates if unknown.
func (p *StaticProvider) Rates(_ context.Context, venue, _ string) (Rates, error) {
	fr := p.rates[strings.ToLower(venue)]
	return Rates{Maker: fr.Maker, Taker: fr.Taker}, nil
}

// CachedProvider queries venues through their connectors and caches results,
// falling back to configured static rates when the venue call fails.
type CachedProvider struct {
	registry *connector.Registry
	fallback *StaticProvider
	cache    *RateCache
	logger   *zap.Logger
}

// CachedConfig holds cached provider configuration.
type CachedConfig struct {
	Registry *connector.Registry
	Fallback *StaticProvider
	Cache    *RateCache
	Logger   *zap.Logger
}

// NewCachedProvider creates a connector-backed, cached fee provider.
func NewCachedProvider(cfg *CachedConfig) *CachedProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		registry: cfg.Registry,
		fallback: cfg.Fallback,
		cache:    cfg.Cache,
		logger:   logger,
	}
}

// Rates resolves rates for a (venue, instrument), cache first.
func (p *CachedProvider) Rates(ctx context.Context, venue, instrument string) (Rates, error) {
	if rates, found := p.cache.Lookup(venue, instrument); found {
		return rates, nil
	}

	conn, ok := p.registry.Get(venue)
	if !ok {
		RateLookupFallbacksTotal.Inc()
		return p.fallback.Rates(ctx, venue, instrument)
	}

	maker, taker, err := conn.GetTradingFees(ctx, instrument)
	if err != nil {
		p.logger.Debug("fee-lookup-failed-using-configured-rates",
			zap.String("venue", venue),
			zap.String("instrument", instrument),
			zap.Error(err))
		RateLookupFallbacksTotal.Inc()
		return p.fallback.Rates(ctx, venue, instrument)
	}

	rates := Rates{Maker: maker, Taker: taker}
	p.cache.Store(venue, instrument, rates)
	return rates, nil
}
