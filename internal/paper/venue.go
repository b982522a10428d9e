// Package paper implements a self-contained paper trading venue: a random
// walk quote stream plus a virtual account that fills market orders at its
// own top of book. It satisfies the same connector contract as a real
// exchange adapter, which makes the full engine runnable without venue
// credentials.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Config holds paper venue configuration.
type Config struct {
	Name          string
	Instruments   []string
	BasePrice     decimal.Decimal // starting mid price for every instrument
	SpreadPct     decimal.Decimal // quoted bid/ask spread, percent of mid
	VolatilityPct decimal.Decimal // max mid move per tick, percent
	TickInterval  time.Duration
	TakerFee      decimal.Decimal // fraction
	StartingQuote decimal.Decimal
	StartingBase  decimal.Decimal
	Seed          int64
	Logger        *zap.Logger
}

// Venue is one simulated exchange.
type Venue struct {
	config Config
	logger *zap.Logger
	rng    *rand.Rand

	mu       sync.Mutex
	mids     map[string]decimal.Decimal
	balances map[string]decimal.Decimal
	orderSeq int
}

var _ connector.Connector = (*Venue)(nil)

// New creates a paper venue. Defaults: mid 100, spread 0.05%, volatility
// 0.1% per tick, 500ms ticks.
func New(cfg Config) *Venue {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BasePrice.IsZero() {
		cfg.BasePrice = decimal.NewFromInt(100)
	}
	if cfg.SpreadPct.IsZero() {
		cfg.SpreadPct = decimal.RequireFromString("0.05")
	}
	if cfg.VolatilityPct.IsZero() {
		cfg.VolatilityPct = decimal.RequireFromString("0.1")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.StartingQuote.IsZero() {
		cfg.StartingQuote = decimal.NewFromInt(1_000_000)
	}
	if cfg.StartingBase.IsZero() {
		cfg.StartingBase = decimal.NewFromInt(1_000)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	v := &Venue{
		config:   cfg,
		logger:   cfg.Logger,
		rng:      rand.New(rand.NewSource(seed)),
		mids:     make(map[string]decimal.Decimal, len(cfg.Instruments)),
		balances: make(map[string]decimal.Decimal),
	}
	for _, inst := range cfg.Instruments {
		v.mids[inst] = cfg.BasePrice
		base, quote := splitInstrument(inst)
		v.balances[base] = cfg.StartingBase
		v.balances[quote] = cfg.StartingQuote
	}
	return v
}

func (v *Venue) Name() string { return v.config.Name }

// Subscribe starts the random walk and emits one quote per instrument per
// tick until ctx is cancelled.
func (v *Venue) Subscribe(ctx context.Context, instruments []string) (<-chan connector.StreamEvent, error) {
	events := make(chan connector.StreamEvent, 256)

	go func() {
		defer close(events)
		ticker := time.NewTicker(v.config.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, inst := range instruments {
					q := v.tick(inst)
					select {
					case events <- connector.StreamEvent{
						Kind:  connector.EventQuote,
						Venue: v.config.Name,
						Quote: q,
					}:
					default:
					}
				}
			}
		}
	}()

	v.logger.Info("paper-venue-streaming",
		zap.String("venue", v.config.Name),
		zap.Strings("instruments", instruments),
		zap.Duration("tick-interval", v.config.TickInterval))
	return events, nil
}

// tick advances the instrument's mid by a uniform step within the
// volatility bound and returns the resulting quote.
func (v *Venue) tick(instrument string) *types.Quote {
	v.mu.Lock()
	defer v.mu.Unlock()

	mid, ok := v.mids[instrument]
	if !ok {
		mid = v.config.BasePrice
	}

	// Uniform step in [-vol, +vol] percent.
	step := decimal.NewFromFloat(v.rng.Float64()*2 - 1).
		Mul(v.config.VolatilityPct).Div(hundred)
	mid = mid.Mul(decimal.NewFromInt(1).Add(step))
	v.mids[instrument] = mid

	half := mid.Mul(v.config.SpreadPct).Div(hundred).Div(two)
	return &types.Quote{
		Venue:      v.config.Name,
		Instrument: instrument,
		Bid:        mid.Sub(half),
		Ask:        mid.Add(half),
		BidSize:    decimal.NewFromInt(100),
		AskSize:    decimal.NewFromInt(100),
		Last:       mid,
		ObservedAt: time.Now(),
	}
}

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// PlaceOrder fills market orders at the venue's current top of book and
// moves the virtual balances. Limit orders are rejected.
func (v *Venue) PlaceOrder(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	if req.Type == types.OrderTypeLimit {
		return nil, fmt.Errorf("%s: limit orders not supported in paper mode", v.config.Name)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	mid, ok := v.mids[req.Instrument]
	if !ok {
		return nil, fmt.Errorf("%s: unknown instrument %s", v.config.Name, req.Instrument)
	}
	half := mid.Mul(v.config.SpreadPct).Div(hundred).Div(two)
	base, quote := splitInstrument(req.Instrument)

	var price decimal.Decimal
	switch req.Side {
	case types.SideBuy:
		price = mid.Add(half)
	case types.SideSell:
		price = mid.Sub(half)
	default:
		return nil, fmt.Errorf("unknown side %q", req.Side)
	}

	notional := price.Mul(req.Size)
	fee := notional.Mul(v.config.TakerFee)

	switch req.Side {
	case types.SideBuy:
		if v.balances[quote].LessThan(notional.Add(fee)) {
			return nil, fmt.Errorf("%s: insufficient %s balance", v.config.Name, quote)
		}
		v.balances[quote] = v.balances[quote].Sub(notional).Sub(fee)
		v.balances[base] = v.balances[base].Add(req.Size)
	case types.SideSell:
		if v.balances[base].LessThan(req.Size) {
			return nil, fmt.Errorf("%s: insufficient %s balance", v.config.Name, base)
		}
		v.balances[base] = v.balances[base].Sub(req.Size)
		v.balances[quote] = v.balances[quote].Add(notional).Sub(fee)
	}

	v.orderSeq++
	return &types.OrderResult{
		OrderID:     fmt.Sprintf("%s-paper-%d", v.config.Name, v.orderSeq),
		Instrument:  req.Instrument,
		Side:        req.Side,
		Status:      types.OrderStatusFilled,
		FilledSize:  req.Size,
		FilledPrice: price,
		Fee:         fee,
		PlacedAt:    time.Now(),
	}, nil
}

func (v *Venue) CancelOrder(_ context.Context, _, _ string) error { return nil }

func (v *Venue) GetOpenOrders(_ context.Context, _ string) ([]types.OrderResult, error) {
	return nil, nil
}

func (v *Venue) GetBalance(_ context.Context) (map[string]types.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[string]types.Balance, len(v.balances))
	for asset, free := range v.balances {
		out[asset] = types.Balance{Asset: asset, Free: free}
	}
	return out, nil
}

func (v *Venue) GetPosition(_ context.Context, _ string) (*types.Position, error) {
	return nil, nil
}

func (v *Venue) GetTradingFees(_ context.Context, _ string) (maker, taker decimal.Decimal, err error) {
	return decimal.Zero, v.config.TakerFee, nil
}

func splitInstrument(instrument string) (base, quote string) {
	for i := range instrument {
		if instrument[i] == '/' {
			return instrument[:i], instrument[i+1:]
		}
	}
	return instrument, "USD"
}
