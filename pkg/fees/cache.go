package fees

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RateCache holds resolved venue fee rates keyed by (venue, instrument).
// Entries are uniform and tiny, so cost accounting counts pairs rather than
// bytes: MaxPairs is an entry budget, not a byte budget.
type RateCache struct {
	cache  *ristretto.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// RateCacheConfig sizes the rate cache.
type RateCacheConfig struct {
	MaxPairs int64 // maximum (venue, instrument) entries held
	TTL      time.Duration
	Logger   *zap.Logger
}

// NewRateCache creates a ristretto-backed rate cache. Defaults: 1024 pairs,
// one hour TTL.
func NewRateCache(cfg *RateCacheConfig) (*RateCache, error) {
	maxPairs := cfg.MaxPairs
	if maxPairs <= 0 {
		maxPairs = 1024
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxPairs * 10,
		MaxCost:     maxPairs,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &RateCache{cache: cache, ttl: ttl, logger: logger}, nil
}

func rateKey(venue, instrument string) string {
	return strings.ToLower(venue) + ":" + instrument
}

// Lookup returns the cached rates for a pair.
func (rc *RateCache) Lookup(venue, instrument string) (Rates, bool) {
	value, found := rc.cache.Get(rateKey(venue, instrument))
	if !found {
		RateCacheMissesTotal.Inc()
		return Rates{}, false
	}
	rates, ok := value.(Rates)
	if !ok {
		return Rates{}, false
	}
	RateCacheHitsTotal.Inc()
	return rates, true
}

// Store caches the rates for a pair until the TTL expires. Each entry costs
// one unit against MaxPairs.
func (rc *RateCache) Store(venue, instrument string, rates Rates) {
	rc.cache.SetWithTTL(rateKey(venue, instrument), rates, 1, rc.ttl)
	rc.logger.Debug("fee-rates-cached",
		zap.String("venue", venue),
		zap.String("instrument", instrument),
		zap.String("taker", rates.Taker.String()))
}

// Invalidate drops a pair, forcing the next lookup back to the venue.
func (rc *RateCache) Invalidate(venue, instrument string) {
	rc.cache.Del(rateKey(venue, instrument))
}

// Wait blocks until buffered writes are applied. Stores are asynchronous;
// a Lookup immediately after Store can miss without this barrier.
func (rc *RateCache) Wait() {
	rc.cache.Wait()
}

// Close releases the cache.
func (rc *RateCache) Close() {
	rc.cache.Close()
}
