package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FeeRates holds one venue's maker/taker rates as fractions (0.001 = 0.1%).
type FeeRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Config holds all engine configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Instruments and venues
	Instruments []string

	// Detection
	MinSpreadThreshold     decimal.Decimal // percent
	ExitThreshold          decimal.Decimal // percent
	MaxPositionSize        decimal.Decimal // quote currency
	MinProfitThreshold     decimal.Decimal // quote currency
	LiquidityFraction      decimal.Decimal // fraction of 24h volume
	EnableDetailedAnalysis bool
	StalenessBound         time.Duration
	DetectionWorkers       int

	// Risk
	MaxTotalExposure      decimal.Decimal
	MaxPositionsPerSymbol int
	MaxTotalPositions     int
	MaxSlippagePct        decimal.Decimal
	MaxPositionDuration   time.Duration
	CooldownPeriod        time.Duration
	MaxDailyLoss          decimal.Decimal
	MaxDrawdown           decimal.Decimal
	StopLossPct           decimal.Decimal
	MaxExchangeExposure   decimal.Decimal
	MinExchangeBalance    decimal.Decimal

	// Execution
	ConcurrentLegs    bool
	OrderTimeout      time.Duration
	ExitCheckInterval time.Duration

	// Fees, keyed by venue name
	Fees map[string]FeeRates

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string

	// Recorder
	RecordDir string

	// Paper venues, used when no real adapters are registered
	PaperVenues     []string
	PaperTickEvery  time.Duration
	PaperVolatility decimal.Decimal // percent per tick
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		Instruments: getListOrDefault("INSTRUMENTS", []string{"BTC/USDT", "ETH/USDT"}),

		MinSpreadThreshold:     getDecimalOrDefault("MIN_SPREAD_THRESHOLD", "0.5"),
		ExitThreshold:          getDecimalOrDefault("EXIT_THRESHOLD", "0.1"),
		MaxPositionSize:        getDecimalOrDefault("MAX_POSITION_SIZE", "10000"),
		MinProfitThreshold:     getDecimalOrDefault("MIN_PROFIT_THRESHOLD", "10"),
		LiquidityFraction:      getDecimalOrDefault("LIQUIDITY_FRACTION", "0.10"),
		EnableDetailedAnalysis: getBoolOrDefault("ENABLE_DETAILED_ANALYSIS", false),
		StalenessBound:         getDurationOrDefault("STALENESS_BOUND", 5*time.Second),
		DetectionWorkers:       getIntOrDefault("DETECTION_WORKERS", 4),

		MaxTotalExposure:      getDecimalOrDefault("MAX_TOTAL_EXPOSURE", "50000"),
		MaxPositionsPerSymbol: getIntOrDefault("MAX_POSITIONS_PER_SYMBOL", 3),
		MaxTotalPositions:     getIntOrDefault("MAX_TOTAL_POSITIONS", 10),
		MaxSlippagePct:        getDecimalOrDefault("MAX_SLIPPAGE_PERCENTAGE", "0.5"),
		MaxPositionDuration:   getDurationOrDefault("MAX_POSITION_DURATION", 24*time.Hour),
		CooldownPeriod:        getDurationOrDefault("COOLDOWN_PERIOD", 5*time.Minute),
		MaxDailyLoss:          getDecimalOrDefault("MAX_DAILY_LOSS", "1000"),
		MaxDrawdown:           getDecimalOrDefault("MAX_DRAWDOWN", "5000"),
		StopLossPct:           getDecimalOrDefault("STOP_LOSS_PERCENTAGE", "2.0"),
		MaxExchangeExposure:   getDecimalOrDefault("MAX_EXCHANGE_EXPOSURE", "20000"),
		MinExchangeBalance:    getDecimalOrDefault("MIN_EXCHANGE_BALANCE", "1000"),

		ConcurrentLegs:    getBoolOrDefault("CONCURRENT_LEGS", true),
		OrderTimeout:      getDurationOrDefault("ORDER_TIMEOUT", 30*time.Second),
		ExitCheckInterval: getDurationOrDefault("EXIT_CHECK_INTERVAL", 1*time.Second),

		Fees: loadFeeRates(),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "arb"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "arb"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "arbitrage"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		RecordDir: getEnvOrDefault("RECORD_DIR", "data/price_logs"),

		PaperVenues:     getListOrDefault("PAPER_VENUES", []string{"alpha", "beta"}),
		PaperTickEvery:  getDurationOrDefault("PAPER_TICK_INTERVAL", 500*time.Millisecond),
		PaperVolatility: getDecimalOrDefault("PAPER_VOLATILITY", "0.1"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFeeRates reads per-venue fee rates from FEE_<VENUE>_MAKER and
// FEE_<VENUE>_TAKER environment variables, e.g. FEE_KUCOIN_TAKER=0.001.
func loadFeeRates() map[string]FeeRates {
	fees := make(map[string]FeeRates)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, "FEE_") {
			continue
		}
		rest := strings.TrimPrefix(key, "FEE_")
		venue, kind, ok := cutLast(rest, "_")
		if !ok {
			continue
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			continue
		}
		name := strings.ToLower(venue)
		fr := fees[name]
		switch kind {
		case "MAKER":
			fr.Maker = rate
		case "TAKER":
			fr.Taker = rate
		default:
			continue
		}
		fees[name] = fr
	}
	return fees
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if len(c.Instruments) == 0 {
		return fmt.Errorf("INSTRUMENTS cannot be empty")
	}

	if c.MinSpreadThreshold.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("MIN_SPREAD_THRESHOLD must be positive, got %s", c.MinSpreadThreshold)
	}

	if c.ExitThreshold.GreaterThanOrEqual(c.MinSpreadThreshold) {
		return fmt.Errorf("EXIT_THRESHOLD (%s) must be below MIN_SPREAD_THRESHOLD (%s)",
			c.ExitThreshold, c.MinSpreadThreshold)
	}

	if c.MaxPositionSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("MAX_POSITION_SIZE must be positive, got %s", c.MaxPositionSize)
	}

	if c.LiquidityFraction.LessThanOrEqual(decimal.Zero) || c.LiquidityFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("LIQUIDITY_FRACTION must be in (0, 1], got %s", c.LiquidityFraction)
	}

	if c.StalenessBound <= 0 {
		return fmt.Errorf("STALENESS_BOUND must be positive")
	}

	if c.DetectionWorkers <= 0 {
		return fmt.Errorf("DETECTION_WORKERS must be positive, got %d", c.DetectionWorkers)
	}

	if c.MaxPositionsPerSymbol <= 0 || c.MaxTotalPositions <= 0 {
		return fmt.Errorf("position limits must be positive")
	}

	// A zero loss limit would reject every opportunity: dailyPnL of zero
	// already sits at the limit. Same for a zero drawdown cap.
	if c.MaxDailyLoss.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("MAX_DAILY_LOSS must be positive, got %s", c.MaxDailyLoss)
	}

	if c.MaxDrawdown.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("MAX_DRAWDOWN must be positive, got %s", c.MaxDrawdown)
	}

	if c.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive")
	}

	if c.StorageMode != "postgres" && c.StorageMode != "console" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'console', got %q", c.StorageMode)
	}

	return nil
}

// FeesFor returns the fee rates for a venue, zero rates when unconfigured.
func (c *Config) FeesFor(venue string) FeeRates {
	return c.Fees[strings.ToLower(venue)]
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getDecimalOrDefault(key string, defaultValue string) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return decimal.RequireFromString(defaultValue)
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}
	return parsed
}

func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
