package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/taku247/omg-tool/internal/backtest"
	"github.com/taku247/omg-tool/internal/detector"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/config"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var backtestCmd = &cobra.Command{
	Use:   "backtest [data-dir]",
	Short: "Replay recorded quotes through the engine",
	Long: `Replays recorded quote CSVs (see the record subcommand) through the
same detection and risk components the live engine uses, filling orders
against simulated venues, and prints trade statistics.

The data directory defaults to RECORD_DIR.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBacktest,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().String("slippage", "0", "Simulated fill slippage as a fraction (0.0005 = 5 bps)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	dir := cfg.RecordDir
	if len(args) == 1 {
		dir = args[0]
	}

	quotes, err := backtest.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read quote logs: %w", err)
	}
	if len(quotes) == 0 {
		return fmt.Errorf("no quotes found under %s", dir)
	}

	slippageFlag, _ := cmd.Flags().GetString("slippage")
	slippage, err := decimalFromFlag(slippageFlag)
	if err != nil {
		return fmt.Errorf("parse slippage: %w", err)
	}

	// One simulated venue per venue present in the data.
	seen := map[string]bool{}
	var venues []*backtest.SimConnector
	for _, q := range quotes {
		if seen[q.Venue] {
			continue
		}
		seen[q.Venue] = true
		venues = append(venues, backtest.NewSimConnector(q.Venue, cfg.FeesFor(q.Venue).Taker, slippage))
	}

	engine := backtest.NewEngine(backtest.Config{
		Detector: detector.Config{
			MinSpreadThreshold: cfg.MinSpreadThreshold,
			MaxPositionSize:    cfg.MaxPositionSize,
			MinProfitThreshold: cfg.MinProfitThreshold,
			LiquidityFraction:  cfg.LiquidityFraction,
			StalenessBound:     cfg.StalenessBound,
			Workers:            1,
		},
		Risk: risk.Config{
			MaxPositionsPerSymbol: cfg.MaxPositionsPerSymbol,
			MaxTotalPositions:     cfg.MaxTotalPositions,
			MaxExchangeExposure:   cfg.MaxExchangeExposure,
			MaxTotalExposure:      cfg.MaxTotalExposure,
			MaxDailyLoss:          cfg.MaxDailyLoss,
			MaxDrawdown:           cfg.MaxDrawdown,
			MaxSlippagePct:        cfg.MaxSlippagePct,
			CooldownPeriod:        cfg.CooldownPeriod,
		},
		ExitThreshold:       cfg.ExitThreshold,
		StopLossPct:         cfg.StopLossPct,
		MaxPositionDuration: cfg.MaxPositionDuration,
		Logger:              logger,
	}, venues...)

	logger.Info("backtest-starting",
		zap.String("dir", dir),
		zap.Int("quotes", len(quotes)),
		zap.Int("venues", len(venues)))

	report := engine.Run(quotes)
	printReport(report)
	return nil
}

//nolint:gochecknoglobals // shared formatting constant
var hundredPct = decimal.NewFromInt(100)

func decimalFromFlag(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func printReport(r *backtest.Report) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  BACKTEST RESULTS")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Quotes replayed : %d\n", r.QuotesReplayed)
	fmt.Printf("  Detected        : %d\n", r.Detected)
	fmt.Printf("  Approved        : %d\n", r.Approved)
	fmt.Printf("  Trades closed   : %d\n", r.Trades)
	fmt.Printf("  Wins            : %d (%s%%)\n", r.Wins,
		r.WinRate().Mul(hundredPct).StringFixed(1))
	fmt.Printf("  Total fees      : %s\n", r.TotalFee.StringFixed(4))
	fmt.Printf("  Net P&L         : %s\n", r.TotalPnL.StringFixed(4))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
