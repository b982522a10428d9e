package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/taku247/omg-tool/internal/paper"
	"github.com/taku247/omg-tool/internal/recorder"
	"github.com/taku247/omg-tool/pkg/config"
	"github.com/taku247/omg-tool/pkg/connector"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record venue quotes to daily CSV files",
	Long: `Subscribes to every configured venue and appends each received quote
to a per-venue daily CSV file under RECORD_DIR. The files are the input
for the backtest subcommand. No detection or trading runs in this mode.`,
	RunE: runRecord,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := recorder.New(cfg.RecordDir, logger)

	for i, name := range cfg.PaperVenues {
		venue := paper.New(paper.Config{
			Name:          name,
			Instruments:   cfg.Instruments,
			VolatilityPct: cfg.PaperVolatility,
			TickInterval:  cfg.PaperTickEvery,
			TakerFee:      cfg.FeesFor(name).Taker,
			Seed:          int64(i + 1),
			Logger:        logger,
		})

		var events <-chan connector.StreamEvent
		events, err = venue.Subscribe(ctx, cfg.Instruments)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		rec.Consume(events)
	}

	logger.Info("recording-quotes",
		zap.Strings("venues", cfg.PaperVenues),
		zap.Strings("instruments", cfg.Instruments),
		zap.String("dir", cfg.RecordDir))

	<-ctx.Done()
	logger.Info("record-stopping")

	return rec.Close()
}
