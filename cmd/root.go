package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "omg-tool",
	Short: "Cross-venue crypto arbitrage engine",
	Long: `Cross-venue arbitrage engine that aggregates real-time quotes from
multiple exchanges, detects transient price divergences, gates each
opportunity through risk limits, and coordinates the two-legged hedged
trade (buy low on one venue, sell high on another).

Subcommands: run starts the live engine, record captures quote CSV logs,
and backtest replays recorded logs through the same detection and risk
components.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
