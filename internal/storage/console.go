package storage

import (
	"context"
	"fmt"

	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage implements Storage by pretty-printing to console.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		logger: logger,
	}
}

// StoreOpportunity pretty-prints a detected opportunity to console.
func (c *ConsoleStorage) StoreOpportunity(_ context.Context, opp *types.Opportunity) error {
	fmt.Println("\n" + rule)
	fmt.Printf("🎯 ARBITRAGE OPPORTUNITY DETECTED\n")
	fmt.Println(rule)
	fmt.Printf("ID:         %s\n", opp.ID)
	fmt.Printf("Instrument: %s\n", opp.Instrument)
	fmt.Printf("Route:      buy %s @ %s → sell %s @ %s\n",
		opp.BuyVenue, opp.BuyPrice, opp.SellVenue, opp.SellPrice)
	fmt.Printf("Time:       %s\n", opp.DetectedAt.Format("2006-01-02 15:04:05"))
	fmt.Println(rule)
	fmt.Printf("📊 SPREAD\n")
	fmt.Printf("  Spread:          %s%%\n", opp.SpreadPct.StringFixed(4))
	fmt.Printf("  Size:            %s\n", opp.Size)
	fmt.Printf("  Gross Profit:    $%s\n", opp.ExpectedProfit.StringFixed(2))
	if m := opp.Metrics; m != nil {
		fmt.Println(rule)
		fmt.Printf("💰 DETAILED ANALYSIS\n")
		fmt.Printf("  Slippage:        buy %s%% / sell %s%%\n",
			m.SlippageBuyPct.StringFixed(4), m.SlippageSellPct.StringFixed(4))
		fmt.Printf("  Liquidity Score: %s\n", m.LiquidityScore.StringFixed(3))
		fmt.Printf("  Optimal Size:    %s\n", m.OptimalSize)
		fmt.Printf("  Net Profit:      $%s\n", m.NetProfit.StringFixed(2))
		fmt.Printf("  Risk Score:      %s\n", m.RiskScore.StringFixed(3))
	}
	fmt.Println(rule)

	return nil
}

// StoreExecutionResult pretty-prints a terminal execution result.
func (c *ConsoleStorage) StoreExecutionResult(_ context.Context, result *types.ExecutionResult) error {
	fmt.Println("\n" + rule)
	fmt.Printf("🏁 EXECUTION RESULT: %s\n", result.Kind)
	fmt.Println(rule)
	fmt.Printf("Opportunity: %s\n", result.OpportunityID)
	fmt.Printf("Position:    %s\n", result.PositionID)
	fmt.Printf("Instrument:  %s\n", result.Instrument)
	if result.ExitReason != "" {
		fmt.Printf("Exit:        %s\n", result.ExitReason)
	}
	fmt.Printf("P&L:         $%s (fees $%s)\n",
		result.RealizedPnL.StringFixed(2), result.FeesPaid.StringFixed(2))
	if result.Escalated() {
		fmt.Printf("⚠️  OPERATOR ACTION REQUIRED: instrument frozen\n")
	}
	fmt.Println(rule)

	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}
