package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// NewPostgresStorageWithDB wraps an existing connection, used by tests.
func NewPostgresStorageWithDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

// StoreOpportunity stores a detected opportunity.
func (p *PostgresStorage) StoreOpportunity(ctx context.Context, opp *types.Opportunity) error {
	query := `
		INSERT INTO opportunities (
			id, instrument, buy_venue, sell_venue, buy_price, sell_price,
			spread_pct, size, expected_profit, detected_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := p.db.ExecContext(ctx, query,
		opp.ID,
		opp.Instrument,
		opp.BuyVenue,
		opp.SellVenue,
		opp.BuyPrice.String(),
		opp.SellPrice.String(),
		opp.SpreadPct.String(),
		opp.Size.String(),
		opp.ExpectedProfit.String(),
		opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}

	p.logger.Debug("opportunity-stored",
		zap.String("opportunity-id", opp.ID),
		zap.String("instrument", opp.Instrument))

	return nil
}

// StoreExecutionResult stores the terminal record for an executed
// opportunity.
func (p *PostgresStorage) StoreExecutionResult(ctx context.Context, result *types.ExecutionResult) error {
	query := `
		INSERT INTO execution_results (
			opportunity_id, position_id, instrument, kind,
			buy_venue, buy_order_id, buy_filled_price, buy_filled_size,
			sell_venue, sell_order_id, sell_filled_price, sell_filled_size,
			realized_pnl, fees_paid, exit_reason, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	_, err := p.db.ExecContext(ctx, query,
		result.OpportunityID,
		result.PositionID,
		result.Instrument,
		string(result.Kind),
		result.BuyLeg.Venue,
		result.BuyLeg.OrderID,
		result.BuyLeg.FilledPrice.String(),
		result.BuyLeg.FilledSize.String(),
		result.SellLeg.Venue,
		result.SellLeg.OrderID,
		result.SellLeg.FilledPrice.String(),
		result.SellLeg.FilledSize.String(),
		result.RealizedPnL.String(),
		result.FeesPaid.String(),
		result.ExitReason,
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution result: %w", err)
	}

	p.logger.Debug("execution-result-stored",
		zap.String("opportunity-id", result.OpportunityID),
		zap.String("kind", string(result.Kind)))

	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}
