package storage

import (
	"context"

	"github.com/taku247/omg-tool/pkg/types"
)

// Storage persists detected opportunities and terminal execution results.
type Storage interface {
	// StoreOpportunity stores a detected opportunity.
	StoreOpportunity(ctx context.Context, opp *types.Opportunity) error

	// StoreExecutionResult stores the terminal record for an executed
	// opportunity.
	StoreExecutionResult(ctx context.Context, result *types.ExecutionResult) error

	// Close closes the storage connection.
	Close() error
}
