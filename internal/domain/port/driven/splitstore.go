package driven

import (
	"context"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// SplitStore defines the read-only driven port onto the ledger's
// transactions, splits and counterparty mappings.
type SplitStore interface {
	// GetTransaction returns the transaction, or (nil, nil) if absent.
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)

	// GetSplit returns the split, or (nil, nil) if absent.
	GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error)

	// ListSplitsWithMappings returns every split of the transaction in
	// creation order, each with its counterparty's mapping if one exists.
	ListSplitsWithMappings(ctx context.Context, transactionID uuid.UUID) ([]model.SplitWithMapping, error)
}
