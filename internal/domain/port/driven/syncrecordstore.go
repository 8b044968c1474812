package driven

import (
	"context"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// SyncRecordStore defines the driven port for split synchronization state.
// Writes are last-writer-wins; there is no optimistic concurrency control.
type SyncRecordStore interface {
	Create(ctx context.Context, rec model.SyncRecord) error
	Update(ctx context.Context, rec model.SyncRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteBySplit(ctx context.Context, splitID uuid.UUID) error

	// Get returns the record, or (nil, nil) if absent.
	Get(ctx context.Context, id uuid.UUID) (*model.SyncRecord, error)

	FindBySplit(ctx context.Context, splitID uuid.UUID) ([]model.SyncRecord, error)

	// FindBySplitAndProvider returns the record, or (nil, nil) if absent.
	FindBySplitAndProvider(ctx context.Context, splitID, providerID uuid.UUID) (*model.SyncRecord, error)

	// FindByTransaction returns the records of every split that currently
	// belongs to the transaction.
	FindByTransaction(ctx context.Context, transactionID uuid.UUID) ([]model.SyncRecord, error)

	// FindFailedUnderRetryLimit returns failed records whose retry count is
	// below limit, oldest attempt first.
	FindFailedUnderRetryLimit(ctx context.Context, limit int) ([]model.SyncRecord, error)
}
