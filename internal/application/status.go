package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// SyncStatus returns how a split is mirrored on each provider. It only reads
// stored records and never contacts a provider.
func (s *SyncService) SyncStatus(ctx context.Context, splitID uuid.UUID) ([]model.SyncStatusView, error) {
	recs, err := s.records.FindBySplit(ctx, splitID)
	if err != nil {
		return nil, fmt.Errorf("find sync records for split %s: %w", splitID, err)
	}
	return s.views(ctx, recs)
}

// TransactionSyncStatus returns the records of every split of a transaction.
func (s *SyncService) TransactionSyncStatus(ctx context.Context, transactionID uuid.UUID) ([]model.SyncStatusView, error) {
	recs, err := s.records.FindByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("find sync records for transaction %s: %w", transactionID, err)
	}
	return s.views(ctx, recs)
}

// RetryableFailures lists failed records that may still be retried.
func (s *SyncService) RetryableFailures(ctx context.Context) ([]model.SyncStatusView, error) {
	recs, err := s.records.FindFailedUnderRetryLimit(ctx, s.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("find retryable sync records: %w", err)
	}
	return s.views(ctx, recs)
}

func (s *SyncService) views(ctx context.Context, recs []model.SyncRecord) ([]model.SyncStatusView, error) {
	types := make(map[uuid.UUID]model.ProviderType)
	out := make([]model.SyncStatusView, 0, len(recs))

	for _, rec := range recs {
		pt, ok := types[rec.ProviderID]
		if !ok {
			conn, err := s.resolver.connections.Get(ctx, rec.ProviderID)
			if err != nil {
				return nil, fmt.Errorf("load connection %s: %w", rec.ProviderID, err)
			}
			if conn != nil {
				pt = conn.ProviderType
			}
			types[rec.ProviderID] = pt
		}

		out = append(out, model.SyncStatusView{
			RecordID:          rec.ID,
			SplitID:           rec.SplitID,
			ProviderType:      pt,
			Status:            rec.Status,
			ExternalExpenseID: deref(rec.ExternalExpenseID),
			ExternalURL:       rec.ExternalURL,
			LastError:         rec.LastError,
			RetryCount:        rec.RetryCount,
			LastSyncAt:        rec.LastSyncAt,
		})
	}

	return out, nil
}
