package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncRecord is the synchronization state of one split on one provider.
// ExternalExpenseID is set once the split has been synced at least once and
// is shared by every split that was grouped into the same external expense.
// RetryCount only grows on failure; a successful create resets it.
type SyncRecord struct {
	ID                uuid.UUID
	SplitID           uuid.UUID
	ProviderID        uuid.UUID
	ExternalExpenseID *string
	ExternalURL       string
	Status            SyncStatus
	LastSyncAt        *time.Time
	LastError         string
	RetryCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SyncStatusView is the read-only projection of a SyncRecord returned to
// callers asking how a split is mirrored.
type SyncStatusView struct {
	RecordID          uuid.UUID
	SplitID           uuid.UUID
	ProviderType      ProviderType
	Status            SyncStatus
	ExternalExpenseID string
	ExternalURL       string
	LastError         string
	RetryCount        int
	LastSyncAt        *time.Time
}
