package model

// SyncStatus represents the synchronization state of a split on one provider.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusDeleted SyncStatus = "deleted"
)

// Valid reports whether s is one of the known sync states.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusFailed, SyncStatusDeleted:
		return true
	}
	return false
}

// ProviderType identifies an external expense-sharing service.
type ProviderType string

const (
	ProviderSplitwise ProviderType = "splitwise"
	ProviderSplitPro  ProviderType = "splitpro"
)
