package application

import "errors"

var (
	// ErrRetryLimitReached is returned by RetrySync when a record has
	// exhausted its retries. It is a client error; no provider is called.
	ErrRetryLimitReached = errors.New("sync retry limit reached")

	ErrSyncRecordNotFound  = errors.New("sync record not found")
	ErrSplitNotFound       = errors.New("split not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSplitNotMapped is returned when retrying a record whose split is no
	// longer mapped to the record's provider.
	ErrSplitNotMapped = errors.New("split is no longer mapped to the provider")

	ErrProviderNotSupported = errors.New("provider not supported")
	ErrConnectionNotFound   = errors.New("provider connection not found")
	ErrInvalidState         = errors.New("invalid authorization state")
	ErrCredentialsRejected  = errors.New("provider rejected the credentials")

	// ErrCredentialsUnreadable wraps vault failures on stored credentials.
	// It is an internal fault, never reported as "not connected".
	ErrCredentialsUnreadable = errors.New("stored credentials could not be decrypted")
)
