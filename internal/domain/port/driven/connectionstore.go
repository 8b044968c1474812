package driven

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// ConnectionStore defines the driven port for provider connection persistence.
// Credentials are stored as opaque vault blobs; the store never decrypts them.
type ConnectionStore interface {
	// Get returns the connection with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id uuid.UUID) (*model.ProviderConnection, error)

	// GetActiveByUser returns the user's active connection for the provider
	// type, or (nil, nil) if there is none.
	GetActiveByUser(ctx context.Context, userID uuid.UUID, providerType model.ProviderType) (*model.ProviderConnection, error)

	Create(ctx context.Context, conn model.ProviderConnection) error
	UpdateCredentials(ctx context.Context, id uuid.UUID, encryptedCredentials string) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}
