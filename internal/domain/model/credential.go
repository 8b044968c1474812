package model

import (
	"time"

	"github.com/google/uuid"
)

// ProviderConnection is a user's authorized link to an external provider.
// EncryptedCredentials holds a vault blob of Credentials and is never
// decrypted outside the application layer.
type ProviderConnection struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	ProviderType         ProviderType
	EncryptedCredentials string
	IsActive             bool
	LastUsedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Credentials is the decrypted credential payload of a ProviderConnection.
// OAuth providers populate the token fields; API-key providers populate
// APIKey. ExternalUserID is the connection owner's identity on the provider.
type Credentials struct {
	AccessToken    string     `json:"access_token,omitempty"`
	RefreshToken   string     `json:"refresh_token,omitempty"`
	TokenType      string     `json:"token_type,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	APIKey         string     `json:"api_key,omitempty"`
	ExternalUserID string     `json:"external_user_id,omitempty"`
}

// Expired reports whether the stored access token expiry has passed.
// Credentials without an expiry never expire.
func (c Credentials) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
