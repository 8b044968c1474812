package driven

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrEncryptionKeyNotSet is returned by CredentialVault operations when
// COINSPLIT_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set COINSPLIT_SECRET_KEY")

// CredentialVault defines the driven port for authenticated encryption of
// credential payloads and OAuth state tokens.
type CredentialVault interface {
	// Encrypt serializes v to JSON and returns an opaque text blob. Two calls
	// with the same input return different blobs.
	Encrypt(v any) (string, error)

	// Decrypt returns the JSON sealed in blob. It fails if the blob was
	// produced under a different key or modified in any way.
	Decrypt(blob string) (json.RawMessage, error)

	// SignState returns a tamper-proof token binding an OAuth round trip to userID.
	SignState(userID uuid.UUID) (string, error)

	// VerifyState returns the user id bound into a token from SignState.
	VerifyState(token string) (uuid.UUID, error)
}
