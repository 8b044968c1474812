// Package vault seals credential payloads and OAuth state tokens with
// AES-256-GCM under a single process-wide key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

const stateSuffixBytes = 16

// ErrCiphertextInvalid is returned when a blob cannot be decoded or fails
// authentication. The cause is deliberately not distinguished.
var ErrCiphertextInvalid = errors.New("ciphertext invalid")

// ErrStateInvalid is returned when a state token does not carry a user id.
var ErrStateInvalid = errors.New("state token invalid")

// Compile-time interface satisfaction check.
var _ driven.CredentialVault = (*Vault)(nil)

// encoding is strict so that every encoded blob has exactly one decoding.
var encoding = base64.StdEncoding.Strict()

// Vault implements driven.CredentialVault.
type Vault struct {
	aead cipher.AEAD
}

// New returns a Vault using key. A nil or empty key yields a Vault whose
// operations all return driven.ErrEncryptionKeyNotSet; a key of any length
// other than KeySize is rejected.
func New(key []byte) (*Vault, error) {
	if len(key) == 0 {
		return &Vault{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Vault{aead: gcm}, nil
}

// Enabled reports whether the vault was constructed with a key.
func (v *Vault) Enabled() bool {
	return v.aead != nil
}

// Encrypt marshals value to JSON and seals it.
func (v *Vault) Encrypt(value any) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return v.seal(plaintext)
}

// Decrypt opens blob and returns the sealed JSON.
func (v *Vault) Decrypt(blob string) (json.RawMessage, error) {
	plaintext, err := v.open(blob)
	if err != nil {
		return nil, err
	}
	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("sealed payload is not JSON: %w", ErrCiphertextInvalid)
	}
	return json.RawMessage(plaintext), nil
}

// SignState seals "<user-id>:<hex-suffix>". The random suffix makes every
// token unique; hex cannot contain the separator.
func (v *Vault) SignState(userID uuid.UUID) (string, error) {
	suffix := make([]byte, stateSuffixBytes)
	if _, err := io.ReadFull(rand.Reader, suffix); err != nil {
		return "", fmt.Errorf("generate state suffix: %w", err)
	}
	return v.seal([]byte(userID.String() + ":" + hex.EncodeToString(suffix)))
}

// VerifyState opens token and parses the user id before the last ':'.
func (v *Vault) VerifyState(token string) (uuid.UUID, error) {
	plaintext, err := v.open(token)
	if err != nil {
		return uuid.Nil, err
	}

	payload := string(plaintext)
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		return uuid.Nil, ErrStateInvalid
	}

	userID, err := uuid.Parse(payload[:idx])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrStateInvalid, err)
	}
	return userID, nil
}

// seal encrypts plaintext with a random nonce and returns base64(nonce || ciphertext).
func (v *Vault) seal(plaintext []byte) (string, error) {
	if v.aead == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return encoding.EncodeToString(sealed), nil
}

func (v *Vault) open(blob string) ([]byte, error) {
	if v.aead == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	data, err := encoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", ErrCiphertextInvalid)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("blob shorter than nonce: %w", ErrCiphertextInvalid)
	}

	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("authenticate blob: %w", ErrCiphertextInvalid)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random key suitable for New.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
