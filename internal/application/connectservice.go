package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

const (
	validationTTL = 5 * time.Minute
	touchTimeout  = 5 * time.Second
)

// ConnectService links users to providers and checks that stored
// credentials still work.
type ConnectService struct {
	connections driven.ConnectionStore
	resolver    *credentialResolver
	validations *cache.Cache
	now         func() time.Time
	logger      *slog.Logger
}

// NewConnectService creates a ConnectService with all required dependencies.
func NewConnectService(
	connections driven.ConnectionStore,
	vault driven.CredentialVault,
	providers *ProviderRegistry,
	logger *slog.Logger,
) *ConnectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectService{
		connections: connections,
		resolver: &credentialResolver{
			connections: connections,
			vault:       vault,
			providers:   providers,
			now:         time.Now,
			logger:      logger,
		},
		validations: cache.New(validationTTL, 2*validationTTL),
		now:         time.Now,
		logger:      logger,
	}
}

// AuthorizeURL returns the provider consent page URL carrying a signed state
// that binds the round trip to userID.
func (s *ConnectService) AuthorizeURL(_ context.Context, userID uuid.UUID, pt model.ProviderType) (string, error) {
	op, err := s.oauth(pt)
	if err != nil {
		return "", err
	}

	state, err := s.resolver.vault.SignState(userID)
	if err != nil {
		return "", fmt.Errorf("sign authorization state: %w", err)
	}
	return op.AuthCodeURL(state), nil
}

// CompleteAuthorization finishes an OAuth round trip: it verifies the state,
// exchanges the code, captures the owner's external identity and stores the
// sealed credentials on the user's connection.
func (s *ConnectService) CompleteAuthorization(ctx context.Context, pt model.ProviderType, state, code string) (*model.ProviderConnection, error) {
	op, err := s.oauth(pt)
	if err != nil {
		return nil, err
	}

	userID, err := s.resolver.vault.VerifyState(state)
	if err != nil {
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidState)
	}

	creds, err := op.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	return s.store(ctx, userID, pt, creds)
}

// ConnectWithAPIKey validates an API key against the provider and stores it.
func (s *ConnectService) ConnectWithAPIKey(ctx context.Context, userID uuid.UUID, pt model.ProviderType, apiKey string) (*model.ProviderConnection, error) {
	provider, ok := s.resolver.providers.Get(pt)
	if !ok {
		return nil, fmt.Errorf("%s: %w", pt, ErrProviderNotSupported)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, driven.NewProviderError(driven.ErrKindConfiguration, "api key is required")
	}

	creds := model.Credentials{APIKey: apiKey}
	valid, err := provider.ValidateCredentials(ctx, creds)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrCredentialsRejected
	}

	return s.store(ctx, userID, pt, creds)
}

// Validate reports whether a connection's stored credentials are accepted
// by the provider. Results are cached per connection for a few minutes.
func (s *ConnectService) Validate(ctx context.Context, connectionID uuid.UUID) (bool, error) {
	key := connectionID.String()
	if v, ok := s.validations.Get(key); ok {
		return v.(bool), nil
	}

	sess, err := s.resolver.open(ctx, connectionID)
	if err != nil {
		return false, err
	}

	var valid bool
	err = s.resolver.call(ctx, sess, func(ctx context.Context, p driven.ExpenseProvider, creds model.Credentials) error {
		var err error
		valid, err = p.ValidateCredentials(ctx, creds)
		return err
	})
	if err != nil {
		if !driven.RequiresReauth(err) {
			return false, err
		}
		valid = false
	}

	s.validations.Set(key, valid, cache.DefaultExpiration)
	if valid {
		s.touch(connectionID)
	}
	return valid, nil
}

// touch records the connection as used. It runs detached from the request
// and only logs on failure.
func (s *ConnectService) touch(connectionID uuid.UUID) {
	at := s.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.connections.TouchLastUsed(ctx, connectionID, at); err != nil {
			s.logger.Warn("failed to record connection use", "connection_id", connectionID, "error", err)
		}
	}()
}

func (s *ConnectService) oauth(pt model.ProviderType) (driven.OAuthProvider, error) {
	op, ok := s.resolver.providers.OAuth(pt)
	if !ok {
		return nil, fmt.Errorf("%s does not support authorization redirects: %w", pt, ErrProviderNotSupported)
	}
	return op, nil
}

// store captures the owner's identity when the provider can report it, then
// seals the credentials onto the user's active connection, creating one if
// needed.
func (s *ConnectService) store(ctx context.Context, userID uuid.UUID, pt model.ProviderType, creds model.Credentials) (*model.ProviderConnection, error) {
	if creds.ExternalUserID == "" {
		if provider, ok := s.resolver.providers.Get(pt); ok {
			if ir, ok := provider.(driven.IdentityResolver); ok {
				id, err := ir.CurrentUserID(ctx, creds)
				if err != nil {
					return nil, err
				}
				creds.ExternalUserID = id
			}
		}
	}

	blob, err := s.resolver.seal(creds)
	if err != nil {
		return nil, err
	}

	existing, err := s.connections.GetActiveByUser(ctx, userID, pt)
	if err != nil {
		return nil, fmt.Errorf("load connection for user %s: %w", userID, err)
	}
	if existing != nil {
		if err := s.connections.UpdateCredentials(ctx, existing.ID, blob); err != nil {
			return nil, fmt.Errorf("update connection %s: %w", existing.ID, err)
		}
		s.validations.Delete(existing.ID.String())
		existing.EncryptedCredentials = blob
		s.logger.Info("provider connection updated", "connection_id", existing.ID, "provider", pt, "user_id", userID)
		return existing, nil
	}

	now := s.now().UTC()
	conn := model.ProviderConnection{
		ID:                   uuid.New(),
		UserID:               userID,
		ProviderType:         pt,
		EncryptedCredentials: blob,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.connections.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	s.logger.Info("provider connection created", "connection_id", conn.ID, "provider", pt, "user_id", userID)
	return &conn, nil
}
