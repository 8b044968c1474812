package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// providerOp is one provider call made with decrypted credentials.
type providerOp func(ctx context.Context, p driven.ExpenseProvider, creds model.Credentials) error

// providerSession is a provider client bound to one connection's credentials.
type providerSession struct {
	conn      *model.ProviderConnection
	provider  driven.ExpenseProvider
	creds     model.Credentials
	refreshed bool
}

// credentialResolver loads connections, opens their sealed credentials and
// persists refreshed ones. Plaintext credentials never leave this type
// except as arguments to provider calls.
type credentialResolver struct {
	connections driven.ConnectionStore
	vault       driven.CredentialVault
	providers   *ProviderRegistry
	now         func() time.Time
	logger      *slog.Logger
}

// open returns a session for the connection. A missing or inactive
// connection, or a provider type with no registered client, is a
// configuration error; only the missing case wraps ErrConnectionNotFound.
// A vault failure wraps ErrCredentialsUnreadable.
func (r *credentialResolver) open(ctx context.Context, connectionID uuid.UUID) (*providerSession, error) {
	conn, err := r.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection %s: %w", connectionID, err)
	}
	if conn == nil {
		return nil, &driven.ProviderError{
			Kind:    driven.ErrKindConfiguration,
			Message: "connection " + connectionID.String(),
			Err:     ErrConnectionNotFound,
		}
	}
	if !conn.IsActive {
		return nil, driven.NewProviderError(driven.ErrKindConfiguration, "provider connection %s is inactive", connectionID)
	}

	provider, ok := r.providers.Get(conn.ProviderType)
	if !ok {
		return nil, driven.NewProviderError(driven.ErrKindConfiguration, "no client registered for provider %q", conn.ProviderType)
	}

	creds, err := r.decrypt(conn.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", connectionID, err)
	}

	return &providerSession{conn: conn, provider: provider, creds: creds}, nil
}

func (r *credentialResolver) decrypt(blob string) (model.Credentials, error) {
	raw, err := r.vault.Decrypt(blob)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("%w: %w", ErrCredentialsUnreadable, err)
	}

	var creds model.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return model.Credentials{}, fmt.Errorf("%w: decode payload: %w", ErrCredentialsUnreadable, err)
	}
	return creds, nil
}

func (r *credentialResolver) seal(creds model.Credentials) (string, error) {
	blob, err := r.vault.Encrypt(creds)
	if err != nil {
		return "", fmt.Errorf("seal credentials: %w", err)
	}
	return blob, nil
}

// call runs op with the session's credentials. Expired credentials are
// refreshed before the call. If op fails with an error that requires
// re-authorization and no refresh has happened yet, one forced refresh is
// attempted and op is retried once with the new credentials.
func (r *credentialResolver) call(ctx context.Context, sess *providerSession, op providerOp) error {
	refreshed, err := sess.provider.RefreshCredentials(ctx, sess.creds)
	if err != nil {
		return err
	}
	if refreshed != nil {
		if err := r.adopt(ctx, sess, *refreshed); err != nil {
			return err
		}
	}

	err = op(ctx, sess.provider, sess.creds)
	if err == nil || sess.refreshed || !driven.RequiresReauth(err) {
		return err
	}

	forced := sess.creds
	expired := r.now().Add(-time.Second)
	forced.ExpiresAt = &expired
	sess.refreshed = true

	refreshed, rerr := sess.provider.RefreshCredentials(ctx, forced)
	if rerr != nil || refreshed == nil {
		r.logger.Info("credential refresh did not recover provider call",
			"connection_id", sess.conn.ID,
			"provider", sess.conn.ProviderType,
			"refresh_error", rerr,
		)
		return err
	}
	if aerr := r.adopt(ctx, sess, *refreshed); aerr != nil {
		return aerr
	}

	return op(ctx, sess.provider, sess.creds)
}

// adopt seals and stores refreshed credentials and switches the session to them.
func (r *credentialResolver) adopt(ctx context.Context, sess *providerSession, creds model.Credentials) error {
	if creds.ExternalUserID == "" {
		creds.ExternalUserID = sess.creds.ExternalUserID
	}

	blob, err := r.seal(creds)
	if err != nil {
		return err
	}
	if err := r.connections.UpdateCredentials(ctx, sess.conn.ID, blob); err != nil {
		return fmt.Errorf("store refreshed credentials: %w", err)
	}

	sess.creds = creds
	sess.refreshed = true
	r.logger.Info("refreshed provider credentials", "connection_id", sess.conn.ID, "provider", sess.conn.ProviderType)
	return nil
}
