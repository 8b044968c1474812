package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// ErrConnectionNotFound is returned by writes that target a missing connection.
var ErrConnectionNotFound = errors.New("provider connection not found")

// Compile-time interface satisfaction check.
var _ driven.ConnectionStore = (*ConnectionRepo)(nil)

// ConnectionRepo is the SQLite implementation of the ConnectionStore port
// interface. Credential blobs arrive already sealed by the vault.
type ConnectionRepo struct {
	db  *DB
	now func() time.Time
}

// NewConnectionRepo creates a new ConnectionRepo backed by the given DB.
func NewConnectionRepo(db *DB) *ConnectionRepo {
	return &ConnectionRepo{db: db, now: time.Now}
}

const connectionColumns = `id, user_id, provider_type, encrypted_credentials, is_active, last_used_at, created_at, updated_at`

// Get returns the connection, or (nil, nil) if it does not exist.
func (r *ConnectionRepo) Get(ctx context.Context, id uuid.UUID) (*model.ProviderConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM provider_connections WHERE id = ?`

	conn, err := scanConnection(r.db.Reader.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}
	return conn, nil
}

// GetActiveByUser returns the most recently updated active connection of the
// given type for the user, or (nil, nil).
func (r *ConnectionRepo) GetActiveByUser(ctx context.Context, userID uuid.UUID, providerType model.ProviderType) (*model.ProviderConnection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM provider_connections
		WHERE user_id = ? AND provider_type = ? AND is_active = 1
		ORDER BY updated_at DESC
		LIMIT 1`

	conn, err := scanConnection(r.db.Reader.QueryRowContext(ctx, query, userID.String(), string(providerType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active %s connection for user %s: %w", providerType, userID, err)
	}
	return conn, nil
}

// Create inserts a connection. Zero timestamps are filled with the current time.
func (r *ConnectionRepo) Create(ctx context.Context, conn model.ProviderConnection) error {
	now := r.now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	if conn.UpdatedAt.IsZero() {
		conn.UpdatedAt = now
	}

	query := `INSERT INTO provider_connections (` + connectionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		conn.ID.String(), conn.UserID.String(), string(conn.ProviderType), conn.EncryptedCredentials,
		boolToInt(conn.IsActive), formatTimePtr(conn.LastUsedAt),
		formatTime(conn.CreatedAt), formatTime(conn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create connection %s: %w", conn.ID, err)
	}
	return nil
}

// UpdateCredentials replaces the sealed credential blob.
func (r *ConnectionRepo) UpdateCredentials(ctx context.Context, id uuid.UUID, encryptedCredentials string) error {
	const query = `UPDATE provider_connections SET encrypted_credentials = ?, updated_at = ? WHERE id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, encryptedCredentials, formatTime(r.now()), id.String())
	if err != nil {
		return fmt.Errorf("update credentials for connection %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// TouchLastUsed records when the connection was last exercised.
func (r *ConnectionRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `UPDATE provider_connections SET last_used_at = ? WHERE id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("touch connection %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func requireOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrConnectionNotFound)
	}
	return nil
}

func scanConnection(s scanner) (*model.ProviderConnection, error) {
	var conn model.ProviderConnection
	var id, userID, providerType, createdAt, updatedAt string
	var isActive int
	var lastUsedAt sql.NullString

	err := s.Scan(&id, &userID, &providerType, &conn.EncryptedCredentials, &isActive, &lastUsedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if conn.ID, err = parseUUID("provider_connections.id", id); err != nil {
		return nil, err
	}
	if conn.UserID, err = parseUUID("provider_connections.user_id", userID); err != nil {
		return nil, err
	}
	conn.ProviderType = model.ProviderType(providerType)
	conn.IsActive = isActive != 0

	if conn.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parse last_used_at: %w", err)
	}
	if conn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if conn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &conn, nil
}
