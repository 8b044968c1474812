package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader pools share the same database via cache=shared, and the
// name derived from t.Name() isolates parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	// WAL mode does not apply to in-memory databases.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)

	writer, err := openPool(ctx, dsn, 1)
	if err != nil {
		t.Fatalf("open test db writer: %v", err)
	}
	reader, err := openPool(ctx, dsn, 4)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("open test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if _, err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// The ledger tables are owned by another service, so fixtures insert rows directly.

func insertConnection(t *testing.T, db *DB, providerType model.ProviderType) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := formatTime(time.Now())
	_, err := db.Writer.Exec(
		`INSERT INTO provider_connections (id, user_id, provider_type, encrypted_credentials, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, 'blob', 1, ?, ?)`,
		id.String(), uuid.NewString(), string(providerType), now, now,
	)
	require.NoError(t, err)
	return id
}

func insertTransaction(t *testing.T, db *DB, amount string) model.Transaction {
	t.Helper()
	tx := model.Transaction{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Description: "Dinner",
		Amount:      decimal.RequireFromString(amount),
		Date:        time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Notes:       "team",
	}
	_, err := db.Writer.Exec(
		`INSERT INTO transactions (id, user_id, description, amount, date, notes) VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID.String(), tx.UserID.String(), tx.Description, tx.Amount.String(), formatTime(tx.Date), tx.Notes,
	)
	require.NoError(t, err)
	return tx
}

func insertSplit(t *testing.T, db *DB, txID, counterpartyID uuid.UUID, amount string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Writer.Exec(
		`INSERT INTO splits (id, transaction_id, counterparty_id, amount) VALUES (?, ?, ?, ?)`,
		id.String(), txID.String(), counterpartyID.String(), amount,
	)
	require.NoError(t, err)
	return id
}

func insertMapping(t *testing.T, db *DB, counterpartyID, providerID uuid.UUID, externalID string) {
	t.Helper()
	_, err := db.Writer.Exec(
		`INSERT INTO counterparty_provider_mappings (counterparty_id, provider_id, external_id) VALUES (?, ?, ?)`,
		counterpartyID.String(), providerID.String(), externalID,
	)
	require.NoError(t, err)
}
