package sqlite

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

func TestSplitRepo_GetTransaction(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSplitRepo(db)
	want := insertTransaction(t, db, "90.00")

	got, err := repo.GetTransaction(context.Background(), want.ID)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.True(t, decimal.RequireFromString("90").Equal(got.Amount))
	assert.Equal(t, want.Date, got.Date)
	assert.Equal(t, "team", got.Notes)
}

func TestSplitRepo_GetTransactionMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSplitRepo(db)

	got, err := repo.GetTransaction(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSplitRepo_GetSplit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSplitRepo(db)
	tx := insertTransaction(t, db, "50")
	counterparty := uuid.New()
	splitID := insertSplit(t, db, tx.ID, counterparty, "12.34")

	got, err := repo.GetSplit(context.Background(), splitID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tx.ID, got.TransactionID)
	assert.Equal(t, counterparty, got.CounterpartyID)
	assert.Equal(t, "12.34", got.Amount.StringFixed(2))

	missing, err := repo.GetSplit(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSplitRepo_ListSplitsWithMappings(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSplitRepo(db)
	providerID := insertConnection(t, db, model.ProviderSplitwise)
	tx := insertTransaction(t, db, "90")

	mapped := uuid.New()
	unmapped := uuid.New()
	insertMapping(t, db, mapped, providerID, "111")

	first := insertSplit(t, db, tx.ID, mapped, "30")
	second := insertSplit(t, db, tx.ID, unmapped, "60")

	other := insertTransaction(t, db, "10")
	insertSplit(t, db, other.ID, mapped, "10")

	splits, err := repo.ListSplitsWithMappings(context.Background(), tx.ID)

	require.NoError(t, err)
	require.Len(t, splits, 2)

	assert.Equal(t, first, splits[0].ID)
	require.NotNil(t, splits[0].Mapping)
	assert.Equal(t, providerID, splits[0].Mapping.ProviderID)
	assert.Equal(t, "111", splits[0].Mapping.ExternalID)
	assert.Equal(t, mapped, splits[0].Mapping.CounterpartyID)

	assert.Equal(t, second, splits[1].ID)
	assert.Nil(t, splits[1].Mapping)
}

func TestSplitRepo_MappingIsUniquePerCounterparty(t *testing.T) {
	db := setupTestDB(t)
	a := insertConnection(t, db, model.ProviderSplitwise)
	b := insertConnection(t, db, model.ProviderSplitPro)
	counterparty := uuid.New()

	insertMapping(t, db, counterparty, a, "1")

	_, err := db.Writer.Exec(
		`INSERT INTO counterparty_provider_mappings (counterparty_id, provider_id, external_id) VALUES (?, ?, ?)`,
		counterparty.String(), b.String(), "2",
	)
	assert.Error(t, err)
}
