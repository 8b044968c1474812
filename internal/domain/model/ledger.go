package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is a ledger entry owned by a single user. Splits divide its
// amount between the owner and counterparties.
type Transaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Description string
	Amount      decimal.Decimal
	Date        time.Time
	Notes       string
}

// Split is the share of a transaction owed by one counterparty.
type Split struct {
	ID             uuid.UUID
	TransactionID  uuid.UUID
	CounterpartyID uuid.UUID
	Amount         decimal.Decimal
}

// CounterpartyProviderMapping links a counterparty to their identity on an
// external provider. ProviderID references a ProviderConnection.
type CounterpartyProviderMapping struct {
	CounterpartyID uuid.UUID
	ProviderID     uuid.UUID
	ExternalID     string
}

// SplitWithMapping pairs a split with its counterparty's provider mapping.
// Mapping is nil when the counterparty is not linked to any provider; such
// splits are never synchronized.
type SplitWithMapping struct {
	Split
	Mapping *CounterpartyProviderMapping
}
