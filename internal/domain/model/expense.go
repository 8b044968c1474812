package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is one user's share of an external expense.
type Participant struct {
	ExternalID string
	PaidShare  decimal.Decimal
	OwedShare  decimal.Decimal
}

// ExpenseInput describes an expense to create on a provider.
type ExpenseInput struct {
	Description  string
	TotalCost    decimal.Decimal
	Currency     string
	Date         time.Time
	Participants []Participant
	Notes        string
}

// ExpenseUpdate describes a partial change to an existing external expense.
// Nil fields are left unchanged. A nil Participants slice keeps the current
// participants; a non-nil slice replaces them entirely.
type ExpenseUpdate struct {
	Description  *string
	TotalCost    *decimal.Decimal
	Currency     *string
	Date         *time.Time
	Notes        *string
	Participants []Participant
}

// ExpenseResult identifies an expense on the provider after a write.
type ExpenseResult struct {
	ExternalExpenseID string
	ExternalURL       string
}
