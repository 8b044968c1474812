package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SplitStore = (*SplitRepo)(nil)

// SplitRepo is the SQLite implementation of the SplitStore port interface.
// The ledger tables are written by the split-mutation endpoints; this repo
// only reads them.
type SplitRepo struct {
	db *DB
}

// NewSplitRepo creates a new SplitRepo backed by the given DB.
func NewSplitRepo(db *DB) *SplitRepo {
	return &SplitRepo{db: db}
}

// GetTransaction returns the transaction, or (nil, nil) if it does not exist.
func (r *SplitRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	const query = `
		SELECT id, user_id, description, amount, date, notes
		FROM transactions
		WHERE id = ?
	`

	var tx model.Transaction
	var txID, userID, amount, date string

	err := r.db.Reader.QueryRowContext(ctx, query, id.String()).
		Scan(&txID, &userID, &tx.Description, &amount, &date, &tx.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}

	if tx.ID, err = parseUUID("transactions.id", txID); err != nil {
		return nil, err
	}
	if tx.UserID, err = parseUUID("transactions.user_id", userID); err != nil {
		return nil, err
	}
	if tx.Amount, err = parseAmount("transactions.amount", amount); err != nil {
		return nil, err
	}
	if tx.Date, err = parseTime(date); err != nil {
		return nil, fmt.Errorf("parse transactions.date: %w", err)
	}

	return &tx, nil
}

// GetSplit returns the split, or (nil, nil) if it does not exist.
func (r *SplitRepo) GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error) {
	const query = `
		SELECT id, transaction_id, counterparty_id, amount
		FROM splits
		WHERE id = ?
	`

	split, err := scanSplit(r.db.Reader.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get split %s: %w", id, err)
	}
	return split, nil
}

// ListSplitsWithMappings returns the transaction's splits in insertion order,
// left-joined to their counterparty's provider mapping.
func (r *SplitRepo) ListSplitsWithMappings(ctx context.Context, transactionID uuid.UUID) ([]model.SplitWithMapping, error) {
	const query = `
		SELECT s.id, s.transaction_id, s.counterparty_id, s.amount, m.provider_id, m.external_id
		FROM splits s
		LEFT JOIN counterparty_provider_mappings m ON m.counterparty_id = s.counterparty_id
		WHERE s.transaction_id = ?
		ORDER BY s.rowid
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, transactionID.String())
	if err != nil {
		return nil, fmt.Errorf("list splits for transaction %s: %w", transactionID, err)
	}
	defer rows.Close()

	var result []model.SplitWithMapping
	for rows.Next() {
		var id, txID, counterpartyID, amount string
		var providerID, externalID sql.NullString

		if err := rows.Scan(&id, &txID, &counterpartyID, &amount, &providerID, &externalID); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}

		split, err := buildSplit(id, txID, counterpartyID, amount)
		if err != nil {
			return nil, err
		}

		swm := model.SplitWithMapping{Split: *split}
		if providerID.Valid {
			pid, err := parseUUID("counterparty_provider_mappings.provider_id", providerID.String)
			if err != nil {
				return nil, err
			}
			swm.Mapping = &model.CounterpartyProviderMapping{
				CounterpartyID: split.CounterpartyID,
				ProviderID:     pid,
				ExternalID:     externalID.String,
			}
		}

		result = append(result, swm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate splits: %w", err)
	}

	return result, nil
}

func scanSplit(s scanner) (*model.Split, error) {
	var id, txID, counterpartyID, amount string
	if err := s.Scan(&id, &txID, &counterpartyID, &amount); err != nil {
		return nil, err
	}
	return buildSplit(id, txID, counterpartyID, amount)
}

func buildSplit(id, txID, counterpartyID, amount string) (*model.Split, error) {
	var split model.Split
	var err error

	if split.ID, err = parseUUID("splits.id", id); err != nil {
		return nil, err
	}
	if split.TransactionID, err = parseUUID("splits.transaction_id", txID); err != nil {
		return nil, err
	}
	if split.CounterpartyID, err = parseUUID("splits.counterparty_id", counterpartyID); err != nil {
		return nil, err
	}
	if split.Amount, err = parseAmount("splits.amount", amount); err != nil {
		return nil, err
	}

	return &split, nil
}
