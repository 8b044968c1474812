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

// ErrSyncRecordNotFound is returned by Update when the record does not exist.
var ErrSyncRecordNotFound = errors.New("sync record not found")

// Compile-time interface satisfaction check.
var _ driven.SyncRecordStore = (*SyncRecordRepo)(nil)

// SyncRecordRepo is the SQLite implementation of the SyncRecordStore port interface.
type SyncRecordRepo struct {
	db  *DB
	now func() time.Time
}

// NewSyncRecordRepo creates a new SyncRecordRepo backed by the given DB.
func NewSyncRecordRepo(db *DB) *SyncRecordRepo {
	return &SyncRecordRepo{db: db, now: time.Now}
}

const syncRecordColumns = `id, split_id, provider_id, external_expense_id, external_url, status,
	last_sync_at, last_error, retry_count, created_at, updated_at`

// Create inserts a record. A record for the same split and provider must not exist.
func (r *SyncRecordRepo) Create(ctx context.Context, rec model.SyncRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("create sync record %s: invalid status %q", rec.ID, rec.Status)
	}

	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `INSERT INTO sync_records (` + syncRecordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		rec.ID.String(), rec.SplitID.String(), rec.ProviderID.String(),
		nullString(rec.ExternalExpenseID), rec.ExternalURL, string(rec.Status),
		formatTimePtr(rec.LastSyncAt), rec.LastError, rec.RetryCount,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create sync record for split %s: %w", rec.SplitID, err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing record. The last
// writer wins.
func (r *SyncRecordRepo) Update(ctx context.Context, rec model.SyncRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("update sync record %s: invalid status %q", rec.ID, rec.Status)
	}

	const query = `
		UPDATE sync_records
		SET external_expense_id = ?, external_url = ?, status = ?, last_sync_at = ?,
			last_error = ?, retry_count = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.Writer.ExecContext(ctx, query,
		nullString(rec.ExternalExpenseID), rec.ExternalURL, string(rec.Status),
		formatTimePtr(rec.LastSyncAt), rec.LastError, rec.RetryCount,
		formatTime(r.now()), rec.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update sync record %s: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update sync record %s: %w", rec.ID, ErrSyncRecordNotFound)
	}
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (r *SyncRecordRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM sync_records WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id.String()); err != nil {
		return fmt.Errorf("delete sync record %s: %w", id, err)
	}
	return nil
}

// DeleteBySplit removes every record of a split.
func (r *SyncRecordRepo) DeleteBySplit(ctx context.Context, splitID uuid.UUID) error {
	const query = `DELETE FROM sync_records WHERE split_id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, splitID.String()); err != nil {
		return fmt.Errorf("delete sync records for split %s: %w", splitID, err)
	}
	return nil
}

// Get returns the record, or (nil, nil) if it does not exist.
func (r *SyncRecordRepo) Get(ctx context.Context, id uuid.UUID) (*model.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + ` FROM sync_records WHERE id = ?`

	rec, err := scanSyncRecord(r.db.Reader.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync record %s: %w", id, err)
	}
	return rec, nil
}

// FindBySplit returns every record of a split, oldest first.
func (r *SyncRecordRepo) FindBySplit(ctx context.Context, splitID uuid.UUID) ([]model.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + ` FROM sync_records WHERE split_id = ? ORDER BY created_at, id`
	return r.list(ctx, "find sync records for split "+splitID.String(), query, splitID.String())
}

// FindBySplitAndProvider returns the record, or (nil, nil) if it does not exist.
func (r *SyncRecordRepo) FindBySplitAndProvider(ctx context.Context, splitID, providerID uuid.UUID) (*model.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + ` FROM sync_records WHERE split_id = ? AND provider_id = ?`

	rec, err := scanSyncRecord(r.db.Reader.QueryRowContext(ctx, query, splitID.String(), providerID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find sync record for split %s provider %s: %w", splitID, providerID, err)
	}
	return rec, nil
}

// FindByTransaction returns the records of the transaction's current splits.
func (r *SyncRecordRepo) FindByTransaction(ctx context.Context, transactionID uuid.UUID) ([]model.SyncRecord, error) {
	query := `SELECT ` + prefixed("r.", syncRecordColumns) + `
		FROM sync_records r
		JOIN splits s ON s.id = r.split_id
		WHERE s.transaction_id = ?
		ORDER BY s.rowid, r.created_at`
	return r.list(ctx, "find sync records for transaction "+transactionID.String(), query, transactionID.String())
}

// FindFailedUnderRetryLimit returns failed records with retry_count < limit,
// least recently attempted first.
func (r *SyncRecordRepo) FindFailedUnderRetryLimit(ctx context.Context, limit int) ([]model.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + `
		FROM sync_records
		WHERE status = ? AND retry_count < ?
		ORDER BY last_sync_at, id`
	return r.list(ctx, "find failed sync records", query, string(model.SyncStatusFailed), limit)
}

func (r *SyncRecordRepo) list(ctx context.Context, op, query string, args ...any) ([]model.SyncRecord, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []model.SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return records, nil
}

func scanSyncRecord(s scanner) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	var id, splitID, providerID, status, createdAt, updatedAt string
	var externalID, lastSyncAt sql.NullString

	err := s.Scan(
		&id, &splitID, &providerID, &externalID, &rec.ExternalURL, &status,
		&lastSyncAt, &rec.LastError, &rec.RetryCount, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.ID, err = parseUUID("sync_records.id", id); err != nil {
		return nil, err
	}
	if rec.SplitID, err = parseUUID("sync_records.split_id", splitID); err != nil {
		return nil, err
	}
	if rec.ProviderID, err = parseUUID("sync_records.provider_id", providerID); err != nil {
		return nil, err
	}
	if externalID.Valid {
		v := externalID.String
		rec.ExternalExpenseID = &v
	}
	rec.Status = model.SyncStatus(status)

	if rec.LastSyncAt, err = parseNullTime(lastSyncAt); err != nil {
		return nil, fmt.Errorf("parse last_sync_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rec, nil
}
