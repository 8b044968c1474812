// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// DefaultMaxRetries is the retry ceiling used when SyncOptions leaves it unset.
const DefaultMaxRetries = 5

// SyncOptions tunes a SyncService. Zero values select defaults.
type SyncOptions struct {
	Currency   string
	MaxRetries int
	Now        func() time.Time
	Logger     *slog.Logger
}

// SyncService mirrors split lifecycle events onto external providers and
// records the outcome per split and provider. Every operation runs
// synchronously on the caller's context.
type SyncService struct {
	splits     driven.SplitStore
	records    driven.SyncRecordStore
	resolver   *credentialResolver
	currency   string
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
}

// NewSyncService creates a SyncService with all required dependencies.
func NewSyncService(
	splits driven.SplitStore,
	records driven.SyncRecordStore,
	connections driven.ConnectionStore,
	vault driven.CredentialVault,
	providers *ProviderRegistry,
	opts SyncOptions,
) *SyncService {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &SyncService{
		splits:  splits,
		records: records,
		resolver: &credentialResolver{
			connections: connections,
			vault:       vault,
			providers:   providers,
			now:         opts.Now,
			logger:      opts.Logger,
		},
		currency:   opts.Currency,
		maxRetries: opts.MaxRetries,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// MaxRetries returns the retry ceiling.
func (s *SyncService) MaxRetries() int {
	return s.maxRetries
}

// providerGroup is the set of splits of one transaction that map to the same
// provider connection. Each group becomes one external expense.
type providerGroup struct {
	providerID uuid.UUID
	splits     []model.SplitWithMapping
}

// groupByProvider groups mapped splits by provider in order of first
// appearance. Unmapped splits are dropped.
func groupByProvider(splits []model.SplitWithMapping) []providerGroup {
	index := make(map[uuid.UUID]int)
	var groups []providerGroup

	for _, sp := range splits {
		if sp.Mapping == nil {
			continue
		}
		i, ok := index[sp.Mapping.ProviderID]
		if !ok {
			i = len(groups)
			index[sp.Mapping.ProviderID] = i
			groups = append(groups, providerGroup{providerID: sp.Mapping.ProviderID})
		}
		groups[i].splits = append(groups[i].splits, sp)
	}

	return groups
}

// SplitsCreated creates one external expense per provider for the newly
// created splits of a transaction. A failing provider group is recorded as
// failed and does not stop the remaining groups. When the transaction already
// has an external expense on a provider, that expense is updated with every
// current split of the provider instead, so a repeated or late event never
// creates a second expense.
func (s *SyncService) SplitsCreated(ctx context.Context, transactionID uuid.UUID, newSplitIDs []uuid.UUID) error {
	tx, all, err := s.loadTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	current := make(map[uuid.UUID]providerGroup)
	for _, g := range groupByProvider(all) {
		current[g.providerID] = g
	}

	wanted := make(map[uuid.UUID]struct{}, len(newSplitIDs))
	for _, id := range newSplitIDs {
		wanted[id] = struct{}{}
	}

	var fresh []model.SplitWithMapping
	for _, sp := range all {
		if _, ok := wanted[sp.ID]; ok {
			fresh = append(fresh, sp)
		}
	}

	var errs []error
	for _, g := range groupByProvider(fresh) {
		full := current[g.providerID]
		existing, err := s.loadExisting(ctx, full)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if externalID := externalIDOf(full, existing); externalID != "" {
			s.logger.Info("splits already synced, updating existing expense",
				"transaction_id", tx.ID,
				"provider_id", g.providerID,
				"external_expense_id", externalID,
			)
			if err := s.syncGroup(ctx, *tx, full, externalID, true); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if err := s.runCreate(ctx, *tx, g, existing); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SplitUpdated re-pushes every provider group of the split's transaction with
// the full current participant list.
func (s *SyncService) SplitUpdated(ctx context.Context, splitID uuid.UUID) error {
	split, err := s.splits.GetSplit(ctx, splitID)
	if err != nil {
		return fmt.Errorf("load split %s: %w", splitID, err)
	}
	if split == nil {
		return fmt.Errorf("split %s: %w", splitID, ErrSplitNotFound)
	}

	tx, all, err := s.loadTransaction(ctx, split.TransactionID)
	if err != nil {
		return err
	}

	var errs []error
	for _, g := range groupByProvider(all) {
		if err := s.syncGroup(ctx, *tx, g, "", true); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SplitDeleted propagates the removal of a split. A provider that still has
// splits of the transaction gets an update with the smaller participant
// list; a provider left with none has its expense deleted. Providers without
// an external expense are not called. The removed split's records are
// deleted whether or not the provider call succeeded.
func (s *SyncService) SplitDeleted(ctx context.Context, transactionID, deletedSplitID uuid.UUID) error {
	recs, err := s.records.FindBySplit(ctx, deletedSplitID)
	if err != nil {
		return fmt.Errorf("find sync records for split %s: %w", deletedSplitID, err)
	}
	if len(recs) == 0 {
		s.logger.Debug("deleted split was never synced", "split_id", deletedSplitID)
		return nil
	}

	tx, err := s.splits.GetTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", transactionID, err)
	}

	var remaining []model.SplitWithMapping
	if tx != nil {
		all, err := s.splits.ListSplitsWithMappings(ctx, transactionID)
		if err != nil {
			return fmt.Errorf("list splits for transaction %s: %w", transactionID, err)
		}
		for _, sp := range all {
			if sp.ID != deletedSplitID {
				remaining = append(remaining, sp)
			}
		}
	}

	groups := make(map[uuid.UUID]providerGroup)
	for _, g := range groupByProvider(remaining) {
		groups[g.providerID] = g
	}

	var errs []error
	for _, rec := range recs {
		if g, ok := groups[rec.ProviderID]; ok {
			if err := s.syncGroup(ctx, *tx, g, deref(rec.ExternalExpenseID), false); err != nil {
				errs = append(errs, err)
			}
		} else if rec.ExternalExpenseID != nil {
			s.deleteRemote(ctx, rec)
		}

		if err := s.records.Delete(ctx, rec.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete sync record %s: %w", rec.ID, err))
		}
	}

	return errors.Join(errs...)
}

// RetrySync re-attempts the provider group of a record on explicit request.
// Records at the retry ceiling are rejected without contacting the provider.
func (s *SyncService) RetrySync(ctx context.Context, recordID uuid.UUID) (*model.SyncRecord, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load sync record %s: %w", recordID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("sync record %s: %w", recordID, ErrSyncRecordNotFound)
	}
	if rec.RetryCount >= s.maxRetries {
		return rec, fmt.Errorf("sync record %s failed %d times: %w", recordID, rec.RetryCount, ErrRetryLimitReached)
	}

	split, err := s.splits.GetSplit(ctx, rec.SplitID)
	if err != nil {
		return nil, fmt.Errorf("load split %s: %w", rec.SplitID, err)
	}
	if split == nil {
		return nil, fmt.Errorf("split %s: %w", rec.SplitID, ErrSplitNotFound)
	}

	tx, all, err := s.loadTransaction(ctx, split.TransactionID)
	if err != nil {
		return nil, err
	}

	var group *providerGroup
	for _, g := range groupByProvider(all) {
		if g.providerID == rec.ProviderID {
			group = &g
			break
		}
	}
	if group == nil {
		return nil, fmt.Errorf("split %s provider %s: %w", rec.SplitID, rec.ProviderID, ErrSplitNotMapped)
	}

	if err := s.syncGroup(ctx, *tx, *group, deref(rec.ExternalExpenseID), true); err != nil {
		return nil, err
	}

	updated, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("reload sync record %s: %w", recordID, err)
	}
	return updated, nil
}

// syncGroup pushes a group's full participant list as an update when the
// group already has an external expense. Otherwise it creates one, or does
// nothing when createMissing is false.
func (s *SyncService) syncGroup(ctx context.Context, tx model.Transaction, g providerGroup, externalID string, createMissing bool) error {
	existing, err := s.loadExisting(ctx, g)
	if err != nil {
		return err
	}

	if externalID == "" {
		externalID = externalIDOf(g, existing)
	}

	switch {
	case externalID != "":
		return s.runUpdate(ctx, tx, g, existing, externalID)
	case createMissing:
		return s.runCreate(ctx, tx, g, existing)
	default:
		s.logger.Debug("no external expense for provider, skipping",
			"transaction_id", tx.ID,
			"provider_id", g.providerID,
		)
		return nil
	}
}

// externalIDOf returns the external expense id recorded for any split of the
// group, or "" when none has been synced.
func externalIDOf(g providerGroup, existing map[uuid.UUID]*model.SyncRecord) string {
	for _, sp := range g.splits {
		if rec := existing[sp.ID]; rec != nil && rec.ExternalExpenseID != nil {
			return *rec.ExternalExpenseID
		}
	}
	return ""
}

func (s *SyncService) runCreate(ctx context.Context, tx model.Transaction, g providerGroup, existing map[uuid.UUID]*model.SyncRecord) error {
	var result model.ExpenseResult
	err := s.withProvider(ctx, g, func(ctx context.Context, p driven.ExpenseProvider, creds model.Credentials) error {
		in := model.ExpenseInput{
			Description:  tx.Description,
			TotalCost:    tx.Amount.Abs(),
			Currency:     s.currency,
			Date:         tx.Date,
			Participants: participants(tx, g, creds),
			Notes:        tx.Notes,
		}
		var err error
		result, err = p.CreateExpense(ctx, creds, in)
		return err
	})

	return s.finish(ctx, "create", tx, g, existing, outcome{created: true, result: result, err: err})
}

func (s *SyncService) runUpdate(ctx context.Context, tx model.Transaction, g providerGroup, existing map[uuid.UUID]*model.SyncRecord, externalID string) error {
	var result model.ExpenseResult
	err := s.withProvider(ctx, g, func(ctx context.Context, p driven.ExpenseProvider, creds model.Credentials) error {
		total := tx.Amount.Abs()
		upd := model.ExpenseUpdate{
			Description:  &tx.Description,
			TotalCost:    &total,
			Currency:     &s.currency,
			Date:         &tx.Date,
			Notes:        &tx.Notes,
			Participants: participants(tx, g, creds),
		}
		var err error
		result, err = p.UpdateExpense(ctx, creds, externalID, upd)
		return err
	})
	if err == nil && result.ExternalExpenseID == "" {
		result.ExternalExpenseID = externalID
	}

	return s.finish(ctx, "update", tx, g, existing, outcome{result: result, err: err})
}

// withProvider opens the group's connection and runs op. The connection, and
// with it the payer's external identity, is reached through the first
// split's mapping; there is no separate owner mapping per provider.
func (s *SyncService) withProvider(ctx context.Context, g providerGroup, op providerOp) error {
	sess, err := s.resolver.open(ctx, g.splits[0].Mapping.ProviderID)
	if err != nil {
		return err
	}
	return s.resolver.call(ctx, sess, op)
}

// participants lists the payer, who paid the whole amount and owes nothing,
// followed by one entry per split owing its amount.
func participants(tx model.Transaction, g providerGroup, creds model.Credentials) []model.Participant {
	ps := make([]model.Participant, 0, len(g.splits)+1)
	ps = append(ps, model.Participant{
		ExternalID: creds.ExternalUserID,
		PaidShare:  tx.Amount.Abs(),
		OwedShare:  decimal.Zero,
	})
	for _, sp := range g.splits {
		ps = append(ps, model.Participant{
			ExternalID: sp.Mapping.ExternalID,
			PaidShare:  decimal.Zero,
			OwedShare:  sp.Amount.Abs(),
		})
	}
	return ps
}

func (s *SyncService) deleteRemote(ctx context.Context, rec model.SyncRecord) {
	externalID := deref(rec.ExternalExpenseID)

	sess, err := s.resolver.open(ctx, rec.ProviderID)
	if err == nil {
		err = s.resolver.call(ctx, sess, func(ctx context.Context, p driven.ExpenseProvider, creds model.Credentials) error {
			return p.DeleteExpense(ctx, creds, externalID)
		})
	}

	if err != nil {
		s.logger.Warn("failed to delete external expense",
			"provider_id", rec.ProviderID,
			"external_expense_id", externalID,
			"error", err,
		)
		return
	}
	s.logger.Info("deleted external expense", "provider_id", rec.ProviderID, "external_expense_id", externalID)
}

// outcome is the result of one provider call for a group.
type outcome struct {
	created bool
	result  model.ExpenseResult
	err     error
}

// lastError is the text stored on failed records. Internal faults are not
// described beyond their category.
func (o outcome) lastError() string {
	switch {
	case o.err == nil:
		return ""
	case driven.IsProviderError(o.err):
		return o.err.Error()
	case errors.Is(o.err, ErrCredentialsUnreadable):
		return "internal error: " + ErrCredentialsUnreadable.Error()
	default:
		return "internal error"
	}
}

// finish writes the outcome to every split of the group. Provider failures
// are absorbed into failed records; other failures are also returned.
func (s *SyncService) finish(ctx context.Context, action string, tx model.Transaction, g providerGroup, existing map[uuid.UUID]*model.SyncRecord, out outcome) error {
	if out.err != nil {
		s.logger.Warn("provider sync failed",
			"action", action,
			"transaction_id", tx.ID,
			"provider_id", g.providerID,
			"splits", len(g.splits),
			"retryable", driven.IsRetryable(out.err),
			"requires_reauth", driven.RequiresReauth(out.err),
			"error", out.err,
		)
	} else {
		s.logger.Info("provider sync succeeded",
			"action", action,
			"transaction_id", tx.ID,
			"provider_id", g.providerID,
			"splits", len(g.splits),
			"external_expense_id", out.result.ExternalExpenseID,
		)
	}

	var internalErr error
	if out.err != nil && !driven.IsProviderError(out.err) {
		internalErr = fmt.Errorf("%s expense on provider %s: %w", action, g.providerID, out.err)
	}

	return errors.Join(internalErr, s.writeRecords(ctx, g, existing, out))
}

// writeRecords applies an outcome to the group's records, creating the ones
// that do not exist yet. Failure increments the retry count of existing
// records; a successful create resets it.
func (s *SyncService) writeRecords(ctx context.Context, g providerGroup, existing map[uuid.UUID]*model.SyncRecord, out outcome) error {
	now := s.now()
	var errs []error

	for _, sp := range g.splits {
		rec := existing[sp.ID]
		isNew := rec == nil
		if isNew {
			rec = &model.SyncRecord{
				ID:         uuid.New(),
				SplitID:    sp.ID,
				ProviderID: g.providerID,
				Status:     model.SyncStatusPending,
			}
		}

		rec.LastSyncAt = &now
		if out.err == nil {
			externalID := out.result.ExternalExpenseID
			rec.ExternalExpenseID = &externalID
			if out.result.ExternalURL != "" {
				rec.ExternalURL = out.result.ExternalURL
			}
			rec.Status = model.SyncStatusSynced
			rec.LastError = ""
			if out.created {
				rec.RetryCount = 0
			}
		} else {
			rec.Status = model.SyncStatusFailed
			rec.LastError = out.lastError()
			if !isNew {
				rec.RetryCount++
			}
		}

		var err error
		if isNew {
			err = s.records.Create(ctx, *rec)
		} else {
			err = s.records.Update(ctx, *rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("write sync record for split %s: %w", sp.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (s *SyncService) loadTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, []model.SplitWithMapping, error) {
	tx, err := s.splits.GetTransaction(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	if tx == nil {
		return nil, nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}

	splits, err := s.splits.ListSplitsWithMappings(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list splits for transaction %s: %w", id, err)
	}
	return tx, splits, nil
}

// loadExisting returns the group's current records keyed by split id.
func (s *SyncService) loadExisting(ctx context.Context, g providerGroup) (map[uuid.UUID]*model.SyncRecord, error) {
	existing := make(map[uuid.UUID]*model.SyncRecord, len(g.splits))
	for _, sp := range g.splits {
		rec, err := s.records.FindBySplitAndProvider(ctx, sp.ID, g.providerID)
		if err != nil {
			return nil, fmt.Errorf("load sync record for split %s: %w", sp.ID, err)
		}
		if rec != nil {
			existing[sp.ID] = rec
		}
	}
	return existing, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
