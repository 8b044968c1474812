package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coinsplit/internal/application"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// --- Mock implementations ---

type memSplitStore struct {
	txs    map[uuid.UUID]model.Transaction
	splits []model.SplitWithMapping
}

func (m *memSplitStore) GetTransaction(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	tx, ok := m.txs[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *memSplitStore) GetSplit(_ context.Context, id uuid.UUID) (*model.Split, error) {
	for _, sp := range m.splits {
		if sp.ID == id {
			s := sp.Split
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memSplitStore) ListSplitsWithMappings(_ context.Context, txID uuid.UUID) ([]model.SplitWithMapping, error) {
	var out []model.SplitWithMapping
	for _, sp := range m.splits {
		if sp.TransactionID == txID {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (m *memSplitStore) remove(id uuid.UUID) {
	for i, sp := range m.splits {
		if sp.ID == id {
			m.splits = append(m.splits[:i], m.splits[i+1:]...)
			return
		}
	}
}

func (m *memSplitStore) setAmount(id uuid.UUID, amount string) {
	for i := range m.splits {
		if m.splits[i].ID == id {
			m.splits[i].Amount = decimal.RequireFromString(amount)
		}
	}
}

type memRecordStore struct {
	splits  *memSplitStore
	order   []uuid.UUID
	recs    map[uuid.UUID]model.SyncRecord
	creates int
	updates int
}

func (m *memRecordStore) Create(_ context.Context, rec model.SyncRecord) error {
	for _, existing := range m.recs {
		if existing.SplitID == rec.SplitID && existing.ProviderID == rec.ProviderID {
			return errors.New("unique constraint failed")
		}
	}
	m.creates++
	m.recs[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *memRecordStore) Update(_ context.Context, rec model.SyncRecord) error {
	if _, ok := m.recs[rec.ID]; !ok {
		return errors.New("record not found")
	}
	m.updates++
	m.recs[rec.ID] = rec
	return nil
}

func (m *memRecordStore) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.recs, id)
	return nil
}

func (m *memRecordStore) DeleteBySplit(_ context.Context, splitID uuid.UUID) error {
	for id, rec := range m.recs {
		if rec.SplitID == splitID {
			delete(m.recs, id)
		}
	}
	return nil
}

func (m *memRecordStore) Get(_ context.Context, id uuid.UUID) (*model.SyncRecord, error) {
	rec, ok := m.recs[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memRecordStore) all(keep func(model.SyncRecord) bool) []model.SyncRecord {
	var out []model.SyncRecord
	for _, id := range m.order {
		if rec, ok := m.recs[id]; ok && keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (m *memRecordStore) FindBySplit(_ context.Context, splitID uuid.UUID) ([]model.SyncRecord, error) {
	return m.all(func(r model.SyncRecord) bool { return r.SplitID == splitID }), nil
}

func (m *memRecordStore) FindBySplitAndProvider(_ context.Context, splitID, providerID uuid.UUID) (*model.SyncRecord, error) {
	recs := m.all(func(r model.SyncRecord) bool { return r.SplitID == splitID && r.ProviderID == providerID })
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (m *memRecordStore) FindByTransaction(_ context.Context, txID uuid.UUID) ([]model.SyncRecord, error) {
	inTx := make(map[uuid.UUID]bool)
	for _, sp := range m.splits.splits {
		if sp.TransactionID == txID {
			inTx[sp.ID] = true
		}
	}
	return m.all(func(r model.SyncRecord) bool { return inTx[r.SplitID] }), nil
}

func (m *memRecordStore) FindFailedUnderRetryLimit(_ context.Context, limit int) ([]model.SyncRecord, error) {
	return m.all(func(r model.SyncRecord) bool {
		return r.Status == model.SyncStatusFailed && r.RetryCount < limit
	}), nil
}

// only returns the single record of a split, failing the test otherwise.
func (m *memRecordStore) only(t *testing.T, splitID uuid.UUID) model.SyncRecord {
	t.Helper()
	recs, _ := m.FindBySplit(context.Background(), splitID)
	require.Len(t, recs, 1)
	return recs[0]
}

type memConnectionStore struct {
	mu      sync.Mutex
	conns   map[uuid.UUID]model.ProviderConnection
	touched chan uuid.UUID
}

func (m *memConnectionStore) Get(_ context.Context, id uuid.UUID) (*model.ProviderConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (m *memConnectionStore) GetActiveByUser(_ context.Context, userID uuid.UUID, pt model.ProviderType) (*model.ProviderConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.conns {
		if conn.UserID == userID && conn.ProviderType == pt && conn.IsActive {
			return &conn, nil
		}
	}
	return nil, nil
}

func (m *memConnectionStore) Create(_ context.Context, conn model.ProviderConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
	return nil
}

func (m *memConnectionStore) UpdateCredentials(_ context.Context, id uuid.UUID, blob string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return errors.New("connection not found")
	}
	conn.EncryptedCredentials = blob
	m.conns[id] = conn
	return nil
}

func (m *memConnectionStore) TouchLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		conn.LastUsedAt = &at
		m.conns[id] = conn
	}
	m.mu.Unlock()
	if m.touched != nil {
		m.touched <- id
	}
	return nil
}

// fakeVault seals values as readable JSON behind a prefix.
type fakeVault struct{}

const sealedPrefix = "sealed:"

func (fakeVault) Encrypt(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return sealedPrefix + string(b), nil
}

func (fakeVault) Decrypt(blob string) (json.RawMessage, error) {
	if !strings.HasPrefix(blob, sealedPrefix) {
		return nil, errors.New("ciphertext invalid")
	}
	return json.RawMessage(strings.TrimPrefix(blob, sealedPrefix)), nil
}

func (fakeVault) SignState(userID uuid.UUID) (string, error) {
	return "state:" + userID.String(), nil
}

func (fakeVault) VerifyState(token string) (uuid.UUID, error) {
	id, ok := strings.CutPrefix(token, "state:")
	if !ok {
		return uuid.Nil, errors.New("state invalid")
	}
	return uuid.Parse(id)
}

type createCall struct {
	Creds model.Credentials
	Input model.ExpenseInput
}

type updateCall struct {
	Creds      model.Credentials
	ExternalID string
	Update     model.ExpenseUpdate
}

type fakeProvider struct {
	pt model.ProviderType

	createFn   func(n int, creds model.Credentials) (model.ExpenseResult, error)
	updateFn   func(n int, creds model.Credentials) error
	deleteFn   func(externalID string) error
	validateFn func(creds model.Credentials) (bool, error)
	refreshFn  func(creds model.Credentials) (*model.Credentials, error)

	creates    []createCall
	updates    []updateCall
	deletes    []string
	validates  int
	refreshes  int
	identityID string
}

func (f *fakeProvider) Type() model.ProviderType { return f.pt }

func (f *fakeProvider) CreateExpense(_ context.Context, creds model.Credentials, in model.ExpenseInput) (model.ExpenseResult, error) {
	f.creates = append(f.creates, createCall{Creds: creds, Input: in})
	if f.createFn != nil {
		return f.createFn(len(f.creates), creds)
	}
	id := fmt.Sprintf("%s-%d", f.pt, len(f.creates))
	return model.ExpenseResult{ExternalExpenseID: id, ExternalURL: "https://example.test/" + id}, nil
}

func (f *fakeProvider) UpdateExpense(_ context.Context, creds model.Credentials, externalID string, upd model.ExpenseUpdate) (model.ExpenseResult, error) {
	f.updates = append(f.updates, updateCall{Creds: creds, ExternalID: externalID, Update: upd})
	if f.updateFn != nil {
		if err := f.updateFn(len(f.updates), creds); err != nil {
			return model.ExpenseResult{}, err
		}
	}
	return model.ExpenseResult{ExternalExpenseID: externalID}, nil
}

func (f *fakeProvider) DeleteExpense(_ context.Context, _ model.Credentials, externalID string) error {
	f.deletes = append(f.deletes, externalID)
	if f.deleteFn != nil {
		return f.deleteFn(externalID)
	}
	return nil
}

func (f *fakeProvider) ValidateCredentials(_ context.Context, creds model.Credentials) (bool, error) {
	f.validates++
	if f.validateFn != nil {
		return f.validateFn(creds)
	}
	return true, nil
}

func (f *fakeProvider) RefreshCredentials(_ context.Context, creds model.Credentials) (*model.Credentials, error) {
	f.refreshes++
	if f.refreshFn != nil {
		return f.refreshFn(creds)
	}
	return nil, nil
}

func (f *fakeProvider) providerCalls() int {
	return len(f.creates) + len(f.updates) + len(f.deletes) + f.validates
}

// fakeOAuthProvider adds the authorization-code flow and identity lookup.
type fakeOAuthProvider struct {
	*fakeProvider
	exchanged []string
}

func (f *fakeOAuthProvider) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (f *fakeOAuthProvider) ExchangeCode(_ context.Context, code string) (model.Credentials, error) {
	f.exchanged = append(f.exchanged, code)
	return model.Credentials{AccessToken: "token-for-" + code, RefreshToken: "refresh", TokenType: "Bearer"}, nil
}

func (f *fakeOAuthProvider) CurrentUserID(_ context.Context, _ model.Credentials) (string, error) {
	return f.identityID, nil
}

// --- Fixture ---

type fixture struct {
	splits  *memSplitStore
	records *memRecordStore
	conns   *memConnectionStore
	a       *fakeProvider
	b       *fakeProvider
	svc     *application.SyncService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	splits := &memSplitStore{txs: make(map[uuid.UUID]model.Transaction)}
	f := &fixture{
		splits:  splits,
		records: &memRecordStore{splits: splits, recs: make(map[uuid.UUID]model.SyncRecord)},
		conns:   &memConnectionStore{conns: make(map[uuid.UUID]model.ProviderConnection)},
		a:       &fakeProvider{pt: model.ProviderSplitwise},
		b:       &fakeProvider{pt: model.ProviderSplitPro},
	}

	registry := application.NewProviderRegistry(f.a, f.b)
	f.svc = application.NewSyncService(f.splits, f.records, f.conns, fakeVault{}, registry, application.SyncOptions{
		Currency:   "USD",
		MaxRetries: 5,
	})
	return f
}

// connect stores an active connection holding creds and returns its id.
func (f *fixture) connect(t *testing.T, pt model.ProviderType, creds model.Credentials) uuid.UUID {
	t.Helper()
	blob, err := fakeVault{}.Encrypt(creds)
	require.NoError(t, err)

	id := uuid.New()
	f.conns.conns[id] = model.ProviderConnection{
		ID:                   id,
		UserID:               uuid.New(),
		ProviderType:         pt,
		EncryptedCredentials: blob,
		IsActive:             true,
	}
	return id
}

func (f *fixture) transaction(amount string) model.Transaction {
	tx := model.Transaction{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Description: "Dinner",
		Amount:      decimal.RequireFromString(amount),
		Date:        time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Notes:       "team offsite",
	}
	f.splits.txs[tx.ID] = tx
	return tx
}

// split adds a split of tx. A nil providerID leaves the counterparty unmapped.
func (f *fixture) split(tx model.Transaction, amount string, providerID *uuid.UUID, externalID string) uuid.UUID {
	sp := model.SplitWithMapping{
		Split: model.Split{
			ID:             uuid.New(),
			TransactionID:  tx.ID,
			CounterpartyID: uuid.New(),
			Amount:         decimal.RequireFromString(amount),
		},
	}
	if providerID != nil {
		sp.Mapping = &model.CounterpartyProviderMapping{
			CounterpartyID: sp.CounterpartyID,
			ProviderID:     *providerID,
			ExternalID:     externalID,
		}
	}
	f.splits.splits = append(f.splits.splits, sp)
	return sp.ID
}

// credsOf decrypts the credentials currently stored on a connection.
func (f *fixture) credsOf(t *testing.T, connID uuid.UUID) model.Credentials {
	t.Helper()
	raw, err := fakeVault{}.Decrypt(f.conns.conns[connID].EncryptedCredentials)
	require.NoError(t, err)
	var creds model.Credentials
	require.NoError(t, json.Unmarshal(raw, &creds))
	return creds
}

type shareRow struct {
	ID   string
	Paid string
	Owed string
}

func shares(ps []model.Participant) []shareRow {
	out := make([]shareRow, 0, len(ps))
	for _, p := range ps {
		out = append(out, shareRow{ID: p.ExternalID, Paid: p.PaidShare.StringFixed(2), Owed: p.OwedShare.StringFixed(2)})
	}
	return out
}
