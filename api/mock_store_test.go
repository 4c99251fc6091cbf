package api

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/nemopss/fin-ng/finance/db"
	"github.com/nemopss/fin-ng/finance/models"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// mockStore is an in-memory Store. Every successful write that moves a
// balance is recorded in writes so tests can count asset updates.
type mockStore struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	currencies   []models.Currency
	sources      []models.PaymentSource
	assets       map[string]*models.CurrentAsset // uid + "/" + source
	transactions []models.Transaction
	nextID       int64
	writes       [][]models.AssetDelta
}

func newMockStore() *mockStore {
	return &mockStore{
		users:  make(map[string]*models.User),
		assets: make(map[string]*models.CurrentAsset),
		currencies: []models.Currency{
			{Code: "USD", Name: "US Dollar", Symbol: "$", Rate: decimal.NewFromInt(1)},
			{Code: "EUR", Name: "Euro", Symbol: "€", Rate: decimal.RequireFromString("0.92")},
			{Code: "JPY", Name: "Japanese Yen", Symbol: "¥", Rate: decimal.RequireFromString("149.5")},
		},
	}
}

func assetKey(userID, source string) string {
	return userID + "/" + source
}

func cloneTx(t models.Transaction) models.Transaction {
	t.Tags = slices.Clone(t.Tags)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	return t
}

func (m *mockStore) CreateUser(_ context.Context, username, password string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(password) < 6 {
		return nil, db.ErrWeakPassword
	}
	for _, u := range m.users {
		if u.Username == username {
			return nil, db.ErrDuplicate
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{ID: uuid.NewString(), Username: username, Password: string(hash), BaseCurrency: "USD"}
	m.users[u.ID] = u
	return u, nil
}

func (m *mockStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *mockStore) CreateSource(_ context.Context, userID, source string, accType models.AccType) (*models.PaymentSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if _, exists := m.assets[assetKey(userID, source)]; exists {
		return nil, fmt.Errorf("source %q: %w", source, db.ErrDuplicate)
	}
	m.nextID++
	ps := models.PaymentSource{ID: m.nextID, UserID: userID, Source: source, AccType: accType}
	m.sources = append(m.sources, ps)
	m.assets[assetKey(userID, source)] = &models.CurrentAsset{
		ID:       m.nextID,
		UserID:   userID,
		Source:   source,
		AccType:  accType,
		Amount:   decimal.Zero,
		Currency: u.BaseCurrency,
	}
	return &ps, nil
}

func (m *mockStore) GetSources(_ context.Context, userID string) ([]models.PaymentSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sources := []models.PaymentSource{}
	for _, ps := range m.sources {
		if ps.UserID == userID {
			sources = append(sources, ps)
		}
	}
	return sources, nil
}

func (m *mockStore) sourceIndex(userID, source string) int {
	return slices.IndexFunc(m.sources, func(ps models.PaymentSource) bool {
		return ps.UserID == userID && ps.Source == source
	})
}

func (m *mockStore) UpdateSource(_ context.Context, userID, source, newName string, accType models.AccType) (*models.PaymentSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.sourceIndex(userID, source)
	if i < 0 {
		return nil, db.ErrNotFound
	}
	if newName != source && m.sourceIndex(userID, newName) >= 0 {
		return nil, fmt.Errorf("source %q: %w", newName, db.ErrDuplicate)
	}

	asset := m.assets[assetKey(userID, source)]
	delete(m.assets, assetKey(userID, source))
	asset.Source = newName
	asset.AccType = accType
	m.assets[assetKey(userID, newName)] = asset

	for j := range m.transactions {
		if m.transactions[j].UserID == userID && m.transactions[j].Source == source {
			m.transactions[j].Source = newName
		}
	}
	m.sources[i].Source = newName
	m.sources[i].AccType = accType
	ps := m.sources[i]
	return &ps, nil
}

func (m *mockStore) DeleteSource(_ context.Context, userID, source string) (*models.PaymentSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.sourceIndex(userID, source)
	if i < 0 {
		return nil, db.ErrNotFound
	}
	if slices.ContainsFunc(m.transactions, func(t models.Transaction) bool {
		return t.UserID == userID && t.Source == source
	}) {
		return nil, fmt.Errorf("source %q: %w", source, db.ErrInUse)
	}
	ps := m.sources[i]
	m.sources = slices.Delete(m.sources, i, i+1)
	delete(m.assets, assetKey(userID, source))
	return &ps, nil
}

func (m *mockStore) GetAsset(_ context.Context, userID, source string) (*models.CurrentAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[assetKey(userID, source)]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockStore) GetAssets(_ context.Context, userID string) ([]models.CurrentAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	assets := []models.CurrentAsset{}
	for _, ps := range m.sources {
		if ps.UserID == userID {
			assets = append(assets, *m.assets[assetKey(userID, ps.Source)])
		}
	}
	return assets, nil
}

func (m *mockStore) GetCurrencies(context.Context) ([]models.Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.currencies), nil
}

// applyDeltas validates every delta before touching any balance.
func (m *mockStore) applyDeltas(deltas []models.AssetDelta) error {
	for _, d := range deltas {
		if _, ok := m.assets[assetKey(d.UserID, d.Source)]; !ok {
			return fmt.Errorf("asset %s/%s: %w", d.UserID, d.Source, db.ErrNotFound)
		}
	}
	for _, d := range deltas {
		a := m.assets[assetKey(d.UserID, d.Source)]
		a.Amount = a.Amount.Add(d.Amount)
	}
	if len(deltas) > 0 {
		m.writes = append(m.writes, slices.Clone(deltas))
	}
	return nil
}

func (m *mockStore) CreateTransactions(_ context.Context, txs []models.Transaction, deltas []models.AssetDelta) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.applyDeltas(deltas); err != nil {
		return nil, err
	}
	created := make([]models.Transaction, 0, len(txs))
	for _, t := range txs {
		m.nextID++
		t = cloneTx(t)
		t.EntryID = m.nextID
		t.TxID = models.NewTxID()
		m.transactions = append(m.transactions, t)
		created = append(created, cloneTx(t))
	}
	return created, nil
}

func (m *mockStore) find(userID, txID string) int {
	return slices.IndexFunc(m.transactions, func(t models.Transaction) bool {
		return t.UserID == userID && t.TxID == txID
	})
}

func (m *mockStore) GetTransaction(_ context.Context, userID, txID string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.find(userID, txID)
	if i < 0 {
		return nil, db.ErrNotFound
	}
	t := cloneTx(m.transactions[i])
	return &t, nil
}

func (m *mockStore) GetTransactions(_ context.Context, userID string, f models.TransactionFilter) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []models.Transaction{}
	for _, t := range m.transactions {
		switch {
		case t.UserID != userID,
			f.TxType != "" && t.TxType != f.TxType,
			f.Source != "" && t.Source != f.Source,
			f.Currency != "" && t.Currency != f.Currency,
			f.Tag != "" && !slices.Contains(t.Tags, f.Tag),
			f.StartDate != nil && t.Date.Before(f.StartDate.Time),
			f.EndDate != nil && t.Date.After(f.EndDate.Time):
			continue
		}
		result = append(result, cloneTx(t))
	}
	return result, nil
}

func (m *mockStore) UpdateTransaction(_ context.Context, userID, txID string, fn db.UpdateFunc) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(userID, txID)
	if i < 0 {
		return nil, db.ErrNotFound
	}
	next, deltas, err := fn(cloneTx(m.transactions[i]))
	if err != nil {
		return nil, err
	}
	if err := m.applyDeltas(deltas); err != nil {
		return nil, err
	}
	next = cloneTx(next)
	next.EntryID = m.transactions[i].EntryID
	next.TxID = m.transactions[i].TxID
	m.transactions[i] = next
	updated := cloneTx(next)
	return &updated, nil
}

func (m *mockStore) DeleteTransaction(_ context.Context, userID, txID string, fn db.DeleteFunc) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(userID, txID)
	if i < 0 {
		return nil, db.ErrNotFound
	}
	deleted := cloneTx(m.transactions[i])
	deltas, err := fn(cloneTx(deleted))
	if err != nil {
		return nil, err
	}
	if err := m.applyDeltas(deltas); err != nil {
		return nil, err
	}
	m.transactions = slices.Delete(m.transactions, i, i+1)
	return &deleted, nil
}

func (m *mockStore) GetTags(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := []string{}
	for _, t := range m.transactions {
		if t.UserID != userID {
			continue
		}
		for _, tag := range t.Tags {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}
	slices.Sort(tags)
	return tags, nil
}

func (m *mockStore) assetAmount(userID, source string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assets[assetKey(userID, source)].Amount
}

func (m *mockStore) writeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.writes)
}

func (m *mockStore) lastWrite() []models.AssetDelta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.writes) == 0 {
		return nil
	}
	return m.writes[len(m.writes)-1]
}

var _ Store = (*mockStore)(nil)
