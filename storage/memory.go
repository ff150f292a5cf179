package storage

import (
	"context"
	"sync"

	"ledger-api/model"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps accounts in a map. It is the default store and backs the unit tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]decimal.Decimal
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]decimal.Decimal)}
}

// FindAccount retrieves a single account by its ID.
func (s *MemoryStore) FindAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &model.Account{ID: id, Balance: balance}, nil
}

// CreateAccount inserts a new account.
func (s *MemoryStore) CreateAccount(ctx context.Context, acc model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return ErrDuplicateAccount
	}
	s.accounts[acc.ID] = acc.Balance
	return nil
}

// IncrementBalance adds delta to the account balance under the write lock.
func (s *MemoryStore) IncrementBalance(ctx context.Context, id string, delta decimal.Decimal, upsert bool) (*model.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.accounts[id]
	if !ok && !upsert {
		return nil, false, ErrNotFound
	}
	balance = balance.Add(delta)
	s.accounts[id] = balance
	return &model.Account{ID: id, Balance: balance}, !ok, nil
}

// DeleteAll drops every account.
func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]decimal.Decimal)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
