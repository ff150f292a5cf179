package storage

import (
	"context"
	"errors"

	"ledger-api/model"

	"github.com/shopspring/decimal"
)

// Custom errors for the storage layer.
var (
	ErrNotFound         = errors.New("account not found")
	ErrDuplicateAccount = errors.New("account already exists")
)

// Store defines the persistence primitives the ledger is built on.
type Store interface {
	// FindAccount returns ErrNotFound when no account has the given id.
	FindAccount(ctx context.Context, id string) (*model.Account, error)
	// CreateAccount returns ErrDuplicateAccount when the id is taken.
	CreateAccount(ctx context.Context, acc model.Account) error
	// IncrementBalance atomically adds delta to the balance and returns the updated account.
	// With upsert a missing account is created with balance delta and created is true;
	// without it a missing account yields ErrNotFound.
	IncrementBalance(ctx context.Context, id string, delta decimal.Decimal, upsert bool) (acc *model.Account, created bool, err error)
	// DeleteAll removes every account.
	DeleteAll(ctx context.Context) error
	Close() error
}
