// Package ledger applies balance-changing operations over an account store.
//
// Transfers are two independent store writes: the origin is debited first, then the
// destination is credited. When the credit fails the debit is compensated by a
// rollback credit to the origin, retried a bounded number of times. Operations on
// the same account id are serialized in-process so the read-check-write sequence of
// a withdrawal or transfer cannot interleave with another mutation of that account.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-api/model"
	"ledger-api/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Service is the set of ledger operations exposed to the HTTP layer.
type Service interface {
	Reset(ctx context.Context) error
	Balance(ctx context.Context, id string) (*model.Account, error)
	CreateAccount(ctx context.Context, id string, initialBalance decimal.Decimal) (*model.Account, error)
	Deposit(ctx context.Context, id string, amount decimal.Decimal) (acc *model.Account, created bool, err error)
	Withdraw(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error)
	Transfer(ctx context.Context, origin, destination string, amount decimal.Decimal) (res *model.TransferResult, destinationCreated bool, err error)
}

// Ledger implements Service on top of a storage.Store.
type Ledger struct {
	store storage.Store
	log   logrus.FieldLogger
	locks *keyedMutex

	rollbackAttempts int
	rollbackBackoff  time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRollbackAttempts sets how many times a failed transfer tries to restore the origin.
func WithRollbackAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.rollbackAttempts = n
		}
	}
}

// WithRollbackBackoff sets the pause between rollback attempts.
func WithRollbackBackoff(d time.Duration) Option {
	return func(l *Ledger) {
		if d >= 0 {
			l.rollbackBackoff = d
		}
	}
}

// New creates a Ledger. A nil logger falls back to the logrus standard logger.
func New(store storage.Store, log logrus.FieldLogger, opts ...Option) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Ledger{
		store:            store,
		log:              log,
		locks:            newKeyedMutex(),
		rollbackAttempts: 3,
		rollbackBackoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reset deletes every account.
func (l *Ledger) Reset(ctx context.Context) error {
	if err := l.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("could not reset ledger: %w", err)
	}
	l.log.Info("Ledger reset")
	return nil
}

// Balance returns the account with the given id.
func (l *Ledger) Balance(ctx context.Context, id string) (*model.Account, error) {
	acc, err := l.store.FindAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound("Account does not exist")
		}
		return nil, fmt.Errorf("could not get account: %w", err)
	}
	return acc, nil
}

// CreateAccount creates an account with the given opening balance, which may be zero.
func (l *Ledger) CreateAccount(ctx context.Context, id string, initialBalance decimal.Decimal) (*model.Account, error) {
	if initialBalance.IsNegative() {
		return nil, invalidAmount("Initial balance cannot be negative")
	}

	unlock, err := l.locks.lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not lock account: %w", err)
	}
	defer unlock()

	acc := model.Account{ID: id, Balance: initialBalance}
	if err := l.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, storage.ErrDuplicateAccount) {
			return nil, &Error{Code: CodeDuplicateAccount, Message: "Account already exists", Err: ErrDuplicateAccount}
		}
		return nil, fmt.Errorf("could not create account: %w", err)
	}

	l.log.WithField("account", id).Info("Account created")
	return &acc, nil
}

// Deposit credits amount to the account, creating it when it does not exist.
func (l *Ledger) Deposit(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, bool, error) {
	if !amount.IsPositive() {
		return nil, false, invalidAmount("Amount must be positive")
	}

	unlock, err := l.locks.lock(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("could not lock account: %w", err)
	}
	defer unlock()

	acc, created, err := l.store.IncrementBalance(ctx, id, amount, true)
	if err != nil {
		return nil, false, fmt.Errorf("could not deposit: %w", err)
	}

	l.log.WithFields(logrus.Fields{"account": id, "amount": amount.String(), "created": created}).Debug("Deposit applied")
	return acc, created, nil
}

// Withdraw debits amount from an existing account with sufficient funds.
func (l *Ledger) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, invalidAmount("Amount must be positive")
	}

	unlock, err := l.locks.lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not lock account: %w", err)
	}
	defer unlock()

	acc, err := l.store.FindAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound("Account does not exist")
		}
		return nil, fmt.Errorf("could not get account: %w", err)
	}
	if acc.Balance.LessThan(amount) {
		return nil, insufficientFunds(acc.Balance)
	}

	acc, _, err = l.store.IncrementBalance(ctx, id, amount.Neg(), false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound("Account does not exist")
		}
		return nil, fmt.Errorf("could not withdraw: %w", err)
	}

	l.log.WithFields(logrus.Fields{"account": id, "amount": amount.String()}).Debug("Withdrawal applied")
	return acc, nil
}

// Transfer moves amount from origin to destination. The destination is created
// when it does not exist; destinationCreated reports that case.
func (l *Ledger) Transfer(ctx context.Context, origin, destination string, amount decimal.Decimal) (*model.TransferResult, bool, error) {
	if !amount.IsPositive() {
		return nil, false, invalidAmount("Amount must be positive")
	}

	unlock, err := l.locks.lock(ctx, origin, destination)
	if err != nil {
		return nil, false, fmt.Errorf("could not lock accounts: %w", err)
	}
	defer unlock()

	from, err := l.store.FindAccount(ctx, origin)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, notFound("Origin account does not exist.")
		}
		return nil, false, fmt.Errorf("could not get origin account: %w", err)
	}
	if from.Balance.LessThan(amount) {
		return nil, false, insufficientFunds(from.Balance)
	}

	log := l.log.WithFields(logrus.Fields{"origin": origin, "destination": destination, "amount": amount.String()})

	// Nothing has been written yet, so a failed debit needs no compensation.
	debited, _, err := l.store.IncrementBalance(ctx, origin, amount.Neg(), false)
	if err != nil {
		log.WithError(err).Error("Failed to debit origin account")
		return nil, false, transferFailed(err)
	}

	credited, created, err := l.store.IncrementBalance(ctx, destination, amount, true)
	if err != nil {
		log.WithError(err).Error("Failed to credit destination account, rolling back")
		if rbErr := l.rollback(ctx, origin, amount); rbErr != nil {
			log.WithError(rbErr).Error("Rollback failed, ledger requires reconciliation")
			return nil, false, reconciliationRequired(errors.Join(err, rbErr))
		}
		return nil, false, transferFailed(err)
	}

	log.Debug("Transfer applied")
	return &model.TransferResult{Origin: debited, Destination: credited}, created, nil
}

// rollback re-credits amount to id to undo a committed debit. It runs detached from
// ctx's cancellation so an abandoned request still restores the origin.
func (l *Ledger) rollback(ctx context.Context, id string, amount decimal.Decimal) error {
	ctx = context.WithoutCancel(ctx)

	attempt := 0
	op := func() error {
		attempt++
		_, _, err := l.store.IncrementBalance(ctx, id, amount, false)
		if err == nil {
			return nil
		}
		l.log.WithFields(logrus.Fields{
			"account": id,
			"amount":  amount.String(),
			"attempt": attempt,
		}).WithError(err).Warn("Failed to rollback transaction")
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(l.rollbackBackoff), uint64(l.rollbackAttempts-1))
	return backoff.Retry(op, policy)
}

var _ Service = (*Ledger)(nil)
