package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger-api/model"
	"ledger-api/storage"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected store failure")

// faultyStore wraps a MemoryStore and fails IncrementBalance calls selected by fail.
type faultyStore struct {
	*storage.MemoryStore

	mu    sync.Mutex
	fail  func(id string, delta decimal.Decimal) error
	calls []string
}

func (f *faultyStore) IncrementBalance(ctx context.Context, id string, delta decimal.Decimal, upsert bool) (*model.Account, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id+":"+delta.String())
	fail := f.fail
	f.mu.Unlock()

	if fail != nil {
		if err := fail(id, delta); err != nil {
			return nil, false, err
		}
	}
	return f.MemoryStore.IncrementBalance(ctx, id, delta, upsert)
}

func (f *faultyStore) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestLedger(t *testing.T, accounts map[string]int64, opts ...Option) (*Ledger, *faultyStore, *test.Hook) {
	t.Helper()
	store := &faultyStore{MemoryStore: storage.NewMemoryStore()}
	for id, balance := range accounts {
		require.NoError(t, store.CreateAccount(context.Background(), model.Account{ID: id, Balance: decimal.NewFromInt(balance)}))
	}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	opts = append([]Option{WithRollbackBackoff(0)}, opts...)
	return New(store, log, opts...), store, hook
}

func requireCode(t *testing.T, err error, code Code) *Error {
	t.Helper()
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, code, lerr.Code)
	return lerr
}

func assertBalance(t *testing.T, l *Ledger, id string, want int64) {
	t.Helper()
	acc, err := l.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(want).Equal(acc.Balance), "account %s: expected %d, got %s", id, want, acc.Balance)
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestReset(t *testing.T) {
	l, _, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 200})
	ctx := context.Background()

	require.NoError(t, l.Reset(ctx))

	for _, id := range []string{"1", "2"} {
		_, err := l.Balance(ctx, id)
		requireCode(t, err, CodeAccountNotFound)
	}
}

func TestBalance(t *testing.T) {
	l, _, _ := newTestLedger(t, map[string]int64{"1": 100})
	ctx := context.Background()

	t.Run("existing account", func(t *testing.T) {
		acc, err := l.Balance(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "1", acc.ID)
		assert.True(t, dec(100).Equal(acc.Balance))
	})

	t.Run("missing account", func(t *testing.T) {
		acc, err := l.Balance(ctx, "3")
		assert.Nil(t, acc)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		lerr := requireCode(t, err, CodeAccountNotFound)
		assert.Equal(t, "Account does not exist", lerr.Error())
		assert.True(t, lerr.Balance.IsZero())
	})
}

func TestCreateAccount(t *testing.T) {
	l, _, _ := newTestLedger(t, nil)
	ctx := context.Background()

	acc, err := l.CreateAccount(ctx, "1", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "1", acc.ID)
	assertBalance(t, l, "1", 0)

	_, err = l.CreateAccount(ctx, "1", dec(50))
	assert.ErrorIs(t, err, ErrDuplicateAccount)
	requireCode(t, err, CodeDuplicateAccount)
	assertBalance(t, l, "1", 0)

	_, err = l.CreateAccount(ctx, "2", dec(-1))
	requireCode(t, err, CodeInvalidAmount)
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("existing account", func(t *testing.T) {
		l, _, _ := newTestLedger(t, map[string]int64{"1": 100})

		acc, created, err := l.Deposit(ctx, "1", dec(100))
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, dec(200).Equal(acc.Balance))
		assertBalance(t, l, "1", 200)
	})

	t.Run("creates missing account", func(t *testing.T) {
		l, _, _ := newTestLedger(t, nil)

		acc, created, err := l.Deposit(ctx, "3", dec(100))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "3", acc.ID)
		assertBalance(t, l, "3", 100)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"1": 100})

		for _, n := range []int64{0, -10} {
			_, _, err := l.Deposit(ctx, "1", dec(n))
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
		assert.Empty(t, store.recorded())
		assertBalance(t, l, "1", 100)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		l, store, _ := newTestLedger(t, nil)
		store.fail = func(string, decimal.Decimal) error { return errInjected }

		_, _, err := l.Deposit(ctx, "1", dec(10))
		assert.ErrorIs(t, err, errInjected)
		var lerr *Error
		assert.False(t, errors.As(err, &lerr))
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("sufficient funds", func(t *testing.T) {
		l, _, _ := newTestLedger(t, map[string]int64{"1": 100})

		acc, err := l.Withdraw(ctx, "1", dec(50))
		require.NoError(t, err)
		assert.True(t, dec(50).Equal(acc.Balance))
		assertBalance(t, l, "1", 50)
	})

	t.Run("exact balance", func(t *testing.T) {
		l, _, _ := newTestLedger(t, map[string]int64{"1": 25})

		_, err := l.Withdraw(ctx, "1", dec(25))
		require.NoError(t, err)
		assertBalance(t, l, "1", 0)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"1": 100})

		_, err := l.Withdraw(ctx, "1", dec(200))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		lerr := requireCode(t, err, CodeInsufficientFunds)
		assert.Equal(t, "Insufficient funds", lerr.Message)
		assert.True(t, dec(100).Equal(lerr.Balance))
		assert.Empty(t, store.recorded())
		assertBalance(t, l, "1", 100)
	})

	t.Run("missing account", func(t *testing.T) {
		l, _, _ := newTestLedger(t, nil)

		for _, n := range []int64{1, 50, 1000} {
			_, err := l.Withdraw(ctx, "3", dec(n))
			lerr := requireCode(t, err, CodeAccountNotFound)
			assert.True(t, lerr.Balance.IsZero())
		}
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		l, _, _ := newTestLedger(t, map[string]int64{"1": 100})

		_, err := l.Withdraw(ctx, "1", dec(-50))
		requireCode(t, err, CodeInvalidAmount)
		assertBalance(t, l, "1", 100)
	})
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("sufficient funds", func(t *testing.T) {
		l, _, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100})

		res, created, err := l.Transfer(ctx, "1", "2", dec(50))
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, dec(50).Equal(res.Origin.Balance))
		assert.True(t, dec(150).Equal(res.Destination.Balance))
		assertBalance(t, l, "1", 50)
		assertBalance(t, l, "2", 150)
	})

	t.Run("creates missing destination", func(t *testing.T) {
		l, _, _ := newTestLedger(t, map[string]int64{"1": 100})

		res, created, err := l.Transfer(ctx, "1", "9", dec(30))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "9", res.Destination.ID)
		assertBalance(t, l, "1", 70)
		assertBalance(t, l, "9", 30)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100})

		_, _, err := l.Transfer(ctx, "1", "2", dec(150))
		lerr := requireCode(t, err, CodeInsufficientFunds)
		assert.True(t, dec(100).Equal(lerr.Balance))
		assert.Empty(t, store.recorded())
		assertBalance(t, l, "1", 100)
		assertBalance(t, l, "2", 100)
	})

	t.Run("missing origin", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"2": 100})

		_, _, err := l.Transfer(ctx, "1", "2", dec(50))
		lerr := requireCode(t, err, CodeAccountNotFound)
		assert.Equal(t, "Origin account does not exist.", lerr.Message)
		assert.Empty(t, store.recorded())
		assertBalance(t, l, "2", 100)
	})

	t.Run("debit failure does not roll back", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100})
		store.fail = func(id string, _ decimal.Decimal) error {
			if id == "1" {
				return errInjected
			}
			return nil
		}

		_, _, err := l.Transfer(ctx, "1", "2", dec(50))
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.ErrorIs(t, err, errInjected)
		requireCode(t, err, CodeTransferError)
		assert.Equal(t, []string{"1:-50"}, store.recorded())

		store.fail = nil
		assertBalance(t, l, "1", 100)
		assertBalance(t, l, "2", 100)
	})

	t.Run("credit failure rolls back origin", func(t *testing.T) {
		l, store, hook := newTestLedger(t, map[string]int64{"1": 100, "2": 100})
		store.fail = func(id string, _ decimal.Decimal) error {
			if id == "2" {
				return errInjected
			}
			return nil
		}

		_, _, err := l.Transfer(ctx, "1", "2", dec(50))
		lerr := requireCode(t, err, CodeTransferError)
		assert.Equal(t, "An error occurred while transferring funds", lerr.Message)
		assert.True(t, lerr.Balance.IsZero())
		assert.NotErrorIs(t, err, ErrReconciliationRequired)
		assert.Equal(t, []string{"1:-50", "2:50", "1:50"}, store.recorded())

		assertBalance(t, l, "1", 100)
		assertBalance(t, l, "2", 100)
		require.NotNil(t, hook.LastEntry())
	})

	t.Run("rollback is retried", func(t *testing.T) {
		l, store, hook := newTestLedger(t, map[string]int64{"1": 100, "2": 100}, WithRollbackAttempts(3))
		rollbackFailures := 2
		store.fail = func(id string, delta decimal.Decimal) error {
			if id == "2" {
				return errInjected
			}
			if id == "1" && delta.IsPositive() && rollbackFailures > 0 {
				rollbackFailures--
				return errInjected
			}
			return nil
		}

		_, _, err := l.Transfer(ctx, "1", "2", dec(50))
		requireCode(t, err, CodeTransferError)
		assertBalance(t, l, "1", 100)

		warnings := 0
		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.WarnLevel {
				warnings++
			}
		}
		assert.Equal(t, 2, warnings)
	})

	t.Run("failed rollback requires reconciliation", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100}, WithRollbackAttempts(2))
		store.fail = func(id string, delta decimal.Decimal) error {
			if id == "2" || (id == "1" && delta.IsPositive()) {
				return errInjected
			}
			return nil
		}

		_, _, err := l.Transfer(ctx, "1", "2", dec(50))
		requireCode(t, err, CodeReconciliationRequired)
		assert.ErrorIs(t, err, ErrReconciliationRequired)
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.Equal(t, []string{"1:-50", "2:50", "1:50", "1:50"}, store.recorded())

		store.fail = nil
		assertBalance(t, l, "1", 50)
		assertBalance(t, l, "2", 100)
	})

	t.Run("rollback survives request cancellation", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100})
		reqCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store.fail = func(id string, _ decimal.Decimal) error {
			if id == "2" {
				cancel()
				return context.Canceled
			}
			return nil
		}

		_, _, err := l.Transfer(reqCtx, "1", "2", dec(50))
		requireCode(t, err, CodeTransferError)
		assertBalance(t, l, "1", 100)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		l, _, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100})

		_, _, err := l.Transfer(ctx, "1", "2", decimal.Zero)
		requireCode(t, err, CodeInvalidAmount)
	})

	t.Run("gives up waiting for a busy account", func(t *testing.T) {
		l, store, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100})
		unlock, err := l.locks.lock(ctx, "2")
		require.NoError(t, err)
		defer unlock()

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, _, err = l.Transfer(waitCtx, "1", "2", dec(10))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, store.recorded())

		_, err = l.Withdraw(waitCtx, "2", dec(10))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, l.locks.size())
	})
}

// TestScenario walks the reference scenario end to end.
func TestScenario(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, map[string]int64{"1": 100, "2": 100})

	_, _, err := l.Transfer(ctx, "1", "2", dec(50))
	require.NoError(t, err)
	assertBalance(t, l, "1", 50)
	assertBalance(t, l, "2", 150)

	l, _, _ = newTestLedger(t, map[string]int64{"1": 100})
	_, err = l.Withdraw(ctx, "1", dec(200))
	requireCode(t, err, CodeInsufficientFunds)
	assertBalance(t, l, "1", 100)

	_, created, err := l.Deposit(ctx, "3", dec(100))
	require.NoError(t, err)
	assert.True(t, created)
	assertBalance(t, l, "3", 100)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	l, _, _ := newTestLedger(t, map[string]int64{"1": 100})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Withdraw(context.Background(), "1", dec(10))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, ErrInsufficientFunds) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 40, rejected)
	assertBalance(t, l, "1", 0)
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	l, _, _ := newTestLedger(t, map[string]int64{"100": 10000, "200": 10000})

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, _, err := l.Transfer(context.Background(), "100", "200", dec(10)); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, _, err := l.Transfer(context.Background(), "200", "100", dec(10)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	var errorList []error
	for err := range errs {
		errorList = append(errorList, err)
	}
	require.Empty(t, errorList)
	assertBalance(t, l, "100", 10000)
	assertBalance(t, l, "200", 10000)
	assert.Zero(t, l.locks.size())
}
