// storage/postgres.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-api/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate primary key.
const uniqueViolation = "23505"

// PostgresStore implements the Store interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore, connects to the database, and initializes the schema.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}

	// Retry pinging the database for a few seconds
	for i := 0; i < 5; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not connect to database after retries: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS accounts (
        account_id TEXT PRIMARY KEY,
        balance NUMERIC(19, 5) NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`
	_, err := s.db.Exec(ctx, query)
	return err
}

// FindAccount retrieves a single account by its ID.
func (s *PostgresStore) FindAccount(ctx context.Context, id string) (*model.Account, error) {
	acc := &model.Account{ID: id}
	query := "SELECT balance FROM accounts WHERE account_id = $1"
	err := s.db.QueryRow(ctx, query, id).Scan(&acc.Balance)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return acc, nil
}

// CreateAccount inserts a new account. A duplicate ID yields ErrDuplicateAccount.
func (s *PostgresStore) CreateAccount(ctx context.Context, acc model.Account) error {
	query := "INSERT INTO accounts (account_id, balance) VALUES ($1, $2)"
	_, err := s.db.Exec(ctx, query, acc.ID, acc.Balance)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateAccount
	}
	return err
}

// IncrementBalance adds delta to the balance in a single statement, so the
// read-modify-write cannot interleave with another writer.
// The upsert path reports created via xmax, which is zero for freshly inserted rows.
func (s *PostgresStore) IncrementBalance(ctx context.Context, id string, delta decimal.Decimal, upsert bool) (*model.Account, bool, error) {
	acc := &model.Account{ID: id}

	if !upsert {
		query := "UPDATE accounts SET balance = balance + $1 WHERE account_id = $2 RETURNING balance"
		if err := s.db.QueryRow(ctx, query, delta, id).Scan(&acc.Balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, ErrNotFound
			}
			return nil, false, fmt.Errorf("could not update balance: %w", err)
		}
		return acc, false, nil
	}

	query := `
		INSERT INTO accounts (account_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
		RETURNING balance, (xmax = 0) AS created`
	var created bool
	if err := s.db.QueryRow(ctx, query, id, delta).Scan(&acc.Balance, &created); err != nil {
		return nil, false, fmt.Errorf("could not upsert balance: %w", err)
	}
	return acc, created, nil
}

// DeleteAll removes every account.
func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "DELETE FROM accounts")
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
