package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-api/config"
	"ledger-api/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// accountRow maps the accounts table.
type accountRow struct {
	ID        string          `gorm:"column:id;primaryKey;size:64"`
	Balance   decimal.Decimal `gorm:"column:balance;type:decimal(19,5);not null"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

func (*accountRow) TableName() string {
	return "accounts"
}

func (r *accountRow) toModel() *model.Account {
	return &model.Account{ID: r.ID, Balance: r.Balance}
}

// MySQLStore implements the Store interface for MySQL through gorm.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore connects with retries, applies the pool settings and migrates the schema.
func NewMySQLStore(cfg config.MySQLConfig, log logrus.FieldLogger) (*MySQLStore, error) {
	gormConfig := &gorm.Config{
		// Every multi-statement write below opens its own transaction.
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 newGormLogger(cfg.LogLevel, log),
	}

	var db *gorm.DB
	var err error

	maxRetries := 10
	retryInterval := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
		if err == nil {
			rawDB, dbErr := db.DB()
			if dbErr != nil {
				err = dbErr
			} else if err = rawDB.Ping(); err == nil {
				break
			}
		}

		if i < maxRetries-1 {
			log.WithError(err).Warnf("Failed to connect to MySQL (attempt %d/%d), retrying in %v", i+1, maxRetries, retryInterval)
			time.Sleep(retryInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql after %d attempts: %w", maxRetries, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&accountRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("could not migrate schema: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// FindAccount retrieves a single account by its ID.
func (s *MySQLStore) FindAccount(ctx context.Context, id string) (*model.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

// CreateAccount inserts a new account. A duplicate ID yields ErrDuplicateAccount.
func (s *MySQLStore) CreateAccount(ctx context.Context, acc model.Account) error {
	err := s.db.WithContext(ctx).Create(&accountRow{ID: acc.ID, Balance: acc.Balance}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateAccount
	}
	return err
}

// IncrementBalance locks the row, applies the delta and reads the result back in one transaction.
// MySQL reports changed rows rather than matched rows, so existence is decided by the
// locking read instead of RowsAffected.
func (s *MySQLStore) IncrementBalance(ctx context.Context, id string, delta decimal.Decimal, upsert bool) (*model.Account, bool, error) {
	var row accountRow
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created = false
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !upsert {
				return ErrNotFound
			}
			row = accountRow{ID: id, Balance: delta}
			created = true
			return tx.Create(&row).Error
		case err != nil:
			return err
		}

		if err := tx.Model(&row).Update("balance", gorm.Expr("balance + ?", delta)).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("could not update balance: %w", err)
	}
	return row.toModel(), created, nil
}

// DeleteAll removes every account.
func (s *MySQLStore) DeleteAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("DELETE FROM accounts").Error
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newGormLogger routes gorm's SQL logging through logrus at the configured level.
func newGormLogger(level string, log logrus.FieldLogger) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error
	}

	return logger.New(log, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
	})
}

var _ Store = (*MySQLStore)(nil)
