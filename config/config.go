package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported account store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Ledger LedgerConfig `yaml:"ledger"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the account store.
type StoreConfig struct {
	Driver      string      `yaml:"driver"`
	DatabaseURL string      `yaml:"database_url"`
	MySQL       MySQLConfig `yaml:"mysql"`
}

// MySQLConfig holds MySQL connection and pool settings.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// LogLevel is the gorm log level: "silent", "error", "warn" or "info".
	LogLevel string `yaml:"log_level"`

	// DSN overrides the fields above when set.
	RawDSN string `yaml:"dsn"`
}

// DSN returns the go-sql-driver data source name,
// user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC
func (c MySQLConfig) DSN() string {
	if c.RawDSN != "" {
		return c.RawDSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// LogConfig configures the logrus logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LedgerConfig tunes the ledger engine.
type LedgerConfig struct {
	RollbackAttempts int           `yaml:"rollback_attempts"`
	RollbackBackoff  time.Duration `yaml:"rollback_backoff"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.MySQL.RawDSN = getEnv("MYSQL_DSN", c.Store.MySQL.RawDSN)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	if v, ok := os.LookupEnv("ROLLBACK_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ROLLBACK_ATTEMPTS %q: %w", v, err)
		}
		c.Ledger.RollbackAttempts = n
	}
	if v, ok := os.LookupEnv("ROLLBACK_BACKOFF"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ROLLBACK_BACKOFF %q: %w", v, err)
		}
		c.Ledger.RollbackBackoff = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.MySQL.Port == 0 {
		c.Store.MySQL.Port = 3306
	}
	if c.Store.MySQL.MaxOpenConns == 0 {
		c.Store.MySQL.MaxOpenConns = 100
	}
	if c.Store.MySQL.MaxIdleConns == 0 {
		c.Store.MySQL.MaxIdleConns = 10
	}
	if c.Store.MySQL.ConnMaxLifetime == 0 {
		c.Store.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Ledger.RollbackAttempts == 0 {
		c.Ledger.RollbackAttempts = 3
	}
	if c.Ledger.RollbackBackoff == 0 {
		c.Ledger.RollbackBackoff = 100 * time.Millisecond
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverMySQL:
		if c.Store.MySQL.RawDSN == "" && (c.Store.MySQL.Host == "" || c.Store.MySQL.DBName == "") {
			return errors.New("mysql host and dbname (or MYSQL_DSN) are required for the mysql store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Ledger.RollbackAttempts < 1 {
		return fmt.Errorf("rollback_attempts must be at least 1, got %d", c.Ledger.RollbackAttempts)
	}
	if c.Ledger.RollbackBackoff < 0 {
		return fmt.Errorf("rollback_backoff must not be negative, got %s", c.Ledger.RollbackBackoff)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
