package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// Config holds SQLite settings.
type Config struct {
	Path            string        `json:"path" mapstructure:"path"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	// WriteTimeout bounds one queued write, including the wait for the writer.
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Path:            "./data/familychat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    5 * time.Second,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.Path == "" {
		err = multierr.Append(err, errors.New("database path cannot be empty"))
	}
	if c.MaxConnections <= 0 {
		err = multierr.Append(err, errors.New("max connections must be greater than 0"))
	}
	if c.ConnMaxLifetime <= 0 {
		err = multierr.Append(err, errors.New("connection max lifetime must be greater than 0"))
	}
	if c.ConnMaxIdleTime <= 0 {
		err = multierr.Append(err, errors.New("connection max idle time must be greater than 0"))
	}
	if c.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("write timeout must be greater than 0"))
	}
	return err
}

// Open opens the database with the pool settings of c and the pragmas the
// single-writer pattern relies on.
func Open(c *Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", c.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(c.MaxConnections)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

func applySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
