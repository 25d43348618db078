package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	tableName = "kv_entries"
)

var createTable = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  entry_key TEXT PRIMARY KEY,
  entry_value TEXT NOT NULL,
  updated_at BIGINT NOT NULL
);`, tableName)

var (
	selectByKey = fmt.Sprintf(`SELECT entry_value FROM %s WHERE entry_key = ?`, tableName)
	upsert      = fmt.Sprintf(`
INSERT INTO %s (entry_key, entry_value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (entry_key) DO UPDATE SET
  entry_value = excluded.entry_value,
  updated_at = excluded.updated_at`, tableName)
	deleteByKey = fmt.Sprintf(`DELETE FROM %s WHERE entry_key = ?`, tableName)
)

// SQLStore persists entries in a single table, one row per key.
type SQLStore struct {
	db  *sqlx.DB
	log *logrus.Entry

	selectQuery string
	upsertQuery string
	deleteQuery string
}

// OpenSQL connects to dsn with the given driver and ensures the table exists.
// For sqlite a missing parent directory is created.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == DriverSQLite {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite serializes writers anyway; one connection also keeps
		// ":memory:" databases shared across calls.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	store := NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing connection. Call Init before use.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:          db,
		log:         logrus.WithField("component", "kv.sql"),
		selectQuery: db.Rebind(selectByKey),
		upsertQuery: db.Rebind(upsert),
		deleteQuery: db.Rebind(deleteByKey),
	}
}

// Init creates the backing table when missing.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		s.log.WithError(err).Error("failed to create table")
		return fmt.Errorf("create %s: %w", tableName, err)
	}
	s.log.WithField("driver", s.db.DriverName()).Info("table created or already exists")
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	var value string
	switch err := s.db.GetContext(ctx, &value, s.selectQuery, key); {
	case err == nil:
		return []byte(value), true, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	default:
		s.log.WithError(err).WithField("key", key).Warn("get failed")
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	if _, err := s.db.ExecContext(ctx, s.upsertQuery, key, string(value), time.Now().UnixMilli()); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("set failed")
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	res, err := s.db.ExecContext(ctx, s.deleteQuery, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("remove failed")
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		s.log.WithField("key", key).Debug("remove: no entry")
	}
	return nil
}

func (s *SQLStore) Close() error {
	s.log.Info("closing db connection")
	return s.db.Close()
}

func ensureDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}

	dir := filepath.Dir(dsn)
	if dir == "." || dir == "/" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}
	return nil
}
