// Package kv provides the embedded key-value capability the session store
// and identity records are persisted through. Every call is independently
// durable; there are no multi-key transactions.
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrClosed        = errors.New("kv store closed")
	ErrEmptyKey      = errors.New("kv key is required")
	ErrUnknownDriver = errors.New("unknown kv driver")
)

// Store is a minimal async-safe key-value capability.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes the key; removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	Close() error
}

// GetJSON loads the document under key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// Open selects a backend by driver name. "memory" ignores dsn.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPostgres:
		store, err := OpenSQL(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
