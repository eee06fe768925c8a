// Package options provides the key/value option store license records are
// persisted in. Stores have get/set semantics only: no transactions and no
// locking, so the last Set for a key wins.
package options

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned for empty or oversized option keys.
var ErrInvalidKey = errors.New("invalid option key")

const maxKeyLength = 191

// Store is a persistent option table.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Backend  string
	DataDir  string // file and sqlite backends
	RedisURL string // redis backend; redis:// URL or host:port
}

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return NewFileStore(cfg.DataDir)
	case BackendSQLite:
		return NewSQLiteStore(cfg.DataDir)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown option store backend %q", cfg.Backend)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidKey, key, maxKeyLength)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
