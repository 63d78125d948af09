package storage

import (
	"context"
	"errors"
	"time"

	"dispatch/internal/core"
)

var ErrUnsupportedType = errors.New("unsupported storage type")

// KV is the expiring key-value contract the ledger is built on.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend is a KV store that can also keep the delivery journal.
type Backend interface {
	KV
	Journal() core.Journal
}

// Purger is implemented by stores that do not expire rows on their own.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

type Config struct {
	Type          string
	Path          string
	DSN           string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	JournalSize   int
}
