// Package redisstore keeps the ledger in Redis. Keys carry native TTLs so
// no purge is needed.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/core"
	"dispatch/internal/storage"
)

const (
	keyPrefix          = "dispatch:ledger:"
	journalKey         = "dispatch:journal"
	defaultJournalSize = 500
	connectionTimeout  = 5 * time.Second
)

var ErrEmptyAddress = errors.New("redis address is required")

func init() {
	storage.RegisterFactory("redis", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return Open(ctx, Config{
			Address:     cfg.RedisAddress,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			JournalSize: cfg.JournalSize,
		})
	})
}

type Config struct {
	Address     string
	Password    string
	DB          int
	JournalSize int
}

type Store struct {
	client  *redis.Client
	journal *journal
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.Info("Redis storage connected", "address", cfg.Address, "db", cfg.DB)
	return New(client, cfg.JournalSize), nil
}

// New wraps an existing client.
func New(client *redis.Client, journalSize int) *Store {
	if journalSize <= 0 {
		journalSize = defaultJournalSize
	}
	return &Store{
		client:  client,
		journal: &journal{client: client, size: int64(journalSize)},
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Put sets key with ttl. A non-positive ttl keeps the key forever.
func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Journal() core.Journal {
	return s.journal
}

// journal is a capped list, newest first.
type journal struct {
	client *redis.Client
	size   int64
}

func (j *journal) Record(ctx context.Context, entry core.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, journalKey, data)
	pipe.LTrim(ctx, journalKey, 0, j.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis journal append: %w", err)
	}
	return nil
}

func (j *journal) Recent(ctx context.Context, limit int) ([]core.JournalEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := j.client.LRange(ctx, journalKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis journal read: %w", err)
	}

	entries := make([]core.JournalEntry, 0, len(raw))
	for _, r := range raw {
		var entry core.JournalEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			slog.Warn("Skipping unreadable journal entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
