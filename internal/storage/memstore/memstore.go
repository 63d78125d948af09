// Package memstore is a process-local ledger store. Entries do not survive
// a restart, so it suits tests and single-shot runs.
package memstore

import (
	"context"
	"sync"
	"time"

	"dispatch/internal/cache"
	"dispatch/internal/core"
	"dispatch/internal/storage"
)

const defaultJournalSize = 500

func init() {
	storage.RegisterFactory("memory", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return New(Config{JournalSize: cfg.JournalSize}), nil
	})
}

type Config struct {
	JournalSize int
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
}

type Store struct {
	entries *cache.Cache[string, entry]
	now     func() time.Time
	journal *journal
}

func New(cfg Config) *Store {
	if cfg.JournalSize <= 0 {
		cfg.JournalSize = defaultJournalSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		entries: cache.NewCache[string, entry](cache.CacheConfig{TTL: 24 * time.Hour, CleanupInterval: time.Hour}, func(k string) string { return k }),
		now:     cfg.Now,
		journal: &journal{size: cfg.JournalSize},
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	e, ok := s.entries.Get(key)
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.entries.Delete(key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries.SetWithTTL(key, e, ttl)
	return nil
}

func (s *Store) Len() int {
	return s.entries.Len()
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	s.entries.Clear()
	return nil
}

func (s *Store) Journal() core.Journal {
	return s.journal
}

type journal struct {
	mu      sync.Mutex
	size    int
	entries []core.JournalEntry
}

func (j *journal) Record(ctx context.Context, entry core.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
	if len(j.entries) > j.size {
		j.entries = j.entries[len(j.entries)-j.size:]
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *journal) Recent(ctx context.Context, limit int) ([]core.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit > len(j.entries) {
		limit = len(j.entries)
	}

	out := make([]core.JournalEntry, 0, limit)
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.entries[i])
	}
	return out, nil
}
