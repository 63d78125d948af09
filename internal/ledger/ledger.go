// Package ledger records which items have been delivered or rejected and
// when each source was last polled. Entries expire so the underlying store
// stays bounded.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dispatch/internal/storage"
)

const (
	DefaultDeliveredTTL = 30 * 24 * time.Hour
	DefaultRejectedTTL  = 24 * time.Hour

	// lookupConcurrency bounds parallel reads in HasEntries.
	lookupConcurrency = 8
)

type Status string

const (
	StatusDelivered Status = "delivered"
	StatusRejected  Status = "rejected"
)

type Config struct {
	DeliveredTTL time.Duration
	RejectedTTL  time.Duration
}

type Ledger struct {
	store        storage.KV
	deliveredTTL time.Duration
	rejectedTTL  time.Duration
}

func New(store storage.KV, config Config) *Ledger {
	if config.DeliveredTTL <= 0 {
		config.DeliveredTTL = DefaultDeliveredTTL
	}
	if config.RejectedTTL <= 0 {
		config.RejectedTTL = DefaultRejectedTTL
	}

	return &Ledger{
		store:        store,
		deliveredTTL: config.DeliveredTTL,
		rejectedTTL:  config.RejectedTTL,
	}
}

func (l *Ledger) HasEntry(ctx context.Context, key string) (bool, error) {
	_, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", key, err)
	}
	return ok, nil
}

// Lookup returns the recorded status of key, if any.
func (l *Ledger) Lookup(ctx context.Context, key string) (Status, bool, error) {
	val, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("ledger lookup %s: %w", key, err)
	}
	return Status(val), ok, nil
}

// HasEntries checks many keys concurrently. The first store error wins.
func (l *Ledger) HasEntries(ctx context.Context, keys []string) (map[string]bool, error) {
	present := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return present, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		sem      = make(chan struct{}, lookupConcurrency)
	)

	for _, key := range keys {
		wg.Add(1)
		sem <- struct{}{}
		go func(k string) {
			defer wg.Done()
			defer func() { <-sem }()

			ok, err := l.HasEntry(ctx, k)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			present[k] = ok
		}(key)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return present, nil
}

func (l *Ledger) MarkDelivered(ctx context.Context, key string) error {
	if err := l.store.Put(ctx, key, string(StatusDelivered), l.deliveredTTL); err != nil {
		return fmt.Errorf("ledger mark delivered %s: %w", key, err)
	}
	return nil
}

// MarkRejected stores a poison pill that expires after the short TTL.
func (l *Ledger) MarkRejected(ctx context.Context, key string) error {
	if err := l.store.Put(ctx, key, string(StatusRejected), l.rejectedTTL); err != nil {
		return fmt.Errorf("ledger mark rejected %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) LastFetched(ctx context.Context, pipeline, source string) (time.Time, bool, error) {
	key := fetchKey(pipeline, source)
	val, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ledger fetch state %s: %w", key, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}

	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		// An unreadable timestamp makes the source due again.
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (l *Ledger) MarkFetched(ctx context.Context, pipeline, source string, at time.Time) error {
	key := fetchKey(pipeline, source)
	if err := l.store.Put(ctx, key, at.UTC().Format(time.RFC3339Nano), l.deliveredTTL); err != nil {
		return fmt.Errorf("ledger mark fetched %s: %w", key, err)
	}
	return nil
}

func fetchKey(pipeline, source string) string {
	return fmt.Sprintf("fetch:%s:%s", pipeline, source)
}
