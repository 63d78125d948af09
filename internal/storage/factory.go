package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type FactoryFunc func(ctx context.Context, cfg Config) (Backend, error)

var (
	factoryMu    sync.RWMutex
	factoryFuncs = map[string]FactoryFunc{}
)

func RegisterFactory(storageType string, fn FactoryFunc) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factoryFuncs[storageType] = fn
}

// New opens the backend registered for cfg.Type and verifies it is
// reachable. A missing store is a configuration error.
func New(ctx context.Context, cfg Config) (Backend, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "sqlite"
	}

	factoryMu.RLock()
	fn, exists := factoryFuncs[storageType]
	factoryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnsupportedType, storageType, Registered())
	}

	backend, err := fn(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", storageType, err)
	}

	if err := backend.Ping(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("ping %s storage: %w", storageType, err)
	}

	return backend, nil
}

func Registered() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factoryFuncs))
	for name := range factoryFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
