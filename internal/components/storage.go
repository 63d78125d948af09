package components

import (
	"context"
	"fmt"

	"dispatch/internal/storage"
)

type StorageComponent struct {
	config  storage.Config
	backend storage.Backend
}

func NewStorageComponent(config storage.Config) *StorageComponent {
	return &StorageComponent{config: config}
}

func (c *StorageComponent) Name() string {
	return StorageComponentName
}

func (c *StorageComponent) Dependencies() []string {
	return []string{}
}

func (c *StorageComponent) Validate() error {
	if c.config.Type == "" {
		return fmt.Errorf("storage: type is required")
	}
	return nil
}

func (c *StorageComponent) Initialize(ctx context.Context) error {
	backend, err := storage.New(ctx, c.config)
	if err != nil {
		return fmt.Errorf("storage: failed to initialize store: %w", err)
	}

	c.backend = backend
	return nil
}

func (c *StorageComponent) Close(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *StorageComponent) Backend() storage.Backend {
	return c.backend
}
