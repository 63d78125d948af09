package components

import (
	"context"
	"fmt"

	"dispatch/internal/core"
	"dispatch/internal/storage"
)

// BotBuilder assembles the pipelines once storage is open.
type BotBuilder func(backend storage.Backend) (*core.Bot, error)

type SchedulerComponent struct {
	storage *StorageComponent
	build   BotBuilder
	bot     *core.Bot
}

func NewSchedulerComponent(storage *StorageComponent, build BotBuilder) *SchedulerComponent {
	return &SchedulerComponent{storage: storage, build: build}
}

func (c *SchedulerComponent) Name() string {
	return SchedulerComponentName
}

func (c *SchedulerComponent) Dependencies() []string {
	return []string{StorageComponentName}
}

func (c *SchedulerComponent) Validate() error {
	if c.build == nil {
		return fmt.Errorf("scheduler: bot builder is required")
	}
	return nil
}

func (c *SchedulerComponent) Initialize(ctx context.Context) error {
	bot, err := c.build(c.storage.Backend())
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: failed to start: %w", err)
	}

	c.bot = bot
	return nil
}

func (c *SchedulerComponent) Close(ctx context.Context) error {
	if c.bot == nil {
		return nil
	}
	return c.bot.Stop(ctx)
}

func (c *SchedulerComponent) Bot() *core.Bot {
	return c.bot
}
