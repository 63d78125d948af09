package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type FetchConfig struct {
	// Delay is the pause between batches; with BatchSize 1 it is the
	// pause between individual sources.
	Delay             time.Duration
	BatchSize         int
	MaxItemsPerSource int
}

type SourceItems struct {
	Source SourceDescriptor
	Items  []*Item
	Err    error
}

// FetchCoordinator pulls items from the selected sources. A failing
// source yields no items; it never fails the run.
type FetchCoordinator struct {
	fetcher Fetcher
	clock   Clock
	config  FetchConfig
	logger  *slog.Logger
}

func NewFetchCoordinator(fetcher Fetcher, clock Clock, config FetchConfig, logger *slog.Logger) *FetchCoordinator {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}

	return &FetchCoordinator{
		fetcher: fetcher,
		clock:   clock,
		config:  config,
		logger:  logger,
	}
}

// FetchAll returns one result per attempted source, in source order.
// Sources left unattempted because ctx ended are not included.
func (c *FetchCoordinator) FetchAll(ctx context.Context, sources []SourceDescriptor) []SourceItems {
	results := make([]SourceItems, 0, len(sources))

	for start := 0; start < len(sources); start += c.config.BatchSize {
		if ctx.Err() != nil {
			c.logger.Warn("Fetch interrupted", "remaining", len(sources)-start, "error", ctx.Err())
			break
		}

		end := min(start+c.config.BatchSize, len(sources))
		results = append(results, c.fetchBatch(ctx, sources[start:end])...)

		if end < len(sources) {
			if err := c.clock.Sleep(ctx, c.config.Delay); err != nil {
				c.logger.Warn("Fetch pacing interrupted", "error", err)
				break
			}
		}
	}

	return results
}

func (c *FetchCoordinator) fetchBatch(ctx context.Context, batch []SourceDescriptor) []SourceItems {
	out := make([]SourceItems, len(batch))

	if len(batch) == 1 {
		out[0] = c.fetchOne(ctx, batch[0])
		return out
	}

	var wg sync.WaitGroup
	for i, src := range batch {
		wg.Add(1)
		go func(idx int, s SourceDescriptor) {
			defer wg.Done()
			out[idx] = c.fetchOne(ctx, s)
		}(i, src)
	}
	wg.Wait()

	return out
}

func (c *FetchCoordinator) fetchOne(ctx context.Context, src SourceDescriptor) (result SourceItems) {
	result.Source = src

	defer func() {
		if r := recover(); r != nil {
			result.Items = nil
			result.Err = fmt.Errorf("fetch panicked: %v", r)
			c.logger.Error("Source fetch panicked", "source", src.Name, "panic", r)
		}
	}()

	items, err := c.fetcher.Fetch(ctx, src)
	if err != nil {
		c.logger.Error("Source fetch failed", "source", src.Name, "error", err)
		result.Err = err
		return result
	}

	valid := make([]*Item, 0, len(items))
	for _, item := range items {
		if item == nil || item.ID == "" {
			c.logger.Warn("Dropping malformed item", "source", src.Name)
			continue
		}
		if item.Source == "" {
			item.Source = src.Name
		}
		valid = append(valid, item)
	}

	if c.config.MaxItemsPerSource > 0 && len(valid) > c.config.MaxItemsPerSource {
		valid = valid[:c.config.MaxItemsPerSource]
	}

	c.logger.Debug("Source fetched", "source", src.Name, "count", len(valid))
	result.Items = valid
	return result
}
