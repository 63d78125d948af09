package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type PipelineConfig struct {
	Name             string
	Sources          []SourceDescriptor
	Ordering         Ordering
	MaxDeliveries    int
	// MaxItemsPerRun bounds the new items taken from one run's fetch.
	// Items already in the ledger do not count against it.
	MaxItemsPerRun   int
	DeliveryDelay    time.Duration
	MaxSourcesPerRun int
	MaxItemAge       time.Duration
	Fetch            FetchConfig
	Delivery         DeliveryConfig

	Schedule   string
	RunOnStart bool
	Timeout    time.Duration
}

// Observer receives run telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveFetch(pipeline, source string, items int, err error)
	ObserveDelivery(pipeline string, outcome Outcome)
	ObserveRun(summary *RunSummary, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, string, int, error) {}
func (nopObserver) ObserveDelivery(string, Outcome)         {}
func (nopObserver) ObserveRun(*RunSummary, error)           {}

type PipelineDeps struct {
	Fetcher   Fetcher
	Formatter Formatter
	Sink      Sink
	Ledger    Ledger
	Journal   Journal
	Clock     Clock
	Observer  Observer
	Logger    *slog.Logger
}

// Pipeline runs one relay: scheduling, fetching, dedup and delivery.
// It holds no state between runs beyond what lives in the ledger.
type Pipeline struct {
	config    PipelineConfig
	ledger    Ledger
	journal   Journal
	clock     Clock
	observer  Observer
	logger    *slog.Logger
	scheduler *DueScheduler
	fetcher   *FetchCoordinator
	dedup     *DedupFilter
	engine    *DeliveryEngine
}

func NewPipeline(config PipelineConfig, deps PipelineDeps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.Ordering == "" {
		config.Ordering = OrderOldestFirst
	}

	logger := deps.Logger.With("pipeline", config.Name)

	return &Pipeline{
		config:    config,
		ledger:    deps.Ledger,
		journal:   deps.Journal,
		clock:     deps.Clock,
		observer:  deps.Observer,
		logger:    logger,
		scheduler: NewDueScheduler(config.Name, deps.Ledger, deps.Clock, config.MaxSourcesPerRun, logger),
		fetcher:   NewFetchCoordinator(deps.Fetcher, deps.Clock, config.Fetch, logger),
		dedup:     NewDedupFilter(deps.Ledger, deps.Clock, config.Ordering, config.MaxItemAge, logger),
		engine:    NewDeliveryEngine(deps.Sink, deps.Formatter, deps.Clock, config.Delivery, logger),
	}
}

func (p *Pipeline) Name() string {
	return p.config.Name
}

func (p *Pipeline) Config() PipelineConfig {
	return p.config
}

// RunOnce executes a single pass. Only a ledger failure aborts the run;
// source and delivery failures are counted in the summary.
func (p *Pipeline) RunOnce(ctx context.Context) (summary *RunSummary, err error) {
	summary = &RunSummary{
		RunID:     uuid.NewString(),
		Pipeline:  p.config.Name,
		State:     StateScheduling,
		StartedAt: p.clock.Now(),
	}
	logger := p.logger.With("run_id", summary.RunID)

	defer func() {
		summary.Duration = p.clock.Now().Sub(summary.StartedAt)
		p.observer.ObserveRun(summary, err)
		if err != nil {
			logger.Error("Run aborted", "state", string(summary.State), "error", err)
		}
	}()

	logger.Info("Starting run", "sources", len(p.config.Sources))

	selected, err := p.scheduler.Select(ctx, p.config.Sources)
	if err != nil {
		return summary, err
	}
	summary.SourcesPolled = len(selected)

	summary.State = StateFetching
	results := p.fetcher.FetchAll(ctx, selected)
	fetchedAt := p.clock.Now()
	for _, r := range results {
		summary.Fetched += len(r.Items)
		p.observer.ObserveFetch(p.config.Name, r.Source.Name, len(r.Items), r.Err)

		if err := p.ledger.MarkFetched(context.WithoutCancel(ctx), p.config.Name, r.Source.Name, fetchedAt); err != nil {
			return summary, fmt.Errorf("%w: record fetch state for %s: %w", ErrLedgerUnavailable, r.Source.Name, err)
		}
	}

	summary.State = StateDeduping
	deduped, err := p.dedup.Filter(ctx, results)
	if err != nil {
		return summary, err
	}
	summary.Skipped = deduped.Skipped
	summary.Candidates = len(deduped.Candidates)

	attempts := deduped.Candidates
	for _, limit := range []int{p.config.MaxItemsPerRun, p.config.MaxDeliveries} {
		if limit > 0 && len(attempts) > limit {
			summary.Deferred += len(attempts) - limit
			attempts = attempts[:limit]
		}
	}

	summary.State = StateDelivering
	if err := p.deliverAll(ctx, attempts, summary, logger); err != nil {
		return summary, err
	}

	summary.State = StateDone
	logger.Info("Run complete",
		"sources_polled", summary.SourcesPolled,
		"fetched", summary.Fetched,
		"posted", summary.Posted,
		"skipped", summary.Skipped,
		"failed", summary.Failed(),
		"failed_fatal", summary.FailedFatal,
		"failed_transient", summary.FailedTransient,
		"deferred", summary.Deferred)

	return summary, nil
}

func (p *Pipeline) deliverAll(ctx context.Context, attempts []Candidate, summary *RunSummary, logger *slog.Logger) error {
	for i, c := range attempts {
		if ctx.Err() != nil {
			summary.Deferred += len(attempts) - i
			logger.Warn("Delivery stopped early", "remaining", len(attempts)-i, "error", ctx.Err())
			return nil
		}

		outcome := p.engine.Deliver(ctx, c)
		p.observer.ObserveDelivery(p.config.Name, outcome)

		// The outcome must be recorded even if the run deadline has passed.
		writeCtx := context.WithoutCancel(ctx)

		switch outcome {
		case OutcomeSuccess:
			if err := p.ledger.MarkDelivered(writeCtx, c.Key); err != nil {
				return fmt.Errorf("%w: mark delivered %s: %w", ErrLedgerUnavailable, c.Key, err)
			}
			summary.Posted++
			p.record(writeCtx, c, logger)
			logger.Info("Posted item", "source", c.Source.Name, "item_id", c.Item.ID, "title", truncateForLog(c.Item.Title))

		case OutcomeFatal:
			if err := p.ledger.MarkRejected(writeCtx, c.Key); err != nil {
				return fmt.Errorf("%w: mark rejected %s: %w", ErrLedgerUnavailable, c.Key, err)
			}
			summary.FailedFatal++
			logger.Warn("Item rejected, suppressed until poison pill expires", "source", c.Source.Name, "item_id", c.Item.ID)

		default:
			summary.FailedTransient++
			logger.Warn("Item failed, will retry next run", "source", c.Source.Name, "item_id", c.Item.ID)
		}

		if i < len(attempts)-1 {
			if err := p.clock.Sleep(ctx, p.config.DeliveryDelay); err != nil {
				logger.Warn("Delivery pacing interrupted", "error", err)
			}
		}
	}

	return nil
}

func (p *Pipeline) record(ctx context.Context, c Candidate, logger *slog.Logger) {
	if p.journal == nil {
		return
	}

	entry := JournalEntry{
		Key:         c.Key,
		Title:       c.Item.Title,
		Link:        c.Item.Link,
		Description: c.Item.Body,
		Author:      c.Item.Author,
		Source:      c.Source.Name,
		Pipeline:    p.config.Name,
		PublishedAt: c.Item.Timestamp,
		DeliveredAt: p.clock.Now(),
	}

	if err := p.journal.Record(ctx, entry); err != nil {
		logger.Warn("Failed to record journal entry", "key", c.Key, "error", err)
	}
}

// Seed marks every item currently visible on the sources as delivered
// without posting anything. It returns the number of new entries written.
func (p *Pipeline) Seed(ctx context.Context) (int, error) {
	p.logger.Info("Seeding ledger", "sources", len(p.config.Sources))

	results := p.fetcher.FetchAll(ctx, p.config.Sources)
	deduped, err := p.dedup.Filter(ctx, results)
	if err != nil {
		return 0, err
	}

	seeded := 0
	for _, c := range deduped.Candidates {
		if err := p.ledger.MarkDelivered(ctx, c.Key); err != nil {
			return seeded, fmt.Errorf("%w: seed %s: %w", ErrLedgerUnavailable, c.Key, err)
		}
		seeded++
	}

	p.logger.Info("Seed complete", "seeded", seeded, "already_present", deduped.Skipped)
	return seeded, nil
}
