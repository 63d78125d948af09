package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// DueScheduler picks the sources that may be polled in the current run.
// A source with no fetch interval is always due.
type DueScheduler struct {
	pipeline  string
	ledger    Ledger
	clock     Clock
	maxPerRun int
	logger    *slog.Logger
}

func NewDueScheduler(pipeline string, ledger Ledger, clock Clock, maxPerRun int, logger *slog.Logger) *DueScheduler {
	return &DueScheduler{
		pipeline:  pipeline,
		ledger:    ledger,
		clock:     clock,
		maxPerRun: maxPerRun,
		logger:    logger,
	}
}

type dueSource struct {
	index   int
	last    time.Time
	fetched bool
}

// Select returns the due sources in input order. When more are due than
// the per-run maximum, the least recently fetched win, never-fetched
// first, so every source gets its turn.
func (s *DueScheduler) Select(ctx context.Context, sources []SourceDescriptor) ([]SourceDescriptor, error) {
	now := s.clock.Now()
	capped := s.maxPerRun > 0 && len(sources) > s.maxPerRun
	due := make([]dueSource, 0, len(sources))

	for i, src := range sources {
		d := dueSource{index: i}

		if src.FetchInterval > 0 || capped {
			last, ok, err := s.ledger.LastFetched(ctx, s.pipeline, src.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: read fetch state for %s: %w", ErrLedgerUnavailable, src.Name, err)
			}
			d.last, d.fetched = last, ok
		}

		if src.FetchInterval > 0 && d.fetched && now.Sub(d.last) < src.FetchInterval {
			continue
		}
		due = append(due, d)
	}

	dueCount := len(due)
	if s.maxPerRun > 0 && len(due) > s.maxPerRun {
		sort.SliceStable(due, func(i, j int) bool {
			if due[i].fetched != due[j].fetched {
				return !due[i].fetched
			}
			return due[i].last.Before(due[j].last)
		})
		due = due[:s.maxPerRun]
		sort.Slice(due, func(i, j int) bool { return due[i].index < due[j].index })
	}

	selected := make([]SourceDescriptor, len(due))
	for i, d := range due {
		selected[i] = sources[d.index]
	}

	s.logger.Debug("Sources selected for fetch",
		"pipeline", s.pipeline,
		"selected", len(selected),
		"due", dueCount,
		"total", len(sources))

	return selected, nil
}
