package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"
)

type Candidate struct {
	Item   *Item
	Source SourceDescriptor
	Key    string
}

type DedupResult struct {
	Candidates []Candidate
	Skipped    int
	Stale      int
}

// DedupFilter removes items already present in the ledger and orders the
// rest for delivery.
type DedupFilter struct {
	ledger     Ledger
	clock      Clock
	ordering   Ordering
	maxItemAge time.Duration
	logger     *slog.Logger
}

func NewDedupFilter(ledger Ledger, clock Clock, ordering Ordering, maxItemAge time.Duration, logger *slog.Logger) *DedupFilter {
	if ordering == "" {
		ordering = OrderOldestFirst
	}

	return &DedupFilter{
		ledger:     ledger,
		clock:      clock,
		ordering:   ordering,
		maxItemAge: maxItemAge,
		logger:     logger,
	}
}

func (f *DedupFilter) Filter(ctx context.Context, results []SourceItems) (*DedupResult, error) {
	res := &DedupResult{}
	ordered := f.order(results, res)

	keys := make([]string, len(ordered))
	for i, c := range ordered {
		keys[i] = c.Key
	}

	present, err := f.ledger.HasEntries(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	res.Candidates = make([]Candidate, 0, len(ordered))
	for _, c := range ordered {
		if present[c.Key] {
			res.Skipped++
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}

	if f.ordering == OrderScore {
		sort.SliceStable(res.Candidates, func(i, j int) bool {
			return res.Candidates[i].Item.Score > res.Candidates[j].Item.Score
		})
	}

	f.logger.Debug("Dedup complete",
		"candidates", len(res.Candidates),
		"skipped", res.Skipped,
		"stale", res.Stale,
		"ordering", string(f.ordering))

	return res, nil
}

// order flattens per-source results. Sources deliver newest first, so
// oldest-first ordering reverses each source's list.
func (f *DedupFilter) order(results []SourceItems, res *DedupResult) []Candidate {
	now := f.clock.Now()
	seen := make(map[string]struct{})
	ordered := make([]Candidate, 0)

	for _, r := range results {
		items := r.Items
		if f.ordering == OrderOldestFirst {
			items = slices.Clone(items)
			slices.Reverse(items)
		}

		for _, item := range items {
			if f.isStale(item, now) {
				res.Stale++
				continue
			}

			key := item.LedgerKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			ordered = append(ordered, Candidate{Item: item, Source: r.Source, Key: key})
		}
	}

	return ordered
}

func (f *DedupFilter) isStale(item *Item, now time.Time) bool {
	if f.maxItemAge <= 0 {
		return false
	}
	if item.Timestamp.IsZero() {
		return true
	}
	return now.Sub(item.Timestamp) > f.maxItemAge
}
