package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrUnknownPipeline   = errors.New("unknown pipeline")
)

// Item is one piece of content produced by a source collaborator. It is
// treated as immutable once fetched.
type Item struct {
	ID        string
	Namespace string
	Source    string
	Status    string
	Title     string
	Body      string
	Link      string
	Author    string
	AuthorURL string
	ImageURL  string
	Score     int
	Comments  int
	Timestamp time.Time
	Metadata  map[string]any
}

// LedgerKey is the dedup key for the item. Status items key on their
// status as well so each transition is announced once.
func (i *Item) LedgerKey() string {
	if i.Status != "" {
		return fmt.Sprintf("%s:%s:%s", i.Namespace, i.ID, i.Status)
	}
	return fmt.Sprintf("%s:%s", i.Namespace, i.ID)
}

func (i *Item) GetMetadata(key string) (any, bool) {
	if i.Metadata == nil {
		return nil, false
	}
	val, ok := i.Metadata[key]
	return val, ok
}

func (i *Item) GetString(key string) string {
	if val, ok := i.GetMetadata(key); ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// SourceDescriptor identifies one polled endpoint (a repository, a
// subreddit, a status feed).
type SourceDescriptor struct {
	Name          string
	URL           string
	Kind          string
	Color         int
	FetchInterval time.Duration
	Settings      map[string]any
}

type Fetcher interface {
	Fetch(ctx context.Context, src SourceDescriptor) ([]*Item, error)
}

type Formatter interface {
	Format(item *Item, src SourceDescriptor) (*discordgo.MessageEmbed, error)
}

type Sink interface {
	Post(ctx context.Context, payload *discordgo.WebhookParams) (*SinkResponse, error)
}

type SinkResponse struct {
	StatusCode int
	RetryAfter time.Duration
	// HasRetryAfter is false when the sink sent no usable wait hint.
	HasRetryAfter bool
}

// Ledger records delivered and rejected items and per-source fetch state.
type Ledger interface {
	HasEntry(ctx context.Context, key string) (bool, error)
	HasEntries(ctx context.Context, keys []string) (map[string]bool, error)
	MarkDelivered(ctx context.Context, key string) error
	MarkRejected(ctx context.Context, key string) error
	LastFetched(ctx context.Context, pipeline, source string) (time.Time, bool, error)
	MarkFetched(ctx context.Context, pipeline, source string, at time.Time) error
}

type JournalEntry struct {
	Key         string
	Title       string
	Link        string
	Description string
	Author      string
	Source      string
	Pipeline    string
	PublishedAt time.Time
	DeliveredAt time.Time
}

// Journal keeps a record of delivered items for the feed endpoints.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFatal
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFatal:
		return "fatal"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

type Ordering string

const (
	OrderOldestFirst Ordering = "oldest_first"
	OrderScore       Ordering = "score"
)

type RunState string

const (
	StateScheduling RunState = "scheduling"
	StateFetching   RunState = "fetching"
	StateDeduping   RunState = "deduping"
	StateDelivering RunState = "delivering"
	StateDone       RunState = "done"
)

type RunSummary struct {
	RunID           string
	Pipeline        string
	State           RunState
	SourcesPolled   int
	Fetched         int
	Candidates      int
	Posted          int
	Skipped         int
	FailedFatal     int
	FailedTransient int
	Deferred        int
	StartedAt       time.Time
	Duration        time.Duration
}

func (s *RunSummary) Failed() int {
	return s.FailedFatal + s.FailedTransient
}
