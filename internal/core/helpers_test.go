package core_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"dispatch/internal/core"
	"dispatch/internal/ledger"
	"dispatch/internal/storage/memstore"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeClock advances only when Sleep is called or Advance is used.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) ResetSleeps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = nil
}

// fakeFetcher serves fixed items per source name.
type fakeFetcher struct {
	mu     sync.Mutex
	items  map[string][]*core.Item
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		items:  map[string][]*core.Item{},
		errs:   map[string]error{},
		panics: map[string]bool{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, src core.SourceDescriptor) ([]*core.Item, error) {
	f.mu.Lock()
	f.calls = append(f.calls, src.Name)
	items, err, panics := f.items[src.Name], f.errs[src.Name], f.panics[src.Name]
	f.mu.Unlock()

	if panics {
		panic("source exploded")
	}
	return items, err
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSink answers from a script keyed by embed title; unscripted posts
// succeed.
type fakeSink struct {
	mu      sync.Mutex
	scripts map[string][]sinkReply
	posted  []string
}

type sinkReply struct {
	status     int
	retryAfter time.Duration
	hasHint    bool
	err        error
}

func newFakeSink() *fakeSink {
	return &fakeSink{scripts: map[string][]sinkReply{}}
}

func (s *fakeSink) script(title string, replies ...sinkReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[title] = append(s.scripts[title], replies...)
}

func (s *fakeSink) Post(ctx context.Context, payload *discordgo.WebhookParams) (*core.SinkResponse, error) {
	title := payload.Embeds[0].Title

	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, title)

	reply := sinkReply{status: 204}
	if queue := s.scripts[title]; len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			s.scripts[title] = queue[1:]
		}
	}

	if reply.err != nil {
		return nil, reply.err
	}
	return &core.SinkResponse{StatusCode: reply.status, RetryAfter: reply.retryAfter, HasRetryAfter: reply.hasHint}, nil
}

func (s *fakeSink) Posted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.posted...)
}

type titleFormatter struct{}

func (titleFormatter) Format(item *core.Item, src core.SourceDescriptor) (*discordgo.MessageEmbed, error) {
	if item.Title == "" {
		return nil, errors.New("missing title")
	}
	return &discordgo.MessageEmbed{Title: item.Title, URL: item.Link}, nil
}

// failingKV fails every operation once broken is set.
type failingKV struct {
	*memstore.Store
	mu     sync.Mutex
	broken bool
}

func (f *failingKV) Break() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = true
}

func (f *failingKV) isBroken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broken
}

func (f *failingKV) Get(ctx context.Context, key string) (string, bool, error) {
	if f.isBroken() {
		return "", false, errors.New("connection refused")
	}
	return f.Store.Get(ctx, key)
}

func (f *failingKV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.isBroken() {
		return errors.New("connection refused")
	}
	return f.Store.Put(ctx, key, value, ttl)
}

type harness struct {
	clock   *fakeClock
	fetcher *fakeFetcher
	sink    *fakeSink
	kv      *failingKV
	ledger  *ledger.Ledger
	journal core.Journal
}

func newHarness() *harness {
	clock := newFakeClock()
	store := memstore.New(memstore.Config{Now: clock.Now})
	kv := &failingKV{Store: store}

	return &harness{
		clock:   clock,
		fetcher: newFakeFetcher(),
		sink:    newFakeSink(),
		kv:      kv,
		ledger:  ledger.New(kv, ledger.Config{}),
		journal: store.Journal(),
	}
}

func (h *harness) pipeline(cfg core.PipelineConfig) *core.Pipeline {
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	return core.NewPipeline(cfg, core.PipelineDeps{
		Fetcher:   h.fetcher,
		Formatter: titleFormatter{},
		Sink:      h.sink,
		Ledger:    h.ledger,
		Journal:   h.journal,
		Clock:     h.clock,
		Logger:    discardLogger,
	})
}

// items builds newest-first items as sources return them.
func items(namespace string, ids ...string) []*core.Item {
	base := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	out := make([]*core.Item, 0, len(ids))
	for i, id := range ids {
		out = append(out, &core.Item{
			ID:        id,
			Namespace: namespace,
			Title:     id,
			Link:      fmt.Sprintf("https://example.test/%s", id),
			Timestamp: base.Add(-time.Duration(i) * time.Minute),
		})
	}
	return out
}
