package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultRunTimeout = 5 * time.Minute

// Bot owns the pipelines and triggers their runs, either on their cron
// schedules or on demand.
type Bot struct {
	name      string
	pipelines map[string]*Pipeline
	location  *time.Location
	logger    *slog.Logger
	cron      *cron.Cron
	hooks     []Hook

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
}

// Hook is a periodic maintenance job run next to the pipelines.
type Hook struct {
	Name     string
	Schedule string
	Fn       func(ctx context.Context) error
}

type BotConfig struct {
	Name      string
	Pipelines []*Pipeline
	Location  *time.Location
	Hooks     []Hook
	Logger    *slog.Logger
}

func NewBot(config BotConfig) *Bot {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	pipelines := make(map[string]*Pipeline, len(config.Pipelines))
	for _, p := range config.Pipelines {
		pipelines[p.Name()] = p
	}

	return &Bot{
		name:      config.Name,
		pipelines: pipelines,
		location:  config.Location,
		logger:    config.Logger,
		hooks:     config.Hooks,
	}
}

func (b *Bot) Name() string {
	return b.name
}

func (b *Bot) Pipelines() []string {
	names := make([]string, 0, len(b.pipelines))
	for name := range b.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Bot) Pipeline(name string) (*Pipeline, bool) {
	p, ok := b.pipelines[name]
	return p, ok
}

// Start registers every scheduled pipeline with cron and returns. A
// scheduled run is skipped while the previous run of the same pipeline
// is still in progress.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot already running")
	}

	cronLogger := &cronLogger{logger: b.logger}
	c := cron.New(
		cron.WithLocation(b.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	b.baseCtx, b.cancel = context.WithCancel(ctx)

	for _, name := range b.Pipelines() {
		p := b.pipelines[name]
		cfg := p.Config()
		if cfg.Schedule == "" {
			b.logger.Info("Pipeline has no schedule, manual trigger only", "pipeline", name)
			continue
		}

		if _, err := c.AddFunc(cfg.Schedule, func() { b.execute(p) }); err != nil {
			b.cancel()
			return fmt.Errorf("schedule pipeline %s: %w", name, err)
		}
		b.logger.Info("Pipeline scheduled", "pipeline", name, "schedule", cfg.Schedule)
	}

	for _, h := range b.hooks {
		hook := h
		if _, err := c.AddFunc(hook.Schedule, func() {
			if err := hook.Fn(b.baseCtx); err != nil {
				b.logger.Error("Maintenance hook failed", "hook", hook.Name, "error", err)
			}
		}); err != nil {
			b.cancel()
			return fmt.Errorf("schedule hook %s: %w", hook.Name, err)
		}
	}

	b.cron = c
	b.running = true
	c.Start()

	for _, name := range b.Pipelines() {
		p := b.pipelines[name]
		if p.Config().RunOnStart {
			b.launchLocked(p)
		}
	}

	b.logger.Info("Bot started", "bot", b.name, "pipelines", len(b.pipelines))
	return nil
}

// Trigger runs a pipeline once in the background and returns immediately.
func (b *Bot) Trigger(name string) error {
	p, ok := b.pipelines[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return fmt.Errorf("bot not running")
	}

	b.logger.Info("Manual trigger", "pipeline", name)
	b.launchLocked(p)
	return nil
}

// launchLocked must be called with b.mu held while running is true, so
// Stop never waits on runs added after it started waiting.
func (b *Bot) launchLocked(p *Pipeline) {
	b.runs.Add(1)
	go func() {
		defer b.runs.Done()
		b.execute(p)
	}()
}

func (b *Bot) execute(p *Pipeline) {
	timeout := p.Config().Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	runCtx, cancel := context.WithTimeout(b.baseCtx, timeout)
	defer cancel()

	if _, err := p.RunOnce(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Pipeline run failed", "pipeline", p.Name(), "error", err)
	}
}

// Stop halts scheduling and waits for in-flight runs until ctx ends.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	c := b.cron
	b.mu.Unlock()

	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		b.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		b.logger.Info("Bot stopped", "bot", b.name)
		return nil
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("waiting for runs to finish: %w", ctx.Err())
	}
}

func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
