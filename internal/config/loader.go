package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dispatch/internal/components"
	"dispatch/internal/core"
	"dispatch/internal/format"
	"dispatch/internal/ledger"
	"dispatch/internal/metrics"
	"dispatch/internal/server"
	"dispatch/internal/sink"
	"dispatch/internal/sources"
	"dispatch/internal/storage"
	_ "dispatch/internal/storage/memstore"
	_ "dispatch/internal/storage/redisstore"
	_ "dispatch/internal/storage/sqlstore"
)

const shutdownTimeout = 30 * time.Second

// Loader turns a parsed config into running components.
type Loader struct {
	config   *Config
	logger   *slog.Logger
	observer core.Observer
	client   *http.Client
}

type LoaderOption func(*Loader)

// WithObserver routes run telemetry to o.
func WithObserver(o core.Observer) LoaderOption {
	return func(l *Loader) {
		l.observer = o
	}
}

// WithHTTPClient shares one client between fetchers and sinks.
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(l *Loader) {
		l.client = client
	}
}

func NewLoader(cfg *Config, logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) StorageConfig() storage.Config {
	s := l.config.Storage
	return storage.Config{
		Type:          s.Type,
		Path:          s.Path,
		DSN:           s.DSN,
		RedisAddress:  s.RedisAddress,
		RedisPassword: s.RedisPassword,
		RedisDB:       s.RedisDB,
		JournalSize:   s.JournalSize,
	}
}

// OpenStorage opens the configured backend for one-off commands.
func (l *Loader) OpenStorage(ctx context.Context) (storage.Backend, error) {
	return storage.New(ctx, l.StorageConfig())
}

// Ledger opens the delivery ledger on backend with the configured TTLs.
func (l *Loader) Ledger(backend storage.KV) *ledger.Ledger {
	return ledger.New(backend, ledger.Config{
		DeliveredTTL: l.config.Ledger.DeliveredTTL.Duration,
		RejectedTTL:  l.config.Ledger.RejectedTTL.Duration,
	})
}

// BuildBot assembles every enabled pipeline on top of backend. The bot is
// returned stopped.
func (l *Loader) BuildBot(backend storage.Backend) (*core.Bot, error) {
	location, err := time.LoadLocation(l.config.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	led := l.Ledger(backend)

	// Pipelines posting to the same webhook share its rate limiter.
	sinks := make(map[string]core.Sink)

	pipelines := make([]*core.Pipeline, 0, len(l.config.Pipelines))
	for name, pc := range l.config.Pipelines {
		if !pc.IsEnabled() {
			l.logger.Info("Pipeline disabled", "pipeline", name)
			continue
		}

		p, err := l.buildPipeline(name, pc, led, backend.Journal(), sinks)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		pipelines = append(pipelines, p)
	}

	var hooks []core.Hook
	if purger, ok := backend.(storage.Purger); ok {
		hooks = append(hooks, core.Hook{
			Name:     "purge",
			Schedule: l.config.Storage.PurgeSchedule,
			Fn: func(ctx context.Context) error {
				n, err := purger.Purge(ctx)
				if err != nil {
					return err
				}
				l.logger.Info("Purged expired ledger entries", "count", n)
				return nil
			},
		})
	}

	return core.NewBot(core.BotConfig{
		Name:      l.config.Bot.Name,
		Pipelines: pipelines,
		Location:  location,
		Hooks:     hooks,
		Logger:    l.logger,
	}), nil
}

func (l *Loader) buildPipeline(name string, pc PipelineConfig, led core.Ledger, journal core.Journal, sinks map[string]core.Sink) (*core.Pipeline, error) {
	descriptors, err := l.buildSources(pc)
	if err != nil {
		return nil, err
	}

	fetcher, err := l.buildFetcher(pc)
	if err != nil {
		return nil, err
	}

	formatter, err := format.ForType(pc.Type)
	if err != nil {
		return nil, err
	}

	webhookURL := pc.WebhookURL
	if webhookURL == "" {
		webhookURL = l.config.Sink.WebhookURL
	}
	out, ok := sinks[webhookURL]
	if !ok {
		hook, err := sink.NewWebhook(sink.Config{
			WebhookURL:    webhookURL,
			Username:      l.config.Sink.Username,
			AvatarURL:     l.config.Sink.AvatarURL,
			RatePerSecond: l.config.Sink.RatePerSec,
			Timeout:       l.config.Sink.Timeout.Duration,
			UserAgent:     l.config.Sink.UserAgent,
		}, l.client)
		if err != nil {
			return nil, err
		}
		out = hook
		sinks[webhookURL] = out
	}

	l.logger.Info("Pipeline configured",
		"pipeline", name,
		"type", pc.Type,
		"sources", len(descriptors),
		"ordering", pc.Ordering,
		"schedule", pc.Schedule)

	return core.NewPipeline(core.PipelineConfig{
		Name:             name,
		Sources:          descriptors,
		Ordering:         core.Ordering(pc.Ordering),
		MaxDeliveries:    pc.MaxDeliveries,
		MaxItemsPerRun:   pc.MaxItemsPerRun,
		DeliveryDelay:    pc.DeliveryDelay.Duration,
		MaxSourcesPerRun: pc.MaxSourcesPerRun,
		MaxItemAge:       pc.MaxItemAge.Duration,
		Fetch: core.FetchConfig{
			Delay:             pc.FetchDelay.Duration,
			BatchSize:         pc.FetchBatchSize,
			MaxItemsPerSource: pc.MaxItemsPerSource,
		},
		Delivery: core.DeliveryConfig{
			MaxAttempts: l.config.Sink.MaxAttempts,
			BackoffUnit: l.config.Sink.BackoffUnit.Duration,
		},
		Schedule:   pc.Schedule,
		RunOnStart: pc.RunOnStart,
		Timeout:    pc.Timeout.Duration,
	}, core.PipelineDeps{
		Fetcher:   fetcher,
		Formatter: formatter,
		Sink:      out,
		Ledger:    led,
		Journal:   journal,
		Observer:  l.observer,
		Logger:    l.logger,
	}), nil
}

func (l *Loader) buildSources(pc PipelineConfig) ([]core.SourceDescriptor, error) {
	descriptors := make([]core.SourceDescriptor, 0, len(pc.Sources))
	for _, src := range pc.Sources {
		descriptors = append(descriptors, core.SourceDescriptor{
			Name:          src.Name,
			URL:           src.URL,
			Kind:          src.Kind,
			Color:         src.Color,
			FetchInterval: src.FetchInterval.Duration,
			Settings:      src.Settings,
		})
	}

	if pc.SourcesOPML != "" {
		fromOPML, err := sources.LoadOPML(pc.SourcesOPML)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, fromOPML...)
	}

	for i := range descriptors {
		if descriptors[i].FetchInterval == 0 {
			descriptors[i].FetchInterval = pc.FetchInterval.Duration
		}
	}

	return descriptors, nil
}

func (l *Loader) buildFetcher(pc PipelineConfig) (core.Fetcher, error) {
	opts := l.fetchOptions(pc)

	switch pc.Type {
	case TypeGitHub:
		return sources.NewGitHubFetcher(sources.GitHubConfig{
			APIURL:  l.config.GitHub.APIURL,
			Token:   l.config.GitHub.Token,
			PerPage: GetInt(pc.Settings, "per_page", 0),
		}, opts), nil
	case TypeReddit:
		return sources.NewRedditFetcher(sources.RedditConfig{
			BaseURL: GetString(pc.Settings, "base_url", ""),
			Listing: GetString(pc.Settings, "listing", ""),
			Period:  GetString(pc.Settings, "period", ""),
			Limit:   GetInt(pc.Settings, "limit", 0),
		}, opts), nil
	case TypeStatus:
		return sources.NewStatusFetcher(sources.StatusConfig{
			Keywords: GetStringSlice(pc.Settings, "keywords"),
		}, opts), nil
	default:
		return nil, fmt.Errorf("unsupported pipeline type %q", pc.Type)
	}
}

// fetchOptions applies the user_agent and timeout settings of a pipeline.
func (l *Loader) fetchOptions(pc PipelineConfig) sources.Options {
	client := l.client
	if timeout := GetDuration(pc.Settings, "timeout", 0); timeout > 0 {
		if client != nil {
			c := *client
			c.Timeout = timeout
			client = &c
		} else {
			client = &http.Client{Timeout: timeout}
		}
	}

	return sources.Options{
		Client:    client,
		UserAgent: GetString(pc.Settings, "user_agent", ""),
	}
}

func (l *Loader) ServerConfig() server.Config {
	return server.Config{
		Name:     l.config.Bot.Name,
		Addr:     l.config.Server.Addr,
		FeedSize: l.config.Server.FeedSize,
		FeedLink: l.config.Server.FeedLink,
		Debug:    l.config.Server.Debug,
	}
}

// Serve starts storage, the scheduler and, when enabled, the HTTP server,
// then blocks until ctx ends or the server fails.
func (l *Loader) Serve(ctx context.Context) error {
	m := metrics.New()
	if l.observer == nil {
		l.observer = m
	}

	registry := components.NewRegistry(l.logger)
	storageComp := components.NewStorageComponent(l.StorageConfig())
	schedulerComp := components.NewSchedulerComponent(storageComp, l.BuildBot)

	if err := registry.Register(storageComp); err != nil {
		return err
	}
	if err := registry.Register(schedulerComp); err != nil {
		return err
	}

	var serverComp *components.ServerComponent
	if l.config.Server.Enabled {
		serverComp = components.NewServerComponent(l.ServerConfig(), storageComp, schedulerComp, m.Handler(), l.logger)
		if err := registry.Register(serverComp); err != nil {
			return err
		}
	}

	if err := registry.InitializeAll(ctx); err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	var serverErrs <-chan error
	if serverComp != nil {
		serverErrs = serverComp.Errors()
	}

	var runErr error
	select {
	case <-ctx.Done():
		l.logger.Info("Shutdown requested")
	case err, ok := <-serverErrs:
		if ok && err != nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	registry.CloseAll(shutdownCtx)

	return runErr
}
