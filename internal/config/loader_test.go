package config

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/core"
	"dispatch/internal/ledger"
)

func loaderFor(t *testing.T, raw string) (*Loader, *core.Bot) {
	t.Helper()

	cfg, err := Parse(raw)
	require.NoError(t, err)

	loader := NewLoader(cfg, nil)
	backend, err := loader.OpenStorage(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	bot, err := loader.BuildBot(backend)
	require.NoError(t, err)
	return loader, bot
}

func TestBuildBot_WiresPipelines(t *testing.T) {
	_, bot := loaderFor(t, `
[bot]
name = "relay"

[storage]
type = "memory"

[sink]
webhook_url = "https://example.com/webhook"
max_attempts = 4
backoff_unit = "2s"

[pipelines.status]
type = "status"
fetch_interval = "15m"
max_deliveries = 10
sources = [
  { name = "openai", url = "https://status.openai.com/history.atom", kind = "atom" },
  { name = "anthropic", url = "https://status.anthropic.com/history.atom", kind = "atom", fetch_interval = "5m" },
]

[pipelines.commits]
type = "github"
run_on_start = true
sources = [{ name = "golang/go" }]

[pipelines.off]
type = "reddit"
enabled = false
`)

	assert.Equal(t, "relay", bot.Name())
	assert.Equal(t, []string{"commits", "status"}, bot.Pipelines())

	p, ok := bot.Pipeline("status")
	require.True(t, ok)
	cfg := p.Config()
	assert.Equal(t, core.OrderOldestFirst, cfg.Ordering)
	assert.Equal(t, 10, cfg.MaxDeliveries)
	assert.Equal(t, 5, cfg.Fetch.BatchSize)
	assert.Equal(t, 4, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Delivery.BackoffUnit)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, 15*time.Minute, cfg.Sources[0].FetchInterval, "pipeline interval fills the gap")
	assert.Equal(t, 5*time.Minute, cfg.Sources[1].FetchInterval)

	commits, ok := bot.Pipeline("commits")
	require.True(t, ok)
	assert.True(t, commits.Config().RunOnStart)
}

func TestBuildBot_AppendsOPMLSources(t *testing.T) {
	opml := filepath.Join(t.TempDir(), "feeds.opml")
	require.NoError(t, os.WriteFile(opml, []byte(`<?xml version="1.0"?>
<opml version="2.0">
  <body>
    <outline text="Providers">
      <outline title="GitHub" xmlUrl="https://www.githubstatus.com/history.atom" type="atom"/>
      <outline title="Cloudflare" xmlUrl="https://www.cloudflarestatus.com/history.rss" type="rss"/>
    </outline>
  </body>
</opml>`), 0o644))

	_, bot := loaderFor(t, `
[storage]
type = "memory"

[pipelines.status]
type = "status"
webhook_url = "https://example.com/webhook"
sources_opml = "`+opml+`"
sources = [{ name = "openai", url = "https://status.openai.com/history.atom" }]
`)

	p, ok := bot.Pipeline("status")
	require.True(t, ok)

	var names []string
	for _, src := range p.Config().Sources {
		names = append(names, src.Name)
	}
	assert.Equal(t, []string{"openai", "GitHub", "Cloudflare"}, names)
}

func TestBuildBot_MissingOPML(t *testing.T) {
	cfg, err := Parse(`
[storage]
type = "memory"

[pipelines.status]
type = "status"
webhook_url = "https://example.com/webhook"
sources_opml = "/nonexistent/feeds.opml"
`)
	require.NoError(t, err)

	loader := NewLoader(cfg, nil)
	backend, err := loader.OpenStorage(context.Background())
	require.NoError(t, err)
	defer backend.Close()

	_, err = loader.BuildBot(backend)
	assert.ErrorContains(t, err, "failed to read OPML file")
}

func TestOpenStorage_UnknownType(t *testing.T) {
	cfg, err := Parse(`
[storage]
type = "etcd"

[pipelines.commits]
type = "github"
webhook_url = "https://example.com/webhook"
sources = [{ name = "golang/go" }]
`)
	require.NoError(t, err)

	_, err = NewLoader(cfg, nil).OpenStorage(context.Background())
	assert.Error(t, err)
}

func TestServerConfig(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	sc := NewLoader(cfg, nil).ServerConfig()
	assert.Equal(t, "relay", sc.Name)
	assert.Equal(t, ":8080", sc.Addr)
}

func TestFetchOptions_TimeoutSetting(t *testing.T) {
	cfg, err := Parse(`
[pipelines.status]
type = "status"
webhook_url = "https://example.com/webhook"
settings = { timeout = "3s", user_agent = "relay-test/1.0" }
sources = [{ name = "openai", url = "https://status.openai.com/history.atom" }]
`)
	require.NoError(t, err)

	shared := &http.Client{Timeout: time.Minute}
	loader := NewLoader(cfg, nil, WithHTTPClient(shared))

	opts := loader.fetchOptions(cfg.Pipelines["status"])
	require.NotNil(t, opts.Client)
	assert.Equal(t, 3*time.Second, opts.Client.Timeout)
	assert.Equal(t, "relay-test/1.0", opts.UserAgent)
	assert.Equal(t, time.Minute, shared.Timeout, "shared client is not modified")

	opts = NewLoader(cfg, nil).fetchOptions(PipelineConfig{})
	assert.Nil(t, opts.Client, "fetchers fall back to their default client")
}

func TestLedger_ReportsStatus(t *testing.T) {
	cfg, err := Parse(`
[storage]
type = "memory"

[ledger]
rejected_ttl = "1h"

[pipelines.commits]
type = "github"
webhook_url = "https://example.com/webhook"
sources = [{ name = "golang/go" }]
`)
	require.NoError(t, err)

	loader := NewLoader(cfg, nil)
	ctx := context.Background()
	backend, err := loader.OpenStorage(ctx)
	require.NoError(t, err)
	defer backend.Close()

	led := loader.Ledger(backend)
	require.NoError(t, led.MarkDelivered(ctx, "github:abc"))
	require.NoError(t, led.MarkRejected(ctx, "github:bad"))

	status, ok, err := led.Lookup(ctx, "github:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.StatusDelivered, status)

	status, ok, err = led.Lookup(ctx, "github:bad")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.StatusRejected, status)

	_, ok, err = led.Lookup(ctx, "github:unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}
