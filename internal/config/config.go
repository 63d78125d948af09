package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

const (
	TypeGitHub = "github"
	TypeReddit = "reddit"
	TypeStatus = "status"

	defaultSchedule = "*/10 * * * *"
)

type Config struct {
	Bot       BotConfig                 `toml:"bot"`
	Log       LogConfig                 `toml:"log"`
	Storage   StorageConfig             `toml:"storage"`
	Ledger    LedgerConfig              `toml:"ledger"`
	Sink      SinkConfig                `toml:"sink"`
	Server    ServerConfig              `toml:"server"`
	GitHub    GitHubConfig              `toml:"github"`
	Pipelines map[string]PipelineConfig `toml:"pipelines"`
}

type BotConfig struct {
	Name     string `toml:"name"`
	Timezone string `toml:"timezone"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type StorageConfig struct {
	Type          string `toml:"type"`
	Path          string `toml:"path"`
	DSN           string `toml:"dsn"`
	RedisAddress  string `toml:"redis_address"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	JournalSize   int    `toml:"journal_size"`
	PurgeSchedule string `toml:"purge_schedule"`
}

type LedgerConfig struct {
	DeliveredTTL Duration `toml:"delivered_ttl"`
	RejectedTTL  Duration `toml:"rejected_ttl"`
}

type SinkConfig struct {
	WebhookURL  string   `toml:"webhook_url"`
	Username    string   `toml:"username"`
	AvatarURL   string   `toml:"avatar_url"`
	MaxAttempts int      `toml:"max_attempts"`
	BackoffUnit Duration `toml:"backoff_unit"`
	RatePerSec  float64  `toml:"rate_per_sec"`
	Timeout     Duration `toml:"timeout"`
	UserAgent   string   `toml:"user_agent"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	FeedSize int    `toml:"feed_size"`
	FeedLink string `toml:"feed_link"`
	Debug    bool   `toml:"debug"`
}

type GitHubConfig struct {
	Token  string `toml:"token"`
	APIURL string `toml:"api_url"`
}

type PipelineConfig struct {
	Type    string `toml:"type"`
	Enabled *bool  `toml:"enabled"`

	Schedule   string   `toml:"schedule"`
	RunOnStart bool     `toml:"run_on_start"`
	Timeout    Duration `toml:"timeout"`

	Ordering      string   `toml:"ordering"`
	MaxDeliveries int      `toml:"max_deliveries"`
	DeliveryDelay Duration `toml:"delivery_delay"`
	MaxItemAge    Duration `toml:"max_item_age"`

	FetchInterval     Duration `toml:"fetch_interval"`
	MaxSourcesPerRun  int      `toml:"max_sources_per_run"`
	FetchDelay        Duration `toml:"fetch_delay"`
	FetchBatchSize    int      `toml:"fetch_batch_size"`
	MaxItemsPerSource int      `toml:"max_items_per_source"`
	MaxItemsPerRun    int      `toml:"max_items_per_run"`

	WebhookURL  string         `toml:"webhook_url"`
	SourcesOPML string         `toml:"sources_opml"`
	Sources     []SourceConfig `toml:"sources"`
	Settings    map[string]any `toml:"settings"`
}

type SourceConfig struct {
	Name          string         `toml:"name"`
	URL           string         `toml:"url"`
	Kind          string         `toml:"kind"`
	Color         int            `toml:"color"`
	FetchInterval Duration       `toml:"fetch_interval"`
	Settings      map[string]any `toml:"settings"`
}

func (p PipelineConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Duration reads Go duration strings such as "500ms" or "720h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads a TOML file. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(os.ExpandEnv(string(data)))
}

func Parse(data string) (*Config, error) {
	var config Config
	if _, err := toml.Decode(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Bot.Name == "" {
		config.Bot.Name = "dispatch"
	}
	if config.Bot.Timezone == "" {
		config.Bot.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(config.Bot.Timezone); err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}
	if config.Storage.Type == "sqlite" && config.Storage.Path == "" {
		config.Storage.Path = "./dispatch.db"
	}
	if config.Storage.PurgeSchedule == "" {
		config.Storage.PurgeSchedule = "@hourly"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Sink.MaxAttempts < 0 {
		return fmt.Errorf("sink max_attempts must not be negative")
	}

	enabled := 0
	for name, p := range config.Pipelines {
		if !p.IsEnabled() {
			continue
		}
		enabled++

		applyPipelineDefaults(&p)
		if err := validatePipeline(name, p, config.Sink.WebhookURL); err != nil {
			return err
		}
		config.Pipelines[name] = p
	}

	if enabled == 0 {
		return fmt.Errorf("at least one pipeline must be enabled")
	}

	return nil
}

// applyPipelineDefaults fills in the pacing each relay type was tuned for.
func applyPipelineDefaults(p *PipelineConfig) {
	p.Type = strings.ToLower(p.Type)

	if p.Schedule == "" {
		p.Schedule = defaultSchedule
	}

	switch p.Type {
	case TypeGitHub:
		setDefault(&p.DeliveryDelay, 2*time.Second)
	case TypeReddit:
		setDefault(&p.DeliveryDelay, 2*time.Second)
		if p.Ordering == "" {
			p.Ordering = "score"
		}
	case TypeStatus:
		setDefault(&p.DeliveryDelay, 500*time.Millisecond)
		setDefault(&p.FetchDelay, time.Second)
		setDefault(&p.MaxItemAge, 24*time.Hour)
		if p.FetchBatchSize == 0 {
			p.FetchBatchSize = 5
		}
	}

	if p.Ordering == "" {
		p.Ordering = "oldest_first"
	}
}

func setDefault(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

func validatePipeline(name string, p PipelineConfig, sinkURL string) error {
	switch p.Type {
	case TypeGitHub, TypeReddit, TypeStatus:
	case "":
		return fmt.Errorf("pipeline %s: type is required", name)
	default:
		return fmt.Errorf("pipeline %s: unsupported type %q", name, p.Type)
	}

	if p.Ordering != "oldest_first" && p.Ordering != "score" {
		return fmt.Errorf("pipeline %s: ordering must be oldest_first or score, got %q", name, p.Ordering)
	}

	if _, err := cron.ParseStandard(p.Schedule); err != nil {
		return fmt.Errorf("pipeline %s: invalid schedule %q: %w", name, p.Schedule, err)
	}

	if p.WebhookURL == "" && sinkURL == "" {
		return fmt.Errorf("pipeline %s: webhook_url is required (set it on the pipeline or in [sink])", name)
	}

	if len(p.Sources) == 0 && p.SourcesOPML == "" {
		return fmt.Errorf("pipeline %s: at least one source is required", name)
	}

	for i, src := range p.Sources {
		if src.Name == "" {
			return fmt.Errorf("pipeline %s: source %d has no name", name, i)
		}
		if p.Type == TypeStatus && src.URL == "" {
			return fmt.Errorf("pipeline %s: status source %s needs a url", name, src.Name)
		}
	}

	for _, n := range []int{p.MaxDeliveries, p.MaxSourcesPerRun, p.FetchBatchSize, p.MaxItemsPerSource, p.MaxItemsPerRun} {
		if n < 0 {
			return fmt.Errorf("pipeline %s: limits must not be negative", name)
		}
	}

	return nil
}

func GetString(settings map[string]any, key string, defaultValue string) string {
	if val, ok := settings[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

func GetInt(settings map[string]any, key string, defaultValue int) int {
	if val, ok := settings[key]; ok {
		if i, ok := val.(int64); ok {
			return int(i)
		}
		if i, ok := val.(int); ok {
			return i
		}
	}
	return defaultValue
}

func GetStringSlice(settings map[string]any, key string) []string {
	if val, ok := settings[key]; ok {
		if arr, ok := val.([]any); ok {
			result := make([]string, 0, len(arr))
			for _, item := range arr {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return []string{}
}

func GetDuration(settings map[string]any, key string, defaultValue time.Duration) time.Duration {
	if val, ok := settings[key]; ok {
		if str, ok := val.(string); ok {
			if d, err := time.ParseDuration(str); err == nil {
				return d
			}
		}
	}
	return defaultValue
}
