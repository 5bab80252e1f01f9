// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/campuseats/menud/internal/menu"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Auth     AuthConfig             `mapstructure:"auth"`
	Logging  LoggingConfig          `mapstructure:"logging"`
	Crawl    CrawlConfig            `mapstructure:"crawl"`
	HTTP     HTTPConfig             `mapstructure:"http"`
	Cache    CacheConfig            `mapstructure:"cache"`
	DB       DBConfig               `mapstructure:"db"`
	Snapshot SnapshotConfig         `mapstructure:"snapshot"`
	PubSub   PubSubConfig           `mapstructure:"pubsub"`
	Query    QueryConfig            `mapstructure:"query"`
	Targets  map[string]menu.Target `mapstructure:"targets"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the crawl-trigger endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlConfig governs scheduler cadence and crawl cycle behavior.
type CrawlConfig struct {
	IntervalMinutes    int `mapstructure:"interval_minutes"`
	RunDeadlineSeconds int `mapstructure:"run_deadline_seconds"`
	TargetConcurrency  int `mapstructure:"target_concurrency"`
}

// HTTPConfig configures the outbound fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// CacheConfig bounds the read cache. TTL and the stale-serve grace window
// are independent knobs.
type CacheConfig struct {
	Capacity     int `mapstructure:"capacity"`
	TTLSeconds   int `mapstructure:"ttl_seconds"`
	GraceSeconds int `mapstructure:"grace_seconds"`
}

// DBConfig controls access to the menu store.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SnapshotConfig selects where raw fetched documents are archived.
type SnapshotConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for menu-change event publishing.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueryConfig bounds read pagination.
type QueryConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MENUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	for name, target := range cfg.Targets {
		if target.Name == "" {
			target.Name = name
			cfg.Targets[name] = target
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("crawl.interval_minutes", 60)
	v.SetDefault("crawl.run_deadline_seconds", 120)
	v.SetDefault("crawl.target_concurrency", 4)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "menud-bot/0.1")
	v.SetDefault("cache.capacity", 256)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.grace_seconds", 1800)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("snapshot.provider", "none")
	v.SetDefault("snapshot.prefix", "raw")
	v.SetDefault("pubsub.provider", "none")
	v.SetDefault("query.default_page_size", 50)
	v.SetDefault("query.max_page_size", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.IntervalMinutes <= 0 {
		return fmt.Errorf("crawl.interval_minutes must be > 0")
	}
	if c.Crawl.TargetConcurrency <= 0 {
		return fmt.Errorf("crawl.target_concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown db provider %q", c.DB.Provider)
	}
	switch c.Snapshot.Provider {
	case "none":
	case "local":
		if c.Snapshot.BaseDir == "" {
			return fmt.Errorf("snapshot.base_dir must be set when snapshot.provider is local")
		}
	case "gcs":
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.bucket must be set when snapshot.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown snapshot provider %q", c.Snapshot.Provider)
	}
	switch c.PubSub.Provider {
	case "none", "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown pubsub provider %q", c.PubSub.Provider)
	}
	for name, target := range c.Targets {
		if target.URL == "" {
			return fmt.Errorf("target %q: url is required", name)
		}
		if target.ProviderID == "" {
			return fmt.Errorf("target %q: provider_id is required", name)
		}
		switch target.Kind {
		case menu.TargetHTML, menu.TargetFeed:
		default:
			return fmt.Errorf("target %q: unknown kind %q", name, target.Kind)
		}
	}
	return nil
}

// FetchTimeout bounds a single outbound fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CrawlInterval is the scheduler cadence.
func (c Config) CrawlInterval() time.Duration {
	return time.Duration(c.Crawl.IntervalMinutes) * time.Minute
}

// RunDeadline bounds one whole crawl cycle.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Crawl.RunDeadlineSeconds) * time.Second
}

// CacheTTL is the freshness bound on cache entries.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// CacheGrace is the stale-serve window past expiry.
func (c Config) CacheGrace() time.Duration {
	return time.Duration(c.Cache.GraceSeconds) * time.Second
}

// TargetList returns targets in a deterministic order by name.
func (c Config) TargetList() []menu.Target {
	out := make([]menu.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
