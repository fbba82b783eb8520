// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Store      StoreConfig      `mapstructure:"store"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	Snapshots  SnapshotsConfig  `mapstructure:"snapshots"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	ProxyCheck ProxyCheckConfig `mapstructure:"proxycheck"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PoolConfig governs worker pool dispatch behavior.
type PoolConfig struct {
	MaxConcurrentJobs    int `mapstructure:"max_concurrent_jobs"`
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
	DeferBackoffMs       int `mapstructure:"defer_backoff_ms"`
}

// QueueConfig selects and addresses the job queue backend.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
	URL      string `mapstructure:"url"`
	Name     string `mapstructure:"name"`
	Prefetch int    `mapstructure:"prefetch"`
	Depth    int    `mapstructure:"depth"`
}

// StoreConfig selects and addresses the durable store backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// BrowserConfig configures the automation driver.
type BrowserConfig struct {
	Headless              bool `mapstructure:"headless"`
	NavTimeoutSeconds     int  `mapstructure:"nav_timeout_seconds"`
	ElementTimeoutSeconds int  `mapstructure:"element_timeout_seconds"`
}

// PlatformConfig holds the target platform entry points.
type PlatformConfig struct {
	LoginURL        string `mapstructure:"login_url"`
	UploadURL       string `mapstructure:"upload_url"`
	LoginPathMarker string `mapstructure:"login_path_marker"`
}

// SnapshotsConfig controls where diagnostic snapshots land.
type SnapshotsConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// PublisherConfig selects the result publisher backend.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProxyCheckConfig controls the pre-session proxy reachability probe.
type ProxyCheckConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RateLimitConfig paces posts per account.
type RateLimitConfig struct {
	MinPostIntervalSeconds int `mapstructure:"min_post_interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SNAPBOT")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pool.max_concurrent_jobs", 5)
	v.SetDefault("pool.shutdown_grace_seconds", 30)
	v.SetDefault("pool.defer_backoff_ms", 250)
	v.SetDefault("queue.provider", "memory")
	// Empty defaults keep AutomaticEnv visible to Unmarshal for keys that
	// are only ever set through the environment.
	v.SetDefault("queue.url", "")
	v.SetDefault("queue.name", "post-video")
	v.SetDefault("queue.prefetch", 8)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.element_timeout_seconds", 15)
	v.SetDefault("platform.login_url", "https://accounts.snapchat.com/accounts/login")
	v.SetDefault("platform.upload_url", "https://web.snapchat.com")
	v.SetDefault("platform.login_path_marker", "login")
	v.SetDefault("snapshots.provider", "local")
	v.SetDefault("snapshots.dir", "./screenshots")
	v.SetDefault("snapshots.bucket", "")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "post-results")
	v.SetDefault("proxycheck.enabled", false)
	v.SetDefault("proxycheck.url", "https://www.gstatic.com/generate_204")
	v.SetDefault("proxycheck.timeout_seconds", 10)
	v.SetDefault("ratelimit.min_post_interval_seconds", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("pool.max_concurrent_jobs must be > 0")
	}
	if c.Pool.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("pool.shutdown_grace_seconds must be >= 0")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.ElementTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.element_timeout_seconds must be > 0")
	}
	switch c.Queue.Provider {
	case "memory":
	case "amqp":
		if c.Queue.URL == "" {
			return fmt.Errorf("queue.url must be set when queue.provider is amqp")
		}
	default:
		return fmt.Errorf("unknown queue provider %q", c.Queue.Provider)
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store provider %q", c.Store.Provider)
	}
	switch c.Snapshots.Provider {
	case "memory", "local":
	case "gcs":
		if c.Snapshots.Bucket == "" {
			return fmt.Errorf("snapshots.bucket must be set when snapshots.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown snapshots provider %q", c.Snapshots.Provider)
	}
	switch c.Publisher.Provider {
	case "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher provider %q", c.Publisher.Provider)
	}
	if c.ProxyCheck.Enabled && c.ProxyCheck.URL == "" {
		return fmt.Errorf("proxycheck.url must be set when proxycheck.enabled is true")
	}
	return nil
}

// NavTimeout returns the page navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// ElementTimeout returns the element readiness timeout as a duration.
func (c Config) ElementTimeout() time.Duration {
	return time.Duration(c.Browser.ElementTimeoutSeconds) * time.Second
}

// ShutdownGrace returns the pool shutdown grace period as a duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Pool.ShutdownGraceSeconds) * time.Second
}
