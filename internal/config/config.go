// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Feed    FeedConfig    `mapstructure:"feed"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	DB      DBConfig      `mapstructure:"db"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// FeedConfig locates the results feed and sets the polling cadence.
type FeedConfig struct {
	URL          string        `mapstructure:"url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// HTTPConfig configures the document fetcher.
type HTTPConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// ServerConfig controls the read-only HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. Environment variables use the
// HARVESTER_ prefix with dots replaced by underscores, e.g. HARVESTER_DB_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("feed.url", "https://www.tfrrs.org/results.rss")
	v.SetDefault("feed.poll_interval", 24*time.Hour)
	v.SetDefault("http.user_agent", "trackmeet-harvester/0.1")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.requests_per_second", 0.5)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.migrate", true)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Feed.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("feed.url must be an absolute URL, got %q", c.Feed.URL)
	}
	if c.Feed.PollInterval <= 0 {
		return errors.New("feed.poll_interval must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must be >= 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	return nil
}

// FetchTimeout is the bound applied to every document fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
