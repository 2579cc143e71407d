// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/site-discovery/internal/discovery"
)

// EnvPrefix prefixes every environment override, e.g. SITEDISCOVERY_SERVER_PORT.
const EnvPrefix = "SITEDISCOVERY"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Content   ContentConfig   `mapstructure:"content"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DiscoveryConfig bounds sitemap walks, crawls and document probes.
type DiscoveryConfig struct {
	SitemapLimit           int `mapstructure:"sitemap_limit"`
	CrawlLimit             int `mapstructure:"crawl_limit"`
	MaxDepth               int `mapstructure:"max_depth"`
	FanoutCap              int `mapstructure:"fanout_cap"`
	SitemapProbeTimeoutMs  int `mapstructure:"sitemap_probe_timeout_ms"`
	SitemapFetchTimeoutMs  int `mapstructure:"sitemap_fetch_timeout_ms"`
	CrawlFetchTimeoutMs    int `mapstructure:"crawl_fetch_timeout_ms"`
	DocumentProbeTimeoutMs int `mapstructure:"document_probe_timeout_ms"`
	DocumentConcurrency    int `mapstructure:"document_concurrency"`
	BudgetSeconds          int `mapstructure:"budget_seconds"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// WorkerConfig sizes the asynchronous run pipeline.
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	Topic       string `mapstructure:"topic"`
}

// ContentConfig toggles markdown rendering of discovered pages.
type ContentConfig struct {
	MarkdownEnabled bool `mapstructure:"markdown_enabled"`
	MaxPages        int  `mapstructure:"max_pages"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env, an optional config file and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("discovery.sitemap_limit", discovery.DefaultSitemapLimit)
	v.SetDefault("discovery.crawl_limit", discovery.DefaultCrawlLimit)
	v.SetDefault("discovery.max_depth", discovery.DefaultMaxDepth)
	v.SetDefault("discovery.fanout_cap", discovery.DefaultFanoutCap)
	v.SetDefault("discovery.sitemap_probe_timeout_ms", discovery.DefaultSitemapProbeTimeout.Milliseconds())
	v.SetDefault("discovery.sitemap_fetch_timeout_ms", discovery.DefaultSitemapFetchTimeout.Milliseconds())
	v.SetDefault("discovery.crawl_fetch_timeout_ms", discovery.DefaultCrawlFetchTimeout.Milliseconds())
	v.SetDefault("discovery.document_probe_timeout_ms", discovery.DefaultDocumentProbeTimeout.Milliseconds())
	v.SetDefault("discovery.document_concurrency", discovery.DefaultDocumentConcurrency)
	v.SetDefault("discovery.budget_seconds", int(discovery.DefaultBudget.Seconds()))
	v.SetDefault("http.user_agent", "site-discovery-bot/0.1")
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.topic", "discovery.completed")
	v.SetDefault("content.markdown_enabled", false)
	v.SetDefault("content.max_pages", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	positives := []struct {
		key   string
		value int
	}{
		{"server.port", c.Server.Port},
		{"server.request_timeout_seconds", c.Server.RequestTimeoutSeconds},
		{"discovery.sitemap_limit", c.Discovery.SitemapLimit},
		{"discovery.crawl_limit", c.Discovery.CrawlLimit},
		{"discovery.max_depth", c.Discovery.MaxDepth},
		{"discovery.fanout_cap", c.Discovery.FanoutCap},
		{"discovery.sitemap_probe_timeout_ms", c.Discovery.SitemapProbeTimeoutMs},
		{"discovery.sitemap_fetch_timeout_ms", c.Discovery.SitemapFetchTimeoutMs},
		{"discovery.crawl_fetch_timeout_ms", c.Discovery.CrawlFetchTimeoutMs},
		{"discovery.document_probe_timeout_ms", c.Discovery.DocumentProbeTimeoutMs},
		{"discovery.document_concurrency", c.Discovery.DocumentConcurrency},
		{"discovery.budget_seconds", c.Discovery.BudgetSeconds},
		{"http.max_body_bytes", c.HTTP.MaxBodyBytes},
		{"worker.concurrency", c.Worker.Concurrency},
		{"worker.queue_depth", c.Worker.QueueDepth},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0", p.key)
		}
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Content.MarkdownEnabled && c.Content.MaxPages <= 0 {
		return fmt.Errorf("content.max_pages must be > 0 when markdown is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Limits converts the discovery section into per-run limits.
func (c Config) Limits() discovery.Limits {
	return discovery.Limits{
		SitemapLimit: c.Discovery.SitemapLimit,
		CrawlLimit:   c.Discovery.CrawlLimit,
		MaxDepth:     c.Discovery.MaxDepth,
		Budget:       time.Duration(c.Discovery.BudgetSeconds) * time.Second,
	}
}

// Options converts the discovery section into engine options.
func (c Config) Options() discovery.Options {
	return discovery.Options{
		SitemapProbeTimeout:  millis(c.Discovery.SitemapProbeTimeoutMs),
		SitemapFetchTimeout:  millis(c.Discovery.SitemapFetchTimeoutMs),
		CrawlFetchTimeout:    millis(c.Discovery.CrawlFetchTimeoutMs),
		DocumentProbeTimeout: millis(c.Discovery.DocumentProbeTimeoutMs),
		FanoutCap:            c.Discovery.FanoutCap,
		DocumentConcurrency:  c.Discovery.DocumentConcurrency,
	}
}

// RequestTimeout is the per-request deadline of the operator API.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
