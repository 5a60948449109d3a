// Package config loads process configuration: built-in defaults, then an
// optional YAML file, then .env and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hetulpatel/darwin/internal/commitment"
	"github.com/hetulpatel/darwin/internal/feed"
	"github.com/hetulpatel/darwin/internal/kafka"
	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/orchestrator"
	"github.com/hetulpatel/darwin/internal/pipeline"
	"github.com/hetulpatel/darwin/internal/polymarket"
	"github.com/hetulpatel/darwin/internal/textmatch"
	"github.com/hetulpatel/darwin/internal/watchers"
)

// Config is the full process configuration.
type Config struct {
	Log          logging.Config      `yaml:"log"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Pipeline     pipeline.Config     `yaml:"pipeline"`
	Watchers     WatchersConfig      `yaml:"watchers"`
	Feed         feed.Config         `yaml:"feed"`
	Polymarket   polymarket.Config   `yaml:"polymarket"`
	News         NewsConfig          `yaml:"news"`
	LLM          LLMConfig           `yaml:"llm"`
	Storage      StorageConfig       `yaml:"storage"`
	Redis        RedisConfig         `yaml:"redis"`
	Kafka        KafkaConfig         `yaml:"kafka"`
	Ledger       LedgerConfig        `yaml:"ledger"`
	API          APIConfig           `yaml:"api"`
}

// WatchersConfig tunes the four watchers.
type WatchersConfig struct {
	PriceEnabled    bool            `yaml:"price_enabled"`
	NewsEnabled     bool            `yaml:"news_enabled"`
	RSSEnabled      bool            `yaml:"rss_enabled"`
	TimeEnabled     bool            `yaml:"time_enabled"`
	PriceThreshold  float64         `yaml:"price_threshold"`
	NewsInterval    time.Duration   `yaml:"news_interval"`
	RSSInterval     time.Duration   `yaml:"rss_interval"`
	TimeInterval    time.Duration   `yaml:"time_interval"`
	NewsQueries     []string        `yaml:"news_queries"`
	NewsMaxResults  int             `yaml:"news_max_results"`
	Feeds           []watchers.Feed `yaml:"feeds"`
	RSSBatchSize    int             `yaml:"rss_batch_size"`
	RSSConcurrency  int             `yaml:"rss_concurrency"`
	RSSMaxAge       time.Duration   `yaml:"rss_max_age"`
	SeenCapacity    int             `yaml:"seen_capacity"`
	MatchMinRatio   float64         `yaml:"match_min_ratio"`
	MatchMinOverlap int             `yaml:"match_min_overlap"`
	ScoutThreshold  float64         `yaml:"scout_threshold"`
}

// Matcher returns the configured keyword thresholds.
func (w WatchersConfig) Matcher() textmatch.Matcher {
	return textmatch.Matcher{MinRatio: w.MatchMinRatio, MinOverlap: w.MatchMinOverlap}
}

// NewsConfig configures the Google News RSS search client.
type NewsConfig struct {
	SearchURL string        `yaml:"search_url"`
	Lang      string        `yaml:"lang"`
	Country   string        `yaml:"country"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig configures the chat-completions client.
type LLMConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	Temperature  float32       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	MaxArticles  int           `yaml:"max_articles"`
	MaxBodyChars int           `yaml:"max_body_chars"`
}

// StorageConfig selects the store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | memory
	Path   string `yaml:"path"`
}

// RedisConfig configures the scout dedupe cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// KafkaConfig configures the signal and scout streams.
type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	SignalTopic string   `yaml:"signal_topic"`
	ScoutTopic  string   `yaml:"scout_topic"`
}

// LedgerConfig configures commitments.
type LedgerConfig struct {
	commitment.Config `yaml:",inline"`
	Driver            string        `yaml:"driver"` // memory | evm
	RPCURL            string        `yaml:"rpc_url"`
	PrivateKey        string        `yaml:"private_key"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
}

// APIConfig configures the read API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:          logging.Config{Level: "info", Format: "text", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Orchestrator: orchestrator.DefaultConfig(),
		Pipeline:     pipeline.DefaultConfig(),
		Watchers: WatchersConfig{
			PriceEnabled:    true,
			NewsEnabled:     true,
			RSSEnabled:      true,
			TimeEnabled:     true,
			PriceThreshold:  watchers.DefaultPriceThreshold,
			NewsInterval:    5 * time.Minute,
			RSSInterval:     3 * time.Minute,
			TimeInterval:    15 * time.Minute,
			NewsMaxResults:  20,
			RSSBatchSize:    10,
			RSSConcurrency:  5,
			RSSMaxAge:       6 * time.Hour,
			SeenCapacity:    10000,
			MatchMinRatio:   textmatch.DefaultMinRatio,
			MatchMinOverlap: textmatch.DefaultMinOverlap,
			ScoutThreshold:  textmatch.DefaultScoutRatio,
		},
		Feed: feed.Config{
			URL:                 feed.DefaultURL,
			PingInterval:        10 * time.Second,
			BaseDelay:           time.Second,
			MaxDelay:            time.Minute,
			FallbackAfter:       10 * time.Second,
			FallbackInterval:    30 * time.Second,
			FallbackConcurrency: 8,
			BatchSize:           100,
		},
		Polymarket: polymarket.Config{
			GammaURL:          polymarket.DefaultGammaURL,
			CLOBURL:           polymarket.DefaultCLOBURL,
			PageSize:          100,
			MinLiquidity:      1000,
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
		},
		News: NewsConfig{Lang: "en-US", Country: "US", Timeout: 15 * time.Second},
		LLM: LLMConfig{
			Timeout:      60 * time.Second,
			Temperature:  0.2,
			MaxTokens:    800,
			MaxArticles:  8,
			MaxBodyChars: 600,
		},
		Storage: StorageConfig{Driver: "sqlite", Path: "data/darwin.db"},
		Redis:   RedisConfig{TTL: 7 * 24 * time.Hour, Prefix: "darwin:seen:"},
		Kafka: KafkaConfig{
			Brokers:     []string{kafka.DefaultBroker},
			SignalTopic: kafka.DefaultSignalTopic,
			ScoutTopic:  kafka.DefaultScoutTopic,
		},
		Ledger: LedgerConfig{
			Config:      commitment.Config{Tag: commitment.DefaultTag, Timeout: 3 * time.Minute},
			Driver:      "memory",
			WaitTimeout: 2 * time.Minute,
		},
		API: APIConfig{Enabled: true, Addr: ":8080"},
	}
}

// Load reads .env (if present), then the YAML file at path (skipped when
// path is empty), then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Orchestrator.Workers >= 1, "orchestrator.workers must be at least 1, got %d", c.Orchestrator.Workers)
	check(c.Orchestrator.QueueSize >= 1, "orchestrator.queue_size must be at least 1, got %d", c.Orchestrator.QueueSize)
	check(c.Watchers.PriceThreshold > 0 && c.Watchers.PriceThreshold < 1, "watchers.price_threshold must be in (0,1), got %v", c.Watchers.PriceThreshold)
	check(c.Watchers.MatchMinRatio > 0 && c.Watchers.MatchMinRatio <= 1, "watchers.match_min_ratio must be in (0,1], got %v", c.Watchers.MatchMinRatio)
	check(c.Watchers.MatchMinOverlap >= 1, "watchers.match_min_overlap must be at least 1, got %d", c.Watchers.MatchMinOverlap)
	check(c.Pipeline.EV.WeightNews >= 0 && c.Pipeline.EV.WeightTime >= 0, "pipeline.ev weights must be non-negative")
	check(c.Pipeline.MinNetEV >= 0, "pipeline.min_net_ev must be non-negative, got %v", c.Pipeline.MinNetEV)
	check(c.Pipeline.SignalTTL > 0, "pipeline.signal_ttl must be positive")

	switch c.Storage.Driver {
	case "sqlite":
		check(c.Storage.Path != "", "storage.path is required for sqlite")
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of sqlite, memory", c.Storage.Driver))
	}

	switch c.Ledger.Driver {
	case "memory":
	case "evm":
		if c.Ledger.Enabled {
			check(c.Ledger.RPCURL != "", "ledger.rpc_url is required for the evm driver")
			check(c.Ledger.PrivateKey != "", "ledger.private_key is required for the evm driver")
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver %q is not one of memory, evm", c.Ledger.Driver))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if c.Kafka.Enabled {
		check(len(c.Kafka.Brokers) > 0, "kafka.brokers is required when kafka is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
