package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "darwin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Orchestrator.Workers)
	assert.Equal(t, 0.05, cfg.Watchers.PriceThreshold)
	assert.Equal(t, 0.3, cfg.Watchers.MatchMinRatio)
	assert.Equal(t, 2, cfg.Watchers.MatchMinOverlap)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.SignalTTL)
	assert.False(t, cfg.Ledger.Enabled)
}

func TestLoadYAMLKeepsUnsetDefaults(t *testing.T) {
	path := writeFile(t, `
orchestrator:
  workers: 6
  cooldowns:
    no_news: 45m
watchers:
  price_threshold: 0.08
  news_queries: ["fed", "election"]
  feeds:
    - name: wire
      url: https://example.com/rss
ledger:
  enabled: true
  driver: memory
  tag: TEST
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Orchestrator.Workers)
	assert.Equal(t, 100, cfg.Orchestrator.QueueSize)
	assert.Equal(t, 45*time.Minute, cfg.Orchestrator.Cooldowns.NoNews)
	assert.Equal(t, 6*time.Hour, cfg.Orchestrator.Cooldowns.Signal)
	assert.Equal(t, 0.08, cfg.Watchers.PriceThreshold)
	assert.Equal(t, []string{"fed", "election"}, cfg.Watchers.NewsQueries)
	require.Len(t, cfg.Watchers.Feeds, 1)
	assert.Equal(t, "wire", cfg.Watchers.Feeds[0].Name)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, "TEST", cfg.Ledger.Tag)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "orchestrator:\n  workers: 6\n")
	t.Setenv("DARWIN_WORKERS", "9")
	t.Setenv("COOLDOWN_ERROR", "90s")
	t.Setenv("MIN_NET_EV", "0.05")
	t.Setenv("SIGNAL_TTL", "12h")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("NEWS_QUERIES", "fed; bitcoin ;")
	t.Setenv("DARWIN_QUEUE_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Orchestrator.Workers)
	assert.Equal(t, 100, cfg.Orchestrator.QueueSize, "unparseable values keep the previous setting")
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.Cooldowns.Error)
	assert.Equal(t, 0.05, cfg.Pipeline.MinNetEV)
	assert.Equal(t, 12*time.Hour, cfg.Pipeline.SignalTTL)
	assert.Equal(t, 12*time.Hour, cfg.Orchestrator.SignalTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"fed", "bitcoin"}, cfg.Watchers.NewsQueries)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"workers":        func(c *Config) { c.Orchestrator.Workers = 0 },
		"threshold":      func(c *Config) { c.Watchers.PriceThreshold = 1.5 },
		"storage driver": func(c *Config) { c.Storage.Driver = "postgres" },
		"evm key": func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.Driver = "evm"
			c.Ledger.RPCURL = "http://localhost:8545"
		},
		"log format": func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
