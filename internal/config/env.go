package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hetulpatel/darwin/internal/kafka"
)

// applyEnv overrides cfg with any recognized environment variables.
func applyEnv(cfg *Config) {
	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = envString("LOG_FILE", cfg.Log.File)

	o := &cfg.Orchestrator
	o.Workers = envInt("DARWIN_WORKERS", o.Workers)
	o.QueueSize = envInt("DARWIN_QUEUE_SIZE", o.QueueSize)
	o.SyncInterval = envDuration("DARWIN_SYNC_INTERVAL", o.SyncInterval)
	o.MaxSyncPages = envInt("DARWIN_MAX_SYNC_PAGES", o.MaxSyncPages)
	o.Cooldowns.Signal = envDuration("COOLDOWN_SIGNAL", o.Cooldowns.Signal)
	o.Cooldowns.NoNews = envDuration("COOLDOWN_NO_NEWS", o.Cooldowns.NoNews)
	o.Cooldowns.NoSignal = envDuration("COOLDOWN_NO_SIGNAL", o.Cooldowns.NoSignal)
	o.Cooldowns.Error = envDuration("COOLDOWN_ERROR", o.Cooldowns.Error)

	p := &cfg.Pipeline
	p.MinNetEV = envFloat("MIN_NET_EV", p.MinNetEV)
	p.SignalTTL = envDuration("SIGNAL_TTL", p.SignalTTL)
	p.EV.WeightNews = envFloat("EV_WEIGHT_NEWS", p.EV.WeightNews)
	p.EV.WeightTime = envFloat("EV_WEIGHT_TIME", p.EV.WeightTime)
	p.EV.FeeRate = envFloat("EV_FEE_RATE", p.EV.FeeRate)
	p.EV.LatencyCost = envFloat("EV_LATENCY_COST", p.EV.LatencyCost)
	o.SignalTTL = p.SignalTTL

	w := &cfg.Watchers
	w.PriceThreshold = envFloat("PRICE_THRESHOLD", w.PriceThreshold)
	w.NewsInterval = envDuration("NEWS_POLL_INTERVAL", w.NewsInterval)
	w.RSSInterval = envDuration("RSS_POLL_INTERVAL", w.RSSInterval)
	w.TimeInterval = envDuration("TIME_POLL_INTERVAL", w.TimeInterval)
	w.MatchMinRatio = envFloat("MATCH_MIN_RATIO", w.MatchMinRatio)
	w.MatchMinOverlap = envInt("MATCH_MIN_OVERLAP", w.MatchMinOverlap)
	w.ScoutThreshold = envFloat("SCOUT_THRESHOLD", w.ScoutThreshold)
	if raw := os.Getenv("NEWS_QUERIES"); raw != "" {
		w.NewsQueries = splitList(raw, ";")
	}

	cfg.Feed.URL = envString("FEED_URL", cfg.Feed.URL)
	cfg.Polymarket.GammaURL = envString("POLYMARKET_GAMMA_URL", cfg.Polymarket.GammaURL)
	cfg.Polymarket.CLOBURL = envString("POLYMARKET_CLOB_URL", cfg.Polymarket.CLOBURL)
	cfg.Polymarket.PageSize = envInt("POLYMARKET_PAGE_SIZE", cfg.Polymarket.PageSize)
	cfg.Polymarket.MinLiquidity = envFloat("POLYMARKET_MIN_LIQUIDITY", cfg.Polymarket.MinLiquidity)

	cfg.LLM.APIKey = envString("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = envString("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = envString("LLM_MODEL", cfg.LLM.Model)

	cfg.Storage.Driver = envString("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = envString("SQLITE_PATH", cfg.Storage.Path)

	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)

	cfg.Kafka.Enabled = envBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.Kafka.Brokers = kafka.ParseBrokers(raw)
	}
	cfg.Kafka.SignalTopic = kafka.TopicFromEnv("KAFKA_SIGNAL_TOPIC", cfg.Kafka.SignalTopic)
	cfg.Kafka.ScoutTopic = kafka.TopicFromEnv("KAFKA_SCOUT_TOPIC", cfg.Kafka.ScoutTopic)

	cfg.Ledger.Enabled = envBool("LEDGER_ENABLED", cfg.Ledger.Enabled)
	cfg.Ledger.Driver = envString("LEDGER_DRIVER", cfg.Ledger.Driver)
	cfg.Ledger.RPCURL = envString("LEDGER_RPC_URL", cfg.Ledger.RPCURL)
	cfg.Ledger.PrivateKey = envString("LEDGER_PRIVATE_KEY", cfg.Ledger.PrivateKey)

	cfg.API.Enabled = envBool("API_ENABLED", cfg.API.Enabled)
	cfg.API.Addr = envString("API_ADDR", cfg.API.Addr)
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func splitList(raw, sep string) []string {
	var out []string
	for _, p := range strings.Split(raw, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
