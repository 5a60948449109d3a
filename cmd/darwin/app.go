package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/api"
	"github.com/hetulpatel/darwin/internal/cache"
	"github.com/hetulpatel/darwin/internal/commitment"
	"github.com/hetulpatel/darwin/internal/config"
	"github.com/hetulpatel/darwin/internal/estimator"
	"github.com/hetulpatel/darwin/internal/feed"
	"github.com/hetulpatel/darwin/internal/kafka"
	"github.com/hetulpatel/darwin/internal/ledger"
	"github.com/hetulpatel/darwin/internal/llm"
	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/news"
	"github.com/hetulpatel/darwin/internal/orchestrator"
	"github.com/hetulpatel/darwin/internal/pipeline"
	"github.com/hetulpatel/darwin/internal/polymarket"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/queue"
	"github.com/hetulpatel/darwin/internal/storage/memory"
	"github.com/hetulpatel/darwin/internal/storage/sqlite"
	"github.com/hetulpatel/darwin/internal/watchers"
)

// app is the fully wired process.
type app struct {
	cfg     config.Config
	log     *logrus.Entry
	store   ports.Store
	commits *commitment.Service
	orch    *orchestrator.Orchestrator
	api     *api.Server
	closers []func() error
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logging.With("darwin")}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	markets := polymarket.NewClient(cfg.Polymarket)

	fetcher := news.NewFeedFetcher(cfg.News.Timeout)
	search := news.NewSearch(fetcher, news.SearchConfig{
		BaseURL: cfg.News.SearchURL,
		Lang:    cfg.News.Lang,
		Country: cfg.News.Country,
	})

	llmClient, err := llm.New(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	est, err := estimator.NewService(estimator.Config{
		LLMClient:    llmClient,
		MaxArticles:  cfg.LLM.MaxArticles,
		MaxBodyChars: cfg.LLM.MaxBodyChars,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	led, err := a.openLedger(ctx, cfg.Ledger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.commits = commitment.New(cfg.Ledger.Config, led, store, markets)

	publisher := a.openPublisher(ctx, cfg.Kafka)

	pipe := pipeline.New(cfg.Pipeline, search, est, store, a.commits, publisher)
	live := feed.New(cfg.Feed, markets)

	a.orch = orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Markets:  markets,
		Store:    store,
		Analyzer: pipe,
		Feed:     live,
		Watchers: a.buildWatchers(ctx, cfg, live, search, fetcher, publisher),
	})
	a.api = api.New(store, a.orch, a.commits)
	return a, nil
}

func (a *app) buildWatchers(ctx context.Context, cfg config.Config, live *feed.Client, search ports.NewsSource, fetcher watchers.FeedFetcher, publisher *queue.Publisher) []watchers.Watcher {
	w := cfg.Watchers
	var out []watchers.Watcher
	if w.PriceEnabled {
		out = append(out, watchers.NewPriceWatcher(live, w.PriceThreshold))
	}
	if w.NewsEnabled {
		out = append(out, watchers.NewNewsWatcher(search, a.store, watchers.NewsConfig{
			Interval:   w.NewsInterval,
			Queries:    w.NewsQueries,
			MaxResults: w.NewsMaxResults,
			Matcher:    w.Matcher(),
		}))
	}
	if w.RSSEnabled {
		out = append(out, watchers.NewRSSWatcher(fetcher, a.openScoutCache(ctx, cfg.Redis),
			watchers.Notifiers{watchers.LogNotifier{}, publisher},
			watchers.RSSConfig{
				Interval:       w.RSSInterval,
				Feeds:          w.Feeds,
				BatchSize:      w.RSSBatchSize,
				Concurrency:    w.RSSConcurrency,
				MaxAge:         w.RSSMaxAge,
				SeenCapacity:   w.SeenCapacity,
				Matcher:        w.Matcher(),
				ScoutThreshold: w.ScoutThreshold,
			}))
	}
	if w.TimeEnabled {
		out = append(out, watchers.NewTimeWatcher(w.TimeInterval))
	}
	return out
}

func openStore(cfg config.StorageConfig) (ports.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	default:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		return store, nil
	}
}

func (a *app) openLedger(ctx context.Context, cfg config.LedgerConfig) (ports.Ledger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Driver != "evm" {
		a.log.Warn("ledger driver is memory; commitments are not durable")
		return ledger.NewMemory(), nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	evm, err := ledger.DialEVM(dialCtx, ledger.EVMConfig{
		RPCURL:      cfg.RPCURL,
		PrivateKey:  cfg.PrivateKey,
		WaitTimeout: cfg.WaitTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial ledger: %w", err)
	}
	a.closers = append(a.closers, func() error { evm.Close(); return nil })
	return evm, nil
}

// openPublisher returns a publisher that is a no-op when kafka is off.
func (a *app) openPublisher(ctx context.Context, cfg config.KafkaConfig) *queue.Publisher {
	if !cfg.Enabled {
		return queue.NewPublisher(nil, cfg.SignalTopic, cfg.ScoutTopic)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	if err := kafka.WaitForBroker(waitCtx, cfg.Brokers); err != nil {
		a.log.WithError(err).Warn("kafka broker not reachable; publishing will retry per message")
	}
	cancel()
	ensureCtx, cancelEnsure := context.WithTimeout(ctx, 30*time.Second)
	if err := kafka.EnsureTopics(ensureCtx, cfg.Brokers, cfg.SignalTopic, cfg.ScoutTopic); err != nil {
		a.log.WithError(err).Warn("ensure topics failed")
	}
	cancelEnsure()
	writer := kafka.NewWriter(cfg.Brokers, "")
	a.closers = append(a.closers, writer.Close)
	return queue.NewPublisher(writer, cfg.SignalTopic, cfg.ScoutTopic)
}

// openScoutCache returns the redis seen cache, or nil to fall back to the
// watcher's in-memory set.
func (a *app) openScoutCache(ctx context.Context, cfg config.RedisConfig) cache.SeenCache {
	if cfg.Addr == "" {
		return nil
	}
	c, err := cache.NewRedisSeenCache(cfg.Addr, cfg.Password, cfg.DB, cfg.TTL, cfg.Prefix)
	if err != nil {
		a.log.WithError(err).Warn("redis seen cache unavailable")
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx, c); err != nil {
		a.log.WithError(err).Warn("redis ping failed; using in-memory scout dedupe")
		_ = c.Close()
		return nil
	}
	a.closers = append(a.closers, c.Close)
	return c
}

// run performs the recovery sweep, starts scheduling and the API, and
// blocks until ctx ends.
func (a *app) run(ctx context.Context) error {
	if a.commits.Enabled() {
		if _, err := a.commits.Recover(ctx); err != nil {
			a.log.WithError(err).Warn("commitment recovery sweep failed")
		}
	}

	if err := a.orch.Start(ctx); err != nil {
		return err
	}

	apiErr := make(chan error, 1)
	if a.cfg.API.Enabled {
		go func() { apiErr <- a.api.Serve(ctx, a.cfg.API.Addr) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			runErr = fmt.Errorf("api: %w", err)
		}
	}

	a.log.Info("shutting down")
	a.orch.Stop()
	a.commits.Wait()
	return runErr
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.WithError(err).Warn("close")
	}
}
