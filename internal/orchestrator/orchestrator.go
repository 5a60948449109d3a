// Package orchestrator schedules markets for analysis. Watchers feed it
// candidates; a fixed worker pool drains a bounded priority queue under
// per-market locks and outcome cooldowns.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/feed"
	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/pipeline"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/watchers"
)

// CooldownConfig holds one suppression window per run outcome.
type CooldownConfig struct {
	Signal   time.Duration `yaml:"signal"`
	NoNews   time.Duration `yaml:"no_news"`
	NoSignal time.Duration `yaml:"no_signal"`
	Error    time.Duration `yaml:"error"`
}

// For returns the window for outcome o.
func (c CooldownConfig) For(o pipeline.Outcome) time.Duration {
	switch o {
	case pipeline.OutcomeSignal:
		return c.Signal
	case pipeline.OutcomeNoNews:
		return c.NoNews
	case pipeline.OutcomeNoSignal:
		return c.NoSignal
	default:
		return c.Error
	}
}

// Config tunes the orchestrator.
type Config struct {
	Workers      int            `yaml:"workers"`
	QueueSize    int            `yaml:"queue_size"`
	IdleSleep    time.Duration  `yaml:"idle_sleep"`
	SyncInterval time.Duration  `yaml:"sync_interval"`
	MaxSyncPages int            `yaml:"max_sync_pages"`
	RunTimeout   time.Duration  `yaml:"run_timeout"`
	SignalTTL    time.Duration  `yaml:"signal_ttl"`
	Cooldowns    CooldownConfig `yaml:"cooldowns"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Workers:      3,
		QueueSize:    100,
		IdleSleep:    250 * time.Millisecond,
		SyncInterval: 30 * time.Minute,
		MaxSyncPages: 20,
		RunTimeout:   5 * time.Minute,
		SignalTTL:    24 * time.Hour,
		Cooldowns: CooldownConfig{
			Signal:   6 * time.Hour,
			NoNews:   30 * time.Minute,
			NoSignal: 2 * time.Hour,
			Error:    10 * time.Minute,
		},
	}
}

// Analyzer runs the analysis for one market.
type Analyzer interface {
	Run(ctx context.Context, m models.Market) pipeline.Result
}

// InstrumentFeed is the live feed as seen by the orchestrator.
type InstrumentFeed interface {
	SetInstruments(ids []string)
	Start(ctx context.Context)
	Stop()
	Status() feed.Status
}

// Deps are the collaborators. Feed and Watchers may be empty.
type Deps struct {
	Markets  ports.MarketSource
	Store    ports.Store
	Analyzer Analyzer
	Feed     InstrumentFeed
	Watchers []watchers.Watcher
}

// Counters are cumulative worker statistics.
type Counters struct {
	Enqueued        int64 `json:"enqueued"`
	Dropped         int64 `json:"dropped"`
	Processed       int64 `json:"processed"`
	Signals         int64 `json:"signals"`
	NoNews          int64 `json:"no_news"`
	NoSignal        int64 `json:"no_signal"`
	Errors          int64 `json:"errors"`
	SkippedCooldown int64 `json:"skipped_cooldown"`
	SkippedRecent   int64 `json:"skipped_recent"`
	SkippedLocked   int64 `json:"skipped_locked"`
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running       bool              `json:"running"`
	QueueSize     int               `json:"queue_size"`
	QueueCapacity int               `json:"queue_capacity"`
	Workers       int               `json:"workers"`
	ActiveWorkers int64             `json:"active_workers"`
	LocksHeld     int               `json:"locks_held"`
	Cooldowns     int               `json:"cooldowns"`
	Markets       int               `json:"markets"`
	LastSync      time.Time         `json:"last_sync,omitempty"`
	Counters      Counters          `json:"counters"`
	Watchers      []watchers.Status `json:"watchers"`
	Feed          *feed.Status      `json:"feed,omitempty"`
}

// Orchestrator owns the queue, workers, locks and cooldowns.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry

	queue     *Queue
	cooldowns *Cooldowns
	locks     *Locks

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	markets  map[string]models.Market
	lastSync time.Time

	active   atomic.Int64
	counters struct {
		enqueued, dropped, processed, signals, noNews, noSignal, errors atomic.Int64
		skippedCooldown, skippedRecent, skippedLocked                   atomic.Int64
	}

	now func() time.Time
	wg  sync.WaitGroup
}

// New builds an Orchestrator. Zero config fields take defaults.
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = def.IdleSleep
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = def.SignalTTL
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		log:       logging.With("orchestrator"),
		queue:     NewQueue(cfg.QueueSize),
		cooldowns: NewCooldowns(),
		locks:     NewLocks(),
		markets:   make(map[string]models.Market),
		now:       time.Now,
	}
}

// Start prunes expired signals, syncs markets, seeds the watchers and the
// feed, then launches watchers, workers and the periodic sync. It returns
// once everything is running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.mu.Unlock()

	if n, err := o.deps.Store.PruneExpired(ctx, o.now().UTC()); err != nil {
		o.log.WithError(err).Warn("prune expired signals failed")
	} else if n > 0 {
		o.log.WithField("pruned", n).Info("pruned expired signals")
	}

	markets, err := o.Sync(ctx)
	if err != nil {
		o.log.WithError(err).Warn("initial market sync failed; using stored markets")
		markets, err = o.deps.Store.ListMarkets(ctx, 0)
		if err != nil {
			o.log.WithError(err).Error("load stored markets failed")
		}
		o.remember(markets)
	}
	o.seed(markets)

	if o.deps.Feed != nil {
		o.deps.Feed.Start(ctx)
	}
	for _, w := range o.deps.Watchers {
		w.Start(ctx, o.Enqueue)
	}
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
	o.wg.Add(1)
	go o.syncLoop(ctx)

	o.log.WithFields(logrus.Fields{
		"markets":  len(markets),
		"workers":  o.cfg.Workers,
		"watchers": len(o.deps.Watchers),
	}).Info("orchestrator started")
	return nil
}

// Stop cancels every loop and waits for in-flight runs to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	for _, w := range o.deps.Watchers {
		w.Stop()
	}
	if o.deps.Feed != nil {
		o.deps.Feed.Stop()
	}
	o.wg.Wait()
	o.log.Info("orchestrator stopped")
}

// Sync pages through the market source, upserts the result and replaces the
// known market set.
func (o *Orchestrator) Sync(ctx context.Context) ([]models.Market, error) {
	var all []models.Market
	seen := make(map[string]struct{})
	for page := 0; o.cfg.MaxSyncPages <= 0 || page < o.cfg.MaxSyncPages; page++ {
		batch, err := o.deps.Markets.FetchMarkets(ctx, page)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("fetch markets: %w", err)
			}
			o.log.WithError(err).WithField("page", page).Warn("market page failed; keeping earlier pages")
			break
		}
		if batch == nil {
			break
		}
		for _, m := range batch {
			if _, dup := seen[m.ID]; dup || m.ID == "" {
				continue
			}
			seen[m.ID] = struct{}{}
			all = append(all, m)
		}
	}

	if err := o.deps.Store.BulkUpsertMarkets(ctx, all); err != nil {
		o.log.WithError(err).Error("persist markets failed")
	}
	o.remember(all)
	o.mu.Lock()
	o.lastSync = o.now().UTC()
	o.mu.Unlock()
	o.log.WithField("markets", len(all)).Info("market sync complete")
	return all, nil
}

func (o *Orchestrator) syncLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			markets, err := o.Sync(ctx)
			if err != nil {
				if ctx.Err() == nil {
					o.log.WithError(err).Warn("periodic market sync failed")
				}
				continue
			}
			o.seed(markets)
		}
	}
}

func (o *Orchestrator) remember(markets []models.Market) {
	next := make(map[string]models.Market, len(markets))
	for _, m := range markets {
		next[m.ID] = m
	}
	o.mu.Lock()
	o.markets = next
	o.mu.Unlock()
}

// seed hands the market set to every watcher and the feed's instrument set.
func (o *Orchestrator) seed(markets []models.Market) {
	for _, w := range o.deps.Watchers {
		w.SetMarkets(markets)
	}
	if o.deps.Feed != nil {
		ids := make([]string, 0, len(markets))
		for _, m := range markets {
			if m.TokenID != "" {
				ids = append(ids, m.TokenID)
			}
		}
		o.deps.Feed.SetInstruments(ids)
	}
}

// Markets returns the known market set.
func (o *Orchestrator) Markets() []models.Market {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.Market, 0, len(o.markets))
	for _, m := range o.markets {
		out = append(out, m)
	}
	return out
}

// Enqueue scores a watcher candidate and offers it to the queue. It is the
// callback handed to every watcher.
func (o *Orchestrator) Enqueue(c watchers.Candidate) {
	o.enqueue(c)
}

func (o *Orchestrator) enqueue(c watchers.Candidate) (Entry, bool) {
	m := c.Market
	e := Entry{
		Market:     m,
		Priority:   Priority(c.Strength, m.Liquidity, m.DaysToExpiry(o.now())),
		Reason:     c.Reason,
		Source:     c.Source,
		EnqueuedAt: o.now().UTC(),
	}
	if !o.queue.Push(e) {
		o.counters.dropped.Add(1)
		return e, false
	}
	o.counters.enqueued.Add(1)
	o.log.WithFields(logrus.Fields{
		"market_id": m.ID,
		"reason":    c.Reason,
		"source":    c.Source,
		"priority":  e.Priority,
	}).Debug("candidate enqueued")
	return e, true
}

// EnqueueManual fetches a market by id and queues it at full strength.
func (o *Orchestrator) EnqueueManual(ctx context.Context, marketID string) (Entry, error) {
	m, err := o.deps.Markets.FetchMarketByID(ctx, marketID)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch market %s: %w", marketID, err)
	}
	if err := o.deps.Store.SaveMarket(ctx, m); err != nil {
		o.log.WithError(err).WithField("market_id", m.ID).Warn("save market failed")
	}
	o.mu.Lock()
	o.markets[m.ID] = m
	o.mu.Unlock()

	e, ok := o.enqueue(watchers.Candidate{Market: m, Reason: models.ReasonManual, Strength: 1, Source: "manual"})
	if !ok {
		return Entry{}, fmt.Errorf("market %s not admitted: queue full of higher-priority work", m.ID)
	}
	return e, nil
}

// Status returns a snapshot for health reporting.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	st := Status{
		Running:       o.running,
		Markets:       len(o.markets),
		LastSync:      o.lastSync,
		Workers:       o.cfg.Workers,
		QueueCapacity: o.queue.Cap(),
	}
	o.mu.RUnlock()
	st.QueueSize = o.queue.Len()
	st.ActiveWorkers = o.active.Load()
	st.LocksHeld = o.locks.Held()
	st.Cooldowns = o.cooldowns.Len()
	st.Counters = Counters{
		Enqueued:        o.counters.enqueued.Load(),
		Dropped:         o.counters.dropped.Load(),
		Processed:       o.counters.processed.Load(),
		Signals:         o.counters.signals.Load(),
		NoNews:          o.counters.noNews.Load(),
		NoSignal:        o.counters.noSignal.Load(),
		Errors:          o.counters.errors.Load(),
		SkippedCooldown: o.counters.skippedCooldown.Load(),
		SkippedRecent:   o.counters.skippedRecent.Load(),
		SkippedLocked:   o.counters.skippedLocked.Load(),
	}
	for _, w := range o.deps.Watchers {
		st.Watchers = append(st.Watchers, w.Status())
	}
	if o.deps.Feed != nil {
		fs := o.deps.Feed.Status()
		st.Feed = &fs
	}
	return st
}
