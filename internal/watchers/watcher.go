// Package watchers turns external activity (price moves, news, feeds,
// approaching expiry) into scheduling candidates. Watchers never run the
// analysis themselves; they hand candidates to a single callback.
package watchers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/textmatch"
)

// Candidate is a market proposed for analysis.
type Candidate struct {
	Market   models.Market
	Reason   models.Reason
	Strength float64
	Source   string
}

// Callback receives candidates. It must be safe for concurrent use.
type Callback func(Candidate)

// Watcher is the shape shared by every watcher.
type Watcher interface {
	Name() string
	Start(ctx context.Context, cb Callback)
	Stop()
	Status() Status
	SetMarkets(markets []models.Market)
}

// Status is a point-in-time snapshot of a watcher.
type Status struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	LastPoll   time.Time `json:"last_poll,omitempty"`
	Polls      int64     `json:"polls"`
	Candidates int64     `json:"candidates"`
	Errors     int64     `json:"errors"`
	Markets    int       `json:"markets"`
}

// trackedMarket pairs a market with its precomputed token set.
type trackedMarket struct {
	market models.Market
	terms  textmatch.Set
}

// base carries the lifecycle, market set and counters every watcher shares.
type base struct {
	name string
	log  *logrus.Entry

	mu       sync.RWMutex
	running  bool
	cb       Callback
	cancel   context.CancelFunc
	lastPoll time.Time
	markets  []models.Market

	polls      atomic.Int64
	candidates atomic.Int64
	errors     atomic.Int64

	wg sync.WaitGroup
}

func newBase(name string) *base {
	return &base{name: name, log: logging.With("watcher." + name)}
}

func (b *base) Name() string { return b.name }

func (b *base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		Name:       b.name,
		Running:    b.running,
		LastPoll:   b.lastPoll,
		Polls:      b.polls.Load(),
		Candidates: b.candidates.Load(),
		Errors:     b.errors.Load(),
		Markets:    len(b.markets),
	}
}

func (b *base) setMarkets(markets []models.Market) {
	cp := make([]models.Market, len(markets))
	copy(cp, markets)
	b.mu.Lock()
	b.markets = cp
	b.mu.Unlock()
}

func (b *base) snapshot() []models.Market {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.markets
}

func (b *base) isRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// start marks the watcher running and, when poll is non-nil, launches the
// timer loop. It reports false if the watcher was already running.
func (b *base) start(ctx context.Context, cb Callback, interval time.Duration, poll func(context.Context) error) bool {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cb = cb
	b.cancel = cancel
	b.mu.Unlock()

	b.log.WithField("interval", interval).Info("watcher started")
	if poll == nil {
		return true
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		runLoop(ctx, interval, func(ctx context.Context) {
			b.recordPoll(poll(ctx))
		})
	}()
	return true
}

func (b *base) stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()
	cancel()
	b.wg.Wait()
	b.log.Info("watcher stopped")
}

func (b *base) recordPoll(err error) {
	b.polls.Add(1)
	b.mu.Lock()
	b.lastPoll = time.Now().UTC()
	b.mu.Unlock()
	if err != nil && err != context.Canceled {
		b.errors.Add(1)
		b.log.WithError(err).Warn("poll failed")
	}
}

func (b *base) emit(c Candidate) {
	b.mu.RLock()
	cb := b.cb
	running := b.running
	b.mu.RUnlock()
	if !running || cb == nil {
		return
	}
	if c.Source == "" {
		c.Source = b.name
	}
	b.candidates.Add(1)
	cb(c)
}

// runLoop polls once immediately and then on every tick until ctx ends.
func runLoop(ctx context.Context, interval time.Duration, poll func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
