package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/feed"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/pipeline"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/storage/memory"
	"github.com/hetulpatel/darwin/internal/watchers"
)

func entry(id string, prio float64) Entry {
	return Entry{Market: models.Market{ID: id}, Priority: prio, Reason: models.ReasonNewsMatch}
}

func TestQueueBoundAndEviction(t *testing.T) {
	q := NewQueue(2)
	require.True(t, q.Push(entry("a", 1)))
	require.True(t, q.Push(entry("b", 2)))

	assert.False(t, q.Push(entry("c", 0.5)), "lower than the minimum is a no-op")
	assert.False(t, q.Push(entry("c", 1)), "equal to the minimum is a no-op")
	assert.Equal(t, 2, q.Len())
	_, ok := q.Get("c")
	assert.False(t, ok)

	assert.True(t, q.Push(entry("d", 3)))
	assert.Equal(t, 2, q.Len())
	_, ok = q.Get("a")
	assert.False(t, ok, "minimum evicted")

	e, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "d", e.Market.ID)
	e, _ = q.Pop()
	assert.Equal(t, "b", e.Market.ID)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueMergeKeepsHigherPriority(t *testing.T) {
	q := NewQueue(10)
	q.Push(Entry{Market: models.Market{ID: "m", Probability: 0.4}, Priority: 2, Reason: models.ReasonPriceChange})
	q.Push(Entry{Market: models.Market{ID: "m", Probability: 0.5}, Priority: 1, Reason: models.ReasonNearExpiry})
	e, ok := q.Get("m")
	require.True(t, ok)
	assert.Equal(t, 2.0, e.Priority)
	assert.Equal(t, models.ReasonPriceChange, e.Reason)
	assert.Equal(t, 0.5, e.Market.Probability, "snapshot refreshed")

	q.Push(Entry{Market: models.Market{ID: "m"}, Priority: 5, Reason: models.ReasonManual})
	e, _ = q.Get("m")
	assert.Equal(t, 5.0, e.Priority)
	assert.Equal(t, models.ReasonManual, e.Reason)
	assert.Equal(t, 1, q.Len())
}

func TestQueueTiesPopEarliest(t *testing.T) {
	q := NewQueue(10)
	q.Push(entry("z", 1))
	q.Push(entry("a", 1))
	q.Push(entry("m", 1))
	var order []string
	for {
		e, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, e.Market.ID)
	}
	assert.Equal(t, []string{"z", "a", "m"}, order)
}

func TestPriority(t *testing.T) {
	assert.InDelta(t, 5.0, Priority(1, 100000, 0), 1e-9)
	assert.InDelta(t, 2.5, Priority(1, 100000, 7), 1e-9)
	assert.InDelta(t, 0.0, Priority(1, 0, 0), 1e-9)
	assert.InDelta(t, 5.0, Priority(1, 100000, -3), 1e-9)
	assert.Greater(t, Priority(1, 1000, 1), Priority(0.5, 1000, 1))
}

func TestCooldowns(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldowns()
	c.now = func() time.Time { return now }
	c.Set("a", time.Hour)
	c.Set("b", 0)
	assert.True(t, c.Active("a"))
	assert.False(t, c.Active("b"))
	assert.Equal(t, 1, c.Len())
	now = now.Add(2 * time.Hour)
	assert.False(t, c.Active("a"))
	assert.Equal(t, 0, c.Len())
}

type fakeAnalyzer struct {
	outcome  pipeline.Outcome
	delay    time.Duration
	calls    atomic.Int64
	inFlight sync.Map // market id -> *atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeAnalyzer) Run(_ context.Context, m models.Market) pipeline.Result {
	f.calls.Add(1)
	v, _ := f.inFlight.LoadOrStore(m.ID, new(atomic.Int64))
	n := v.(*atomic.Int64).Add(1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(f.delay)
	v.(*atomic.Int64).Add(-1)
	return pipeline.Result{Outcome: f.outcome}
}

type pagedSource struct {
	pages [][]models.Market
	byID  map[string]models.Market
}

func (s *pagedSource) FetchMarkets(_ context.Context, page int) ([]models.Market, error) {
	if page >= len(s.pages) {
		return nil, nil
	}
	return s.pages[page], nil
}

func (s *pagedSource) FetchMarketByID(_ context.Context, id string) (models.Market, error) {
	m, ok := s.byID[id]
	if !ok {
		return models.Market{}, ports.ErrNotFound
	}
	return m, nil
}

type fakeFeed struct {
	mu          sync.Mutex
	instruments []string
	started     bool
	stopped     bool
}

func (f *fakeFeed) SetInstruments(ids []string) {
	f.mu.Lock()
	f.instruments = ids
	f.mu.Unlock()
}
func (f *fakeFeed) Start(context.Context) { f.mu.Lock(); f.started = true; f.mu.Unlock() }
func (f *fakeFeed) Stop()                 { f.mu.Lock(); f.stopped = true; f.mu.Unlock() }
func (f *fakeFeed) Status() feed.Status   { return feed.Status{State: feed.StateConnected} }

type fakeWatcher struct {
	mu      sync.Mutex
	markets []models.Market
	cb      watchers.Callback
}

func (w *fakeWatcher) Name() string { return "fake" }
func (w *fakeWatcher) Start(_ context.Context, cb watchers.Callback) {
	w.mu.Lock()
	w.cb = cb
	w.mu.Unlock()
}
func (w *fakeWatcher) Stop() {}
func (w *fakeWatcher) Status() watchers.Status {
	return watchers.Status{Name: "fake", Running: true}
}
func (w *fakeWatcher) SetMarkets(ms []models.Market) {
	w.mu.Lock()
	w.markets = ms
	w.mu.Unlock()
}
func (w *fakeWatcher) fire(c watchers.Candidate) {
	w.mu.Lock()
	cb := w.cb
	w.mu.Unlock()
	cb(c)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.IdleSleep = 5 * time.Millisecond
	cfg.Cooldowns = CooldownConfig{}
	return cfg
}

func market(id string) models.Market {
	return models.Market{ID: id, Question: "Q " + id, TokenID: "tok-" + id, Liquidity: 10000, EndDate: time.Now().Add(72 * time.Hour)}
}

func TestAtMostOneRunPerMarket(t *testing.T) {
	an := &fakeAnalyzer{outcome: pipeline.OutcomeNoSignal, delay: 10 * time.Millisecond}
	o := New(testConfig(), Deps{Markets: &pagedSource{}, Store: memory.New(), Analyzer: an})
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	m := market("hot")
	var wg sync.WaitGroup
	deadline := time.Now().Add(200 * time.Millisecond)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				o.Enqueue(watchers.Candidate{Market: m, Reason: models.ReasonPriceChange, Strength: 1})
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return o.Status().ActiveWorkers == 0 && o.queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, an.calls.Load(), int64(1))
	assert.Equal(t, int64(1), an.maxSeen.Load(), "never more than one run in flight for a market")
	assert.Equal(t, 0, o.Status().LocksHeld)
}

func TestCooldownSuppressesDispatch(t *testing.T) {
	an := &fakeAnalyzer{outcome: pipeline.OutcomeSignal}
	o := New(testConfig(), Deps{Markets: &pagedSource{}, Store: memory.New(), Analyzer: an})
	o.cooldowns.Set("cool", time.Hour)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	o.Enqueue(watchers.Candidate{Market: market("cool"), Reason: models.ReasonManual, Strength: 1})
	require.Eventually(t, func() bool { return o.Status().Counters.SkippedCooldown == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, an.calls.Load())

	o.Enqueue(watchers.Candidate{Market: market("cool"), Reason: models.ReasonManual, Strength: 100})
	require.Eventually(t, func() bool { return o.Status().Counters.SkippedCooldown == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, an.calls.Load())
}

func TestOutcomeCooldownAndRecentSignal(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldowns = CooldownConfig{Signal: time.Hour, NoNews: 2 * time.Hour, NoSignal: 3 * time.Hour, Error: 4 * time.Hour}
	store := memory.New()
	require.NoError(t, store.SaveSignal(context.Background(), models.Signal{
		ID: "s1", MarketID: "fresh", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	an := &fakeAnalyzer{outcome: pipeline.OutcomeNoNews}
	o := New(cfg, Deps{Markets: &pagedSource{}, Store: store, Analyzer: an})
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	o.Enqueue(watchers.Candidate{Market: market("fresh"), Strength: 1})
	require.Eventually(t, func() bool { return o.Status().Counters.SkippedRecent == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, an.calls.Load())
	assert.InDelta(t, time.Hour.Seconds(), o.cooldowns.Remaining("fresh").Seconds(), 5)

	o.Enqueue(watchers.Candidate{Market: market("quiet"), Strength: 1})
	require.Eventually(t, func() bool { return o.Status().Counters.NoNews == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, (2 * time.Hour).Seconds(), o.cooldowns.Remaining("quiet").Seconds(), 5)
}

func TestStartSyncsAndSeeds(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SaveSignal(context.Background(), models.Signal{
		ID: "old", MarketID: "x", CreatedAt: time.Now().Add(-48 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour),
	}))
	src := &pagedSource{
		pages: [][]models.Market{{market("a"), market("b")}, {}, {market("c"), market("a")}},
		byID:  map[string]models.Market{"d": market("d")},
	}
	fd := &fakeFeed{}
	w := &fakeWatcher{}
	an := &fakeAnalyzer{outcome: pipeline.OutcomeSignal}
	o := New(testConfig(), Deps{Markets: src, Store: store, Analyzer: an, Feed: fd, Watchers: []watchers.Watcher{w}})
	require.NoError(t, o.Start(context.Background()))

	_, err := store.GetSignal(context.Background(), "old")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	stored, err := store.ListMarkets(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Len(t, w.markets, 3)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b", "tok-c"}, fd.instruments)
	assert.True(t, fd.started)
	assert.Len(t, o.Markets(), 3)

	w.fire(watchers.Candidate{Market: market("b"), Reason: models.ReasonNewsMatch, Strength: 0.5})
	require.Eventually(t, func() bool { return an.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	e, err := o.EnqueueManual(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonManual, e.Reason)
	_, err = o.EnqueueManual(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	st := o.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.Feed)
	assert.Len(t, st.Watchers, 1)

	o.Stop()
	assert.True(t, fd.stopped)
	assert.False(t, o.Status().Running)
}

func TestQueueFullDropsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	o := New(cfg, Deps{Markets: &pagedSource{}, Store: memory.New(), Analyzer: &fakeAnalyzer{}})
	for i := 0; i < 3; i++ {
		o.Enqueue(watchers.Candidate{Market: models.Market{ID: fmt.Sprint(i), Liquidity: 1000}, Strength: 1})
	}
	assert.Equal(t, 1, o.queue.Len())
	assert.Equal(t, int64(2), o.Status().Counters.Dropped)
}
