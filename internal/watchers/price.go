package watchers

import (
	"context"
	"math"
	"sync"

	"github.com/hetulpatel/darwin/internal/feed"
	"github.com/hetulpatel/darwin/internal/models"
)

// DefaultPriceThreshold is the minimum absolute price move that emits.
const DefaultPriceThreshold = 0.05

// UpdateSource is the part of the live feed the price watcher needs.
type UpdateSource interface {
	Subscribe(h feed.Handler) (unsubscribe func())
}

// PriceWatcher emits price_change candidates from live feed updates.
type PriceWatcher struct {
	*base
	src       UpdateSource
	threshold float64

	stateMu sync.Mutex
	byToken map[string]models.Market
	last    map[string]float64
	unsub   func()
}

// NewPriceWatcher subscribes to src once started. threshold <= 0 uses the
// default.
func NewPriceWatcher(src UpdateSource, threshold float64) *PriceWatcher {
	if threshold <= 0 {
		threshold = DefaultPriceThreshold
	}
	return &PriceWatcher{
		base:      newBase("price"),
		src:       src,
		threshold: threshold,
		byToken:   make(map[string]models.Market),
		last:      make(map[string]float64),
	}
}

func (w *PriceWatcher) SetMarkets(markets []models.Market) {
	w.setMarkets(markets)
	byToken := make(map[string]models.Market, len(markets))
	for _, m := range markets {
		if m.TokenID != "" {
			byToken[m.TokenID] = m
		}
	}
	w.stateMu.Lock()
	w.byToken = byToken
	w.stateMu.Unlock()
}

func (w *PriceWatcher) Start(ctx context.Context, cb Callback) {
	if !w.start(ctx, cb, 0, nil) {
		return
	}
	unsub := w.src.Subscribe(w.OnUpdate)
	w.stateMu.Lock()
	w.unsub = unsub
	w.stateMu.Unlock()
}

func (w *PriceWatcher) Stop() {
	w.stateMu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.stateMu.Unlock()
	if unsub != nil {
		unsub()
	}
	w.stop()
}

// OnUpdate handles one feed update. The first price seen for a market is
// only recorded.
func (w *PriceWatcher) OnUpdate(u feed.Update) {
	if !w.isRunning() || u.Price <= 0 {
		return
	}
	w.stateMu.Lock()
	m, ok := w.byToken[u.AssetID]
	if !ok {
		w.stateMu.Unlock()
		return
	}
	prev, seen := w.last[m.ID]
	w.last[m.ID] = u.Price
	w.stateMu.Unlock()
	w.recordPoll(nil)

	if !seen {
		return
	}
	delta := math.Abs(u.Price - prev)
	if delta < w.threshold {
		return
	}
	m.Probability = u.Price
	w.log.WithFields(map[string]interface{}{
		"market_id": m.ID,
		"from":      prev,
		"to":        u.Price,
	}).Debug("price move")
	w.emit(Candidate{
		Market:   m,
		Reason:   models.ReasonPriceChange,
		Strength: math.Min(1, 0.5*delta/w.threshold),
	})
}
