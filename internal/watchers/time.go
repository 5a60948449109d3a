package watchers

import (
	"context"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
)

// Urgency bands for the time watcher.
const (
	CriticalWindow   = 24 * time.Hour
	HighWindow       = 7 * 24 * time.Hour
	CriticalStrength = 1.0
	HighStrength     = 0.6
)

// TimeWatcher emits near_expiry candidates for markets close to resolution.
type TimeWatcher struct {
	*base
	interval time.Duration
	now      func() time.Time
}

func NewTimeWatcher(interval time.Duration) *TimeWatcher {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &TimeWatcher{base: newBase("time"), interval: interval, now: time.Now}
}

func (w *TimeWatcher) SetMarkets(markets []models.Market) { w.setMarkets(markets) }

func (w *TimeWatcher) Start(ctx context.Context, cb Callback) {
	w.start(ctx, cb, w.interval, w.Poll)
}

func (w *TimeWatcher) Stop() { w.stop() }

// Poll scans every tracked market once.
func (w *TimeWatcher) Poll(ctx context.Context) error {
	now := w.now()
	for _, m := range w.snapshot() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.EndDate.IsZero() {
			continue
		}
		left := m.EndDate.Sub(now)
		if left <= 0 {
			continue
		}
		switch {
		case left < CriticalWindow:
			w.emit(Candidate{Market: m, Reason: models.ReasonNearExpiry, Strength: CriticalStrength, Source: "time:critical"})
		case left < HighWindow:
			w.emit(Candidate{Market: m, Reason: models.ReasonNearExpiry, Strength: HighStrength, Source: "time:high"})
		}
	}
	return nil
}
