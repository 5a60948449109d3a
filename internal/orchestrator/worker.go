package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/pipeline"
)

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	log := o.log.WithField("worker", id)
	log.Debug("worker started")
	for {
		if ctx.Err() != nil {
			return
		}
		e, ok := o.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.IdleSleep):
			}
			continue
		}
		o.process(ctx, log, e)
	}
}

// process dispatches one entry. Runs are detached from ctx so shutdown
// lets an executing run finish.
func (o *Orchestrator) process(ctx context.Context, log *logrus.Entry, e Entry) {
	id := e.Market.ID
	if o.cooldowns.Active(id) {
		o.counters.skippedCooldown.Add(1)
		return
	}
	recent, err := o.deps.Store.HasRecentSignal(ctx, id, o.cfg.SignalTTL)
	if err != nil {
		log.WithError(err).WithField("market_id", id).Warn("recent signal lookup failed")
	} else if recent {
		o.cooldowns.Set(id, o.cfg.Cooldowns.Signal)
		o.counters.skippedRecent.Add(1)
		return
	}
	if !o.locks.TryAcquire(id) {
		o.counters.skippedLocked.Add(1)
		return
	}
	defer o.locks.Release(id)

	o.active.Add(1)
	defer o.active.Add(-1)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	res := o.deps.Analyzer.Run(runCtx, e.Market)
	o.cooldowns.Set(id, o.cfg.Cooldowns.For(res.Outcome))
	o.counters.processed.Add(1)
	switch res.Outcome {
	case pipeline.OutcomeSignal:
		o.counters.signals.Add(1)
	case pipeline.OutcomeNoNews:
		o.counters.noNews.Add(1)
	case pipeline.OutcomeNoSignal:
		o.counters.noSignal.Add(1)
	default:
		o.counters.errors.Add(1)
	}

	entry := log.WithFields(logrus.Fields{
		"market_id": id,
		"reason":    e.Reason,
		"priority":  e.Priority,
		"outcome":   res.Outcome,
		"took":      time.Since(start).Round(time.Millisecond),
	})
	if res.Outcome == pipeline.OutcomeError {
		entry.Warn(res.Reasoning)
		return
	}
	entry.Info("analysis complete")
}
