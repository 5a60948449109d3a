package feed

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// FallbackActive reports whether REST polling is running.
func (c *Client) FallbackActive() bool {
	c.fallbackMu.Lock()
	defer c.fallbackMu.Unlock()
	return c.fallbackCancel != nil
}

// armFallback schedules polling to start if the socket stays down for
// FallbackAfter. It is a no-op while a timer is pending or polling runs.
func (c *Client) armFallback() {
	if c.prices == nil {
		return
	}
	c.fallbackMu.Lock()
	defer c.fallbackMu.Unlock()
	if c.fallbackTimer != nil || c.fallbackCancel != nil {
		return
	}
	c.fallbackTimer = time.AfterFunc(c.cfg.FallbackAfter, c.startFallback)
}

func (c *Client) startFallback() {
	c.fallbackMu.Lock()
	defer c.fallbackMu.Unlock()
	c.fallbackTimer = nil
	if c.ctx.Err() != nil || c.fallbackCancel != nil || c.IsConnected() {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.fallbackCancel = cancel
	c.wg.Add(1)
	go c.poll(ctx)
}

func (c *Client) stopFallback() {
	c.fallbackMu.Lock()
	defer c.fallbackMu.Unlock()
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
	if c.fallbackCancel != nil {
		c.fallbackCancel()
		c.fallbackCancel = nil
		c.log.Info("fallback polling stopped")
	}
}

func (c *Client) poll(ctx context.Context) {
	defer c.wg.Done()
	c.log.WithField("interval", c.cfg.FallbackInterval).Info("fallback polling started")

	ticker := time.NewTicker(c.cfg.FallbackInterval)
	defer ticker.Stop()
	for {
		c.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce fetches every subscribed instrument and emits a synthetic
// price_change for each one that moved.
func (c *Client) pollOnce(ctx context.Context) {
	ids := c.Instruments()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FallbackConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			p, err := c.prices.FetchPrice(gctx, id)
			if err != nil {
				if gctx.Err() == nil {
					c.log.WithError(err).WithField("asset_id", id).Debug("fallback price fetch failed")
				}
				return nil
			}
			if c.recordPrice(id, p) {
				c.emit(Update{
					Type:      UpdatePriceChange,
					AssetID:   id,
					Price:     p,
					Timestamp: time.Now().UTC(),
					Synthetic: true,
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}
