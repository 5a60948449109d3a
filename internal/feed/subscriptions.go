package feed

import (
	"sort"

	"github.com/gorilla/websocket"
)

// SetInstruments replaces the subscription set with ids. When connected,
// only the difference is sent.
func (c *Client) SetInstruments(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}

	c.mu.Lock()
	var added, removed []string
	for id := range next {
		if _, ok := c.instruments[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range c.instruments {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	c.instruments = next
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	c.forget(removed)
	if connected && conn != nil {
		c.sendDelta(conn, "subscribe", added)
		c.sendDelta(conn, "unsubscribe", removed)
	}
}

// AddInstruments subscribes to ids in addition to the current set.
func (c *Client) AddInstruments(ids ...string) {
	c.mu.Lock()
	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.instruments[id]; !ok {
			c.instruments[id] = struct{}{}
			added = append(added, id)
		}
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if connected && conn != nil {
		c.sendDelta(conn, "subscribe", added)
	}
}

// RemoveInstruments drops ids from the current set.
func (c *Client) RemoveInstruments(ids ...string) {
	c.mu.Lock()
	var removed []string
	for _, id := range ids {
		if _, ok := c.instruments[id]; ok {
			delete(c.instruments, id)
			removed = append(removed, id)
		}
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	c.forget(removed)
	if connected && conn != nil {
		c.sendDelta(conn, "unsubscribe", removed)
	}
}

// Instruments returns the current subscription set, sorted.
func (c *Client) Instruments() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.instruments))
	for id := range c.instruments {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (c *Client) instrumentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}

// subscribeAll sends the full set on a fresh connection. The first frame
// opens the market channel, later frames extend it.
func (c *Client) subscribeAll(conn *websocket.Conn) ([]string, error) {
	ids := c.Instruments()
	if len(ids) == 0 {
		return ids, c.writeJSON(conn, subscriptionFrame{Type: "market", AssetsIDs: []string{}})
	}
	for i, batch := range batches(ids, c.cfg.BatchSize) {
		frame := subscriptionFrame{AssetsIDs: batch}
		if i == 0 {
			frame.Type = "market"
		} else {
			frame.Operation = "subscribe"
		}
		if err := c.writeJSON(conn, frame); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// catchUp sends whatever changed in the set while the initial frames were
// being written.
func (c *Client) catchUp(conn *websocket.Conn, sent []string) {
	had := make(map[string]struct{}, len(sent))
	for _, id := range sent {
		had[id] = struct{}{}
	}
	var added, removed []string
	for _, id := range c.Instruments() {
		if _, ok := had[id]; ok {
			delete(had, id)
			continue
		}
		added = append(added, id)
	}
	for id := range had {
		removed = append(removed, id)
	}
	c.sendDelta(conn, "subscribe", added)
	c.sendDelta(conn, "unsubscribe", removed)
}

func (c *Client) sendDelta(conn *websocket.Conn, op string, ids []string) {
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	for _, batch := range batches(ids, c.cfg.BatchSize) {
		if err := c.writeJSON(conn, subscriptionFrame{Operation: op, AssetsIDs: batch}); err != nil {
			// The full set is resent on the next connection.
			c.log.WithError(err).WithField("operation", op).Warn("subscription update failed")
			return
		}
	}
}

func (c *Client) forget(ids []string) {
	if len(ids) == 0 {
		return
	}
	c.priceMu.Lock()
	for _, id := range ids {
		delete(c.lastPrice, id)
	}
	c.priceMu.Unlock()
}

func batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
