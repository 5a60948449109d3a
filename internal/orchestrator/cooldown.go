package orchestrator

import (
	"sync"
	"time"
)

type cooldown struct {
	at  time.Time
	dur time.Duration
}

// Cooldowns suppresses dispatch of a market for a window after an outcome.
type Cooldowns struct {
	mu      sync.Mutex
	entries map[string]cooldown
	now     func() time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{entries: make(map[string]cooldown), now: time.Now}
}

// Set starts a cooldown of d for id. d <= 0 clears it.
func (c *Cooldowns) Set(id string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		delete(c.entries, id)
		return
	}
	c.entries[id] = cooldown{at: c.now(), dur: d}
}

// Active reports whether id is still cooling down.
func (c *Cooldowns) Active(id string) bool {
	return c.Remaining(id) > 0
}

// Remaining returns how long id stays suppressed.
func (c *Cooldowns) Remaining(id string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return 0
	}
	left := e.dur - c.now().Sub(e.at)
	if left <= 0 {
		delete(c.entries, id)
		return 0
	}
	return left
}

// Len prunes expired entries and returns how many remain.
func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.at) >= e.dur {
			delete(c.entries, id)
		}
	}
	return len(c.entries)
}
