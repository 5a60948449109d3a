package orchestrator

import (
	"sync"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
)

// Entry is one pending analysis, keyed by market id.
type Entry struct {
	Market     models.Market `json:"market"`
	Priority   float64       `json:"priority"`
	Reason     models.Reason `json:"reason"`
	Source     string        `json:"source"`
	EnqueuedAt time.Time     `json:"enqueued_at"`

	seq uint64
}

// Queue is a bounded priority queue with one entry per market.
type Queue struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	entries map[string]*Entry
}

// NewQueue returns a queue holding at most max entries.
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 100
	}
	return &Queue{max: max, entries: make(map[string]*Entry)}
}

// Push adds e or merges it into the entry already queued for the same
// market, keeping the higher priority and its reason. When the queue is
// full e is admitted only if it outranks the current minimum, which is
// evicted. Push reports whether e was admitted or merged.
func (q *Queue) Push(e Entry) bool {
	id := e.Market.ID
	if id == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if cur, ok := q.entries[id]; ok {
		cur.Market = e.Market
		if e.Priority > cur.Priority {
			cur.Priority = e.Priority
			cur.Reason = e.Reason
			cur.Source = e.Source
		}
		return true
	}

	if len(q.entries) >= q.max {
		lowest := q.minLocked()
		if lowest == nil || e.Priority <= lowest.Priority {
			return false
		}
		delete(q.entries, lowest.Market.ID)
	}

	q.seq++
	e.seq = q.seq
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	q.entries[id] = &e
	return true
}

// Pop removes and returns the highest-priority entry. Ties go to the
// earliest enqueued entry.
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var best *Entry
	for _, e := range q.entries {
		if best == nil || outranks(e, best) {
			best = e
		}
	}
	if best == nil {
		return Entry{}, false
	}
	delete(q.entries, best.Market.ID)
	return *best, true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Cap returns the configured maximum.
func (q *Queue) Cap() int { return q.max }

// Get returns the entry queued for marketID, if any.
func (q *Queue) Get(marketID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[marketID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// minLocked is the entry that would be popped last.
func (q *Queue) minLocked() *Entry {
	var lowest *Entry
	for _, e := range q.entries {
		if lowest == nil || outranks(lowest, e) {
			lowest = e
		}
	}
	return lowest
}

func outranks(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.Market.ID < b.Market.ID
}
