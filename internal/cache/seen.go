package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenCache remembers keys (article URLs, title hashes) that were already
// handled.
type SeenCache interface {
	// MarkIfAbsent records key and reports whether it was new.
	MarkIfAbsent(ctx context.Context, key string) (bool, error)
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

type redisSeenCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSeenCache returns a SeenCache whose entries expire after ttl.
func NewRedisSeenCache(addr, password string, db int, ttl time.Duration, prefix string) (SeenCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if prefix == "" {
		prefix = "darwin_seen"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisSeenCache{client: client, ttl: ttl, prefix: prefix}, nil
}

// Ping checks connectivity.
func Ping(ctx context.Context, c SeenCache) error {
	rc, ok := c.(*redisSeenCache)
	if !ok || rc == nil || rc.client == nil {
		return nil
	}
	return rc.client.Ping(ctx).Err()
}

func (c *redisSeenCache) key(k string) string {
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

func (c *redisSeenCache) MarkIfAbsent(ctx context.Context, key string) (bool, error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	return c.client.SetNX(ctx, c.key(key), "1", c.ttl).Result()
}

func (c *redisSeenCache) Seen(ctx context.Context, key string) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *redisSeenCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Bounded is an in-memory SeenCache holding at most max keys; the oldest
// key is evicted first.
type Bounded struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
}

// NewBounded returns a Bounded cache with capacity max (default 10000).
func NewBounded(max int) *Bounded {
	if max <= 0 {
		max = 10000
	}
	return &Bounded{max: max, order: list.New(), items: make(map[string]*list.Element)}
}

func (b *Bounded) MarkIfAbsent(_ context.Context, key string) (bool, error) {
	return b.Add(key), nil
}

func (b *Bounded) Seen(_ context.Context, key string) (bool, error) {
	return b.Contains(key), nil
}

func (b *Bounded) Close() error { return nil }

// Add inserts key and reports whether it was new.
func (b *Bounded) Add(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[key]; ok {
		return false
	}
	b.items[key] = b.order.PushBack(key)
	for b.order.Len() > b.max {
		oldest := b.order.Front()
		b.order.Remove(oldest)
		delete(b.items, oldest.Value.(string))
	}
	return true
}

// Contains reports whether key is present.
func (b *Bounded) Contains(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.items[key]
	return ok
}

// Len returns the number of keys held.
func (b *Bounded) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}
