package watchers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hetulpatel/darwin/internal/cache"
	"github.com/hetulpatel/darwin/internal/hashutil"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/textmatch"
)

// Feed is one entry in the RSS registry.
type Feed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DefaultFeeds is a general-news registry.
var DefaultFeeds = []Feed{
	{Name: "reuters-world", URL: "https://feeds.reuters.com/Reuters/worldNews"},
	{Name: "bbc-world", URL: "https://feeds.bbci.co.uk/news/world/rss.xml"},
	{Name: "bbc-business", URL: "https://feeds.bbci.co.uk/news/business/rss.xml"},
	{Name: "npr-politics", URL: "https://feeds.npr.org/1014/rss.xml"},
	{Name: "ap-top", URL: "https://rsshub.app/apnews/topics/apf-topnews"},
	{Name: "cnbc-economy", URL: "https://www.cnbc.com/id/20910258/device/rss/rss.html"},
	{Name: "coindesk", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/"},
	{Name: "espn-top", URL: "https://www.espn.com/espn/rss/news"},
	{Name: "politico", URL: "https://rss.politico.com/politics-news.xml"},
	{Name: "techcrunch", URL: "https://techcrunch.com/feed/"},
}

// FeedFetcher loads and parses one feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, source, feedURL string) ([]models.NewsItem, error)
}

// RSSConfig tunes the RSS watcher.
type RSSConfig struct {
	Interval       time.Duration
	Feeds          []Feed
	BatchSize      int
	Concurrency    int
	MaxAge         time.Duration
	SeenCapacity   int
	Matcher        textmatch.Matcher
	ScoutThreshold float64
}

// RSSWatcher polls a feed registry and matches fresh items against
// normalized market questions, keeping the best match per market.
type RSSWatcher struct {
	*base
	cfg      RSSConfig
	fetcher  FeedFetcher
	seen     *cache.Bounded
	scouts   cache.SeenCache
	notifier ScoutNotifier
	now      func() time.Time

	stateMu sync.Mutex
	tracked []trackedMarket
}

// NewRSSWatcher builds the watcher. scouts dedupes scout alerts across
// polls and may be nil, in which case an in-memory set is used.
func NewRSSWatcher(fetcher FeedFetcher, scouts cache.SeenCache, notifier ScoutNotifier, cfg RSSConfig) *RSSWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Minute
	}
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = DefaultFeeds
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 6 * time.Hour
	}
	if cfg.Matcher.MinRatio <= 0 {
		cfg.Matcher = textmatch.DefaultMatcher()
	}
	if cfg.ScoutThreshold <= 0 {
		cfg.ScoutThreshold = textmatch.DefaultScoutRatio
	}
	if scouts == nil {
		scouts = cache.NewBounded(cfg.SeenCapacity)
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &RSSWatcher{
		base:     newBase("rss"),
		cfg:      cfg,
		fetcher:  fetcher,
		seen:     cache.NewBounded(cfg.SeenCapacity),
		scouts:   scouts,
		notifier: notifier,
		now:      time.Now,
	}
}

func (w *RSSWatcher) SetMarkets(markets []models.Market) {
	w.setMarkets(markets)
	tracked := make([]trackedMarket, 0, len(markets))
	for _, m := range markets {
		terms := textmatch.NewSet(textmatch.NormalizeQuestion(m.Question))
		if len(terms) == 0 {
			continue
		}
		tracked = append(tracked, trackedMarket{market: m, terms: terms})
	}
	w.stateMu.Lock()
	w.tracked = tracked
	w.stateMu.Unlock()
}

func (w *RSSWatcher) Start(ctx context.Context, cb Callback) {
	w.start(ctx, cb, w.cfg.Interval, w.Poll)
}

func (w *RSSWatcher) Stop() { w.stop() }

type rssMatch struct {
	market models.Market
	item   models.NewsItem
	ratio  float64
}

// Poll fetches every feed once, batch by batch.
func (w *RSSWatcher) Poll(ctx context.Context) error {
	items, failed := w.fetchAll(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.stateMu.Lock()
	tracked := w.tracked
	w.stateMu.Unlock()

	now := w.now()
	best := make(map[string]rssMatch)
	fresh := 0
	for _, item := range items {
		if !item.PublishedAt.IsZero() && now.Sub(item.PublishedAt) > w.cfg.MaxAge {
			continue
		}
		if !w.seen.Add(itemKey(item)) {
			continue
		}
		fresh++
		tokens := textmatch.Tokenize(item.Title + " " + item.Body)
		for _, tm := range tracked {
			ratio, ok := w.cfg.Matcher.Match(tokens, tm.terms)
			if !ok {
				continue
			}
			if cur, exists := best[tm.market.ID]; !exists || ratio > cur.ratio {
				best[tm.market.ID] = rssMatch{market: tm.market, item: item, ratio: ratio}
			}
		}
	}

	for _, m := range best {
		w.emit(Candidate{Market: m.market, Reason: models.ReasonNewsMatch, Strength: m.ratio, Source: "rss:" + m.item.Source})
		if m.ratio >= w.cfg.ScoutThreshold {
			w.scout(ctx, m, now)
		}
	}

	w.log.WithFields(map[string]interface{}{
		"items":   len(items),
		"new":     fresh,
		"matches": len(best),
		"failed":  failed,
	}).Debug("rss poll")
	if failed == len(w.cfg.Feeds) && failed > 0 {
		return fmt.Errorf("all %d feeds failed", failed)
	}
	return nil
}

func (w *RSSWatcher) fetchAll(ctx context.Context) ([]models.NewsItem, int) {
	var (
		mu     sync.Mutex
		items  []models.NewsItem
		failed int
	)
	for start := 0; start < len(w.cfg.Feeds); start += w.cfg.BatchSize {
		end := start + w.cfg.BatchSize
		if end > len(w.cfg.Feeds) {
			end = len(w.cfg.Feeds)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.Concurrency)
		for _, f := range w.cfg.Feeds[start:end] {
			g.Go(func() error {
				got, err := w.fetcher.Fetch(gctx, f.Name, f.URL)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					w.log.WithError(err).WithField("feed", f.Name).Debug("feed fetch failed")
					return nil
				}
				items = append(items, got...)
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	return items, failed
}

func (w *RSSWatcher) scout(ctx context.Context, m rssMatch, now time.Time) {
	key := "scout:" + itemKey(m.item)
	fresh, err := w.scouts.MarkIfAbsent(ctx, key)
	if err != nil {
		w.log.WithError(err).Warn("scout dedupe failed")
		return
	}
	if !fresh {
		return
	}
	alert := models.ScoutAlert{
		MarketID:    m.market.ID,
		Question:    m.market.Question,
		Title:       m.item.Title,
		URL:         m.item.URL,
		Source:      m.item.Source,
		Overlap:     m.ratio,
		PublishedAt: m.item.PublishedAt,
		DetectedAt:  now.UTC(),
	}
	if err := w.notifier.Notify(ctx, alert); err != nil {
		w.log.WithError(err).WithField("market_id", alert.MarketID).Warn("scout notify failed")
	}
}

// itemKey is the dedupe key for a feed item: its normalized URL, or a hash
// of its title key when it has no usable URL.
func itemKey(item models.NewsItem) string {
	if u := NormalizeURL(item.URL); u != "" {
		return u
	}
	return "title:" + hashutil.HashStrings(textmatch.TitleKey(item.Title))
}

// NormalizeURL lower-cases scheme and host, drops query and fragment, and
// trims a trailing slash.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return strings.TrimSuffix(u.String(), "/")
}
