package watchers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/textmatch"
)

// DefaultNewsQueries is the rotation used when none is configured.
var DefaultNewsQueries = []string{
	"election polls",
	"federal reserve interest rates",
	"supreme court ruling",
	"bitcoin price",
	"inflation report",
	"congress vote",
	"geopolitics ceasefire",
	"box office opening weekend",
	"championship odds",
	"tech earnings",
}

// NewsConfig tunes the news watcher.
type NewsConfig struct {
	Interval   time.Duration
	Queries    []string
	MaxResults int
	Matcher    textmatch.Matcher
}

// NewsWatcher searches one rotating query per poll and matches new
// articles against every tracked market question.
type NewsWatcher struct {
	*base
	cfg      NewsConfig
	src      ports.NewsSource
	articles ports.ArticleStore

	stateMu sync.Mutex
	next    int
	tracked []trackedMarket
}

func NewNewsWatcher(src ports.NewsSource, articles ports.ArticleStore, cfg NewsConfig) *NewsWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = DefaultNewsQueries
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if cfg.Matcher.MinRatio <= 0 {
		cfg.Matcher = textmatch.DefaultMatcher()
	}
	return &NewsWatcher{base: newBase("news"), cfg: cfg, src: src, articles: articles}
}

func (w *NewsWatcher) SetMarkets(markets []models.Market) {
	w.setMarkets(markets)
	tracked := make([]trackedMarket, 0, len(markets))
	for _, m := range markets {
		terms := textmatch.NewSet(m.Question)
		if len(terms) == 0 {
			continue
		}
		tracked = append(tracked, trackedMarket{market: m, terms: terms})
	}
	w.stateMu.Lock()
	w.tracked = tracked
	w.stateMu.Unlock()
}

func (w *NewsWatcher) Start(ctx context.Context, cb Callback) {
	w.start(ctx, cb, w.cfg.Interval, w.Poll)
}

func (w *NewsWatcher) Stop() { w.stop() }

func (w *NewsWatcher) nextQuery() string {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	q := w.cfg.Queries[w.next%len(w.cfg.Queries)]
	w.next++
	return q
}

// Poll runs the next query in the rotation.
func (w *NewsWatcher) Poll(ctx context.Context) error {
	query := w.nextQuery()
	items, err := w.src.Search(ctx, query, w.cfg.MaxResults)
	if err != nil {
		return fmt.Errorf("search %q: %w", query, err)
	}

	w.stateMu.Lock()
	tracked := w.tracked
	w.stateMu.Unlock()

	fresh := 0
	for _, item := range items {
		key := textmatch.TitleKey(item.Title)
		if key == "" {
			continue
		}
		if w.articles != nil {
			seen, err := w.articles.HasSeenArticle(ctx, key)
			if err != nil {
				w.log.WithError(err).Warn("seen-article lookup failed")
			} else if seen {
				continue
			}
			if err := w.articles.MarkArticleSeen(ctx, key, item.Source); err != nil {
				w.log.WithError(err).Warn("mark article seen failed")
			}
		}
		fresh++

		tokens := textmatch.Tokenize(item.Title + " " + item.Body)
		for _, tm := range tracked {
			ratio, ok := w.cfg.Matcher.Match(tokens, tm.terms)
			if !ok {
				continue
			}
			w.emit(Candidate{Market: tm.market, Reason: models.ReasonNewsMatch, Strength: ratio})
		}
	}
	w.log.WithFields(map[string]interface{}{"query": query, "results": len(items), "new": fresh}).Debug("news poll")
	return nil
}
