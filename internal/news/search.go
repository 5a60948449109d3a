package news

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/textmatch"
)

const defaultSearchURL = "https://news.google.com/rss/search"

// SearchConfig configures the feed-backed search source.
type SearchConfig struct {
	BaseURL string
	// Locale parameters appended to every query.
	Lang    string
	Country string
}

// Search implements ports.NewsSource via a search engine's RSS endpoint.
type Search struct {
	fetcher *FeedFetcher
	baseURL string
	lang    string
	country string
}

var _ ports.NewsSource = (*Search)(nil)

// NewSearch builds a search source on top of fetcher.
func NewSearch(fetcher *FeedFetcher, cfg SearchConfig) *Search {
	base := cfg.BaseURL
	if base == "" {
		base = defaultSearchURL
	}
	lang := cfg.Lang
	if lang == "" {
		lang = "en-US"
	}
	country := cfg.Country
	if country == "" {
		country = "US"
	}
	return &Search{fetcher: fetcher, baseURL: base, lang: lang, country: country}
}

// Search returns up to maxResults articles for query, most relevant first.
// Relevance is the keyword overlap between the query and the headline.
func (s *Search) Search(ctx context.Context, query string, maxResults int) ([]models.NewsItem, error) {
	query = strings.TrimSpace(textmatch.NormalizeQuestion(query))
	if query == "" {
		return nil, fmt.Errorf("news: empty query")
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("news: base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("hl", s.lang)
	q.Set("gl", s.country)
	q.Set("ceid", s.country+":"+strings.SplitN(s.lang, "-", 2)[0])
	u.RawQuery = q.Encode()

	items, err := s.fetcher.Fetch(ctx, "", u.String())
	if err != nil {
		return nil, err
	}

	terms := textmatch.NewSet(query)
	for i := range items {
		ratio, _ := textmatch.Overlap(textmatch.Tokenize(items[i].Title+" "+items[i].Body), terms)
		items[i].Relevance = ratio
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Relevance != items[j].Relevance {
			return items[i].Relevance > items[j].Relevance
		}
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if maxResults > 0 && len(items) > maxResults {
		items = items[:maxResults]
	}
	return items, nil
}
