// Package news fetches RSS/Atom feeds and implements a search-backed
// NewsSource on top of them.
package news

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/retry"
)

const defaultUserAgent = "darwin-news/1.0 (+https://github.com/hetulpatel/darwin)"

var tagRe = regexp.MustCompile(`<[^>]*>`)

// FeedFetcher downloads and parses a feed into news items.
type FeedFetcher struct {
	client    *http.Client
	policy    retry.Policy
	userAgent string
}

// NewFeedFetcher returns a fetcher with the given per-request timeout.
func NewFeedFetcher(timeout time.Duration) *FeedFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FeedFetcher{
		client:    &http.Client{Timeout: timeout},
		policy:    retry.DefaultPolicy,
		userAgent: defaultUserAgent,
	}
}

// WithRetry overrides the retry policy.
func (f *FeedFetcher) WithRetry(p retry.Policy) *FeedFetcher {
	f.policy = p
	return f
}

// Fetch downloads feedURL and returns its items. source labels the items;
// when empty the feed's own title is used.
func (f *FeedFetcher) Fetch(ctx context.Context, source, feedURL string) ([]models.NewsItem, error) {
	var feed *gofeed.Feed
	err := retry.Do(ctx, f.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		parsed, err := gofeed.NewParser().Parse(resp.Body)
		if err != nil {
			return fmt.Errorf("parse feed: %w", err)
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("news: fetch %s: %w", feedURL, err)
	}

	if source == "" {
		source = strings.TrimSpace(feed.Title)
	}
	items := make([]models.NewsItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := cleanText(it.Title)
		if title == "" {
			continue
		}
		item := models.NewsItem{
			Title:  title,
			Body:   cleanText(it.Description),
			Source: source,
			URL:    strings.TrimSpace(it.Link),
		}
		if it.PublishedParsed != nil {
			item.PublishedAt = it.PublishedParsed.UTC()
		} else if it.UpdatedParsed != nil {
			item.PublishedAt = it.UpdatedParsed.UTC()
		}
		items = append(items, item)
	}
	return items, nil
}

func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
