package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/retry"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Wire Service</title>
<item><title>Fed holds rates steady</title><link>https://example.com/a</link>
<description>&lt;p&gt;The Federal Reserve kept rates unchanged.&lt;/p&gt;</description>
<pubDate>Mon, 03 Mar 2025 14:00:00 GMT</pubDate></item>
<item><title>Fed signals rate cut in March</title><link>https://example.com/b</link>
<description>Officials point to a March cut.</description>
<pubDate>Tue, 04 Mar 2025 09:30:00 GMT</pubDate></item>
<item><title>Local team wins</title><link>https://example.com/c</link></item>
</channel></rss>`

func rssServer(t *testing.T, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedFetcherParsesItems(t *testing.T) {
	srv := rssServer(t, nil)
	items, err := NewFeedFetcher(time.Second).Fetch(context.Background(), "", srv.URL)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Fed holds rates steady", items[0].Title)
	assert.Equal(t, "The Federal Reserve kept rates unchanged.", items[0].Body)
	assert.Equal(t, "Wire Service", items[0].Source)
	assert.Equal(t, time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC), items[0].PublishedAt)
	assert.True(t, items[2].PublishedAt.IsZero())
}

func TestFeedFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	_, err := NewFeedFetcher(time.Second).WithRetry(retry.Policy{Attempts: 1}).Fetch(context.Background(), "x", srv.URL)
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestSearchRanksByRelevance(t *testing.T) {
	srv := rssServer(t, func(r *http.Request) {
		assert.Equal(t, "the Fed cut rates", r.URL.Query().Get("q"))
		assert.Equal(t, "US:en", r.URL.Query().Get("ceid"))
	})
	s := NewSearch(NewFeedFetcher(time.Second), SearchConfig{BaseURL: srv.URL})

	items, err := s.Search(context.Background(), "Will the Fed cut rates in March?", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Fed signals rate cut in March", items[0].Title)
	assert.GreaterOrEqual(t, items[0].Relevance, items[1].Relevance)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s := NewSearch(NewFeedFetcher(time.Second), SearchConfig{})
	_, err := s.Search(context.Background(), "   ", 5)
	assert.Error(t, err)
}
