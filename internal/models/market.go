package models

import "time"

// Market is an immutable snapshot of a binary prediction market.
type Market struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Probability float64   `json:"probability"`
	Volume      float64   `json:"volume"`
	Liquidity   float64   `json:"liquidity"`
	EndDate     time.Time `json:"end_date"`
	TokenID     string    `json:"token_id,omitempty"`
	Category    string    `json:"category,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DaysToExpiry returns the fractional days until EndDate, never negative.
func (m Market) DaysToExpiry(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	d := m.EndDate.Sub(now).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// NewsItem is a single article returned by a news source or feed.
type NewsItem struct {
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	Relevance   float64   `json:"relevance"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Reason tags why a market was queued for analysis.
type Reason string

const (
	ReasonPriceChange Reason = "price_change"
	ReasonNewsMatch   Reason = "news_match"
	ReasonNearExpiry  Reason = "near_expiry"
	ReasonManual      Reason = "manual"
)

// ScoutAlert is a strong article/market match surfaced for operators
// ahead of a full analysis.
type ScoutAlert struct {
	MarketID    string    `json:"market_id"`
	Question    string    `json:"question"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Overlap     float64   `json:"overlap"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
}
