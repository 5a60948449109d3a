package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/retry"
)

// Public API endpoints.
const (
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	DefaultCLOBURL  = "https://clob.polymarket.com"
	defaultPageSize = 100
)

// Client fetches Polymarket markets (gamma API) and point prices (CLOB API).
type Client struct {
	gammaURL    string
	clobURL     string
	pageSize    int
	minLiq      float64
	httpClient  *http.Client
	gammaLimit  *rate.Limiter
	clobLimit   *rate.Limiter
	retryPolicy retry.Policy
}

var (
	_ ports.MarketSource = (*Client)(nil)
	_ ports.PriceSource  = (*Client)(nil)
)

// Config controls optional overrides for the client.
type Config struct {
	GammaURL     string        `yaml:"gamma_url"`
	CLOBURL      string        `yaml:"clob_url"`
	PageSize     int           `yaml:"page_size"`
	MinLiquidity float64       `yaml:"min_liquidity"`
	Timeout      time.Duration `yaml:"timeout"`
	// RequestsPerSecond bounds each API separately.
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Retry             *retry.Policy `yaml:"-"`
}

// NewClient builds a Polymarket client with sane defaults.
func NewClient(cfg Config) *Client {
	gamma := strings.TrimRight(cfg.GammaURL, "/")
	if gamma == "" {
		gamma = DefaultGammaURL
	}
	clob := strings.TrimRight(cfg.CLOBURL, "/")
	if clob == "" {
		clob = DefaultCLOBURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	policy := retry.DefaultPolicy
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	return &Client{
		gammaURL:    gamma,
		clobURL:     clob,
		pageSize:    pageSize,
		minLiq:      cfg.MinLiquidity,
		httpClient:  &http.Client{Timeout: timeout},
		gammaLimit:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		clobLimit:   rate.NewLimiter(rate.Limit(rps*2), int(rps*2)+1),
		retryPolicy: policy,
	}
}

func (c *Client) Name() string {
	return "polymarket"
}

// FetchMarkets returns one page (0-based) of active, open markets ordered by
// liquidity. Placeholder and sub-threshold markets are dropped.
func (c *Client) FetchMarkets(ctx context.Context, page int) ([]models.Market, error) {
	if page < 0 {
		page = 0
	}
	u, _ := url.Parse(c.gammaURL + "/markets")
	q := u.Query()
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(page*c.pageSize))
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "liquidityNum")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	var raw []market
	if err := c.get(ctx, c.gammaLimit, u.String(), &raw); err != nil {
		return nil, fmt.Errorf("polymarket list markets: %w", err)
	}
	out := make([]models.Market, 0, len(raw))
	for i := range raw {
		m := &raw[i]
		if m.Closed || !m.Active || isPlaceholderMarket(m) {
			continue
		}
		norm := normalizeMarket(m)
		if norm.Liquidity < c.minLiq {
			continue
		}
		out = append(out, norm)
	}
	// A page that was full upstream but filtered down to nothing must not end paging.
	if len(out) == 0 && len(raw) >= c.pageSize {
		return []models.Market{}, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return out, nil
}

// FetchMarketByID returns a single market snapshot.
func (c *Client) FetchMarketByID(ctx context.Context, id string) (models.Market, error) {
	if strings.TrimSpace(id) == "" {
		return models.Market{}, fmt.Errorf("polymarket: market id is required")
	}
	var m market
	if err := c.get(ctx, c.gammaLimit, c.gammaURL+"/markets/"+url.PathEscape(id), &m); err != nil {
		return models.Market{}, fmt.Errorf("polymarket market %s: %w", id, err)
	}
	if m.ID == "" {
		return models.Market{}, fmt.Errorf("polymarket market %s: %w", id, ports.ErrNotFound)
	}
	return normalizeMarket(&m), nil
}

// FetchPrice returns the CLOB midpoint for a token.
func (c *Client) FetchPrice(ctx context.Context, tokenID string) (float64, error) {
	u, _ := url.Parse(c.clobURL + "/midpoint")
	q := u.Query()
	q.Set("token_id", tokenID)
	u.RawQuery = q.Encode()

	var mid struct {
		Mid string `json:"mid"`
	}
	if err := c.get(ctx, c.clobLimit, u.String(), &mid); err != nil {
		return 0, fmt.Errorf("polymarket midpoint %s: %w", tokenID, err)
	}
	p, err := strconv.ParseFloat(mid.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket midpoint %s: parse %q: %w", tokenID, mid.Mid, err)
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, limiter *rate.Limiter, rawURL string, dst any) error {
	return retry.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return json.NewDecoder(resp.Body).Decode(dst)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	})
}

func normalizeMarket(m *market) models.Market {
	out := models.Market{
		ID:          m.ID,
		Question:    strings.TrimSpace(m.Question),
		Probability: yesProbability(m),
		Volume:      m.VolumeNum,
		Liquidity:   m.LiquidityNum,
		EndDate:     parseTime(m.EndDate),
		Category:    m.Category,
		UpdatedAt:   parseTime(m.UpdatedAt),
	}
	if ids := parseStringArray(m.ClobTokenIds); len(ids) > 0 {
		out.TokenID = ids[0]
	}
	return out
}

// yesProbability prefers the YES outcome price, then the book midpoint, then
// the last trade.
func yesProbability(m *market) float64 {
	if prices := parseStringArray(m.OutcomePrices); len(prices) > 0 {
		if p, err := strconv.ParseFloat(prices[0], 64); err == nil {
			return p
		}
	}
	if m.BestBid > 0 && m.BestAsk > 0 {
		return (m.BestBid + m.BestAsk) / 2
	}
	return m.LastTradePrice
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// parseStringArray decodes the JSON-in-a-string arrays gamma uses for
// clobTokenIds and outcomePrices.
func parseStringArray(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

var placeholderQuestionRe = regexp.MustCompile(`(?i)^will\s+\w+\s+[a-z]\b`)

func isPlaceholderMarket(m *market) bool {
	q := strings.TrimSpace(m.Question)
	if q == "" || placeholderQuestionRe.MatchString(q) {
		return true
	}
	desc := strings.ToLower(m.Description)
	if strings.Contains(desc, "may be updated to replace") || strings.Contains(desc, "placeholder") {
		return true
	}
	return false
}

type market struct {
	ID             string  `json:"id"`
	Question       string  `json:"question"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	OutcomePrices  string  `json:"outcomePrices"`
	LastTradePrice float64 `json:"lastTradePrice"`
	BestBid        float64 `json:"bestBid"`
	BestAsk        float64 `json:"bestAsk"`
	VolumeNum      float64 `json:"volumeNum"`
	LiquidityNum   float64 `json:"liquidityNum"`
	ClobTokenIds   string  `json:"clobTokenIds"`
	EndDate        string  `json:"endDate"`
	UpdatedAt      string  `json:"updatedAt"`
	Active         bool    `json:"active"`
	Closed         bool    `json:"closed"`
}
