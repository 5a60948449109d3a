package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultURL is the venue's public market channel.
const DefaultURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// UpdateType names the kind of market update.
type UpdateType string

const (
	UpdatePriceChange    UpdateType = "price_change"
	UpdateBestBidAsk     UpdateType = "best_bid_ask"
	UpdateLastTradePrice UpdateType = "last_trade_price"
	UpdateBook           UpdateType = "book"
)

// Update is one typed market update. Price is the best available point
// price: the bid/ask midpoint when both sides are known, else the traded or
// quoted price. Synthetic updates come from fallback polling.
type Update struct {
	Type      UpdateType `json:"type"`
	AssetID   string     `json:"asset_id"`
	Price     float64    `json:"price"`
	BestBid   float64    `json:"best_bid,omitempty"`
	BestAsk   float64    `json:"best_ask,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Synthetic bool       `json:"synthetic,omitempty"`
}

// Handler receives updates. It runs on the dispatcher goroutine, never on
// the socket read loop.
type Handler func(Update)

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config controls connection, backoff and fallback behavior.
type Config struct {
	URL                 string        `yaml:"url"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	FallbackAfter       time.Duration `yaml:"fallback_after"`
	FallbackInterval    time.Duration `yaml:"fallback_interval"`
	FallbackConcurrency int           `yaml:"fallback_concurrency"`
	BatchSize           int           `yaml:"batch_size"`
	BufferSize          int           `yaml:"buffer_size"`
	Epsilon             float64       `yaml:"epsilon"`
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Minute
	}
	if c.FallbackAfter <= 0 {
		c.FallbackAfter = 10 * time.Second
	}
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = 30 * time.Second
	}
	if c.FallbackConcurrency <= 0 {
		c.FallbackConcurrency = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.Epsilon <= 0 {
		c.Epsilon = 1e-6
	}
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	State             State     `json:"state"`
	Connected         bool      `json:"connected"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	Reconnects        int64     `json:"reconnects"`
	FallbackActive    bool      `json:"fallback_active"`
	Instruments       int       `json:"instruments"`
	UpdatesReceived   int64     `json:"updates_received"`
	UpdatesDropped    int64     `json:"updates_dropped"`
	HandlerPanics     int64     `json:"handler_panics"`
	LastMessageAt     time.Time `json:"last_message_at,omitempty"`
}

// number accepts both JSON numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type subscriptionFrame struct {
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
	AssetsIDs []string `json:"assets_ids"`
}

type priceLevel struct {
	Price number `json:"price"`
	Size  number `json:"size"`
}

type priceChangeItem struct {
	AssetID string `json:"asset_id"`
	Price   number `json:"price"`
	BestBid number `json:"best_bid"`
	BestAsk number `json:"best_ask"`
}

type wireEvent struct {
	EventType    string            `json:"event_type"`
	AssetID      string            `json:"asset_id"`
	Price        number            `json:"price"`
	BestBid      number            `json:"best_bid"`
	BestAsk      number            `json:"best_ask"`
	Bids         []priceLevel      `json:"bids"`
	Asks         []priceLevel      `json:"asks"`
	PriceChanges []priceChangeItem `json:"price_changes"`
	Timestamp    json.RawMessage   `json:"timestamp"`
}
