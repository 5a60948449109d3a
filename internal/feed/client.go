// Package feed maintains the live market-data connection: it keeps the
// instrument subscriptions in sync across reconnects and falls back to REST
// polling while the socket is down.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/ports"
)

// Client is a reconnecting live-feed subscriber.
type Client struct {
	cfg    Config
	prices ports.PriceSource
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu          sync.RWMutex
	state       State
	conn        *websocket.Conn
	instruments map[string]struct{}
	attempts    int
	everUp      bool
	lastMessage time.Time

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[int]Handler
	nextID     int

	priceMu   sync.Mutex
	lastPrice map[string]float64

	fallbackMu     sync.Mutex
	fallbackTimer  *time.Timer
	fallbackCancel context.CancelFunc

	events chan Update

	received   atomic.Int64
	dropped    atomic.Int64
	panics     atomic.Int64
	reconnects atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	stop   sync.Once
}

// New builds a client. prices may be nil, which disables fallback polling.
func New(cfg Config, prices ports.PriceSource) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:         cfg,
		prices:      prices,
		dialer:      &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		log:         logging.With("feed"),
		state:       StateDisconnected,
		instruments: make(map[string]struct{}),
		handlers:    make(map[int]Handler),
		lastPrice:   make(map[string]float64),
		events:      make(chan Update, cfg.BufferSize),
	}
}

// Subscribe registers h and returns a function that removes it.
func (c *Client) Subscribe(h Handler) func() {
	c.handlersMu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.handlersMu.Unlock()
	return func() {
		c.handlersMu.Lock()
		delete(c.handlers, id)
		c.handlersMu.Unlock()
	}
}

// Start launches the connection and dispatch loops. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.start.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		c.wg.Add(2)
		go c.dispatch()
		go c.run()
	})
}

// Stop closes the connection, halts fallback polling and waits for the
// loops to exit.
func (c *Client) Stop() {
	c.stop.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		c.stopFallback()
		c.closeConn()
		c.wg.Wait()
	})
}

// IsConnected reports whether the socket is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected
}

// Status returns a snapshot of connection health.
func (c *Client) Status() Status {
	c.mu.RLock()
	st := Status{
		State:             c.state,
		Connected:         c.state == StateConnected,
		ReconnectAttempts: c.attempts,
		Instruments:       len(c.instruments),
		LastMessageAt:     c.lastMessage,
	}
	c.mu.RUnlock()
	st.FallbackActive = c.FallbackActive()
	st.UpdatesReceived = c.received.Load()
	st.UpdatesDropped = c.dropped.Load()
	st.HandlerPanics = c.panics.Load()
	st.Reconnects = c.reconnects.Load()
	return st
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		conn, err := c.connect()
		if err == nil {
			err = c.serve(conn)
		}
		if c.ctx.Err() != nil {
			return
		}
		c.onDisconnected(err)

		delay := c.nextDelay()
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) connect() (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(c.ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	sent, err := c.subscribeAll(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	reconnect := c.everUp
	c.everUp = true
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()
	if reconnect {
		c.reconnects.Add(1)
	}
	c.stopFallback()
	c.catchUp(conn, sent)
	c.log.WithField("instruments", c.instrumentCount()).Info("live feed connected")
	return conn, nil
}

// serve runs the read loop until the connection fails or ctx ends.
func (c *Client) serve(conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-c.ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := c.write(conn, websocket.TextMessage, []byte("PING")); err != nil {
					c.log.WithError(err).Debug("ping failed")
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		c.mu.Lock()
		c.lastMessage = now
		c.mu.Unlock()

		if string(data) == "PONG" || string(data) == "PING" {
			continue
		}
		updates, err := parseMessage(data, now)
		if err != nil {
			c.log.WithError(err).Debug("unparseable message")
			continue
		}
		for _, u := range updates {
			c.recordPrice(u.AssetID, u.Price)
			c.emit(u)
		}
	}
}

func (c *Client) onDisconnected(err error) {
	c.mu.Lock()
	c.conn = nil
	c.state = StateDisconnected
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	entry := c.log.WithField("attempt", attempts)
	if err != nil && !errors.Is(err, context.Canceled) {
		entry = entry.WithError(err)
	}
	entry.Warn("live feed disconnected")
	c.armFallback()
}

// nextDelay is BaseDelay doubled per consecutive failure, capped at MaxDelay.
func (c *Client) nextDelay() time.Duration {
	c.mu.RLock()
	n := c.attempts
	c.mu.RUnlock()
	d := c.cfg.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) closeConn() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) write(conn *websocket.Conn, kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// emit queues u for handlers, dropping it when the buffer is full.
func (c *Client) emit(u Update) {
	c.received.Add(1)
	select {
	case c.events <- u:
	default:
		if n := c.dropped.Add(1); n%100 == 1 {
			c.log.WithField("dropped", n).Warn("update buffer full")
		}
	}
}

func (c *Client) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case u := <-c.events:
			c.handlersMu.RLock()
			hs := make([]Handler, 0, len(c.handlers))
			for _, h := range c.handlers {
				hs = append(hs, h)
			}
			c.handlersMu.RUnlock()
			for _, h := range hs {
				c.deliver(h, u)
			}
		}
	}
}

func (c *Client) deliver(h Handler, u Update) {
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			c.log.WithField("asset_id", u.AssetID).Errorf("update handler panic: %v", r)
		}
	}()
	h(u)
}

// recordPrice stores p as the last known price and reports whether it moved
// by more than Epsilon from a previously known value.
func (c *Client) recordPrice(assetID string, p float64) bool {
	if assetID == "" || p <= 0 {
		return false
	}
	c.priceMu.Lock()
	defer c.priceMu.Unlock()
	last, ok := c.lastPrice[assetID]
	c.lastPrice[assetID] = p
	if !ok {
		return false
	}
	diff := p - last
	if diff < 0 {
		diff = -diff
	}
	return diff > c.cfg.Epsilon
}
