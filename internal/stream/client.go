// Package stream provides a WebSocket client for the daemon's
// estimate stream, used by watcher tools and remote consumers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tdoa/internal/localize"
	"github.com/teslashibe/go-tdoa/internal/protocol"
)

var ErrNotConnected = errors.New("stream: not connected")

const handshakeTimeout = 10 * time.Second

// Config holds stream client configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://localhost:9000/api/locate/stream")
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:9000/api/locate/stream",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Client subscribes to a running daemon's estimate stream. It
// reconnects with exponential backoff and dispatches typed messages
// to the registered callbacks.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	onEstimate func(protocol.EstimateData)
	onStats    func(localize.Stats)
	onError    func(string)

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	reconnects       atomic.Uint64
}

// NewClient creates a stream client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// OnEstimate sets the callback for position estimates
func (c *Client) OnEstimate(callback func(protocol.EstimateData)) {
	c.mu.Lock()
	c.onEstimate = callback
	c.mu.Unlock()
}

// OnStats sets the callback for session statistics
func (c *Client) OnStats(callback func(localize.Stats)) {
	c.mu.Lock()
	c.onStats = callback
	c.mu.Unlock()
}

// OnError sets the callback for session failure notices
func (c *Client) OnError(callback func(string)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Connect starts the connection loop in the background. It returns
// immediately; callbacks fire once the first dial succeeds.
func (c *Client) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// run dials, serves, and backs off until the context ends. Backoff
// doubles per failed dial and resets after a served connection.
func (c *Client) run(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("stream connection failed",
				"error", err,
				"retry_in", backoff,
			)
			c.reconnects.Add(1)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			if backoff = backoff * 2; backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}

		backoff = c.cfg.ReconnectBackoff
		c.serve(ctx, conn)
	}
	c.dropConn()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.logger.Info("connecting to estimate stream", "url", c.cfg.URL)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// serve owns one connection: it installs it, runs the keepalive
// goroutine, and reads until the connection or the context dies.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to estimate stream")

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	for ctx.Err() == nil {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("stream read error", "error", err)
			break
		}
		c.messagesReceived.Add(1)
		c.dispatch(data)
	}

	c.dropConn()
}

// keepalive pings until the connection's read loop exits
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// dispatch routes one incoming message to its callback
func (c *Client) dispatch(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("bad stream message", "error", err)
		return
	}

	c.mu.Lock()
	estimateCb, statsCb, errorCb := c.onEstimate, c.onStats, c.onError
	c.mu.Unlock()

	switch msg.Type {
	case protocol.TypeEstimate:
		var est protocol.EstimateData
		if estimateCb != nil && msg.ParseData(&est) == nil {
			estimateCb(est)
		}
	case protocol.TypeStats:
		var stats localize.Stats
		if statsCb != nil && msg.ParseData(&stats) == nil {
			statsCb(stats)
		}
	case protocol.TypeError:
		var e protocol.ErrorData
		if errorCb != nil && msg.ParseData(&e) == nil {
			errorCb(e.Error)
		}
	case protocol.TypePing:
		c.SendMessage(&protocol.Message{
			Type:      protocol.TypePong,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// SendMessage sends one message to the daemon
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("stream write error", "error", err)
		c.dropConn()
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// RequestStats asks the daemon for a statistics snapshot
func (c *Client) RequestStats() error {
	msg, err := protocol.NewMessage(protocol.TypeStats, nil)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendControl sends a session control command
func (c *Client) SendControl(cmd protocol.ControlCommand) error {
	msg, err := protocol.NewMessage(protocol.TypeControl, cmd)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts down the client and its connection loop
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.dropConn()
	return nil
}

// IsConnected reports whether a connection is currently up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats counts the client's traffic
type Stats struct {
	Connected        bool   `json:"connected"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns a snapshot of the client counters
func (c *Client) GetStats() Stats {
	return Stats{
		Connected:        c.IsConnected(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}
