package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-tdoa/internal/localize"
	"github.com/teslashibe/go-tdoa/internal/protocol"
)

// messageWriter is the write side of a WebSocket connection.
type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsClient serializes writes to one connection. The broadcast loop and
// the connection's own reader goroutine (pong and stats replies) both
// send on it, and the underlying conn does not support concurrent
// writers.
type wsClient struct {
	mu   sync.Mutex
	conn messageWriter
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections and broadcasts position
// estimates as they are published by the session.
type WSHub struct {
	session *localize.Session
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(session *localize.Session, logger *slog.Logger) *WSHub {
	return &WSHub{
		session: session,
		logger:  logger,
		clients: make(map[*websocket.Conn]*wsClient),
		done:    make(chan struct{}),
	}
}

// Run forwards session estimates to all connected clients until the
// context is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	if h.session == nil {
		<-ctx.Done()
		return
	}

	sub := h.session.Subscribe()
	defer h.session.Unsubscribe(sub)

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case est, ok := <-sub:
			if !ok {
				return
			}

			msg, err := protocol.NewEstimateMessage(
				est.X, est.Y, est.Z, est.Warmup, est.Frame, est.LatencyMs)
			if err != nil {
				h.logger.Warn("estimate message build error", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if err := client.send(data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	// Middleware to check if request is a WebSocket upgrade
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the estimate stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	client := &wsClient{conn: c}

	h.mu.Lock()
	h.clients[c] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(client, msg)
	}
}

func (h *WSHub) handleCommand(client *wsClient, raw []byte) {
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		if pong, err := protocol.NewMessage(protocol.TypePong, time.Now().Unix()); err == nil {
			if data, err := pong.Bytes(); err == nil {
				client.send(data)
			}
		}
	case protocol.TypeStats:
		if h.session == nil {
			return
		}
		if reply, err := protocol.NewMessage(protocol.TypeStats, h.session.GetStats()); err == nil {
			if data, err := reply.Bytes(); err == nil {
				client.send(data)
			}
		}
	case protocol.TypeControl:
		h.handleControl(msg)
	}
}

func (h *WSHub) handleControl(msg *protocol.Message) {
	if h.session == nil {
		return
	}

	cmd, err := msg.GetControlCommand()
	if err != nil {
		h.logger.Debug("bad control command", "error", err)
		return
	}

	switch cmd.Action {
	case protocol.ActionStop:
		h.session.Stop()
	case protocol.ActionDraw:
		if cmd.Draw != nil {
			h.session.SetDraw(*cmd.Draw)
		}
	case protocol.ActionStart:
		// Session start is owned by the daemon main loop; log and
		// ignore so a stale client cannot double-start acquisition.
		h.logger.Debug("ignoring start command from stream client")
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*wsClient)
	h.mu.Unlock()
}
