package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatrelay/internal/config"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ClientOptions tune a single WebSocket client.
type ClientOptions struct {
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      config.RateLimitConfig
}

// Client adapts a WebSocket connection to the chat session endpoint. Outbound
// messages are queued on a buffered channel and written by WritePump; inbound
// messages are read by the session goroutine through Receive.
type Client struct {
	conn    *websocket.Conn
	send    chan string
	done    chan struct{}
	addr    string
	opts    ClientOptions
	limiter *rate.Limiter

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewClient wraps conn. The caller must start WritePump.
func NewClient(conn *websocket.Conn, addr string, opts ClientOptions) *Client {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	c := &Client{
		conn:    conn,
		send:    make(chan string, opts.SendBufferSize),
		done:    make(chan struct{}),
		addr:    addr,
		opts:    opts,
		limiter: newRateLimiter(opts.RateLimit),
	}
	if conn != nil {
		if opts.MaxMessageSize > 0 {
			conn.SetReadLimit(opts.MaxMessageSize)
		}
		c.setupReadConnection()
	}
	return c
}

// Send queues text for delivery without blocking.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- text:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close marks the client closed and tells the write pump to send a close
// frame and drop the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// Receive blocks for the next text message. Messages over the rate limit are
// discarded. Any read error is returned and ends the session.
func (c *Client) Receive() (string, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return "", err
		}

		if messageType != websocket.TextMessage {
			slog.Debug("Ignoring non-text frame", "remote_addr", c.addr, "type", messageType)
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		return string(data), nil
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("Error setting initial read deadline", "remote_addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError logs a read failure at a level that matches how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("Message exceeded maximum size", "remote_addr", c.addr, "limit", c.opts.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		slog.Debug("Client disconnected", "remote_addr", c.addr, "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		slog.Debug("Client connection closed", "remote_addr", c.addr, "error", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		slog.Warn("Unexpected WebSocket close", "remote_addr", c.addr, "error", err)
	default:
		slog.Warn("WebSocket read error", "remote_addr", c.addr, "error", err)
	}
}

// checkRateLimit reports whether the next message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter == nil || c.limiter.Allow() {
		return true
	}
	slog.Warn("Rate limit exceeded; discarding message",
		"remote_addr", c.addr,
		"burst", c.opts.RateLimit.Burst,
		"interval", c.opts.RateLimit.RefillInterval)
	return false
}

// WritePump writes queued messages and keepalive pings until the client is
// closed or a write fails. A write failure closes the client, so the next
// broadcast to it fails and prunes it.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		c.closeConnection()
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeText(message) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		case <-c.done:
			c.flushQueued()
			c.writeCloseMessage()
			return
		}
	}
}

// flushQueued writes whatever is still buffered when the client is closed.
func (c *Client) flushQueued() {
	for {
		select {
		case message := <-c.send:
			if !c.writeText(message) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeText(message string) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Debug("Error setting write deadline", "remote_addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("Error writing message", "remote_addr", c.addr, "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Debug("Error setting write deadline for ping", "remote_addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		slog.Debug("Error writing ping", "remote_addr", c.addr, "error", err)
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			slog.Debug("Error writing close message", "remote_addr", c.addr, "error", err)
		}
	}
}

// closeConnection drops the underlying connection, which also unblocks Receive.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		slog.Debug("Error closing connection", "remote_addr", c.addr, "error", err)
	}
}
