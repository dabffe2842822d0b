package notifications

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casier-judiciaire/casier-backend/pkg/config"
)

// ErrQueueFull is returned when a slow client has not drained its buffer.
var ErrQueueFull = errors.New("channel send queue full")

// SocketOptions tune a SocketChannel.
type SocketOptions struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// SocketOptionsFromConfig maps realtime configuration onto socket options.
func SocketOptionsFromConfig(cfg config.RealtimeConfig) SocketOptions {
	return SocketOptions{
		SendBuffer:      cfg.SendBuffer,
		WriteTimeout:    cfg.WriteTimeout,
		PingInterval:    cfg.PingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
}

// NewUpgrader builds the websocket upgrader. An empty origin list keeps
// gorilla's same-origin check and "*" accepts any origin.
func NewUpgrader(cfg config.RealtimeConfig) *websocket.Upgrader {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			upgrader.CheckOrigin = func(*http.Request) bool { return true }
			return upgrader
		}
		if origin != "" {
			allowed[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(allowed) > 0 {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		}
	}
	return upgrader
}

// SocketChannel is a Channel backed by a websocket connection. Writes go
// through a buffered queue drained by Serve so Send never blocks.
type SocketChannel struct {
	conn  *websocket.Conn
	opts  SocketOptions
	queue chan []byte

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewSocketChannel(conn *websocket.Conn, opts SocketOptions) *SocketChannel {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &SocketChannel{
		conn:  conn,
		opts:  opts,
		queue: make(chan []byte, opts.SendBuffer),
		done:  make(chan struct{}),
	}
}

// Open reports whether the connection can still take messages.
func (c *SocketChannel) Open() bool {
	return !c.closed.Load()
}

// Send queues msg for delivery.
func (c *SocketChannel) Send(msg []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	case c.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Done is closed once the connection is gone.
func (c *SocketChannel) Done() <-chan struct{} {
	return c.done
}

// Serve pumps queued messages to the client until the connection drops or
// ctx ends. Inbound frames are read only to notice closes and pongs.
func (c *SocketChannel) Serve(ctx context.Context) {
	go c.readLoop()

	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.done:
			return
		case msg := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *SocketChannel) readLoop() {
	defer c.shutdown()

	if c.opts.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	}
	if c.opts.PingInterval > 0 {
		wait := 2 * c.opts.PingInterval
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close sends a close frame with code and reason, then drops the connection.
func (c *SocketChannel) Close(code int, reason string) {
	if !c.closed.Load() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(c.opts.WriteTimeout),
		)
	}
	c.shutdown()
}

func (c *SocketChannel) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.conn.Close()
	})
}
