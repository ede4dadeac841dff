package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	sendQueueSize  = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// Request is one WS frame from a client.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one WS frame back to a client.
type Response struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// client is one WS connection. Writes go through a buffered queue consumed
// by a single writer goroutine, so method handlers never block on a slow
// socket.
type client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	send    chan Response
	limiter *rate.Limiter
	done    chan struct{}
}

func newClient(conn *websocket.Conn, server *Server) *client {
	var limiter *rate.Limiter
	if rpm := server.cfg.RateLimitRPM; rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), rpm)
	}
	return &client{
		id:      uuid.NewString()[:8],
		conn:    conn,
		server:  server,
		send:    make(chan Response, sendQueueSize),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

func (c *client) run(ctx context.Context) {
	go c.writeLoop(ctx)
	c.readLoop()
}

func (c *client) close() {
	close(c.done)
	c.conn.Close()
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway read error", "client", c.id, "error", err)
			}
			return
		}
		c.handle(req)
	}
}

func (c *client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case resp := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(resp); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) reply(resp Response) {
	select {
	case c.send <- resp:
	default:
		slog.Warn("gateway client send queue full, dropping response", "client", c.id)
	}
}

func (c *client) handle(req Request) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.reply(Response{ID: req.ID, Error: "rate limit exceeded"})
		return
	}

	switch req.Method {
	case "status":
		c.reply(Response{ID: req.ID, OK: true, Result: c.server.statusSnapshot()})

	case "send":
		var params struct {
			Channel string `json:"channel"`
			ChatID  string `json:"chat_id"`
			Content string `json:"content"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				c.reply(Response{ID: req.ID, Error: "invalid params: " + err.Error()})
				return
			}
		}
		if err := c.server.injectMessage(params.Channel, params.ChatID, params.Content); err != nil {
			c.reply(Response{ID: req.ID, Error: err.Error()})
			return
		}
		c.reply(Response{ID: req.ID, OK: true, Result: map[string]any{"queued": true}})

	default:
		c.reply(Response{ID: req.ID, Error: "unknown method: " + req.Method})
	}
}
