// Package gateway serves the local WebSocket/HTTP status endpoint. It
// exposes /healthz, /status, and /ws; WS clients can query runtime status
// and inject inbound messages.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/config"
)

const shutdownTimeout = 5 * time.Second

// StatusFunc returns the runtime status snapshot served on /status and the
// "status" WS method. Injected so the gateway stays decoupled from the
// channel manager and session store.
type StatusFunc func() map[string]any

// Server is the gateway HTTP/WS server.
type Server struct {
	cfg    config.GatewayConfig
	bus    *bus.MessageBus
	status StatusFunc

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
	started    time.Time
}

func NewServer(cfg config.GatewayConfig, msgBus *bus.MessageBus, status StatusFunc) *Server {
	s := &Server{
		cfg:     cfg,
		bus:     msgBus,
		status:  status,
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the Origin header against the configured allowlist.
// No configured origins admits everything; an empty Origin header means a
// non-browser client and is always admitted.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed || allowed == "*" {
			return true
		}
	}
	slog.Warn("gateway origin rejected", "origin", origin)
	return false
}

// authorized checks the gateway token. An unset token disables auth. The
// token is accepted as a Bearer header or a "token" query parameter (the
// latter for browser WS clients, which cannot set headers).
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); auth == "Bearer "+s.cfg.Token {
		return true
	}
	return r.URL.Query().Get("token") == s.cfg.Token
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start listens until ctx is cancelled. Blocking.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.buildMux()}
	s.started = time.Now()

	slog.Info("gateway listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// StartOnListener serves on a pre-bound listener. Tests use this with a
// 127.0.0.1:0 listener to get a random port.
func (s *Server) StartOnListener(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.buildMux()}
	s.started = time.Now()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.statusSnapshot())
}

func (s *Server) statusSnapshot() map[string]any {
	snapshot := map[string]any{}
	if s.status != nil {
		snapshot = s.status()
	}
	snapshot["uptime_seconds"] = int(time.Since(s.started).Seconds())
	s.mu.RLock()
	snapshot["ws_clients"] = len(s.clients)
	s.mu.RUnlock()
	return snapshot
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Info("gateway client connected", "id", c.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.close()
		slog.Info("gateway client disconnected", "id", c.id)
	}()

	c.run(r.Context())
}

// injectMessage publishes a "send" request as an inbound message. The
// sender is recorded as a gateway client so the reply routes back through
// the system path.
func (s *Server) injectMessage(channel, chatID, content string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "system"
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required")
	}
	if chatID == "" {
		return fmt.Errorf("chat_id is required")
	}
	s.bus.PublishInbound(bus.InboundMessage{
		Channel:  channel,
		SenderID: "gateway",
		ChatID:   chatID,
		Content:  content,
	})
	return nil
}
