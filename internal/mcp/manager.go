// Package mcp connects to external tool servers over the Model Context
// Protocol and bridges their tools into the agent's registry under
// external__<server>__<tool> names.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/quietloop/fennec/internal/config"
	"github.com/quietloop/fennec/internal/tools"
)

const (
	readyTimeout     = 30 * time.Second
	stopJoinTimeout  = 5 * time.Second
	watchdogInterval = 30 * time.Second
)

// ServerStatus reports one server's connection state.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// server is one managed connection, owned by its goroutine after Start.
type server struct {
	name      string
	transport string
	cfg       *config.MCPServerConfig

	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string

	stop   chan struct{} // Stop() closes this to signal shutdown
	done   chan struct{} // the goroutine closes this on exit
	cancel context.CancelFunc

	mu      sync.Mutex
	lastErr string
}

func (s *server) setErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

// Manager starts and supervises the configured tool servers. One failed
// server never blocks the rest; its bridged tools simply return errors
// while it is down.
type Manager struct {
	registry *tools.Registry
	configs  map[string]*config.MCPServerConfig

	mu      sync.Mutex
	servers []*server // registration order, for reverse-order Stop
}

func NewManager(registry *tools.Registry, configs map[string]*config.MCPServerConfig) *Manager {
	return &Manager{registry: registry, configs: configs}
}

// Start launches one goroutine per enabled server and waits for each to
// report ready (or fail) within the ready timeout. Connection failures are
// logged and skipped, never fatal.
func (m *Manager) Start(ctx context.Context) {
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := m.configs[name]
		if !cfg.IsEnabled() {
			slog.Info("mcp server disabled", "server", name)
			continue
		}

		srvCtx, cancel := context.WithCancel(context.Background())
		s := &server{
			name:      name,
			transport: cfg.Transport,
			cfg:       cfg,
			stop:      make(chan struct{}),
			done:      make(chan struct{}),
			cancel:    cancel,
		}

		// Unbuffered: the handoff either lands here or the goroutine sees
		// the cancel and rolls its registrations back. A buffered send
		// could register tools that no entry in m.servers owns.
		ready := make(chan error)
		go m.runServer(srvCtx, s, ready)

		select {
		case err := <-ready:
			if err != nil {
				slog.Warn("mcp server failed to start", "server", name, "error", err)
				cancel()
				continue
			}
		case <-time.After(readyTimeout):
			slog.Warn("mcp server start timed out", "server", name, "timeout", readyTimeout)
			cancel()
			continue
		case <-ctx.Done():
			cancel()
			return
		}

		m.mu.Lock()
		m.servers = append(m.servers, s)
		m.mu.Unlock()
		slog.Info("mcp server connected", "server", name,
			"transport", cfg.Transport, "tools", len(s.toolNames))
	}
}

// runServer opens the transport, completes the handshake, registers the
// server's tools, then parks until stopped. A failed watchdog ping exits
// the goroutine; the bridged tools stay registered and surface errors.
func (m *Manager) runServer(ctx context.Context, s *server, ready chan<- error) {
	defer close(s.done)

	// The manager stops receiving once it times out or shuts down, so
	// every handoff send pairs with ctx.
	fail := func(err error) {
		select {
		case ready <- err:
		case <-ctx.Done():
		}
	}

	client, err := newClient(s.cfg)
	if err != nil {
		fail(fmt.Errorf("create client: %w", err))
		return
	}
	s.client = client
	defer client.Close()

	// stdio starts its child process on creation; the HTTP transports
	// need an explicit Start.
	if s.cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			fail(fmt.Errorf("start transport: %w", err))
			return
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "fennec", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		fail(fmt.Errorf("initialize: %w", err))
		return
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		fail(fmt.Errorf("list tools: %w", err))
		return
	}

	timeoutSec := s.cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	for _, t := range listed.Tools {
		bt := newBridgeTool(s, t, timeoutSec)
		if err := m.registry.Register(bt); err != nil {
			slog.Warn("mcp tool name collision, skipped", "server", s.name, "tool", bt.Name())
			continue
		}
		s.toolNames = append(s.toolNames, bt.Name())
	}
	s.connected.Store(true)
	if !m.publishReady(ctx, s, ready) {
		return
	}

	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(ctx); err != nil {
				if isMethodNotFound(err) {
					continue
				}
				s.connected.Store(false)
				s.setErr(err.Error())
				slog.Warn("mcp server lost", "server", s.name, "error", err)
				return
			}
		}
	}
}

// publishReady hands a connected server to the manager. When the manager
// has stopped listening (start timeout or shutdown) the server will never
// appear in m.servers and Stop will never see it, so its bridge tools
// come back out here.
func (m *Manager) publishReady(ctx context.Context, s *server, ready chan<- error) bool {
	select {
	case ready <- nil:
		return true
	case <-ctx.Done():
		s.connected.Store(false)
		for _, name := range s.toolNames {
			m.registry.Unregister(name)
		}
		return false
	}
}

// Stop signals servers in reverse registration order, joins each with a
// timeout, force-cancels laggards, and unregisters their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	servers := m.servers
	m.servers = nil
	m.mu.Unlock()

	for i := len(servers) - 1; i >= 0; i-- {
		s := servers[i]
		close(s.stop)
		select {
		case <-s.done:
		case <-time.After(stopJoinTimeout):
			slog.Warn("mcp server slow to stop, cancelling", "server", s.name)
			s.cancel()
			<-s.done
		}
		s.cancel()
		for _, name := range s.toolNames {
			m.registry.Unregister(name)
		}
		slog.Debug("mcp server stopped", "server", s.name, "tools", len(s.toolNames))
	}
}

// Statuses returns the state of every server started this run.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for _, s := range m.servers {
		s.mu.Lock()
		lastErr := s.lastErr
		s.mu.Unlock()
		out = append(out, ServerStatus{
			Name:      s.name,
			Transport: s.transport,
			Connected: s.connected.Load(),
			ToolCount: len(s.toolNames),
			Error:     lastErr,
		})
	}
	return out
}

func newClient(cfg *config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio", "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// isMethodNotFound detects servers that never implemented ping; those are
// alive, not failed.
func isMethodNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "method not found")
}
