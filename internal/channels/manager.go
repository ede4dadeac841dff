package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/quietloop/fennec/internal/bus"
)

// Outbound sends are rate limited per channel so a burst of agent replies
// cannot trip platform flood control.
const (
	outboundRatePerSec = 1
	outboundBurst      = 5
)

// Manager owns the registered channels: lifecycle, outbound dispatch, and
// delivery acknowledgements back to the bus.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel
	limiters map[string]*rate.Limiter

	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		bus:      msgBus,
		channels: make(map[string]Channel),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register adds a channel. Call before StartAll.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.limiters[ch.Name()] = rate.NewLimiter(rate.Limit(outboundRatePerSec), outboundBurst)
	m.mu.Unlock()
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts the outbound dispatcher and every registered channel.
// One channel failing to start is logged, not fatal.
func (m *Manager) StartAll(ctx context.Context) error {
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchCancel = cancel
	m.dispatchDone = make(chan struct{})
	go m.dispatchOutbound(dispatchCtx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}
	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel failed to start", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatcher and all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	if m.dispatchCancel != nil {
		m.dispatchCancel()
		<-m.dispatchDone
		m.dispatchCancel = nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// dispatchOutbound routes bus outbound messages to their channel and
// resolves the publisher's delivery waiter with the outcome.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer close(m.dispatchDone)
	slog.Info("outbound dispatcher started")

	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}
		if IsInternalChannel(msg.Channel) {
			m.bus.ResolveWaiter(msg.RequestID, true, "")
			continue
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		limiter := m.limiters[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
			m.bus.ResolveWaiter(msg.RequestID, false, fmt.Sprintf("unknown channel %q", msg.Channel))
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("outbound send failed", "channel", msg.Channel, "error", err)
			m.bus.ResolveWaiter(msg.RequestID, false, err.Error())
			continue
		}
		m.bus.ResolveWaiter(msg.RequestID, true, "")
	}
}

// Status reports each channel's running state.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch.IsRunning()
	}
	return out
}

// Names lists the registered channels.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
