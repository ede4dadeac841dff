// Package channels connects external messaging platforms to the agent
// runtime through the message bus. Each adapter translates platform events
// into inbound messages and delivers outbound messages back.
package channels

import (
	"context"
	"strings"

	"github.com/quietloop/fennec/internal/bus"
)

// InternalChannels never dispatch outbound through an adapter.
var InternalChannels = map[string]bool{
	"system":   true,
	"subagent": true,
	"cron":     true,
}

// IsInternalChannel reports whether name is a runtime-internal channel.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel is one platform adapter.
type Channel interface {
	// Name returns the channel identifier ("telegram", "discord", "cli").
	Name() string

	// Start begins listening. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down and waits for its receive loop to exit.
	Stop(ctx context.Context) error

	// Send delivers one outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively receiving.
	IsRunning() bool
}

// Base carries the state shared by all adapters: the bus handle, the
// allowlist, and the running flag.
type Base struct {
	name      string
	bus       *bus.MessageBus
	running   bool
	allowFrom []string
}

func NewBase(name string, msgBus *bus.MessageBus, allowFrom []string) *Base {
	return &Base{name: name, bus: msgBus, allowFrom: allowFrom}
}

func (b *Base) Name() string            { return b.name }
func (b *Base) IsRunning() bool         { return b.running }
func (b *Base) SetRunning(running bool) { b.running = running }
func (b *Base) Bus() *bus.MessageBus    { return b.bus }

// IsAllowed checks the sender against the allowlist. An empty allowlist
// admits everyone. Compound sender ids ("123456|username") match on either
// part; allowlist entries may carry a leading "@" for usernames.
func (b *Base) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	idPart, userPart, _ := strings.Cut(senderID, "|")
	for _, allowed := range b.allowFrom {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}
	return false
}

// HandleMessage publishes a received message to the bus after the
// allowlist check. The standard inbound path for all adapters.
func (b *Base) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]any) {
	if !b.IsAllowed(senderID) {
		return
	}
	b.bus.PublishInbound(bus.InboundMessage{
		Channel:  b.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: metadata,
	})
}

// Truncate shortens s for log previews.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
