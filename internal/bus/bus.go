// Package bus provides the in-process message bus that decouples channel
// adapters from the agent runtime. Inbound messages for a session whose turn
// is already in flight are buffered and re-delivered as one merged follow-up,
// so a single conversation never has two LLM turns running at once.
package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultQueueSize = 256

// MessageBus routes inbound and outbound messages between channels and the
// agent loop. Safe for concurrent use.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu       sync.Mutex
	active   map[string]bool             // session keys with a turn in flight
	buffers  map[string][]InboundMessage // follow-ups queued behind an active turn
	overflow []InboundMessage            // merged follow-ups that found the queue full

	wmu     sync.Mutex
	waiters map[string]chan Delivery // request_id → one-shot delivery ack
}

// New creates a message bus with bounded queues. Publishing to a full queue
// blocks the caller, which is the backpressure model for the whole runtime.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultQueueSize),
		outbound: make(chan OutboundMessage, defaultQueueSize),
		active:   make(map[string]bool),
		buffers:  make(map[string][]InboundMessage),
		waiters:  make(map[string]chan Delivery),
	}
}

// PublishInbound enqueues a message for the agent. If the message's session
// already has a turn in flight it is buffered instead and will surface later
// as part of one merged follow-up (see CompleteInboundTurn).
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	key := msg.SessionKey()
	b.mu.Lock()
	if b.active[key] {
		b.buffers[key] = append(b.buffers[key], msg)
		n := len(b.buffers[key])
		b.mu.Unlock()
		slog.Debug("bus: buffered follow-up", "session", key, "buffered", n)
		return
	}
	b.mu.Unlock()

	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is done. The
// consumed message's session becomes the active session: subsequent inbound
// publishes for it are buffered until CompleteInboundTurn. Overflowed merged
// follow-ups are drained ahead of the queue.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	b.mu.Lock()
	if len(b.overflow) > 0 {
		msg := b.overflow[0]
		b.overflow = b.overflow[1:]
		b.active[msg.SessionKey()] = true
		b.mu.Unlock()
		return msg, true
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		b.mu.Lock()
		b.active[msg.SessionKey()] = true
		b.mu.Unlock()
		return msg, true
	}
}

// CompleteInboundTurn marks the session's turn finished. Any messages buffered
// while the turn ran are drained and re-enqueued at the queue tail as exactly
// one merged follow-up.
func (b *MessageBus) CompleteInboundTurn(sessionKey string) {
	b.mu.Lock()
	buffered := b.buffers[sessionKey]
	delete(b.buffers, sessionKey)
	delete(b.active, sessionKey)
	b.mu.Unlock()

	if len(buffered) == 0 {
		return
	}

	merged := mergeFollowUps(buffered)
	slog.Debug("bus: merged follow-ups", "session", sessionKey, "count", len(buffered))

	// This runs on the consumer's own goroutine. A blocking send on a full
	// queue would deadlock the loop against itself, so the merged message
	// spills to the overflow list instead and ConsumeInbound picks it up.
	select {
	case b.inbound <- merged:
	default:
		b.mu.Lock()
		b.overflow = append(b.overflow, merged)
		b.mu.Unlock()
		slog.Debug("bus: inbound queue full, merged follow-up spilled to overflow", "session", sessionKey)
	}
}

// mergeFollowUps folds buffered messages into a single inbound message.
// Identity fields come from the first entry; content lines are prefixed with
// the sender unless there is only one entry; media concatenates in order.
func mergeFollowUps(entries []InboundMessage) InboundMessage {
	first := entries[0]
	merged := InboundMessage{
		Channel:   first.Channel,
		SenderID:  first.SenderID,
		ChatID:    first.ChatID,
		Timestamp: first.Timestamp,
	}

	if len(entries) == 1 {
		merged.Content = first.Content
	} else {
		parts := make([]string, 0, len(entries))
		for _, e := range entries {
			parts = append(parts, "["+e.SenderID+"] "+e.Content)
		}
		merged.Content = strings.Join(parts, "\n\n")
	}

	for _, e := range entries {
		merged.Media = append(merged.Media, e.Media...)
	}

	meta := make(map[string]any, len(first.Metadata)+2)
	for k, v := range first.Metadata {
		meta[k] = v
	}
	collected := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{
			"sender_id": e.SenderID,
			"content":   e.Content,
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		}
		if len(e.Media) > 0 {
			item["media"] = append([]string(nil), e.Media...)
		}
		if len(e.Metadata) > 0 {
			item["metadata"] = e.Metadata
		}
		collected = append(collected, item)
	}
	meta["collected_messages"] = collected
	meta["collected_count"] = len(entries)
	merged.Metadata = meta

	return merged
}

// PublishOutbound enqueues a message for channel delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// CreateWaiter registers a one-shot delivery ack for requestID and returns the
// channel it resolves on. Registering over an unresolved waiter resolves the
// old one as failed.
func (b *MessageBus) CreateWaiter(requestID string) <-chan Delivery {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	if old, ok := b.waiters[requestID]; ok {
		old <- Delivery{OK: false, Error: "superseded by a newer outbound request"}
		delete(b.waiters, requestID)
	}

	ch := make(chan Delivery, 1)
	b.waiters[requestID] = ch
	return ch
}

// ResolveWaiter reports the delivery outcome for requestID. Returns false when
// no waiter is registered (already resolved, discarded, or never created).
func (b *MessageBus) ResolveWaiter(requestID string, ok bool, errText string) bool {
	if requestID == "" {
		return false
	}
	b.wmu.Lock()
	ch, exists := b.waiters[requestID]
	if exists {
		delete(b.waiters, requestID)
	}
	b.wmu.Unlock()

	if !exists {
		return false
	}
	ch <- Delivery{OK: ok, Error: errText}
	return true
}

// DiscardWaiter drops a waiter without resolving it. Callers that stop
// waiting (e.g. on timeout) must discard to avoid leaking the entry.
func (b *MessageBus) DiscardWaiter(requestID string) {
	b.wmu.Lock()
	delete(b.waiters, requestID)
	b.wmu.Unlock()
}

// InboundBacklog reports how many inbound messages are queued (not buffered),
// overflow included.
func (b *MessageBus) InboundBacklog() int {
	b.mu.Lock()
	n := len(b.overflow)
	b.mu.Unlock()
	return len(b.inbound) + n
}

// ActiveSessions returns the session keys with a turn currently in flight.
func (b *MessageBus) ActiveSessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.active))
	for k := range b.active {
		keys = append(keys, k)
	}
	return keys
}
