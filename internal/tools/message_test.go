package tools

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/quietloop/fennec/internal/bus"
)

// fakePublisher resolves every waiter with a scripted delivery.
type fakePublisher struct {
	mu        sync.Mutex
	published []bus.OutboundMessage
	delivery  bus.Delivery
}

func (f *fakePublisher) PublishOutbound(msg bus.OutboundMessage) {
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
}

func (f *fakePublisher) CreateWaiter(string) <-chan bus.Delivery {
	ch := make(chan bus.Delivery, 1)
	ch <- f.delivery
	return ch
}

func (f *fakePublisher) DiscardWaiter(string) {}

func TestMessageToolUsesRequestOrigin(t *testing.T) {
	pub := &fakePublisher{delivery: bus.Delivery{OK: true}}
	tool := NewMessageTool(pub)

	ctx := WithRequest(context.Background(), RequestContext{Channel: "telegram", ChatID: "42"})
	out, err := tool.Execute(ctx, map[string]any{"content": "progress update"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "telegram:42") {
		t.Errorf("out = %q", out)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages", len(pub.published))
	}
	msg := pub.published[0]
	if msg.Channel != "telegram" || msg.ChatID != "42" || msg.Content != "progress update" {
		t.Errorf("published = %+v", msg)
	}
	if msg.RequestID == "" {
		t.Error("no request id for delivery ack")
	}
}

func TestMessageToolExplicitTargetOverrides(t *testing.T) {
	pub := &fakePublisher{delivery: bus.Delivery{OK: true}}
	tool := NewMessageTool(pub)

	ctx := WithRequest(context.Background(), RequestContext{Channel: "telegram", ChatID: "42"})
	_, err := tool.Execute(ctx, map[string]any{
		"content": "cross-post", "channel": "discord", "chat_id": "99",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if msg := pub.published[0]; msg.Channel != "discord" || msg.ChatID != "99" {
		t.Errorf("published = %+v", msg)
	}
}

func TestMessageToolDeliveryFailure(t *testing.T) {
	pub := &fakePublisher{delivery: bus.Delivery{OK: false, Error: "socket closed"}}
	tool := NewMessageTool(pub)

	ctx := WithRequest(context.Background(), RequestContext{Channel: "telegram", ChatID: "42"})
	_, err := tool.Execute(ctx, map[string]any{"content": "hi"})
	if err == nil || !strings.Contains(err.Error(), "socket closed") {
		t.Errorf("err = %v", err)
	}
}

func TestMessageToolRequiresTarget(t *testing.T) {
	pub := &fakePublisher{delivery: bus.Delivery{OK: true}}
	tool := NewMessageTool(pub)

	if _, err := tool.Execute(context.Background(), map[string]any{"content": "hi"}); err == nil {
		t.Error("no origin and no explicit target accepted")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("empty content accepted")
	}
}

func TestRegistryExecuteErrors(t *testing.T) {
	reg := NewRegistry()
	out := reg.Execute(context.Background(), "missing", nil)
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("unknown tool output = %q", out)
	}
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	pub := &fakePublisher{delivery: bus.Delivery{OK: true}}
	reg := NewRegistry()

	if err := reg.Register(NewMessageTool(pub)); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := reg.Register(NewMessageTool(pub))
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("duplicate Register err = %v", err)
	}
	if got := len(reg.Names()); got != 1 {
		t.Errorf("registry holds %d tools, want 1", got)
	}
}
