package channels

import (
	"context"
	"testing"
	"time"

	"github.com/quietloop/fennec/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowFrom []string
		senderID  string
		want      bool
	}{
		{"empty allowlist admits everyone", nil, "12345", true},
		{"plain id match", []string{"12345"}, "12345", true},
		{"plain id mismatch", []string{"12345"}, "99999", false},
		{"compound id part match", []string{"12345"}, "12345|alice", true},
		{"compound username part match", []string{"alice"}, "12345|alice", true},
		{"at-prefixed username", []string{"@alice"}, "12345|alice", true},
		{"compound no match", []string{"bob"}, "12345|alice", false},
		{"full compound entry", []string{"12345|alice"}, "12345|alice", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBase("test", bus.New(), tt.allowFrom)
			if got := b.IsAllowed(tt.senderID); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.senderID, got, tt.want)
			}
		})
	}
}

func TestHandleMessagePublishes(t *testing.T) {
	msgBus := bus.New()
	b := NewBase("test", msgBus, []string{"alice"})

	b.HandleMessage("12345|alice", "chat1", "hello", nil, map[string]any{"k": "v"})
	b.HandleMessage("666|mallory", "chat1", "blocked", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if msg.Content != "hello" || msg.Channel != "test" || msg.ChatID != "chat1" {
		t.Errorf("inbound = %+v", msg)
	}
	if msgBus.InboundBacklog() != 0 {
		t.Error("blocked sender's message reached the bus")
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short passes through", func(t *testing.T) {
		chunks := SplitMessage("hello", 100)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("chunks = %q", chunks)
		}
	})

	t.Run("prefers paragraph break", func(t *testing.T) {
		content := "first paragraph here\n\nsecond paragraph follows after the break"
		chunks := SplitMessage(content, 40)
		if len(chunks) != 2 {
			t.Fatalf("chunks = %q", chunks)
		}
		if chunks[0] != "first paragraph here" {
			t.Errorf("chunk[0] = %q", chunks[0])
		}
	})

	t.Run("falls back to word break", func(t *testing.T) {
		content := "aaaa bbbb cccc dddd eeee ffff gggg hhhh"
		for _, chunk := range SplitMessage(content, 12) {
			if len([]rune(chunk)) > 12 {
				t.Errorf("chunk %q exceeds limit", chunk)
			}
		}
	})

	t.Run("hard cut when no break", func(t *testing.T) {
		content := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
		chunks := SplitMessage(content, 10)
		if len(chunks) != 3 {
			t.Errorf("chunks = %q", chunks)
		}
	})

	t.Run("rune counting", func(t *testing.T) {
		content := "日本語のテキストです 日本語のテキストです"
		for _, chunk := range SplitMessage(content, 10) {
			if len([]rune(chunk)) > 10 {
				t.Errorf("chunk %q exceeds rune limit", chunk)
			}
		}
	})
}

func TestWrapToWidth(t *testing.T) {
	got := WrapToWidth("one two three four", 9)
	want := "one two\nthree\nfour"
	if got != want {
		t.Errorf("WrapToWidth = %q, want %q", got, want)
	}
	if WrapToWidth("short", 0) != "short" {
		t.Error("zero width should pass through")
	}
}

// fakeChannel records sends and can fail on demand.
type fakeChannel struct {
	*Base
	sent []bus.OutboundMessage
	fail bool
}

func newFakeChannel(name string, msgBus *bus.MessageBus) *fakeChannel {
	return &fakeChannel{Base: NewBase(name, msgBus, nil)}
}

func (f *fakeChannel) Start(_ context.Context) error { f.SetRunning(true); return nil }
func (f *fakeChannel) Stop(_ context.Context) error  { f.SetRunning(false); return nil }
func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestManagerDispatch(t *testing.T) {
	msgBus := bus.New()
	m := NewManager(msgBus)
	ch := newFakeChannel("test", msgBus)
	m.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	waiter := msgBus.CreateWaiter("req1")
	msgBus.PublishOutbound(bus.OutboundMessage{
		RequestID: "req1", Channel: "test", ChatID: "c1", Content: "hi",
	})

	select {
	case d := <-waiter:
		if !d.OK {
			t.Errorf("delivery failed: %s", d.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved")
	}
	if len(ch.sent) != 1 || ch.sent[0].Content != "hi" {
		t.Errorf("sent = %+v", ch.sent)
	}
}

func TestManagerDispatchUnknownChannel(t *testing.T) {
	msgBus := bus.New()
	m := NewManager(msgBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	waiter := msgBus.CreateWaiter("req2")
	msgBus.PublishOutbound(bus.OutboundMessage{
		RequestID: "req2", Channel: "nope", ChatID: "c1", Content: "hi",
	})

	select {
	case d := <-waiter:
		if d.OK {
			t.Error("delivery to unknown channel reported OK")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved")
	}
}

func TestManagerDispatchInternalChannel(t *testing.T) {
	msgBus := bus.New()
	m := NewManager(msgBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	waiter := msgBus.CreateWaiter("req3")
	msgBus.PublishOutbound(bus.OutboundMessage{
		RequestID: "req3", Channel: "system", ChatID: "c1", Content: "internal",
	})

	select {
	case d := <-waiter:
		if !d.OK {
			t.Errorf("internal channel delivery failed: %s", d.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved")
	}
}
