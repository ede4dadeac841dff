package sessions

import (
	"testing"
	"time"

	"github.com/quietloop/fennec/internal/providers"
)

func msg(role, content string) providers.Message {
	return providers.Message{Role: role, Content: content, Timestamp: time.Now()}
}

func TestGetHistoryStartsAtUserBoundary(t *testing.T) {
	s := &Session{Key: "cli:direct"}
	s.AddMessage(msg("user", "u1"))
	s.AddMessage(msg("assistant", "a1"))
	s.AddMessage(msg("user", "u2"))

	got := s.GetHistory(2)
	if len(got) != 1 {
		t.Fatalf("history = %d records, want 1", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "u2" {
		t.Errorf("history[0] = {%s %q}, want the trailing user turn", got[0].Role, got[0].Content)
	}
}

func TestGetHistoryDropsOrphanToolRecords(t *testing.T) {
	s := &Session{Key: "cli:direct"}
	s.AddMessage(msg("user", "u1"))
	s.AddMessage(providers.Message{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "c1", Name: "exec"}}})
	s.AddMessage(providers.Message{Role: "tool", ToolCallID: "c1", Name: "exec", Content: "r1"})
	s.AddMessage(msg("assistant", "a1"))
	s.AddMessage(msg("user", "u2"))
	s.AddMessage(providers.Message{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "c2", Name: "exec"}}})
	s.AddMessage(providers.Message{Role: "tool", ToolCallID: "c2", Name: "exec", Content: "r2"})

	// Window lands inside the first tool exchange; the orphan tool record
	// for c1 must not survive, while the complete c2 pair must.
	got := s.GetHistory(6)
	if len(got) == 0 || got[0].Role != "user" {
		t.Fatalf("window must start at a user record, got %+v", got)
	}
	ids := make(map[string]bool)
	for _, m := range got {
		if m.Role == "assistant" {
			for _, tc := range m.ToolCalls {
				ids[tc.ID] = true
			}
		}
	}
	for _, m := range got {
		if m.Role == "tool" && !ids[m.ToolCallID] {
			t.Errorf("orphan tool record %q survived the window", m.ToolCallID)
		}
	}
	var sawC2 bool
	for _, m := range got {
		if m.Role == "tool" && m.ToolCallID == "c2" {
			sawC2 = true
		}
	}
	if !sawC2 {
		t.Error("paired tool record c2 was dropped")
	}
}

func TestGetHistoryEmptyWhenNoUserInWindow(t *testing.T) {
	s := &Session{Key: "cli:direct"}
	s.AddMessage(msg("user", "u1"))
	s.AddMessage(msg("assistant", "a1"))
	s.AddMessage(msg("assistant", "a2"))

	if got := s.GetHistory(2); len(got) != 0 {
		t.Errorf("window with no user boundary = %+v, want empty", got)
	}
}

func TestGetHistoryNonPositiveMax(t *testing.T) {
	s := &Session{Key: "cli:direct"}
	s.AddMessage(msg("user", "u1"))

	if got := s.GetHistory(0); got != nil {
		t.Errorf("GetHistory(0) = %+v, want nil", got)
	}
	if got := s.GetHistory(-3); got != nil {
		t.Errorf("GetHistory(-3) = %+v, want nil", got)
	}
}

func TestGetHistoryFullWindowKeepsOrder(t *testing.T) {
	s := &Session{Key: "cli:direct"}
	s.AddMessage(msg("user", "u1"))
	s.AddMessage(msg("assistant", "a1"))
	s.AddMessage(msg("user", "u2"))
	s.AddMessage(msg("assistant", "a2"))

	got := s.GetHistory(50)
	want := []string{"u1", "a1", "u2", "a2"}
	if len(got) != len(want) {
		t.Fatalf("history = %d records, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("history[%d] = %q, want %q", i, got[i].Content, w)
		}
	}
}

func TestClearResetsWatermarks(t *testing.T) {
	now := time.Now()
	s := &Session{
		Key:                "cli:direct",
		LastConsolidated:   7,
		LastConsolidatedAt: &now,
	}
	for i := 0; i < 10; i++ {
		s.AddMessage(msg("user", "x"))
	}

	s.Clear()
	if len(s.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(s.Messages))
	}
	if s.LastConsolidated != 0 || s.LastConsolidatedAt != nil {
		t.Errorf("watermarks = (%d, %v), want (0, nil)", s.LastConsolidated, s.LastConsolidatedAt)
	}
}

func TestCompressSnapshot(t *testing.T) {
	s := &Session{Key: "cli:direct"}
	for i := 0; i < 12; i++ {
		s.AddMessage(msg("user", "x"))
	}

	old, next := s.CompressSnapshot(5)
	if len(old) != 7 || next != 7 {
		t.Fatalf("snapshot = (%d records, watermark %d), want (7, 7)", len(old), next)
	}

	// Appends after the snapshot must not grow the copy.
	s.AddMessage(msg("user", "late"))
	if len(old) != 7 {
		t.Errorf("snapshot grew to %d records after append", len(old))
	}

	s.LastConsolidated = 7
	if old, next := s.CompressSnapshot(5); old != nil || next != 0 {
		t.Errorf("nothing past watermark, got (%d records, %d)", len(old), next)
	}
	if old, _ := s.CompressSnapshot(20); old != nil {
		t.Errorf("history inside keep window, got %d records", len(old))
	}
}

func TestAdvanceWatermark(t *testing.T) {
	s := &Session{Key: "cli:direct"}
	for i := 0; i < 10; i++ {
		s.AddMessage(msg("user", "x"))
	}

	if !s.AdvanceWatermark(7, time.Now()) {
		t.Fatal("forward advance refused")
	}
	if s.LastConsolidated != 7 || s.LastConsolidatedAt == nil {
		t.Fatalf("watermark = (%d, %v)", s.LastConsolidated, s.LastConsolidatedAt)
	}
	if s.AdvanceWatermark(7, time.Now()) || s.AdvanceWatermark(3, time.Now()) {
		t.Error("non-forward advance accepted")
	}

	s.Clear()
	if s.AdvanceWatermark(7, time.Now()) {
		t.Error("advance past the cleared history accepted")
	}
	if s.LastConsolidated != 0 {
		t.Errorf("LastConsolidated = %d after refused advance, want 0", s.LastConsolidated)
	}
}

func TestKeyHelpers(t *testing.T) {
	if got := Key("telegram", "12345"); got != "telegram:12345" {
		t.Errorf("Key = %q", got)
	}
	ch, id := Split("discord:42:7")
	if ch != "discord" || id != "42:7" {
		t.Errorf("Split = (%q, %q), want (discord, 42:7)", ch, id)
	}
	ch, id = Split("plain")
	if ch != "cli" || id != "plain" {
		t.Errorf("Split fallback = (%q, %q), want (cli, plain)", ch, id)
	}
	if !IsSubagent(SubagentKey("t1")) || IsSubagent("cron:j1") {
		t.Error("IsSubagent misclassifies")
	}
	if !IsCron(CronKey("j1")) || IsCron("subagent:t1") {
		t.Error("IsCron misclassifies")
	}
}

func TestEncodeKeyCollisionFree(t *testing.T) {
	a := encodeKey("a:b")
	b := encodeKey("a_b")
	if a == b {
		t.Fatalf("distinct keys encode to the same filename %q", a)
	}
	if a != "a%3Ab" {
		t.Errorf("encodeKey(a:b) = %q, want a%%3Ab", a)
	}
	if got := encodeKey("tele-gram.v2_x"); got != "tele-gram.v2_x" {
		t.Errorf("safe characters must pass through, got %q", got)
	}
}
