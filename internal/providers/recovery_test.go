package providers

import (
	"strings"
	"testing"
)

func TestRecoverTextToolCalls(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantCalls   int
		wantContent string
	}{
		{
			name:        "single call with surrounding text",
			content:     `Hello [tool_call] message({"content":"hi"}) bye`,
			wantCalls:   1,
			wantContent: "Hello  bye",
		},
		{
			name:        "no marker returns content unchanged",
			content:     "just a normal reply\n\n\n\nwith gaps",
			wantCalls:   0,
			wantContent: "just a normal reply\n\n\n\nwith gaps",
		},
		{
			name:        "two calls parsed left to right",
			content:     `[tool_call] read_file({"path":"a.txt"}) and [tool_call] read_file({"path":"b.txt"})`,
			wantCalls:   2,
			wantContent: "and",
		},
		{
			name:        "malformed occurrence left in text",
			content:     `[tool_call] broken({not json}) then [tool_call] message({"content":"ok"})`,
			wantCalls:   1,
			wantContent: "[tool_call] broken({not json}) then",
		},
		{
			name:        "missing closing paren is malformed",
			content:     `[tool_call] message({"content":"hi"} trailing`,
			wantCalls:   0,
			wantContent: `[tool_call] message({"content":"hi"} trailing`,
		},
		{
			name:        "newline runs collapse after excision",
			content:     "a\n\n\n[tool_call] message({\"content\":\"x\"})\n\n\n\nb",
			wantCalls:   1,
			wantContent: "a\n\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, content := recoverTextToolCalls(tt.content)
			if len(calls) != tt.wantCalls {
				t.Fatalf("got %d calls, want %d", len(calls), tt.wantCalls)
			}
			if content != tt.wantContent {
				t.Errorf("content = %q, want %q", content, tt.wantContent)
			}
		})
	}
}

func TestRecoveredCallShape(t *testing.T) {
	calls, _ := recoverTextToolCalls(`[tool_call] message({"content":"hi"})`)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	call := calls[0]
	if call.Name != "message" {
		t.Errorf("name = %q, want message", call.Name)
	}
	if got := call.Arguments["content"]; got != "hi" {
		t.Errorf("arguments content = %v, want hi", got)
	}
	if !strings.HasPrefix(call.ID, "text_toolcall_") || len(call.ID) != len("text_toolcall_")+12 {
		t.Errorf("id = %q, want text_toolcall_ plus 12 hex chars", call.ID)
	}
}

func TestRecoverIsStableWhenNothingParses(t *testing.T) {
	content := "plain [tool_call] not_a_call and more text"
	calls, got := recoverTextToolCalls(content)
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls))
	}
	if got != content {
		t.Errorf("content changed: %q → %q", content, got)
	}
}
