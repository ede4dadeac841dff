package providers

import "testing"

func TestIsGeminiProxy(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		apiBase string
		want    bool
	}{
		{"gemini via proxy", "gemini-2.0-flash", "https://proxy.example.com/v1", true},
		{"gemini official endpoint", "gemini-2.0-flash", "https://generativelanguage.googleapis.com/v1beta/openai", false},
		{"non-gemini model", "gpt-4o", "https://proxy.example.com/v1", false},
		{"case insensitive model match", "GEMINI-pro", "https://proxy.example.com/v1", true},
		{"empty base", "gemini-2.0-flash", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isGeminiProxy(tt.model, tt.apiBase); got != tt.want {
				t.Errorf("isGeminiProxy(%q, %q) = %v, want %v", tt.model, tt.apiBase, got, tt.want)
			}
		})
	}
}

func TestNormalizeForGeminiProxy(t *testing.T) {
	in := []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "do it"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "c1", Name: "exec"}}},
		{Role: "tool", Content: "result", ToolCallID: "c1", Name: "exec"},
		{Role: "assistant", Content: "done", ToolCalls: []ToolCall{{ID: "c2", Name: "exec"}}},
	}
	got := normalizeForGeminiProxy(in)

	if len(got) != 3 {
		t.Fatalf("kept %d messages, want 3", len(got))
	}
	wantRoles := []string{"system", "user", "assistant"}
	for i, r := range wantRoles {
		if got[i].Role != r {
			t.Errorf("message %d role = %q, want %q", i, got[i].Role, r)
		}
	}
	last := got[2]
	if last.Content != "done" {
		t.Errorf("assistant content = %q, want done", last.Content)
	}
	if last.ToolCalls != nil || last.ToolCallID != "" || last.Name != "" {
		t.Errorf("tool plumbing must be stripped, got %+v", last)
	}
}

func TestNormalizeForGeminiProxyKeepsOriginalWhenEmptied(t *testing.T) {
	in := []Message{
		{Role: "tool", Content: "only tool output", ToolCallID: "c1"},
	}
	got := normalizeForGeminiProxy(in)
	if len(got) != 1 || got[0].Role != "tool" {
		t.Fatalf("emptied rewrite must fall back to the original list, got %+v", got)
	}
}
