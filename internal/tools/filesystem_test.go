package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(ws, true)
	out, err := write.Execute(ctx, map[string]any{"path": "notes/a.txt", "content": "hello"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out, "a.txt") {
		t.Errorf("write output = %q", out)
	}

	read := NewReadFileTool(ws, true)
	out, err = read.Execute(ctx, map[string]any{"path": "notes/a.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != "hello" {
		t.Errorf("read = %q", out)
	}
}

func TestRestrictBlocksEscape(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	read := NewReadFileTool(ws, true)
	if _, err := read.Execute(ctx, map[string]any{"path": "../../etc/passwd"}); err == nil {
		t.Error("path escape allowed under restriction")
	}
	if _, err := read.Execute(ctx, map[string]any{"path": "/etc/passwd"}); err == nil {
		t.Error("absolute path outside workspace allowed under restriction")
	}
}

func TestUnrestrictedAllowsAbsolute(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "x.txt")
	if err := os.WriteFile(target, []byte("outside"), 0o644); err != nil {
		t.Fatal(err)
	}

	read := NewReadFileTool(ws, false)
	out, err := read.Execute(context.Background(), map[string]any{"path": target})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != "outside" {
		t.Errorf("read = %q", out)
	}
}

func TestEditFile(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(ws, "f.txt")
	if err := os.WriteFile(path, []byte("alpha beta gamma"), 0o644); err != nil {
		t.Fatal(err)
	}

	edit := NewEditFileTool(ws, true)
	if _, err := edit.Execute(ctx, map[string]any{"path": "f.txt", "old_text": "beta", "new_text": "BETA"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alpha BETA gamma" {
		t.Errorf("content = %q", data)
	}

	if _, err := edit.Execute(ctx, map[string]any{"path": "f.txt", "old_text": "missing", "new_text": "x"}); err == nil {
		t.Error("edit with absent old_text succeeded")
	}
	if _, err := edit.Execute(ctx, map[string]any{"path": "f.txt", "old_text": "a", "new_text": "x"}); err == nil {
		t.Error("ambiguous old_text succeeded")
	}
}

func TestListDir(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, "b.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(ws, "a.txt"), []byte("y"), 0o644)
	os.Mkdir(filepath.Join(ws, "sub"), 0o755)

	list := NewListDirTool(ws, true)
	out, err := list.Execute(context.Background(), map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"a.txt", "b.txt", "sub"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q: %s", want, out)
		}
	}
	if strings.Index(out, "a.txt") > strings.Index(out, "b.txt") {
		t.Error("listing not sorted")
	}
}

func TestExecTool(t *testing.T) {
	ws := t.TempDir()
	exec := NewExecTool(ws, 10)

	out, err := exec.Execute(context.Background(), map[string]any{"command": "echo hi"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(out, "hi") {
		t.Errorf("output = %q", out)
	}

	// Commands run in the workspace.
	out, err = exec.Execute(context.Background(), map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if !strings.Contains(out, filepath.Base(ws)) {
		t.Errorf("pwd = %q, want under %q", out, ws)
	}
}
