package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureWorkspaceSeedsOnce(t *testing.T) {
	dir := t.TempDir()

	created, err := EnsureWorkspace(dir)
	if err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if len(created) != len(templateFiles) {
		t.Errorf("created %d files, want %d: %v", len(created), len(templateFiles), created)
	}
	for _, name := range templateFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	for _, sub := range workspaceDirs {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("missing dir %s", sub)
		}
	}

	// Second run must not overwrite user edits.
	edited := filepath.Join(dir, SoulFile)
	if err := os.WriteFile(edited, []byte("custom soul"), 0o644); err != nil {
		t.Fatal(err)
	}
	created, err = EnsureWorkspace(dir)
	if err != nil {
		t.Fatalf("second EnsureWorkspace: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("second run created %v, want none", created)
	}
	data, _ := os.ReadFile(edited)
	if string(data) != "custom soul" {
		t.Errorf("user edit overwritten: %q", data)
	}
}

func TestReadTemplate(t *testing.T) {
	content, err := ReadTemplate(AgentsFile)
	if err != nil {
		t.Fatalf("ReadTemplate: %v", err)
	}
	if content == "" {
		t.Error("empty template")
	}
	if _, err := ReadTemplate("NOPE.md"); err == nil {
		t.Error("expected error for unknown template")
	}
}
