package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 256 * 1024

// pathResolver maps tool-supplied paths into the workspace and optionally
// restricts access to it.
type pathResolver struct {
	workspace string
	restrict  bool
	allowed   []string // extra prefixes reachable even when restricted
}

// Resolve expands a relative path against the workspace and enforces the
// restriction. Returned paths are absolute and cleaned.
func (r pathResolver) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.workspace, path)
	}
	path = filepath.Clean(path)

	if !r.restrict {
		return path, nil
	}
	if strings.HasPrefix(path, filepath.Clean(r.workspace)+string(os.PathSeparator)) || path == filepath.Clean(r.workspace) {
		return path, nil
	}
	for _, prefix := range r.allowed {
		if strings.HasPrefix(path, filepath.Clean(prefix)+string(os.PathSeparator)) || path == filepath.Clean(prefix) {
			return path, nil
		}
	}
	return "", fmt.Errorf("path %s is outside the workspace", path)
}

// ReadFileTool reads a file's contents.
type ReadFileTool struct {
	resolver pathResolver
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{resolver: pathResolver{workspace: workspace, restrict: restrict}}
}

// AllowPaths adds prefixes readable even under workspace restriction
// (e.g. the skills directory).
func (t *ReadFileTool) AllowPaths(prefixes ...string) {
	t.resolver.allowed = append(t.resolver.allowed, prefixes...)
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }
func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the workspace",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + fmt.Sprintf("\n...(truncated, %d bytes total)", len(data)), nil
	}
	return string(data), nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct {
	resolver pathResolver
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{resolver: pathResolver{workspace: workspace, restrict: restrict}}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file (overwrites; creates parent directories)" }
func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the workspace",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces an exact text occurrence in a file.
type EditFileTool struct {
	resolver pathResolver
}

func NewEditFileTool(workspace string, restrict bool) *EditFileTool {
	return &EditFileTool{resolver: pathResolver{workspace: workspace, restrict: restrict}}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace an exact text occurrence in a file. old_text must appear exactly once."
}
func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the workspace",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if oldText == "" {
		return "", fmt.Errorf("old_text is required")
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	content := string(data)
	switch n := strings.Count(content, oldText); {
	case n == 0:
		return "", fmt.Errorf("old_text not found in %s", path)
	case n > 1:
		return "", fmt.Errorf("old_text appears %d times in %s; provide more context to make it unique", n, path)
	}

	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return "Edited " + path, nil
}

// ListDirTool lists a directory's entries.
type ListDirTool struct {
	resolver pathResolver
}

func NewListDirTool(workspace string, restrict bool) *ListDirTool {
	return &ListDirTool{resolver: pathResolver{workspace: workspace, restrict: restrict}}
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the contents of a directory" }
func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path; defaults to the workspace root",
			},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			b.WriteString(e.Name() + "/\n")
			continue
		}
		info, err := e.Info()
		if err != nil {
			b.WriteString(e.Name() + "\n")
			continue
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), info.Size())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
