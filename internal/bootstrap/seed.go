// Package bootstrap seeds a new workspace with the markdown files the
// system prompt is built from. Existing files are never overwritten; users
// edit them to shape the agent.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace bootstrap files, in system prompt order.
const (
	AgentsFile   = "AGENTS.md"
	SoulFile     = "SOUL.md"
	UserFile     = "USER.md"
	ToolsFile    = "TOOLS.md"
	IdentityFile = "IDENTITY.md"
)

//go:embed templates/*.md
var templateFS embed.FS

var templateFiles = []string{
	AgentsFile,
	SoulFile,
	UserFile,
	ToolsFile,
	IdentityFile,
}

// workspaceDirs are created alongside the bootstrap files.
var workspaceDirs = []string{"memory", "skills", "sessions", "media"}

// ReadTemplate returns the content of an embedded template.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureWorkspace seeds the bootstrap files and standard directories into
// workspaceDir. Only missing files are written. Returns the files created.
func EnsureWorkspace(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, err
	}
	for _, dir := range workspaceDirs {
		if err := os.MkdirAll(filepath.Join(workspaceDir, dir), 0o755); err != nil {
			return nil, err
		}
	}

	var created []string
	for _, name := range templateFiles {
		ok, err := seedTemplate(workspaceDir, name)
		if err != nil {
			slog.Warn("bootstrap seed failed", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// seedTemplate writes one template if absent. O_EXCL keeps a concurrent
// second seeding from clobbering a file the first already wrote.
func seedTemplate(workspaceDir, name string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)
	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
