// Package memory owns the durable long-term memory files: MEMORY.md (the
// rewritten facts blob), HISTORY.md (append-only log of consolidation
// entries) and per-day note files. The consolidator is the only writer of
// MEMORY.md and HISTORY.md.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store reads and writes the memory files under <workspace>/memory.
type Store struct {
	memoryDir string
	dailyDir  string
}

// NewStore creates the memory directories under workspace. dailySubdir
// optionally nests the per-day notes one level deeper.
func NewStore(workspace, dailySubdir string) (*Store, error) {
	memoryDir := filepath.Join(workspace, "memory")
	dailyDir := memoryDir
	if dailySubdir != "" {
		dailyDir = filepath.Join(memoryDir, dailySubdir)
	}
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Store{memoryDir: memoryDir, dailyDir: dailyDir}, nil
}

func (s *Store) memoryPath() string  { return filepath.Join(s.memoryDir, "MEMORY.md") }
func (s *Store) historyPath() string { return filepath.Join(s.memoryDir, "HISTORY.md") }

// TodayNotePath returns the path of today's note file.
func (s *Store) TodayNotePath() string {
	return filepath.Join(s.dailyDir, time.Now().Format("2006-01-02")+".md")
}

// ReadMemory returns the long-term memory blob, empty when absent.
func (s *Store) ReadMemory() string {
	data, err := os.ReadFile(s.memoryPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteMemory replaces the long-term memory blob.
func (s *Store) WriteMemory(content string) error {
	if err := os.WriteFile(s.memoryPath(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// AppendHistory appends one consolidation entry to the history log,
// blank-line separated.
func (s *Store) AppendHistory(entry string) error {
	f, err := os.OpenFile(s.historyPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.TrimRight(entry, " \t\n") + "\n\n"); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ReadToday returns today's notes, empty when absent.
func (s *Store) ReadToday() string {
	data, err := os.ReadFile(s.TodayNotePath())
	if err != nil {
		return ""
	}
	return string(data)
}

// AppendToday appends content to today's notes, creating the file with a
// date header on first write.
func (s *Store) AppendToday(content string) error {
	path := s.TodayNotePath()
	existing, err := os.ReadFile(path)
	if err == nil {
		content = string(existing) + "\n" + content
	} else {
		content = "# " + time.Now().Format("2006-01-02") + "\n\n" + content
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("append today note: %w", err)
	}
	return nil
}

// MemoryContext assembles the memory sections injected into the system
// prompt: long-term memory plus today's notes, whichever exist.
func (s *Store) MemoryContext() string {
	var parts []string
	if longTerm := s.ReadMemory(); longTerm != "" {
		parts = append(parts, "## Long-term Memory\n"+longTerm)
	}
	if today := s.ReadToday(); today != "" {
		parts = append(parts, "## Today's Notes\n"+today)
	}
	return strings.Join(parts, "\n\n")
}
