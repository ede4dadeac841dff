package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quietloop/fennec/internal/providers"
	"github.com/quietloop/fennec/internal/sessions"
)

const (
	consolidationHardLimit = 30
	consolidationCooldown  = 15 * time.Minute
)

// Consolidator folds aged session messages into the long-term memory files
// in the background. Per session it is single-flight: a trigger that
// arrives while a run is in flight sets a pending flag, and completion
// re-checks the trigger exactly once.
type Consolidator struct {
	store    *Store
	sessions *sessions.Store
	provider providers.Provider

	model             string
	maxTokens         int
	temperature       float64
	memoryWindow      int
	compressionWindow int

	mu      sync.Mutex
	running map[string]bool
	pending map[string]bool
	wg      sync.WaitGroup
}

// Config wires a Consolidator.
type Config struct {
	Store             *Store
	Sessions          *sessions.Store
	Provider          providers.Provider
	Model             string
	MaxTokens         int
	Temperature       float64
	MemoryWindow      int // matches the agent's history window
	CompressionWindow int // delta that triggers a run (default 12)
}

func NewConsolidator(cfg Config) *Consolidator {
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = 50
	}
	if cfg.CompressionWindow <= 0 {
		cfg.CompressionWindow = 12
	}
	return &Consolidator{
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		provider:          cfg.Provider,
		model:             cfg.Model,
		maxTokens:         cfg.MaxTokens,
		temperature:       cfg.Temperature,
		memoryWindow:      cfg.MemoryWindow,
		compressionWindow: cfg.CompressionWindow,
		running:           make(map[string]bool),
		pending:           make(map[string]bool),
	}
}

// keepCount is how many recent messages always stay out of consolidation.
func (c *Consolidator) keepCount() int {
	return max(1, c.memoryWindow/2)
}

// ShouldConsolidate reports whether the session has enough un-consolidated
// history to warrant a run: the delta past the keep window must be positive
// and either large (hard limit or compression window) or old (cooldown
// elapsed since the last run).
func (c *Consolidator) ShouldConsolidate(s *sessions.Session) bool {
	total, last, lastAt := s.Stats()
	keep := c.keepCount()
	if total <= keep {
		return false
	}
	delta := (total - keep) - last
	if delta <= 0 {
		return false
	}
	if delta >= consolidationHardLimit || delta >= c.compressionWindow {
		return true
	}
	if lastAt == nil {
		return false
	}
	return time.Since(*lastAt) >= consolidationCooldown
}

// Schedule starts a background consolidation for the session, deduplicated
// per session key. The compress slice and target watermark are snapshotted
// here, on the caller's goroutine, so the next turn can append to the
// session while the run is in flight. When a run is already in flight the
// request coalesces into one pending re-check at completion.
func (c *Consolidator) Schedule(s *sessions.Session) {
	key := s.Key
	c.mu.Lock()
	if c.running[key] {
		c.pending[key] = true
		c.mu.Unlock()
		slog.Debug("consolidation already running, marked pending", "session", key)
		return
	}
	c.running[key] = true
	c.mu.Unlock()

	old, nextWatermark := s.CompressSnapshot(c.keepCount())
	if len(old) == 0 {
		c.mu.Lock()
		delete(c.running, key)
		delete(c.pending, key)
		c.mu.Unlock()
		return
	}
	slog.Info("consolidation started", "session", key,
		"new", len(old), "next_watermark", nextWatermark)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consolidate(context.Background(), old); err != nil {
			slog.Error("consolidation failed", "session", key, "error", err)
		} else if s.AdvanceWatermark(nextWatermark, time.Now()) {
			if err := c.sessions.Save(s); err != nil {
				slog.Error("save session after consolidation failed", "session", key, "error", err)
			}
			slog.Info("consolidation done", "session", key, "last_consolidated", nextWatermark)
		} else {
			// The session was cleared (or already advanced) mid-run; the
			// memory files got the summary, the watermark stays put.
			slog.Info("consolidation done, watermark unchanged", "session", key)
		}

		c.mu.Lock()
		delete(c.running, key)
		repeat := c.pending[key]
		delete(c.pending, key)
		c.mu.Unlock()

		if repeat && c.ShouldConsolidate(s) {
			c.Schedule(s)
		}
	}()
}

// ArchiveAll consolidates a snapshot of a cleared session in the
// background: the whole snapshot goes to the LLM, no watermarks are
// advanced and no session is saved.
func (c *Consolidator) ArchiveAll(key string, snapshot []providers.Message) {
	if len(snapshot) == 0 {
		return
	}
	slog.Info("consolidation started (archive-all)", "session", key, "messages", len(snapshot))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consolidate(context.Background(), snapshot); err != nil {
			slog.Error("archive-all consolidation failed", "session", key, "error", err)
		}
	}()
}

// Wait blocks until all in-flight consolidations finish. Used on shutdown
// and by tests.
func (c *Consolidator) Wait() {
	c.wg.Wait()
}

// consolidate summarizes one batch of messages into the memory files. Any
// failure leaves memory and watermarks untouched; the next trigger retries.
func (c *Consolidator) consolidate(ctx context.Context, old []providers.Message) error {
	conversation := serializeMessages(old)
	currentMemory := c.store.ReadMemory()

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "You are a memory consolidation agent. Respond only with valid JSON."},
			{Role: "user", Content: buildConsolidationPrompt(currentMemory, conversation)},
		},
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return fmt.Errorf("consolidation LLM call: %w", err)
	}
	if resp.FinishReason == "error" {
		return fmt.Errorf("consolidation LLM call: %s", resp.Content)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return fmt.Errorf("consolidation LLM returned empty response")
	}

	result, err := parseConsolidationResult(text)
	if err != nil {
		return fmt.Errorf("parse consolidation response: %w", err)
	}

	if result.HistoryEntry != "" {
		if err := c.store.AppendHistory(result.HistoryEntry); err != nil {
			return err
		}
	}
	if result.MemoryUpdate != "" && result.MemoryUpdate != currentMemory {
		if err := c.store.WriteMemory(result.MemoryUpdate); err != nil {
			return err
		}
	}
	return nil
}

// serializeMessages renders the slice one line per message for the
// consolidation prompt. Empty-content records (assistant tool-call stubs)
// are skipped.
func serializeMessages(msgs []providers.Message) string {
	var lines []string
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		ts := "?"
		if !m.Timestamp.IsZero() {
			ts = m.Timestamp.Format("2006-01-02T15:04")
		}
		tools := ""
		if len(m.ToolsUsed) > 0 {
			tools = " [tools: " + strings.Join(m.ToolsUsed, ", ") + "]"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s%s: %s", ts, strings.ToUpper(m.Role), tools, m.Content))
	}
	return strings.Join(lines, "\n")
}

func buildConsolidationPrompt(currentMemory, conversation string) string {
	if currentMemory == "" {
		currentMemory = "(empty)"
	}
	return `You are a memory consolidation agent. Process this conversation and return a JSON object with exactly two keys:

1. "history_entry": A paragraph (2-5 sentences) summarizing the key events/decisions/topics. Start with a timestamp like [YYYY-MM-DD HH:MM]. Include enough detail to be useful when found by grep search later.

2. "memory_update": The updated long-term memory content. Add any new facts: user location, preferences, personal info, habits, project context, technical decisions, tools/services used. If nothing new, return the existing content unchanged.

## Current Long-term Memory
` + currentMemory + `

## Conversation to Process
` + conversation + `

Respond with ONLY valid JSON, no markdown fences.`
}
