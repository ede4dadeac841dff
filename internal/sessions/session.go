package sessions

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/quietloop/fennec/internal/providers"
)

// Session is the conversation state for one session key. Messages grow
// at the tail; the consolidator folds the head into long-term memory and
// advances LastConsolidated without removing records. A session is never
// deleted: /new clears the messages and resets the watermarks but the
// key (and its file) stays.
//
// The agent turn appends while a background consolidation may be applying
// its watermark or persisting, so every accessor takes the session mutex.
type Session struct {
	mu sync.Mutex

	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`

	// Consolidation watermarks. 0 <= LastConsolidated <= len(Messages).
	LastConsolidated   int        `json:"last_consolidated"`
	LastConsolidatedAt *time.Time `json:"last_consolidated_at,omitempty"`

	Created time.Time `json:"created_at"`
	Updated time.Time `json:"updated_at"`
}

// AddMessage appends one record to the history.
func (s *Session) AddMessage(msg providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now()
}

// GetHistory returns a well-formed suffix window of at most max records:
// the window starts at a user record, and every tool record in it
// references a tool call emitted by an assistant record also in it.
// Orphan tool records left over from the cut are dropped.
func (s *Session) GetHistory(max int) []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= 0 || len(s.Messages) == 0 {
		return nil
	}
	start := 0
	if len(s.Messages) > max {
		start = len(s.Messages) - max
	}
	window := s.Messages[start:]
	for len(window) > 0 && window[0].Role != "user" {
		window = window[1:]
	}
	if len(window) == 0 {
		return nil
	}

	known := make(map[string]bool)
	for _, m := range window {
		if m.Role != "assistant" {
			continue
		}
		for _, tc := range m.ToolCalls {
			known[tc.ID] = true
		}
	}

	out := make([]providers.Message, 0, len(window))
	for _, m := range window {
		if m.Role == "tool" && !known[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Snapshot returns a copy of the full history.
func (s *Session) Snapshot() []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]providers.Message(nil), s.Messages...)
}

// Stats returns the counters the consolidation trigger inspects.
func (s *Session) Stats() (total, lastConsolidated int, lastAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages), s.LastConsolidated, s.LastConsolidatedAt
}

// CompressSnapshot copies the records past the watermark that are old
// enough to fold away, leaving the most recent keep records out. It
// returns the copy and the watermark a successful consolidation advances
// to; a nil slice means there is nothing to fold.
func (s *Session) CompressSnapshot(keep int) ([]providers.Message, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.Messages)
	if total <= keep {
		return nil, 0
	}
	end := total - keep
	if end <= s.LastConsolidated {
		return nil, 0
	}
	out := make([]providers.Message, end-s.LastConsolidated)
	copy(out, s.Messages[s.LastConsolidated:end])
	return out, end
}

// AdvanceWatermark moves LastConsolidated forward to the given position.
// Refused when it would move backwards or past the current history (the
// session was cleared while the consolidation ran).
func (s *Session) AdvanceWatermark(to int, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to <= s.LastConsolidated || to > len(s.Messages) {
		return false
	}
	s.LastConsolidated = to
	s.LastConsolidatedAt = &at
	s.Updated = at
	return true
}

// Clear empties the history and resets the consolidation watermarks.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = []providers.Message{}
	s.LastConsolidated = 0
	s.LastConsolidatedAt = nil
	s.Updated = time.Now()
}

// encode marshals the session under its mutex so a concurrent append
// never tears the snapshot being persisted.
func (s *Session) encode() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updated = time.Now()
	return json.MarshalIndent(s, "", "  ")
}
