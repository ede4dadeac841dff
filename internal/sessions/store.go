package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quietloop/fennec/internal/providers"
)

// Store owns all live Session objects and their file-backed persistence,
// one JSON file per key under the store directory.
type Store struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Session
}

// NewStore opens (creating if needed) a session directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, cache: make(map[string]*Session)}, nil
}

// GetOrCreate returns the cached session for key, loading it from disk
// on first reference or creating a fresh one if no file exists.
func (st *Store) GetOrCreate(key string) *Session {
	st.mu.RLock()
	s, ok := st.cache[key]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.cache[key]; ok {
		return s
	}
	s = st.load(key)
	if s == nil {
		now := time.Now()
		s = &Session{
			Key:      key,
			Messages: []providers.Message{},
			Created:  now,
			Updated:  now,
		}
	}
	st.cache[key] = s
	return s
}

// load reads a session file, returning nil when absent or unreadable.
// A corrupt file is logged and treated as absent rather than wedging
// the session forever.
func (st *Store) load(key string) *Session {
	data, err := os.ReadFile(st.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("session file unreadable, starting fresh", "key", key, "error", err)
		}
		return nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Warn("session file corrupt, starting fresh", "key", key, "error", err)
		return nil
	}
	if s.Key == "" {
		s.Key = key
	}
	if s.Messages == nil {
		s.Messages = []providers.Message{}
	}
	return &s
}

// Save persists a session atomically: write to a temp file in the same
// directory, fsync, then rename over the target.
func (st *Store) Save(s *Session) error {
	data, err := s.encode()
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Key, err)
	}

	name := encodeKey(s.Key)
	if name == "" || !filepath.IsLocal(name) {
		return fmt.Errorf("session key %q maps to an unsafe filename", s.Key)
	}

	tmp, err := os.CreateTemp(st.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.Key, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save session %s: %w", s.Key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save session %s: %w", s.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session %s: %w", s.Key, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(st.dir, name+".json")); err != nil {
		return fmt.Errorf("save session %s: %w", s.Key, err)
	}
	cleanup = false
	return nil
}

// Invalidate drops the cached object so the next GetOrCreate re-reads
// the file.
func (st *Store) Invalidate(key string) {
	st.mu.Lock()
	delete(st.cache, key)
	st.mu.Unlock()
}

// Keys lists the keys of all sessions currently in memory.
func (st *Store) Keys() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]string, 0, len(st.cache))
	for k := range st.cache {
		keys = append(keys, k)
	}
	return keys
}

func (st *Store) path(key string) string {
	return filepath.Join(st.dir, encodeKey(key)+".json")
}
