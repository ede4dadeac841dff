package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quietloop/fennec/internal/providers"
	"github.com/quietloop/fennec/internal/sessions"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	response string
	fail     bool
	delay    time.Duration
}

func (f *fakeProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return &providers.ChatResponse{Content: "Error calling LLM: APIError: boom", FinishReason: "error"}, nil
	}
	return &providers.ChatResponse{Content: f.response, FinishReason: "stop"}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConsolidator(t *testing.T, p providers.Provider) (*Consolidator, *Store, *sessions.Store) {
	t.Helper()
	dir := t.TempDir()
	memStore, err := NewStore(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	sessStore, err := sessions.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	c := NewConsolidator(Config{
		Store:             memStore,
		Sessions:          sessStore,
		Provider:          p,
		MemoryWindow:      10, // keep = 5
		CompressionWindow: 4,
	})
	return c, memStore, sessStore
}

func sessionWith(key string, n int) *sessions.Session {
	s := &sessions.Session{Key: key}
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		s.AddMessage(providers.Message{Role: role, Content: "msg", Timestamp: time.Now()})
	}
	return s
}

func TestShouldConsolidate(t *testing.T) {
	c, _, _ := testConsolidator(t, &fakeProvider{})

	cases := []struct {
		name             string
		total            int
		lastConsolidated int
		lastAt           *time.Time
		want             bool
	}{
		{name: "below keep window", total: 4, want: false},
		{name: "delta below threshold, no cooldown", total: 7, want: false},
		{name: "delta reaches compression window", total: 9, want: true},
		{name: "watermark covers delta", total: 9, lastConsolidated: 4, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := sessionWith("cli:test", tc.total)
			s.LastConsolidated = tc.lastConsolidated
			s.LastConsolidatedAt = tc.lastAt
			if got := c.ShouldConsolidate(s); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	t.Run("cooldown elapsed fires small delta", func(t *testing.T) {
		s := sessionWith("cli:test", 7) // delta = 2
		old := time.Now().Add(-20 * time.Minute)
		s.LastConsolidatedAt = &old
		if !c.ShouldConsolidate(s) {
			t.Fatal("expected cooldown to trigger consolidation")
		}
	})

	t.Run("never consolidated ignores cooldown", func(t *testing.T) {
		s := sessionWith("cli:test", 7)
		if c.ShouldConsolidate(s) {
			t.Fatal("small delta without prior run should not trigger")
		}
	})
}

func TestConsolidateAdvancesWatermark(t *testing.T) {
	p := &fakeProvider{response: `{"history_entry": "[2026-08-26 10:00] talked about Go", "memory_update": "user writes Go"}`}
	c, memStore, sessStore := testConsolidator(t, p)

	s := sessionWith("cli:test", 12)
	c.Schedule(s)
	c.Wait()

	// keep = 5, so compressEnd = 7
	if s.LastConsolidated != 7 {
		t.Fatalf("LastConsolidated = %d, want 7", s.LastConsolidated)
	}
	if s.LastConsolidatedAt == nil {
		t.Fatal("LastConsolidatedAt not set")
	}
	if got := memStore.ReadMemory(); got != "user writes Go" {
		t.Fatalf("memory = %q", got)
	}
	saved := sessStore.GetOrCreate("cli:test")
	if saved.LastConsolidated != 7 {
		t.Fatalf("persisted LastConsolidated = %d, want 7", saved.LastConsolidated)
	}
}

func TestConsolidateFailureKeepsWatermark(t *testing.T) {
	p := &fakeProvider{fail: true}
	c, memStore, _ := testConsolidator(t, p)

	s := sessionWith("cli:test", 12)
	c.Schedule(s)
	c.Wait()

	if s.LastConsolidated != 0 {
		t.Fatalf("LastConsolidated = %d, want 0 after failure", s.LastConsolidated)
	}
	if s.LastConsolidatedAt != nil {
		t.Fatal("LastConsolidatedAt set despite failure")
	}
	if got := memStore.ReadMemory(); got != "" {
		t.Fatalf("memory written despite failure: %q", got)
	}
}

func TestConsolidateMonotonic(t *testing.T) {
	p := &fakeProvider{response: `{"history_entry": "e", "memory_update": "m"}`}
	c, _, _ := testConsolidator(t, p)

	s := sessionWith("cli:test", 12)
	c.Schedule(s)
	c.Wait()
	first := s.LastConsolidated

	s.AddMessage(providers.Message{Role: "user", Content: "more", Timestamp: time.Now()})
	s.AddMessage(providers.Message{Role: "assistant", Content: "ok", Timestamp: time.Now()})
	c.Schedule(s)
	c.Wait()

	if s.LastConsolidated < first {
		t.Fatalf("watermark moved backwards: %d -> %d", first, s.LastConsolidated)
	}
}

func TestScheduleSingleFlight(t *testing.T) {
	p := &fakeProvider{response: `{"history_entry": "e", "memory_update": "m"}`}
	c, _, _ := testConsolidator(t, p)

	s := sessionWith("cli:test", 40)
	for i := 0; i < 5; i++ {
		c.Schedule(s)
	}
	c.Wait()

	// One run plus at most one pending re-fire.
	if n := p.callCount(); n > 2 {
		t.Fatalf("provider called %d times, want at most 2", n)
	}
}

func TestScheduleSnapshotsBeforeConcurrentAppend(t *testing.T) {
	p := &fakeProvider{
		response: `{"history_entry": "e", "memory_update": "m"}`,
		delay:    100 * time.Millisecond,
	}
	c, _, sessStore := testConsolidator(t, p)

	s := sessStore.GetOrCreate("cli:test")
	for i := 0; i < 12; i++ {
		s.AddMessage(providers.Message{Role: "user", Content: "msg", Timestamp: time.Now()})
	}
	c.Schedule(s)

	// The next turn keeps appending and saving while the run is in flight.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			s.AddMessage(providers.Message{Role: "user", Content: "late", Timestamp: time.Now()})
			if err := sessStore.Save(s); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()
	c.Wait()

	// keep = 5 against the 12 records present at schedule time, so the
	// watermark lands on 7 no matter how many appends raced the run.
	total, last, lastAt := s.Stats()
	if last != 7 {
		t.Fatalf("LastConsolidated = %d, want 7", last)
	}
	if lastAt == nil {
		t.Fatal("LastConsolidatedAt not set")
	}
	if total != 32 {
		t.Fatalf("total = %d, want 32", total)
	}
}

func TestClearDuringConsolidationKeepsWatermarkAtZero(t *testing.T) {
	p := &fakeProvider{
		response: `{"history_entry": "e", "memory_update": "m"}`,
		delay:    100 * time.Millisecond,
	}
	c, _, _ := testConsolidator(t, p)

	s := sessionWith("cli:test", 12)
	c.Schedule(s)
	s.Clear()
	c.Wait()

	total, last, lastAt := s.Stats()
	if total != 0 || last != 0 || lastAt != nil {
		t.Fatalf("cleared session mutated by stale run: total=%d last=%d lastAt=%v", total, last, lastAt)
	}
}

func TestArchiveAllNoWatermark(t *testing.T) {
	p := &fakeProvider{response: `{"history_entry": "archived", "memory_update": ""}`}
	c, memStore, sessStore := testConsolidator(t, p)

	snapshot := sessionWith("cli:test", 6).Messages
	c.ArchiveAll("cli:test", snapshot)
	c.Wait()

	data := memStore.ReadMemory()
	if data != "" {
		t.Fatalf("memory rewritten: %q", data)
	}
	// Nothing persisted for the key: the snapshot session stays in memory only.
	fresh := sessStore.GetOrCreate("cli:test")
	if len(fresh.Messages) != 0 || fresh.LastConsolidated != 0 {
		t.Fatalf("archive-all leaked session state: %+v", fresh)
	}
}

func TestSerializeMessages(t *testing.T) {
	ts := time.Date(2026, 8, 26, 14, 3, 0, 0, time.UTC)
	got := serializeMessages([]providers.Message{
		{Role: "user", Content: "hello", Timestamp: ts},
		{Role: "assistant", Content: ""},
		{Role: "assistant", Content: "done", Timestamp: ts, ToolsUsed: []string{"read_file", "exec"}},
	})
	want := "[2026-08-26T14:03] USER: hello\n[2026-08-26T14:03] ASSISTANT [tools: read_file, exec]: done"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseConsolidationResult(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		history string
		memory  string
		wantErr bool
	}{
		{
			name:    "plain",
			in:      `{"history_entry": "h", "memory_update": "m"}`,
			history: "h", memory: "m",
		},
		{
			name:    "fenced",
			in:      "```json\n{\"history_entry\": \"h\", \"memory_update\": \"m\"}\n```",
			history: "h", memory: "m",
		},
		{
			name:    "prose around object",
			in:      "Here is the result:\n{\"history_entry\": \"h\", \"memory_update\": \"m\"}\nDone.",
			history: "h", memory: "m",
		},
		{
			name:    "trailing comma",
			in:      `{"history_entry": "h", "memory_update": "m",}`,
			history: "h", memory: "m",
		},
		{name: "no object", in: "sorry, cannot comply", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseConsolidationResult(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.HistoryEntry != tc.history || got.MemoryUpdate != tc.memory {
				t.Fatalf("got %+v", got)
			}
		})
	}
}
