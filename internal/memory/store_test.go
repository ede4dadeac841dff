package memory

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestStoreMemoryRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.ReadMemory(); got != "" {
		t.Fatalf("expected empty memory, got %q", got)
	}
	if err := s.WriteMemory("user lives in Hanoi"); err != nil {
		t.Fatal(err)
	}
	if got := s.ReadMemory(); got != "user lives in Hanoi" {
		t.Fatalf("got %q", got)
	}
}

func TestStoreAppendHistory(t *testing.T) {
	s, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendHistory("[2026-08-26 10:00] first entry"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendHistory("[2026-08-26 11:00] second entry\n"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.historyPath())
	if err != nil {
		t.Fatal(err)
	}
	want := "[2026-08-26 10:00] first entry\n\n[2026-08-26 11:00] second entry\n\n"
	if string(data) != want {
		t.Fatalf("history = %q, want %q", data, want)
	}
}

func TestStoreTodayNotes(t *testing.T) {
	s, err := NewStore(t.TempDir(), "notes")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendToday("met with the team"); err != nil {
		t.Fatal(err)
	}
	got := s.ReadToday()
	header := "# " + time.Now().Format("2006-01-02")
	if !strings.HasPrefix(got, header) {
		t.Fatalf("missing date header: %q", got)
	}
	if err := s.AppendToday("shipped the release"); err != nil {
		t.Fatal(err)
	}
	got = s.ReadToday()
	if !strings.Contains(got, "met with the team") || !strings.Contains(got, "shipped the release") {
		t.Fatalf("notes missing content: %q", got)
	}
	if strings.Count(got, header) != 1 {
		t.Fatalf("header duplicated: %q", got)
	}
}

func TestMemoryContext(t *testing.T) {
	s, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.MemoryContext(); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
	if err := s.WriteMemory("likes tea"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendToday("reviewed PRs"); err != nil {
		t.Fatal(err)
	}
	got := s.MemoryContext()
	if !strings.Contains(got, "## Long-term Memory\nlikes tea") {
		t.Fatalf("missing long-term section: %q", got)
	}
	if !strings.Contains(got, "## Today's Notes\n# ") {
		t.Fatalf("missing today section: %q", got)
	}
}
