package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseSkillFrontmatter(t *testing.T) {
	s := parseSkill("weather", `---
name: weather
description: Fetch weather forecasts
requires: curl
---

# Weather

Use wttr.in for forecasts.
`)
	if s.Name != "weather" {
		t.Fatalf("name = %q", s.Name)
	}
	if s.Description != "Fetch weather forecasts" {
		t.Fatalf("description = %q", s.Description)
	}
	if s.Meta["requires"] != "curl" {
		t.Fatalf("requires = %q", s.Meta["requires"])
	}
	if !strings.Contains(s.Body, "wttr.in") {
		t.Fatalf("body lost: %q", s.Body)
	}
}

func TestParseSkillNoFrontmatter(t *testing.T) {
	s := parseSkill("notes", "# Notes\n\nKeep a scratchpad in notes.md.\n")
	if s.Description != "Keep a scratchpad in notes.md." {
		t.Fatalf("description = %q", s.Description)
	}
}

func TestLoaderListAndSummary(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "beta", "---\ndescription: Second skill\n---\nbody")
	writeSkill(t, dir, "alpha", "---\ndescription: First skill\n---\nbody")
	writeSkill(t, dir, "core", "---\ndescription: Core rules\nalways: true\n---\nAlways follow the house style.")

	l := NewLoader(dir)
	list := l.List()
	if len(list) != 3 {
		t.Fatalf("got %d skills", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "beta" || list[2].Name != "core" {
		t.Fatalf("unsorted: %s %s %s", list[0].Name, list[1].Name, list[2].Name)
	}

	summary := l.Summary()
	if !strings.Contains(summary, `<skill name="alpha" path="skills/alpha/SKILL.md" available="true">`) {
		t.Fatalf("summary missing alpha: %q", summary)
	}
	if strings.Contains(summary, "core") {
		t.Fatalf("always skill leaked into summary: %q", summary)
	}
	always := l.AlwaysContent()
	if !strings.Contains(always, "house style") {
		t.Fatalf("always content missing: %q", always)
	}
}

func TestLoaderUnavailableSkill(t *testing.T) {
	old := execLookPath
	execLookPath = func(bin string) (string, error) {
		return "", fmt.Errorf("%s not found", bin)
	}
	defer func() { execLookPath = old }()

	dir := t.TempDir()
	writeSkill(t, dir, "video", "---\ndescription: Edit videos\nrequires: ffmpeg\n---\nbody")

	l := NewLoader(dir)
	if !strings.Contains(l.Summary(), `available="false"`) {
		t.Fatalf("summary should flag missing requirement: %q", l.Summary())
	}
}

func TestLoaderWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "alpha", "---\ndescription: First\n---\nbody")

	l := NewLoader(dir)
	if err := l.Watch(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if got := len(l.List()); got != 1 {
		t.Fatalf("got %d skills", got)
	}

	writeSkill(t, dir, "beta", "---\ndescription: Second\n---\nbody")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(l.List()) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not invalidate the cache")
}
