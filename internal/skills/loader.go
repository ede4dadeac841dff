// Package skills loads workspace skills: directories under
// <workspace>/skills each holding a SKILL.md with optional key: value
// frontmatter. Skills extend the system prompt either in full (always
// skills) or as a one-line summary the agent can expand with read_file.
package skills

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// swapped in tests
var execLookPath = exec.LookPath

// Skill is one parsed SKILL.md.
type Skill struct {
	Name        string
	Description string
	Meta        map[string]string
	Body        string // content below the frontmatter
	Path        string // relative to the workspace, for read_file hints
}

// Always reports whether the skill's full body belongs in every prompt.
func (s *Skill) Always() bool {
	return s.Meta["always"] == "true"
}

// Available reports whether the skill's declared requirements are present
// on PATH. Skills without a requires line are always available.
func (s *Skill) Available() bool {
	reqs := strings.TrimSpace(s.Meta["requires"])
	if reqs == "" {
		return true
	}
	for _, bin := range strings.Split(reqs, ",") {
		bin = strings.TrimSpace(bin)
		if bin == "" {
			continue
		}
		if _, err := execLookPath(bin); err != nil {
			return false
		}
	}
	return true
}

// Loader scans the skills directory lazily and caches the result. With a
// watcher attached, any filesystem event under the directory drops the
// cache so the next List picks up edits without a restart.
type Loader struct {
	dir string

	mu      sync.Mutex
	cache   []*Skill
	loaded  bool
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Watch starts a fsnotify watcher on the skills directory. Missing
// directory is not an error; the watcher simply never fires.
func (l *Loader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(l.dir); err != nil {
		// Directory may not exist yet. Watch the parent so creation
		// invalidates too.
		if parentErr := w.Add(filepath.Dir(l.dir)); parentErr != nil {
			w.Close()
			return err
		}
	}

	l.mu.Lock()
	l.watcher = w
	l.done = make(chan struct{})
	l.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				slog.Debug("skills changed, cache invalidated", "event", ev.Op.String(), "path", ev.Name)
				l.Invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("skills watcher error", "error", err)
			case <-l.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// Invalidate drops the cached scan.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.loaded = false
	l.cache = nil
	l.mu.Unlock()
}

// List returns all skills sorted by name.
func (l *Loader) List() []*Skill {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		l.cache = l.scan()
		l.loaded = true
	}
	return l.cache
}

// Get returns the named skill, or nil.
func (l *Loader) Get(name string) *Skill {
	for _, s := range l.List() {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (l *Loader) scan() []*Skill {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}
	var out []*Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, e.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s := parseSkill(e.Name(), string(data))
		s.Path = filepath.Join("skills", e.Name(), "SKILL.md")
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AlwaysContent concatenates the full bodies of always skills for direct
// inclusion in the system prompt.
func (l *Loader) AlwaysContent() string {
	var parts []string
	for _, s := range l.List() {
		if s.Always() {
			parts = append(parts, "## Skill: "+s.Name+"\n\n"+strings.TrimSpace(s.Body))
		}
	}
	return strings.Join(parts, "\n\n")
}

// Summary renders one block per non-always skill for the system prompt.
// The agent expands a skill by reading its SKILL.md with read_file.
func (l *Loader) Summary() string {
	var b strings.Builder
	for _, s := range l.List() {
		if s.Always() {
			continue
		}
		avail := "true"
		if !s.Available() {
			avail = "false"
		}
		b.WriteString(`<skill name="` + s.Name + `" path="` + s.Path + `" available="` + avail + `">` + "\n")
		b.WriteString(strings.TrimSpace(s.Description) + "\n")
		b.WriteString("</skill>\n")
	}
	return strings.TrimSpace(b.String())
}

// parseSkill splits optional "---" frontmatter into Meta and uses the
// description key, falling back to the first non-heading body line.
func parseSkill(name, content string) *Skill {
	s := &Skill{Name: name, Meta: map[string]string{}, Body: content}

	rest, ok := strings.CutPrefix(content, "---\n")
	if ok {
		if front, body, found := strings.Cut(rest, "\n---"); found {
			for _, line := range strings.Split(front, "\n") {
				k, v, found := strings.Cut(line, ":")
				if !found {
					continue
				}
				s.Meta[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
			}
			s.Body = strings.TrimLeft(body, "-\n")
		}
	}

	if n := s.Meta["name"]; n != "" {
		s.Name = n
	}
	s.Description = s.Meta["description"]
	if s.Description == "" {
		for _, line := range strings.Split(s.Body, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			s.Description = line
			break
		}
	}
	return s
}
