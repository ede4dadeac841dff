package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/quietloop/fennec/internal/media"
	"github.com/quietloop/fennec/internal/memory"
	"github.com/quietloop/fennec/internal/providers"
	"github.com/quietloop/fennec/internal/skills"
)

// bootstrapFiles are read from the workspace root into the system prompt,
// in this order, skipping absentees.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

// Builder assembles the message list for each LLM call: system prompt
// (identity, bootstrap files, memory, skills), bounded history, and the
// current user turn with its media.
type Builder struct {
	workspace string
	agentName string
	memory    *memory.Store
	skills    *skills.Loader
}

func NewBuilder(workspace, agentName string, mem *memory.Store, sk *skills.Loader) *Builder {
	if agentName == "" {
		agentName = "fennec"
	}
	return &Builder{workspace: workspace, agentName: agentName, memory: mem, skills: sk}
}

// BuildMessages produces the full call payload: system prompt, history
// window, current user message.
func (b *Builder) BuildMessages(history []providers.Message, current string, mediaPaths []string,
	channel, chatID string, ts time.Time, metadata map[string]any) []providers.Message {

	system := b.systemPrompt()
	if channel != "" && chatID != "" {
		system += "\n\n## Current Session\nChannel: " + channel + "\nChat ID: " + chatID
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, b.userMessage(current, mediaPaths, ts, metadata))
	return messages
}

func (b *Builder) systemPrompt() string {
	parts := []string{b.identity()}

	if bootstrap := b.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}
	if b.memory != nil {
		if mem := b.memory.MemoryContext(); mem != "" {
			parts = append(parts, "# Memory\n\n"+mem)
		}
	}
	if b.skills != nil {
		if always := b.skills.AlwaysContent(); always != "" {
			parts = append(parts, "# Active Skills\n\n"+always)
		}
		if summary := b.skills.Summary(); summary != "" {
			parts = append(parts, "# Skills\n\nThe following skills extend your capabilities. "+
				"To use a skill, read its SKILL.md file with the read_file tool.\n"+
				`Skills with available="false" need their dependencies installed first.`+
				"\n\n"+summary)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (b *Builder) identity() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	return fmt.Sprintf(`# %s

You are %s, an autonomous assistant. Identity details live in SOUL.md, user
information in USER.md, behavior rules in AGENTS.md.

## Runtime
%s/%s, Go runtime

## Workspace
Your workspace is at: %s
- Memory: %s/memory/MEMORY.md
- History log: %s/memory/HISTORY.md (grep-searchable)
- Skills: %s/skills/<skill-name>/SKILL.md

## Message Rules
- Default: reply with normal assistant text; do not call the message tool.
- Use the message tool only for out-of-band delivery: progress notices during
  long tasks, cross-chat sends, or media.
- If no reply is needed, output exactly [SILENT]
- If the message tool already delivered the complete final answer, the final
  text must be [SILENT] so the user does not get it twice.

## Current Time
%s`, b.agentName, b.agentName, runtime.GOOS, runtime.GOARCH,
		b.workspace, b.workspace, b.workspace, b.workspace, now)
}

func (b *Builder) loadBootstrapFiles() string {
	var parts []string
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		parts = append(parts, "## "+name+"\n\n"+string(data))
	}
	return strings.Join(parts, "\n\n")
}

// userMessage builds the current turn. Merged follow-ups arrive as
// collected_messages metadata and become interleaved text/image parts so
// each image stays next to the text it came with.
func (b *Builder) userMessage(content string, mediaPaths []string, ts time.Time, metadata map[string]any) providers.Message {
	if parts := collectedParts(metadata); len(parts) > 0 {
		return providers.Message{Role: "user", Parts: parts, Timestamp: ts}
	}

	text := appendMessageTime(content, ts)
	images := imageParts(mediaPaths)
	if len(images) == 0 {
		return providers.Message{Role: "user", Content: text, Timestamp: ts}
	}
	parts := append(images, providers.ContentPart{Type: "text", Text: text})
	return providers.Message{Role: "user", Parts: parts, Timestamp: ts}
}

// collectedParts renders buffered follow-ups. Sender prefixes are only
// added when more than one message was merged.
func collectedParts(metadata map[string]any) []providers.ContentPart {
	collected := collectedList(metadata)
	if len(collected) == 0 {
		return nil
	}
	prefix := len(collected) > 1

	var parts []providers.ContentPart
	for _, item := range collected {
		sender := stringField(item, "sender_id", "user")
		content := stringField(item, "content", "")
		text := content
		if prefix {
			text = "[" + sender + "] " + content
		}
		ts := parseTimeField(item, "timestamp")
		parts = append(parts, providers.ContentPart{Type: "text", Text: appendMessageTime(text, ts)})
		parts = append(parts, imageParts(stringSliceField(item, "media"))...)
	}
	return parts
}

func imageParts(paths []string) []providers.ContentPart {
	var parts []providers.ContentPart
	for _, path := range paths {
		if !media.IsImagePath(path) {
			continue
		}
		img, err := media.LoadImage(path)
		if err != nil {
			slog.Warn("skipping image attachment", "path", path, "error", err)
			continue
		}
		parts = append(parts, providers.ContentPart{Type: "image_url", Image: &img})
	}
	return parts
}

// appendMessageTime suffixes the user text with the send time, unless the
// text already carries one.
func appendMessageTime(text string, ts time.Time) string {
	if ts.IsZero() || strings.Contains(text, "current_time") {
		return text
	}
	return text + "\n\n[current_time " + ts.Format("2006-01-02 15:04:05") + "]"
}

func collectedList(metadata map[string]any) []map[string]any {
	if metadata == nil {
		return nil
	}
	switch v := metadata["collected_messages"].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func stringSliceField(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func parseTimeField(m map[string]any, key string) time.Time {
	s, ok := m[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
