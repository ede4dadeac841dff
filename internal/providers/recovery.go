package providers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
)

// toolCallMarker is emitted as literal text by some proxies instead of
// structured tool calls: `[tool_call] name({"arg": "value"})`.
const toolCallMarker = "[tool_call]"

var (
	pseudoCallHeadRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	tripleNewlineRe  = regexp.MustCompile(`\n{3,}`)
)

// recoverTextToolCalls scans content for textual [tool_call] markers and
// synthesizes structured tool calls from them, excising each parsed span.
// Occurrences are parsed greedily left to right; a malformed occurrence is
// left in the text untouched. When nothing parses, the original content is
// returned unchanged.
func recoverTextToolCalls(content string) ([]ToolCall, string) {
	if !strings.Contains(content, toolCallMarker) {
		return nil, content
	}

	var calls []ToolCall
	var cleaned strings.Builder
	rest := content

	for {
		idx := strings.Index(rest, toolCallMarker)
		if idx < 0 {
			cleaned.WriteString(rest)
			break
		}

		after := rest[idx+len(toolCallMarker):]
		call, consumed, ok := parsePseudoCall(after)
		if !ok {
			// Leave the malformed occurrence in place and keep scanning.
			cleaned.WriteString(rest[:idx+len(toolCallMarker)])
			rest = after
			continue
		}

		cleaned.WriteString(rest[:idx])
		calls = append(calls, call)
		rest = after[consumed:]
	}

	if len(calls) == 0 {
		return nil, content
	}

	text := tripleNewlineRe.ReplaceAllString(cleaned.String(), "\n\n")
	return calls, strings.TrimSpace(text)
}

// parsePseudoCall parses `name({json})` at the start of s (leading whitespace
// allowed). Returns the call, the number of bytes consumed including the
// closing paren, and whether the parse succeeded.
func parsePseudoCall(s string) (ToolCall, int, bool) {
	head := pseudoCallHeadRe.FindStringSubmatchIndex(s)
	if head == nil {
		return ToolCall{}, 0, false
	}
	name := s[head[2]:head[3]]
	argsStart := head[1] // position just past "("

	dec := json.NewDecoder(strings.NewReader(s[argsStart:]))
	var args map[string]any
	if err := dec.Decode(&args); err != nil || args == nil {
		return ToolCall{}, 0, false
	}
	consumed := argsStart + int(dec.InputOffset())

	// Require the closing paren, allowing whitespace before it.
	rest := s[consumed:]
	ws := len(rest) - len(strings.TrimLeft(rest, " \t\r\n"))
	if ws >= len(rest) || rest[ws] != ')' {
		return ToolCall{}, 0, false
	}
	consumed += ws + 1

	return ToolCall{
		ID:        "text_toolcall_" + shortID(),
		Name:      name,
		Arguments: args,
	}, consumed, true
}

// shortID returns 12 hex chars of entropy for synthetic identifiers.
func shortID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "000000000000"
	}
	return hex.EncodeToString(b[:])
}
