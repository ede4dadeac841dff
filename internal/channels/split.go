package channels

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// SplitMessage breaks content into chunks of at most limit runes, cutting
// at paragraph breaks when possible, then line breaks, then spaces, and
// only mid-word as a last resort. Platform send limits (Telegram 4096,
// Discord 2000) are rune counts, not bytes.
func SplitMessage(content string, limit int) []string {
	if limit <= 0 || len([]rune(content)) <= limit {
		return []string{content}
	}

	var chunks []string
	remaining := []rune(content)
	for len(remaining) > limit {
		cut := findBreak(remaining, limit)
		chunk := strings.TrimRight(string(remaining[:cut]), "\n ")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimLeft(string(remaining[cut:]), "\n "))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

// findBreak picks the best cut point at or before limit.
func findBreak(runes []rune, limit int) int {
	window := string(runes[:limit])
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx > limit/2 {
			return len([]rune(window[:idx+len(sep)]))
		}
	}
	return limit
}

// WrapToWidth wraps text to a terminal display width, counting wide (CJK)
// runes as two columns. Used by the CLI channel.
func WrapToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, wrapLine(line, width)...)
	}
	return strings.Join(out, "\n")
}

func wrapLine(line string, width int) []string {
	if runewidth.StringWidth(line) <= width {
		return []string{line}
	}
	var wrapped []string
	var current strings.Builder
	currentWidth := 0
	for _, word := range strings.Split(line, " ") {
		w := runewidth.StringWidth(word)
		if currentWidth > 0 && currentWidth+1+w > width {
			wrapped = append(wrapped, current.String())
			current.Reset()
			currentWidth = 0
		}
		if currentWidth > 0 {
			current.WriteByte(' ')
			currentWidth++
		}
		current.WriteString(word)
		currentWidth += w
	}
	if current.Len() > 0 {
		wrapped = append(wrapped, current.String())
	}
	return wrapped
}
