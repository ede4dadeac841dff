package agent

import (
	"regexp"
	"strings"
)

// silentTrailingRe matches a trailing [SILENT] sentinel plus any run of
// whitespace and terminal punctuation, ASCII and CJK alike.
var (
	silentTrailingRe = regexp.MustCompile(`\[SILENT\][\s.,!?;:，。！？；：、…~]*$`)
	multiNewlineRe   = regexp.MustCompile(`\n{3,}`)
)

// containsSilentMarker reports whether the model asked to suppress the
// outbound reply for this turn.
func containsSilentMarker(content string) bool {
	return content != "" && silentTrailingRe.MatchString(content)
}

// stripSilentMarker removes trailing sentinel(s) from user-visible text.
// Stripping is idempotent: text without the sentinel comes back unchanged.
func stripSilentMarker(content string) string {
	if !silentTrailingRe.MatchString(content) {
		return content
	}
	cleaned := content
	for silentTrailingRe.MatchString(cleaned) {
		cleaned = silentTrailingRe.ReplaceAllString(cleaned, "")
	}
	cleaned = multiNewlineRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
