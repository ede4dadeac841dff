package memory

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// consolidationResult is the JSON shape the consolidation prompt asks for.
type consolidationResult struct {
	HistoryEntry string `json:"history_entry"`
	MemoryUpdate string `json:"memory_update"`
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// parseConsolidationResult decodes the LLM response leniently: models wrap
// JSON in markdown fences, prepend prose, or leave trailing commas despite
// instructions.
func parseConsolidationResult(text string) (consolidationResult, error) {
	var out consolidationResult

	text = stripFences(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out, fmt.Errorf("no JSON object in response")
	}
	body := text[start : end+1]

	if err := json.Unmarshal([]byte(body), &out); err == nil {
		return out, nil
	}
	repaired := trailingCommaRe.ReplaceAllString(body, "$1")
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return out, fmt.Errorf("invalid JSON: %w", err)
	}
	return out, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
