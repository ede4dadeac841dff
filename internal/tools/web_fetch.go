package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	fetchTimeout       = 30 * time.Second
	defaultFetchLimit  = 50000
	fetchMaxBodyBytes  = 2 * 1024 * 1024
)

// WebFetchTool fetches a URL and returns its content as readable text.
// HTML is reduced to plain text; JSON and text bodies pass through.
type WebFetchTool struct {
	client   *http.Client
	maxChars int
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client:   &http.Client{Timeout: fetchTimeout},
		maxChars: defaultFetchLimit,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content. HTML is converted to plain text."
}
func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"max_chars": map[string]any{
				"type":        "number",
				"description": "Maximum characters to return (default 50000)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", fmt.Errorf("only http and https URLs are supported")
	}
	limit := t.maxChars
	if n, ok := args["max_chars"].(float64); ok && n >= 100 {
		limit = int(n)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	text := string(body)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") || looksLikeHTML(text) {
		text = htmlToText(text)
	}
	text = strings.TrimSpace(text)
	if len(text) > limit {
		text = text[:limit] + "\n...(truncated)"
	}
	if text == "" {
		return "(empty response)", nil
	}
	return text, nil
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s[:min(len(s), 256)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript|head)[^>]*>[\s\S]*?</(script|style|noscript|head)>`)
	blockTagRe    = regexp.MustCompile(`(?i)</(p|div|li|tr|h[1-6]|section|article|blockquote)>|<br\s*/?>`)
	entityRe      = regexp.MustCompile(`&(#?\w+);`)
	multiBlankRe  = regexp.MustCompile(`\n{3,}`)
)

var htmlEntities = map[string]string{
	"amp": "&", "lt": "<", "gt": ">", "quot": `"`, "apos": "'",
	"nbsp": " ", "#39": "'", "#34": `"`,
}

// htmlToText strips markup and collapses whitespace. Good enough for the
// LLM to read an article; not a general HTML renderer.
func htmlToText(html string) string {
	html = scriptStyleRe.ReplaceAllString(html, "")
	html = blockTagRe.ReplaceAllString(html, "\n")
	html = htmlTagRe.ReplaceAllString(html, " ")
	html = entityRe.ReplaceAllStringFunc(html, func(m string) string {
		name := strings.Trim(m, "&;")
		if v, ok := htmlEntities[name]; ok {
			return v
		}
		return " "
	})

	lines := strings.Split(html, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text := strings.Join(lines, "\n")
	return multiBlankRe.ReplaceAllString(text, "\n\n")
}
