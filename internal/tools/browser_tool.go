package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/quietloop/fennec/pkg/browser"
)

const browserMaxChars = 50000

// BrowserTool fetches a page through headless Chromium, for sites that
// render their content with JavaScript.
type BrowserTool struct {
	fetcher *browser.Fetcher
}

func NewBrowserTool(fetcher *browser.Fetcher) *BrowserTool {
	return &BrowserTool{fetcher: fetcher}
}

func (t *BrowserTool) Name() string { return "browser" }
func (t *BrowserTool) Description() string {
	return "Fetch a page with a headless browser and return its rendered text. Use when web_fetch returns empty or script-only content."
}
func (t *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to render",
			},
		},
		"required": []string{"url"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("only http and https URLs are supported")
	}

	text, err := t.fetcher.FetchText(ctx, url)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "(page rendered no text)", nil
	}
	if len(text) > browserMaxChars {
		text = text[:browserMaxChars] + "\n...(truncated)"
	}
	return text, nil
}
