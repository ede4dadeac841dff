package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	searchTimeout       = 15 * time.Second
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	searchUserAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type searchResult struct {
	Title       string
	URL         string
	Description string
}

// WebSearchTool queries the Brave Search API when a key is configured and
// falls back to scraping the DuckDuckGo HTML endpoint otherwise.
type WebSearchTool struct {
	braveKey   string
	maxResults int
	client     *http.Client
}

func NewWebSearchTool(braveKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		braveKey:   braveKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: searchTimeout},
	}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return titles, URLs and snippets" }
func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]any{
				"type":        "number",
				"description": fmt.Sprintf("Number of results (default %d, max 10)", t.maxResults),
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	count := t.maxResults
	if n, ok := args["count"].(float64); ok && n > 0 {
		count = int(n)
	}
	if count > 10 {
		count = 10
	}

	var results []searchResult
	var err error
	if t.braveKey != "" {
		results, err = t.searchBrave(ctx, query, count)
		if err != nil {
			results, err = t.searchDDG(ctx, query, count)
		}
	} else {
		results, err = t.searchDDG(ctx, query, count)
	}
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string, count int) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.braveKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("brave response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned %d", resp.StatusCode)
	}

	var wire struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("brave decode: %w", err)
	}

	results := make([]searchResult, 0, count)
	for _, r := range wire.Web.Results {
		if len(results) >= count {
			break
		}
		results = append(results, searchResult{
			Title:       r.Title,
			URL:         r.URL,
			Description: stripTags(r.Description),
		})
	}
	return results, nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func (t *WebSearchTool) searchDDG(ctx context.Context, query string, count int) ([]searchResult, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo response: %w", err)
	}
	return extractDDGResults(string(body), count), nil
}

func extractDDGResults(html string, count int) []searchResult {
	links := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	snippets := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	var results []searchResult
	for i := 0; i < len(links) && len(results) < count; i++ {
		rawURL := resolveDDGRedirect(links[i][1])
		results = append(results, searchResult{
			Title:       stripTags(links[i][2]),
			URL:         rawURL,
			Description: snippetAt(snippets, i),
		})
	}
	return results
}

// resolveDDGRedirect unwraps the uddg= redirect parameter DDG puts around
// result URLs.
func resolveDDGRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	idx := strings.Index(u, "uddg=")
	if idx < 0 {
		return raw
	}
	extracted := u[idx+5:]
	if amp := strings.Index(extracted, "&"); amp >= 0 {
		extracted = extracted[:amp]
	}
	return extracted
}

func snippetAt(snippets [][]string, i int) string {
	if i >= len(snippets) {
		return ""
	}
	return stripTags(snippets[i][1])
}

func stripTags(s string) string {
	return strings.TrimSpace(htmlTagRe.ReplaceAllString(s, ""))
}
