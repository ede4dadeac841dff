// Package browser fetches JS-rendered pages with headless Chromium via rod.
// It exists for pages that return nothing useful to a plain HTTP fetch.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const pageLoadTimeout = 45 * time.Second

// Fetcher renders pages in a shared headless browser. The browser launches
// lazily on first use and is reused across fetches.
type Fetcher struct {
	headless bool
	browser  *rod.Browser
}

func NewFetcher(headless bool) *Fetcher {
	return &Fetcher{headless: headless}
}

func (f *Fetcher) connect() (*rod.Browser, error) {
	if f.browser != nil {
		return f.browser, nil
	}

	controlURL, err := launcher.New().Headless(f.headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	f.browser = b
	return b, nil
}

// FetchText navigates to url, waits for the page to load, and returns the
// rendered body text.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	b, err := f.connect()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, pageLoadTimeout)
	defer cancel()

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("load %s: %w", url, err)
	}

	obj, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return strings.TrimSpace(obj.Value.Str()), nil
}

// Close shuts the shared browser down.
func (f *Fetcher) Close() error {
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}
