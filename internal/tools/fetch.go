package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/arashpx/seekly/internal/fragment"
)

// FetchTool retrieves one web page referenced by earlier evidence and
// extracts its readable text. Plain HTTP is tried first; when the page needs
// rendering (or plain fetch fails) and the browser is enabled, it falls back
// to headless chromedp.
type FetchTool struct {
	client     *http.Client
	timeout    time.Duration
	maxChars   int
	useBrowser bool
}

func NewFetchTool(timeout time.Duration, maxChars int, useBrowser bool) *FetchTool {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &FetchTool{
		client:     &http.Client{Timeout: timeout},
		timeout:    timeout,
		maxChars:   maxChars,
		useBrowser: useBrowser,
	}
}

func (t *FetchTool) Name() string { return "page_fetch" }

func (t *FetchTool) Description() string {
	return "Fetch a single web page and extract its readable text. " +
		"Arguments: url (string, required)."
}

func (t *FetchTool) Execute(ctx context.Context, params Params, caller CallerContext) Result {
	raw := strings.TrimSpace(params.String("url"))
	if raw == "" {
		return Errorf("page_fetch requires a url")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Errorf("page_fetch: %q is not an http(s) url", raw)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	html, err := t.fetchPlain(ctx, raw)
	if err != nil && t.useBrowser {
		html, err = fetchRendered(ctx, raw)
	}
	if err != nil {
		return Errorf("page_fetch failed for %s: %v", raw, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Errorf("page_fetch: could not extract readable content from %s: %v", raw, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Errorf("page_fetch: %s has no readable text", raw)
	}
	if len(text) > t.maxChars {
		text = text[:t.maxChars]
	}

	sum := sha1.Sum([]byte(html))
	docID := "page:" + hex.EncodeToString(sum[:8])

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = raw
	}

	return Result{
		Result: fmt.Sprintf("fetched %s (%d chars)", raw, len(text)),
		Fragments: []fragment.Fragment{{
			ID:      docID,
			Content: text,
			Source: fragment.Citation{
				DocID: docID,
				Title: title,
				URL:   raw,
			},
			Confidence: 1,
		}},
	}
}

func (t *FetchTool) fetchPlain(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "seekly/1.0 (+https://github.com/arashpx/seekly)")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func fetchRendered(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("seekly/1.0 (+https://github.com/arashpx/seekly)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
