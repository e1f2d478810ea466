// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package webfetch provides the web_fetch tool, which downloads a page and
// reduces it to readable text.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/resilience"
	"github.com/jllopis/argo/pkg/tool"
)

// Name is the registered tool name.
const Name = "web_fetch"

const (
	DefaultCacheSize  = 256
	DefaultCacheTTL   = 15 * time.Minute
	DefaultMaxBytes   = 2 << 20
	DefaultMaxChars   = 15000
	defaultTimeout    = 30 * time.Second
	defaultUserAgent  = "argo-webfetch/1.0"
	minParagraphChars = 30
	truncatedMarker   = "\n\n[Content truncated...]"
)

// Input is the web_fetch argument bundle.
type Input struct {
	URL string `json:"url" jsonschema:"description=Absolute http or https URL to fetch"`
}

// Page is the web_fetch output.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Cached  bool   `json:"cached"`
}

// String renders the page for a model prompt.
func (p Page) String() string {
	return fmt.Sprintf("Content of %s:\n%s", p.URL, p.Content)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithCache sizes the page cache. A size below 1 disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(f *Fetcher) { f.cacheSize, f.cacheTTL = size, ttl }
}

// WithMaxChars bounds the extracted text.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(f *Fetcher) { f.retry = rc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher downloads pages and caches the extracted text.
type Fetcher struct {
	client    *http.Client
	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, Page]
	maxChars  int
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

// New returns a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: defaultTimeout},
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
		maxChars:  DefaultMaxChars,
		retry:     resilience.DefaultRetryConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cacheSize > 0 {
		f.cache = expirable.NewLRU[string, Page](f.cacheSize, nil, f.cacheTTL)
	}
	return f
}

// NewTool returns the web_fetch tool.
func NewTool(opts ...Option) *tool.Func {
	f := New(opts...)
	return tool.New(Name,
		"Fetch a web page by URL and return its readable text content.",
		func(ctx context.Context, in Input) (any, error) {
			return f.Fetch(ctx, in.URL)
		})
}

// Fetch downloads rawURL and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	if f.cache != nil {
		if page, ok := f.cache.Get(target); ok {
			f.logger.DebugContext(ctx, "web fetch cache hit", "url", target)
			page.Cached = true
			return page, nil
		}
	}

	page, err := resilience.Retry(ctx, f.retry, func() (Page, error) {
		return f.download(ctx, target)
	})
	if err != nil {
		return Page{}, err
	}
	if f.cache != nil {
		f.cache.Add(target, page)
	}
	return page, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	invalid := func(msg string, cause error) error {
		return errors.New(errors.CodeParameter, msg, cause).
			WithContext("tool", Name).
			WithContext("parameter", "url")
	}
	if raw == "" {
		return "", invalid("url cannot be empty", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", invalid("invalid url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid(fmt.Sprintf("unsupported url scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return "", invalid("url has no host", nil)
	}
	u.Fragment = ""
	return u.String(), nil
}

func (f *Fetcher) download(ctx context.Context, target string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, errors.New(errors.CodeInvalidInput, "failed to create request", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, errors.New(errors.CodeToolFailure, "fetch failed", err).
			WithContext("url", target).
			WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, errors.New(errors.CodeToolFailure, fmt.Sprintf("fetch returned status %d", resp.StatusCode), nil).
			WithContext("url", target).
			WithContext("status", resp.StatusCode).
			WithRecoverable(resilience.RecoverableStatus(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBytes))
	if err != nil {
		return Page{}, errors.New(errors.CodeToolFailure, "failed to read page", err).
			WithContext("url", target).
			WithRecoverable(true)
	}

	page := Page{URL: resp.Request.URL.String()}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		page.Title, page.Content, err = htmlToText(string(body))
		if err != nil {
			return Page{}, errors.New(errors.CodeDecode, "failed to parse html", err).
				WithContext("url", target)
		}
	} else {
		page.Content = strings.TrimSpace(string(body))
	}
	page.Content = truncate(page.Content, f.maxChars)
	return page, nil
}

// htmlToText reduces a document to its title, headings, substantial
// paragraphs and list items.
func htmlToText(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", err
	}
	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	var b strings.Builder
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := collapse(s.Text())
		if text == "" {
			return
		}
		level := int(goquery.NodeName(s)[1] - '0')
		b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
	})

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); len(text) > minParagraphChars {
			b.WriteString(text + "\n\n")
		}
	})

	doc.Find("ul, ol").Each(func(_ int, s *goquery.Selection) {
		items := 0
		s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			if text := collapse(li.Text()); text != "" {
				b.WriteString("- " + text + "\n")
				items++
			}
		})
		if items > 0 {
			b.WriteString("\n")
		}
	})

	return title, strings.TrimSpace(b.String()), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + truncatedMarker
}
