// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package websearch provides the web_search tool backed by the DuckDuckGo
// Instant Answer API. It suits factual, encyclopedic questions and not
// real-time data.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/resilience"
	"github.com/jllopis/argo/pkg/tool"
)

// Name is the registered tool name.
const Name = "web_search"

const (
	DefaultBaseURL    = "https://api.duckduckgo.com"
	DefaultMaxResults = 5
	defaultUserAgent  = "argo-websearch/1.0"
	defaultTimeout    = 30 * time.Second
	maxTitleLength    = 60
)

// Option configures a Searcher.
type Option func(*Searcher)

// WithBaseURL sets the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(s *Searcher) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Searcher) { s.client = c }
}

// WithMaxResults bounds the number of results returned.
func WithMaxResults(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(s *Searcher) { s.retry = rc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Searcher queries DuckDuckGo.
type Searcher struct {
	baseURL    string
	userAgent  string
	client     *http.Client
	maxResults int
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

// Input is the web_search argument bundle.
type Input struct {
	Query string `json:"query" jsonschema:"description=The search query"`
}

// Result is a single search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Response is the web_search output.
type Response struct {
	Query   string   `json:"query"`
	Summary string   `json:"summary"`
	Results []Result `json:"results"`
}

// String renders the response for a model prompt.
func (r Response) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q\n", r.Query)
	if r.Summary != "" {
		b.WriteString(r.Summary + "\n")
	}
	for i, res := range r.Results {
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, res.Title, res.URL, res.Description)
	}
	return b.String()
}

// New returns a Searcher.
func New(opts ...Option) *Searcher {
	s := &Searcher{
		baseURL:    DefaultBaseURL,
		userAgent:  defaultUserAgent,
		client:     &http.Client{Timeout: defaultTimeout},
		maxResults: DefaultMaxResults,
		retry:      resilience.DefaultRetryConfig(),
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: Name}),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTool returns the web_search tool.
func NewTool(opts ...Option) *tool.Func {
	s := New(opts...)
	return tool.New(Name,
		"Search the web for factual, encyclopedic information such as entities, "+
			"definitions and historical facts. Not suitable for real-time data.",
		func(ctx context.Context, in Input) (any, error) {
			return s.Search(ctx, in.Query)
		})
}

// Search runs query, retrying transient failures.
func (s *Searcher) Search(ctx context.Context, query string) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, errors.New(errors.CodeParameter, "query cannot be empty", nil).
			WithContext("parameter", "query").
			WithContext("tool", Name)
	}
	rc := s.retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		s.logger.WarnContext(ctx, "web search retry", "attempt", attempt, "delay", delay, "error", err)
	})
	raw, err := resilience.Retry(ctx, rc, func() (*apiResponse, error) {
		var out *apiResponse
		err := s.breaker.Call(ctx, func() error {
			var ferr error
			out, ferr = s.fetch(ctx, query)
			return ferr
		})
		return out, err
	})
	if err != nil {
		return Response{}, err
	}
	return s.convert(query, raw), nil
}

func (s *Searcher) fetch(ctx context.Context, query string) (*apiResponse, error) {
	reqURL := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "failed to create request", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(errors.CodeToolFailure, "search request failed", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("search API returned status %d", resp.StatusCode), nil).
			WithContext("status", resp.StatusCode).
			WithRecoverable(resilience.RecoverableStatus(resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "failed to read search response", err).WithRecoverable(true)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.New(errors.CodeDecode, "failed to parse search response", err).WithRecoverable(false)
	}
	return &out, nil
}

func (s *Searcher) convert(query string, raw *apiResponse) Response {
	var summary []string
	if raw.Answer != "" {
		summary = append(summary, "Answer: "+raw.Answer)
	}
	if raw.AbstractText != "" {
		part := "Abstract: " + raw.AbstractText
		if raw.AbstractSource != "" {
			part += " (source: " + raw.AbstractSource + ")"
		}
		summary = append(summary, part)
	}
	if raw.Definition != "" {
		summary = append(summary, "Definition: "+raw.Definition)
	}

	results := make([]Result, 0, s.maxResults)
	if raw.AbstractURL != "" && raw.AbstractText != "" {
		results = append(results, Result{Title: titleOf(raw.Heading), URL: raw.AbstractURL, Description: raw.AbstractText})
	}
	for _, topic := range raw.flatTopics() {
		if len(results) >= s.maxResults {
			break
		}
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, Result{Title: titleOf(topic.Text), URL: topic.FirstURL, Description: topic.Text})
	}

	out := Response{Query: query, Results: results, Summary: strings.Join(summary, "\n")}
	if out.Summary == "" {
		out.Summary = fmt.Sprintf("Found %d results", len(results))
	}
	return out
}

// titleOf takes the part before " - " and bounds its length.
func titleOf(text string) string {
	title, _, _ := strings.Cut(text, " - ")
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(text)
	}
	if r := []rune(title); len(r) > maxTitleLength {
		return string(r[:maxTitleLength-3]) + "..."
	}
	return title
}

type apiResponse struct {
	Heading        string     `json:"Heading"`
	Abstract       string     `json:"Abstract"`
	AbstractText   string     `json:"AbstractText"`
	AbstractSource string     `json:"AbstractSource"`
	AbstractURL    string     `json:"AbstractURL"`
	Answer         string     `json:"Answer"`
	Definition     string     `json:"Definition"`
	RelatedTopics  []apiTopic `json:"RelatedTopics"`
}

type apiTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []apiTopic `json:"Topics"`
}

// flatTopics expands grouped topics in order.
func (r *apiResponse) flatTopics() []apiTopic {
	var out []apiTopic
	for _, t := range r.RelatedTopics {
		if len(t.Topics) > 0 {
			out = append(out, t.Topics...)
			continue
		}
		out = append(out, t)
	}
	return out
}
