// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package knowledge exposes a memory.Knowledge base as the knowledge_search
// tool.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/memory"
	"github.com/jllopis/argo/pkg/tool"
)

// Name is the registered tool name.
const Name = "knowledge_search"

const (
	DefaultLimit     = 5
	DefaultThreshold = float32(0.5)
	maxLimit         = 50
)

// Input is the knowledge_search argument bundle.
type Input struct {
	Query string `json:"query" jsonschema:"description=What to look up in the knowledge base"`
	Limit *int   `json:"limit,omitempty" jsonschema:"description=Maximum number of passages"`
}

// Result is the knowledge_search output.
type Result struct {
	Query     string            `json:"query"`
	Documents []memory.Document `json:"documents"`
}

// String renders the passages for a model prompt.
func (r Result) String() string {
	if len(r.Documents) == 0 {
		return fmt.Sprintf("No stored knowledge matches %q.", r.Query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Stored knowledge for %q:\n", r.Query)
	for i, d := range r.Documents {
		fmt.Fprintf(&b, "%d. (%.2f) %s\n", i+1, d.Score, d.Text)
	}
	return b.String()
}

// Option configures the tool.
type Option func(*searcher)

// WithThreshold sets the minimum similarity score.
func WithThreshold(threshold float32) Option {
	return func(s *searcher) { s.threshold = threshold }
}

// WithLimit sets the default number of passages.
func WithLimit(limit int) Option {
	return func(s *searcher) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

type searcher struct {
	kb        *memory.Knowledge
	limit     int
	threshold float32
}

// NewTool returns the knowledge_search tool over kb.
func NewTool(kb *memory.Knowledge, opts ...Option) *tool.Func {
	s := &searcher{kb: kb, limit: DefaultLimit, threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return tool.New(Name,
		"Search the local knowledge base for passages related to a query.",
		s.search)
}

func (s *searcher) search(ctx context.Context, in Input) (any, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errors.New(errors.CodeParameter, "query cannot be empty", nil).
			WithContext("tool", Name).
			WithContext("parameter", "query")
	}
	limit := s.limit
	if in.Limit != nil {
		if *in.Limit < 1 || *in.Limit > maxLimit {
			return nil, errors.New(errors.CodeParameter, fmt.Sprintf("limit must be between 1 and %d", maxLimit), nil).
				WithContext("tool", Name).
				WithContext("parameter", "limit")
		}
		limit = *in.Limit
	}
	docs, err := s.kb.Search(ctx, query, limit, s.threshold)
	if err != nil {
		return nil, err
	}
	return Result{Query: query, Documents: docs}, nil
}
