// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package argotest

import (
	"strings"
	"testing"

	"github.com/jllopis/argo/pkg/llm"
)

// RequestAssertions checks a request captured by a mock provider.
type RequestAssertions struct {
	t   testing.TB
	req llm.ChatRequest
}

// AssertRequest starts assertions on req.
func AssertRequest(t testing.TB, req llm.ChatRequest) *RequestAssertions {
	return &RequestAssertions{t: t, req: req}
}

// HasModel asserts the requested model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.t.Errorf("expected model %q, got %q", model, r.req.Model)
	}
	return r
}

// HasMessageCount asserts the number of messages.
func (r *RequestAssertions) HasMessageCount(n int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Messages) != n {
		r.t.Errorf("expected %d messages, got %d", n, len(r.req.Messages))
	}
	return r
}

// HasSystemMessage asserts a system message containing substr.
func (r *RequestAssertions) HasSystemMessage(substr string) *RequestAssertions {
	r.t.Helper()
	if !r.has(llm.RoleSystem, substr) {
		r.t.Errorf("no system message containing %q", substr)
	}
	return r
}

// HasUserMessage asserts a user message containing substr.
func (r *RequestAssertions) HasUserMessage(substr string) *RequestAssertions {
	r.t.Helper()
	if !r.has(llm.RoleUser, substr) {
		r.t.Errorf("no user message containing %q", substr)
	}
	return r
}

// LacksContent asserts that no message contains substr.
func (r *RequestAssertions) LacksContent(substr string) *RequestAssertions {
	r.t.Helper()
	for _, m := range r.req.Messages {
		if strings.Contains(m.Content, substr) {
			r.t.Errorf("unexpected %q in %s message", substr, m.Role)
		}
	}
	return r
}

// WantsJSON asserts whether the request asked for JSON output.
func (r *RequestAssertions) WantsJSON(want bool) *RequestAssertions {
	r.t.Helper()
	if r.req.JSON != want {
		r.t.Errorf("expected JSON %v, got %v", want, r.req.JSON)
	}
	return r
}

func (r *RequestAssertions) has(role llm.Role, substr string) bool {
	for _, m := range r.req.Messages {
		if m.Role == role && strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}
