// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens the text that enters and leaves an agent turn.
//
// Input checkers run on the user message before any skill is selected; a
// blocking verdict fails the turn with INVALID_INPUT. Output filters rewrite
// the text of every message a turn yields, before it reaches the caller or
// the history.
//
//	guard := guardrails.New(
//	    guardrails.WithPromptInjectionDetector(),
//	    guardrails.WithPIIFilter(guardrails.PIIMask),
//	)
//	a, _ := agent.New("assistant", "", model, agent.WithGuard(guard))
package guardrails

import (
	"context"

	"github.com/jllopis/argo/pkg/errors"
)

// Verdict is the outcome of an input check.
type Verdict struct {
	Blocked bool
	// Reason explains a block. Empty otherwise.
	Reason string
	// Guardrail is the ID of the checker that blocked.
	Guardrail  string
	Confidence float64
	Matches    []string
}

// Redaction describes one rewrite made by an output filter. The original
// text is never kept.
type Redaction struct {
	Type        string
	Replacement string
	Position    int
}

// InputChecker inspects input text.
type InputChecker interface {
	ID() string
	CheckInput(ctx context.Context, text string) Verdict
}

// OutputFilter rewrites output text.
type OutputFilter interface {
	ID() string
	FilterOutput(ctx context.Context, text string) (string, []Redaction)
}

// Guardrails runs input checkers in order and chains output filters.
type Guardrails struct {
	inputCheckers []InputChecker
	outputFilters []OutputFilter
	failOpen      bool
}

// Option configures Guardrails.
type Option func(*Guardrails)

// New creates Guardrails. Without options every input passes and output is
// left as is.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithInputChecker adds an input checker.
func WithInputChecker(c InputChecker) Option {
	return func(g *Guardrails) { g.inputCheckers = append(g.inputCheckers, c) }
}

// WithOutputFilter adds an output filter.
func WithOutputFilter(f OutputFilter) Option {
	return func(g *Guardrails) { g.outputFilters = append(g.outputFilters, f) }
}

// WithFailOpen lets input through when the check is cancelled.
// The default is to block.
func WithFailOpen(failOpen bool) Option {
	return func(g *Guardrails) { g.failOpen = failOpen }
}

// FiltersOutput reports whether any output filter is installed.
func (g *Guardrails) FiltersOutput() bool { return len(g.outputFilters) > 0 }

// Screen runs the input checkers and returns the first blocking verdict.
func (g *Guardrails) Screen(ctx context.Context, text string) Verdict {
	for _, c := range g.inputCheckers {
		if ctx.Err() != nil {
			if g.failOpen {
				return Verdict{}
			}
			return Verdict{Blocked: true, Reason: "guardrail check cancelled", Guardrail: "system"}
		}
		if v := c.CheckInput(ctx, text); v.Blocked {
			v.Guardrail = c.ID()
			return v
		}
	}
	return Verdict{}
}

// Check is Screen as an error: nil when text may pass.
func (g *Guardrails) Check(ctx context.Context, text string) error {
	v := g.Screen(ctx, text)
	if !v.Blocked {
		return nil
	}
	return errors.New(errors.CodeInvalidInput, "input blocked by guardrail", nil).
		WithContext("guardrail", v.Guardrail).
		WithContext("reason", v.Reason).
		WithAttribute("guardrail.id", v.Guardrail).
		WithRecoverable(false)
}

// Redact runs every output filter, each on the previous one's result.
func (g *Guardrails) Redact(ctx context.Context, text string) (string, []Redaction) {
	var all []Redaction
	for _, f := range g.outputFilters {
		if ctx.Err() != nil {
			break
		}
		var redactions []Redaction
		text, redactions = f.FilterOutput(ctx, text)
		all = append(all, redactions...)
	}
	return text, all
}

// Filter is Redact without the redaction report.
func (g *Guardrails) Filter(ctx context.Context, text string) string {
	out, _ := g.Redact(ctx, text)
	return out
}
