// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// PIIMode selects how a PIIFilter rewrites matches.
type PIIMode int

const (
	// PIIMask replaces a match with its type label, e.g. [EMAIL].
	PIIMask PIIMode = iota
	// PIIRedact removes a match.
	PIIRedact
	// PIIHash replaces a match with a label and a short stable hash, so
	// repeated values can still be correlated.
	PIIHash
)

// ParsePIIMode maps mask, redact and hash to a PIIMode.
func ParsePIIMode(s string) (PIIMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mask":
		return PIIMask, nil
	case "redact":
		return PIIRedact, nil
	case "hash":
		return PIIHash, nil
	default:
		return 0, fmt.Errorf("unknown pii mode %q", s)
	}
}

// PIIType names a kind of personal data.
type PIIType string

const (
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIISSN        PIIType = "ssn"
	PIICreditCard PIIType = "credit_card"
	PIIIPAddress  PIIType = "ip_address"
)

type piiPattern struct {
	kind  PIIType
	re    *regexp.Regexp
	label string
}

// Order matters: card numbers would otherwise be cut up as phones.
var defaultPIIPatterns = []piiPattern{
	{PIICreditCard, regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "CREDIT_CARD"},
	{PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "SSN"},
	{PIIEmail, regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "EMAIL"},
	{PIIIPAddress, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`), "IP_ADDRESS"},
	{PIIPhone, regexp.MustCompile(`(?:\+\d{1,3}[-.\s]?)?\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), "PHONE"},
}

// PIIFilter rewrites personal data in output text. As an InputChecker it
// blocks input that contains any.
type PIIFilter struct {
	mode     PIIMode
	patterns []piiPattern
}

// PIIOption configures a PIIFilter.
type PIIOption func(*PIIFilter)

// NewPIIFilter creates a filter for every built-in PII type.
func NewPIIFilter(mode PIIMode, opts ...PIIOption) *PIIFilter {
	f := &PIIFilter{mode: mode, patterns: append([]piiPattern(nil), defaultPIIPatterns...)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithPIITypes keeps only the given types.
func WithPIITypes(types ...PIIType) PIIOption {
	return func(f *PIIFilter) {
		keep := make(map[PIIType]bool, len(types))
		for _, t := range types {
			keep[t] = true
		}
		var patterns []piiPattern
		for _, p := range f.patterns {
			if keep[p.kind] {
				patterns = append(patterns, p)
			}
		}
		f.patterns = patterns
	}
}

// WithCustomPIIPattern adds a pattern labelled label.
// Invalid expressions are skipped.
func WithCustomPIIPattern(kind PIIType, pattern, label string) PIIOption {
	return func(f *PIIFilter) {
		if re, err := regexp.Compile(pattern); err == nil {
			f.patterns = append(f.patterns, piiPattern{kind: kind, re: re, label: label})
		}
	}
}

// ID implements InputChecker and OutputFilter.
func (f *PIIFilter) ID() string { return "pii-filter" }

// FilterOutput implements OutputFilter.
func (f *PIIFilter) FilterOutput(ctx context.Context, text string) (string, []Redaction) {
	var redactions []Redaction
	for _, p := range f.patterns {
		if ctx.Err() != nil {
			break
		}
		matches := p.re.FindAllStringIndex(text, -1)
		// Right to left keeps earlier offsets valid.
		for i := len(matches) - 1; i >= 0; i-- {
			start, end := matches[i][0], matches[i][1]
			replacement := f.replacement(p, text[start:end])
			text = text[:start] + replacement + text[end:]
			redactions = append(redactions, Redaction{Type: string(p.kind), Replacement: replacement, Position: start})
		}
	}
	return text, redactions
}

func (f *PIIFilter) replacement(p piiPattern, original string) string {
	switch f.mode {
	case PIIRedact:
		return ""
	case PIIHash:
		h := fnv.New64a()
		h.Write([]byte(original))
		return fmt.Sprintf("[%s_%08x]", p.label, uint32(h.Sum64()))
	default:
		return "[" + p.label + "]"
	}
}

// CheckInput implements InputChecker.
func (f *PIIFilter) CheckInput(ctx context.Context, text string) Verdict {
	for _, p := range f.patterns {
		if ctx.Err() != nil {
			break
		}
		if m := p.re.FindString(text); m != "" {
			return Verdict{
				Blocked:    true,
				Reason:     "personal data in input: " + string(p.kind),
				Confidence: 1,
				Matches:    []string{string(p.kind)},
			}
		}
	}
	return Verdict{}
}

// WithPIIFilter rewrites personal data in output.
func WithPIIFilter(mode PIIMode, opts ...PIIOption) Option {
	return WithOutputFilter(NewPIIFilter(mode, opts...))
}

// WithPIIInputChecker blocks input that carries personal data.
func WithPIIInputChecker(opts ...PIIOption) Option {
	return WithInputChecker(NewPIIFilter(PIIMask, opts...))
}
