// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
)

var defaultInjectionPatterns = []string{
	// instruction override
	`(?i)\b(ignore|disregard|forget|override)\s+(all\s+)?(the\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,

	// persona switching
	`(?i)\byou\s+are\s+now\s+(a|an)\s+`,
	`(?i)\bpretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)\b(switch\s+to|enter)\s+\w+\s+mode\b`,

	// system prompt extraction
	`(?i)\b(show|reveal|print|display|repeat)\s+(me\s+)?your\s+(system\s+)?(prompt|instructions?)`,
	`(?i)\bwhat\s+(is|are)\s+your\s+system\s+(prompt|instructions?)`,

	// jailbreaks
	`(?i)\bdo\s+anything\s+now\b`,
	`(?i)\bDAN\s+mode\b`,
	`(?i)\bjailbreak`,
	`(?i)\bbypass\s+(the\s+)?(safety|content|filters?)`,
	`(?i)\b(developer|debug|sudo|admin)\s+mode\b`,

	// chat template delimiters
	`(?i)\]\]\s*system\s*:`,
	`<\|[a-z_]+\|>`,
	`(?i)\[/?INST\]`,
	`(?i)<</?SYS>>`,
}

// PromptInjectionDetector flags text that tries to override the agent's
// instructions. Each matching pattern adds to the confidence of the verdict.
type PromptInjectionDetector struct {
	patterns  []*regexp.Regexp
	threshold float64
}

// PromptInjectionOption configures a PromptInjectionDetector.
type PromptInjectionOption func(*PromptInjectionDetector)

// NewPromptInjectionDetector creates a detector with the built-in patterns.
// Any match blocks unless a threshold is set.
func NewPromptInjectionDetector(opts ...PromptInjectionOption) *PromptInjectionDetector {
	d := &PromptInjectionDetector{}
	for _, p := range defaultInjectionPatterns {
		d.patterns = append(d.patterns, regexp.MustCompile(p))
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithInjectionPatterns adds patterns. Invalid expressions are skipped.
func WithInjectionPatterns(patterns ...string) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		for _, p := range patterns {
			if re, err := regexp.Compile(p); err == nil {
				d.patterns = append(d.patterns, re)
			}
		}
	}
}

// WithInjectionThreshold sets the confidence, from 0 to 1, needed to block.
func WithInjectionThreshold(threshold float64) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		if threshold >= 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

// ID implements InputChecker.
func (d *PromptInjectionDetector) ID() string { return "prompt-injection" }

// CheckInput implements InputChecker.
func (d *PromptInjectionDetector) CheckInput(ctx context.Context, text string) Verdict {
	if text == "" {
		return Verdict{}
	}
	var matches []string
	for _, re := range d.patterns {
		if ctx.Err() != nil {
			break
		}
		if m := re.FindString(text); m != "" {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return Verdict{}
	}
	// One match is 0.7; every further match adds 0.1.
	confidence := min(float64(6+len(matches))/10, 1.0)
	if confidence < d.threshold {
		return Verdict{Confidence: confidence, Matches: matches}
	}
	return Verdict{
		Blocked:    true,
		Reason:     "potential prompt injection detected",
		Confidence: confidence,
		Matches:    matches,
	}
}

// WithPromptInjectionDetector adds a PromptInjectionDetector.
func WithPromptInjectionDetector(opts ...PromptInjectionOption) Option {
	return WithInputChecker(NewPromptInjectionDetector(opts...))
}
