// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides conversation truncation strategies, token counting
// and vector-backed knowledge stores.
package memory

import (
	"context"
	"fmt"

	"github.com/jllopis/argo/pkg/message"
)

// Strategy reduces the conversation handed to a turn. Implementations return
// a new slice and never modify their input.
type Strategy interface {
	Truncate(ctx context.Context, messages []message.Message) ([]message.Message, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, messages []message.Message) ([]message.Message, error)

// Truncate implements Strategy.
func (f StrategyFunc) Truncate(ctx context.Context, messages []message.Message) ([]message.Message, error) {
	return f(ctx, messages)
}

func split(messages []message.Message, keepSystem bool) (system, other []message.Message) {
	for _, msg := range messages {
		if keepSystem && msg.Role() == message.RoleSystem {
			system = append(system, msg)
		} else {
			other = append(other, msg)
		}
	}
	return system, other
}

func join(parts ...[]message.Message) []message.Message {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]message.Message, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// WindowStrategy keeps only the last MaxMessages messages.
type WindowStrategy struct {
	MaxMessages int
	// KeepSystemMessages preserves system messages regardless of window.
	KeepSystemMessages bool
}

// Truncate implements Strategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []message.Message) ([]message.Message, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return join(messages), nil
	}
	if !w.KeepSystemMessages {
		return join(messages[len(messages)-w.MaxMessages:]), nil
	}

	system, other := split(messages, true)
	available := max(w.MaxMessages-len(system), 0)
	if len(other) > available {
		other = other[len(other)-available:]
	}
	return join(system, other), nil
}

// TokenStrategy keeps the most recent messages that fit within MaxTokens.
type TokenStrategy struct {
	MaxTokens int
	// Counter estimates tokens for a message. Defaults to TiktokenCounter.
	Counter TokenCounter
	// KeepSystemMessages preserves system messages regardless of budget.
	KeepSystemMessages bool
}

// Truncate implements Strategy.
func (t *TokenStrategy) Truncate(_ context.Context, messages []message.Message) ([]message.Message, error) {
	counter := t.Counter
	if counter == nil {
		counter = TiktokenCounter
	}

	total := 0
	for _, msg := range messages {
		total += counter(msg)
	}
	if t.MaxTokens <= 0 || total <= t.MaxTokens {
		return join(messages), nil
	}

	system, other := split(messages, t.KeepSystemMessages)
	budget := t.MaxTokens
	for _, msg := range system {
		budget -= counter(msg)
	}

	start := len(other)
	used := 0
	for i := len(other) - 1; i >= 0; i-- {
		cost := counter(other[i])
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return join(system, other[start:]), nil
}

// Summarizer condenses messages into a short text.
type Summarizer func(ctx context.Context, messages []message.Message) (string, error)

// SummarizationStrategy replaces the oldest messages with a system summary
// once the conversation exceeds MaxMessages.
type SummarizationStrategy struct {
	MaxMessages int
	// SummarizeCount is how many old messages to summarize at once.
	SummarizeCount int
	// Summarizer is required; without it the strategy is a no-op.
	Summarizer Summarizer
	// KeepSystemMessages preserves system messages from summarization.
	KeepSystemMessages bool
}

// SummaryPrefix starts every summary message.
const SummaryPrefix = "[Previous conversation summary]\n"

// Truncate implements Strategy. On summarizer failure the input is returned
// unchanged together with the error.
func (s *SummarizationStrategy) Truncate(ctx context.Context, messages []message.Message) ([]message.Message, error) {
	if s.Summarizer == nil || len(messages) <= s.MaxMessages {
		return join(messages), nil
	}

	system, other := split(messages, s.KeepSystemMessages)
	if len(other) <= s.MaxMessages {
		return join(system, other), nil
	}

	n := s.SummarizeCount
	if excess := len(other) - s.MaxMessages + 1; n < excess {
		n = excess
	}
	n = min(max(n, 2), len(other))

	summary, err := s.Summarizer(ctx, other[:n:n])
	if err != nil {
		return join(messages), fmt.Errorf("summarize %d messages: %w", n, err)
	}
	return join(system, []message.Message{message.System(SummaryPrefix + summary)}, other[n:]), nil
}
