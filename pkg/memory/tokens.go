// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jllopis/argo/pkg/message"
)

// TokenCounter estimates the number of tokens a message costs.
type TokenCounter func(msg message.Message) int

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// DefaultEncoding is the tiktoken encoding used by CountTokens.
const DefaultEncoding = "cl100k_base"

// CountTokens counts tokens in text with the cl100k_base encoding, loaded on
// first use. It falls back to EstimateTokens when the encoding is unavailable.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding(DefaultEncoding); err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

// EstimateTokens is the len/4 heuristic, never below the word count.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	return max(estimate, 1)
}

// TiktokenCounter counts message text with tiktoken.
func TiktokenCounter(msg message.Message) int {
	return CountTokens(msg.Text())
}

// ApproxCounter counts message text with EstimateTokens.
func ApproxCounter(msg message.Message) int {
	return EstimateTokens(msg.Text())
}
