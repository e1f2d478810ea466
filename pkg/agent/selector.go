// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/jllopis/argo/pkg/llm"
	"github.com/jllopis/argo/pkg/message"
)

// Candidate is a skill offered to a Selector.
type Candidate struct {
	Name        string
	Description string
}

// Selector decides which candidate handles the next turn. It returns the
// chosen candidate's name; any other answer fails the selection.
type Selector interface {
	Choose(ctx context.Context, conversation []message.Message, candidates []Candidate) (string, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, conversation []message.Message, candidates []Candidate) (string, error)

// Choose implements Selector.
func (f SelectorFunc) Choose(ctx context.Context, conversation []message.Message, candidates []Candidate) (string, error) {
	return f(ctx, conversation, candidates)
}

const selectionPrompt = `You route the conversation to exactly one skill.
Available skills:
%s
Reply only with a JSON object of the form {"skill": "<name>"} naming the skill
that best handles the last user message.`

// ModelSelector asks a language model to pick a skill by name.
type ModelSelector struct {
	model llm.Model
}

// NewModelSelector returns a Selector backed by model.
func NewModelSelector(model llm.Model) *ModelSelector {
	return &ModelSelector{model: model}
}

type selection struct {
	Skill string `json:"skill"`
}

// Choose implements Selector.
func (s *ModelSelector) Choose(ctx context.Context, conversation []message.Message, candidates []Candidate) (string, error) {
	if s.model == nil {
		return "", fmt.Errorf("model selector has no model")
	}
	var list strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&list, "- %s: %s\n", c.Name, c.Description)
	}
	conv := append(append([]message.Message(nil), conversation...),
		message.System(fmt.Sprintf(selectionPrompt, list.String())))

	out, err := s.model.Parse(ctx, message.Text, conv)
	if err != nil {
		return "", err
	}
	text, _ := out.(string)
	return ParseSelection(text, candidates), nil
}

// ParseSelection extracts a skill name from a model answer. It accepts
// {"skill": "<name>"}, malformed variants of it, and a bare name.
func ParseSelection(answer string, candidates []Candidate) string {
	raw := llm.ExtractJSON(answer)
	if strings.HasPrefix(raw, "{") {
		var sel selection
		if err := json.Unmarshal([]byte(raw), &sel); err != nil {
			if repaired, rerr := jsonrepair.JSONRepair(raw); rerr == nil {
				_ = json.Unmarshal([]byte(repaired), &sel)
			}
		}
		if sel.Skill != "" {
			return strings.TrimSpace(sel.Skill)
		}
	}
	bare := strings.Trim(strings.TrimSpace(answer), "\"'`.")
	for _, c := range candidates {
		if strings.EqualFold(bare, c.Name) {
			return c.Name
		}
	}
	return bare
}

// TableRule routes to Skill when the last user message contains any keyword.
type TableRule struct {
	Keywords []string
	Skill    string
}

// TableSelector chooses deterministically from keyword rules, falling back
// to Fallback when no rule matches.
type TableSelector struct {
	Rules    []TableRule
	Fallback string
}

// Choose implements Selector.
func (t TableSelector) Choose(_ context.Context, conversation []message.Message, _ []Candidate) (string, error) {
	text := ""
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role() == message.RoleUser {
			text = strings.ToLower(conversation[i].Text())
			break
		}
	}
	for _, rule := range t.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return rule.Skill, nil
			}
		}
	}
	if t.Fallback == "" {
		return "", fmt.Errorf("no rule matched and no fallback configured")
	}
	return t.Fallback, nil
}

var (
	_ Selector = (*ModelSelector)(nil)
	_ Selector = TableSelector{}
	_ Selector = SelectorFunc(nil)
)
