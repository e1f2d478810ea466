// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with attributes for
// agent turns, logging configuration and error metrics.
package telemetry

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for agent telemetry.
const (
	// Agent attributes
	AttrAgentName       = "argo.agent.name"
	AttrAgentModel      = "argo.agent.model"
	AttrAgentPersistent = "argo.agent.persistent"
	AttrTurnID          = "argo.turn.id"
	AttrTurnStatus      = "argo.turn.status"
	AttrTurnState       = "argo.turn.state"
	AttrTurnMessages    = "argo.turn.message_count"
	AttrHistoryLength   = "argo.history.length"

	// Selection attributes
	AttrSelectionCandidates = "argo.selection.candidates"
	AttrSelectionChosen     = "argo.selection.chosen"
	AttrSelectionSelector   = "argo.selection.selector"

	// Skill attributes
	AttrSkillName     = "argo.skill.name"
	AttrSkillRequires = "argo.skill.requires"
	AttrSkillRequired = "argo.skill.required_by"

	// Tool attributes
	AttrToolName       = "argo.tool.name"
	AttrToolArgs       = "argo.tool.arguments"
	AttrToolResult     = "argo.tool.result"
	AttrToolDurationMs = "argo.tool.duration_ms"
	AttrToolSuccess    = "argo.tool.success"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
)

// TurnAttributes returns common attributes for agent.perform spans.
func TurnAttributes(agent, model, turnID string, persistent bool, historyLen int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrTurnID, turnID),
		attribute.Bool(AttrAgentPersistent, persistent),
		attribute.Int(AttrHistoryLength, historyLen),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrAgentModel, model))
	}
	return attrs
}

// SelectionAttributes describes an engage decision.
func SelectionAttributes(selector string, candidates []string, chosen string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.StringSlice(AttrSelectionCandidates, candidates),
	}
	if selector != "" {
		attrs = append(attrs, attribute.String(AttrSelectionSelector, selector))
	}
	if chosen != "" {
		attrs = append(attrs, attribute.String(AttrSelectionChosen, chosen))
	}
	return attrs
}

// SkillAttributes returns attributes for skill.execute spans. requiredBy is
// set when the skill runs as a prerequisite.
func SkillAttributes(name string, requires []string, requiredBy string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillName, name),
	}
	if len(requires) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrSkillRequires, requires))
	}
	if requiredBy != "" {
		attrs = append(attrs, attribute.String(AttrSkillRequired, requiredBy))
	}
	return attrs
}

// ToolCallAttributes returns attributes for tool.invoke spans.
func ToolCallAttributes(name string, durationMs float64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// ToolCallArgsResult returns attributes with tool arguments and result (truncated for safety).
func ToolCallArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		attrs = append(attrs, attribute.String(AttrToolArgs, truncate(args, maxLen)))
	}
	if result != "" {
		attrs = append(attrs, attribute.String(AttrToolResult, truncate(result, maxLen)))
	}
	return attrs
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := strings.ToValidUTF8(s[:maxLen], "")
	return cut + "..."
}
