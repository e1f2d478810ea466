// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/tool"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolLister abstracts MCP tool discovery.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Registrar accepts adapted tools. *agent.Agent satisfies it.
type Registrar interface {
	RegisterTool(t tool.Tool) error
}

// NewTool adapts a remote MCP tool to tool.Tool. Parameters come from the
// tool's input schema, so arguments are validated before the remote call.
func NewTool(t mcp.Tool, caller ToolCaller) (*tool.Func, error) {
	if t.Name == "" {
		return nil, errors.New(errors.CodeInvalidInput, "mcp tool name is required", nil)
	}
	if caller == nil {
		return nil, errors.New(errors.CodeInvalidInput, "tool caller is required", nil).
			WithContext("tool", t.Name)
	}
	params, err := Parameters(t)
	if err != nil {
		return nil, err
	}
	name := t.Name
	return tool.NewFunc(name, t.Description, params, func(ctx context.Context, args tool.Args) (any, error) {
		result, err := caller.CallTool(ctx, name, map[string]any(args))
		if err != nil {
			return nil, err
		}
		return toolResultToOutput(name, result)
	}), nil
}

// Tools lists the server's tools and adapts each of them.
func Tools(ctx context.Context, c interface {
	ToolLister
	ToolCaller
}) ([]tool.Tool, error) {
	remote, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tool.Tool, 0, len(remote))
	for _, rt := range remote {
		t, err := NewTool(rt, c)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Register adapts every tool of c and registers it with r. When allow is
// non-empty only the named tools are registered.
func Register(ctx context.Context, r Registrar, c interface {
	ToolLister
	ToolCaller
}, allow ...string) ([]string, error) {
	tools, err := Tools(ctx, c)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range tools {
		if len(allow) > 0 && !slices.Contains(allow, t.Name()) {
			continue
		}
		if err := r.RegisterTool(t); err != nil {
			return names, err
		}
		names = append(names, t.Name())
	}
	return names, nil
}

type inputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type propertySchema struct {
	Type        any    `json:"type"`
	Description string `json:"description"`
}

// Parameters derives tool parameters from the MCP input schema. Required
// parameters come first in declared order, the rest sorted by name.
func Parameters(t mcp.Tool) ([]tool.Parameter, error) {
	var raw []byte
	var err error
	if t.RawInputSchema != nil {
		raw = t.RawInputSchema
	} else if raw, err = json.Marshal(t.InputSchema); err != nil {
		return nil, errors.New(errors.CodeDecode, "invalid mcp input schema", err).WithContext("tool", t.Name)
	}
	var s inputSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New(errors.CodeDecode, "invalid mcp input schema", err).WithContext("tool", t.Name)
	}
	if s.Type != "" && s.Type != tool.TypeObject {
		return nil, nil
	}

	params := make([]tool.Parameter, 0, len(s.Properties))
	seen := make(map[string]bool, len(s.Properties))
	for _, name := range s.Required {
		if seen[name] {
			continue
		}
		seen[name] = true
		params = append(params, parameter(name, s.Properties[name], true))
	}
	var optional []string
	for name := range s.Properties {
		if !seen[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	for _, name := range optional {
		params = append(params, parameter(name, s.Properties[name], false))
	}
	return params, nil
}

func parameter(name string, p propertySchema, required bool) tool.Parameter {
	typ := ""
	switch v := p.Type.(type) {
	case string:
		typ = v
	case []any:
		// ["string", "null"] style unions keep the first concrete type.
		for _, item := range v {
			if s, ok := item.(string); ok && s != "null" {
				typ = s
				break
			}
		}
	}
	return tool.Parameter{Name: name, Description: p.Description, Type: typ, Required: required}
}

func toolResultToOutput(name string, result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New(errors.CodeToolFailure, "mcp tool result is nil", nil).WithContext("tool", name)
	}
	if result.IsError {
		return nil, errors.New(errors.CodeToolFailure,
			fmt.Sprintf("mcp tool returned error: %s", extractTextContent(result.Content)), nil).
			WithContext("tool", name).
			WithAttribute("tool.name", name)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
