// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool defines named, schema-described operations that skills invoke
// as side effects.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jllopis/argo/internal/schema"
	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/llm"
	"github.com/jllopis/argo/pkg/message"
)

// Parameter types accepted in a Parameter declaration.
const (
	TypeString  = schema.TypeString
	TypeInteger = schema.TypeInteger
	TypeNumber  = schema.TypeNumber
	TypeBoolean = schema.TypeBoolean
	TypeArray   = schema.TypeArray
	TypeObject  = schema.TypeObject
)

// Parameter describes one named input of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

// Args is the argument bundle passed to Invoke, keyed by parameter name.
type Args map[string]any

// Tool is a named operation with declared parameters.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Invoke(ctx context.Context, args Args) (any, error)
}

// Func is the Tool implementation returned by New and NewFunc.
type Func struct {
	name        string
	description string
	params      []Parameter
	run         func(ctx context.Context, args Args) (any, error)
}

// Option configures a Func.
type Option func(*Func)

// WithParameterDescription sets the description of a declared parameter.
// Unknown names are ignored.
func WithParameterDescription(name, description string) Option {
	return func(f *Func) {
		for i := range f.params {
			if f.params[i].Name == name {
				f.params[i].Description = description
			}
		}
	}
}

// New builds a tool whose parameters are derived from the struct I.
// Field names come from json tags, descriptions from the jsonschema tag
// ("description=..."), and a field is required unless tagged omitempty or
// declared as a pointer.
func New[I any](name, description string, fn func(ctx context.Context, in I) (any, error), opts ...Option) *Func {
	t := reflect.TypeOf((*I)(nil)).Elem()
	fields := schema.Fields(t)
	params := make([]Parameter, 0, len(fields))
	for _, f := range fields {
		params = append(params, Parameter{
			Name:        f.Name,
			Description: f.Description,
			Type:        f.Type,
			Required:    f.Required,
		})
	}

	run := func(ctx context.Context, args Args) (any, error) {
		var in I
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, parameterError(name, "", err)
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, parameterError(name, "", err)
		}
		return fn(ctx, in)
	}
	return build(name, description, params, run, opts)
}

// NewFunc builds a tool from an explicit parameter list.
func NewFunc(name, description string, params []Parameter, fn func(ctx context.Context, args Args) (any, error), opts ...Option) *Func {
	return build(name, description, append([]Parameter(nil), params...), fn, opts)
}

func build(name, description string, params []Parameter, run func(context.Context, Args) (any, error), opts []Option) *Func {
	f := &Func{
		name:        name,
		description: description,
		params:      params,
		run:         run,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Tool.
func (f *Func) Name() string { return f.name }

// Description implements Tool.
func (f *Func) Description() string { return f.description }

// Parameters implements Tool. The returned slice is a copy.
func (f *Func) Parameters() []Parameter {
	return append([]Parameter(nil), f.params...)
}

// Invoke validates args against the declared parameters and runs the tool.
// Validation failures are PARAMETER_ERROR; failures of the body are
// TOOL_FAILURE naming the tool.
func (f *Func) Invoke(ctx context.Context, args Args) (any, error) {
	if err := Validate(f, args); err != nil {
		return nil, err
	}
	out, err := f.run(ctx, args)
	if err != nil {
		if errors.HasCode(err, errors.CodeParameter) || errors.HasCode(err, errors.CodeToolFailure) {
			return nil, err
		}
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("tool %q failed", f.name), err).
			WithContext("tool", f.name).
			WithAttribute("tool.name", f.name)
	}
	return out, nil
}

// Validate checks that args provide every required parameter of t and that
// each declared parameter present has a compatible type.
func Validate(t Tool, args Args) error {
	for _, p := range t.Parameters() {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return parameterError(t.Name(), p.Name, fmt.Errorf("missing required parameter %q", p.Name))
			}
			continue
		}
		if !schema.Compatible(p.Type, v) {
			return parameterError(t.Name(), p.Name, fmt.Errorf("parameter %q must be of type %s, got %T", p.Name, p.Type, v))
		}
	}
	return nil
}

// ArgsFromMessages binds the latest user message to t's arguments.
// Structured content is decoded as the argument object; text content is
// bound to the single required string parameter.
func ArgsFromMessages(t Tool, msgs []message.Message) (Args, error) {
	var last message.Message
	found := false
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role() == message.RoleUser {
			last, found = msgs[i], true
			break
		}
	}
	if !found {
		return nil, parameterError(t.Name(), "", fmt.Errorf("no user message to bind arguments from"))
	}

	if !last.IsText() {
		var args Args
		if err := json.Unmarshal(last.Data(), &args); err != nil {
			return nil, parameterError(t.Name(), "", err)
		}
		return args, nil
	}

	var target *Parameter
	for _, p := range t.Parameters() {
		if !p.Required {
			continue
		}
		if target != nil || p.Type != TypeString {
			return nil, parameterError(t.Name(), p.Name, fmt.Errorf("text input can only bind a single required string parameter"))
		}
		target = &p
	}
	if target == nil {
		return nil, parameterError(t.Name(), "", fmt.Errorf("tool declares no required string parameter"))
	}
	return Args{target.Name: last.Text()}, nil
}

// Definition renders t as a function definition for a provider request.
func Definition(t Tool) llm.Tool {
	params := t.Parameters()
	fields := make([]schema.Field, 0, len(params))
	for _, p := range params {
		fields = append(fields, schema.Field{
			Name:        p.Name,
			Description: p.Description,
			Type:        p.Type,
			Required:    p.Required,
		})
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  schema.ForFields(fields),
		},
	}
}

func parameterError(toolName, param string, cause error) *errors.ArgoError {
	err := errors.New(errors.CodeParameter, fmt.Sprintf("invalid arguments for tool %q", toolName), cause).
		WithContext("tool", toolName).
		WithAttribute("tool.name", toolName)
	if param != "" {
		err.WithContext("parameter", param)
	}
	return err
}

var _ Tool = (*Func)(nil)
