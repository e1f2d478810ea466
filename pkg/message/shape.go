// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/jllopis/argo/internal/schema"
	"github.com/jllopis/argo/pkg/errors"
)

// Shape declares the expected form of message content: free text or a
// structured value of a Go type.
type Shape struct {
	name string
	typ  reflect.Type
}

// Text is the free-text shape.
var Text = Shape{name: "text"}

// ShapeOf declares a structured shape for T. ShapeOf[string] is Text.
func ShapeOf[T any]() Shape {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t == reflect.TypeOf("") {
		return Text
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return Shape{name: name, typ: t}
}

// Name returns a human readable shape name.
func (s Shape) Name() string { return s.name }

// IsText reports whether s is the text shape.
func (s Shape) IsText() bool { return s.typ == nil && s.name == Text.name }

// IsZero reports whether no shape was declared.
func (s Shape) IsZero() bool { return s.typ == nil && s.name == "" }

// Type returns the Go type backing a structured shape.
func (s Shape) Type() reflect.Type { return s.typ }

// Schema returns a JSON schema describing the shape.
func (s Shape) Schema() map[string]any {
	if s.typ == nil {
		return map[string]any{"type": schema.TypeString}
	}
	return schema.For(s.typ)
}

// SchemaJSON returns the JSON schema encoded as a string, for prompts.
func (s Shape) SchemaJSON() string {
	b, err := json.Marshal(s.Schema())
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Decode strictly decodes raw JSON into a value of the shape's type.
// Unknown fields, trailing data and missing required struct fields are rejected.
func (s Shape) Decode(raw []byte) (any, error) {
	if s.typ == nil {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, decodeError(s, err)
		}
		return text, nil
	}
	if err := checkRequired(s.typ, raw); err != nil {
		return nil, decodeError(s, err)
	}
	ptr := reflect.New(s.typ)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr.Interface()); err != nil {
		return nil, decodeError(s, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, decodeError(s, fmt.Errorf("trailing data after value"))
	}
	return ptr.Elem().Interface(), nil
}

func checkRequired(t reflect.Type, raw []byte) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("expected object, got null")
	}
	for _, f := range schema.Fields(t) {
		if !f.Required {
			continue
		}
		if _, ok := fields[f.Name]; !ok {
			return fmt.Errorf("missing required field %q", f.Name)
		}
	}
	return nil
}

func decodeError(s Shape, cause error) *errors.ArgoError {
	return errors.New(errors.CodeDecode, "content does not match shape "+s.name, cause).
		WithContext("shape", s.name)
}
