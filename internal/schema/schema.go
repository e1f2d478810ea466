// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema derives JSON-schema style descriptions from Go types.
package schema

import (
	"encoding/json"
	"reflect"
	"strings"
)

// JSON type names used in schemas and parameter declarations.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Field describes one top-level property of a struct type.
type Field struct {
	Name        string
	Description string
	Type        string
	Required    bool
}

var rawMessageType = reflect.TypeOf(json.RawMessage{})

// TypeName maps a Go type to its JSON type name.
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == rawMessageType {
		return TypeObject
	}
	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Bool:
		return TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger
	case reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.Slice, reflect.Array:
		return TypeArray
	default:
		return TypeObject
	}
}

// Fields lists the JSON-visible fields of a struct type in declaration order.
// Embedded structs are flattened the way encoding/json does.
func Fields(t reflect.Type) []Field {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var out []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, omitempty, skip := jsonName(sf)
		if skip {
			continue
		}
		if sf.Anonymous && name == "" {
			ft := sf.Type
			optional := ft.Kind() == reflect.Pointer
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				promoted := Fields(ft)
				if optional {
					// a nil embedded pointer drops all of its fields
					for j := range promoted {
						promoted[j].Required = false
					}
				}
				out = append(out, promoted...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		out = append(out, Field{
			Name:        name,
			Description: tagDescription(sf.Tag.Get("jsonschema")),
			Type:        TypeName(sf.Type),
			Required:    !omitempty && sf.Type.Kind() != reflect.Pointer,
		})
	}
	return out
}

// For builds a JSON schema for t.
func For(t reflect.Type) map[string]any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch TypeName(t) {
	case TypeArray:
		if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
			return map[string]any{"type": TypeArray, "items": For(t.Elem())}
		}
	case TypeObject:
		if t.Kind() == reflect.Struct {
			return objectSchema(Fields(t))
		}
		return map[string]any{"type": TypeObject}
	}
	return map[string]any{"type": TypeName(t)}
}

// ForFields builds an object schema from a field list.
func ForFields(fields []Field) map[string]any {
	return objectSchema(fields)
}

func objectSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		prop := map[string]any{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       TypeObject,
		"properties": props,
		"required":   required,
	}
}

// Compatible reports whether a decoded JSON value fits the JSON type name.
func Compatible(typ string, v any) bool {
	if v == nil {
		return false
	}
	switch typ {
	case "", TypeObject:
		if typ == "" {
			return true
		}
		if _, ok := v.(map[string]any); ok {
			return true
		}
		k := reflect.Indirect(reflect.ValueOf(v)).Kind()
		return k == reflect.Struct || k == reflect.Map
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		case float32:
			return n == float32(int64(n))
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case TypeNumber:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		case json.Number:
			_, err := n.Float64()
			return err == nil
		}
		return false
	case TypeArray:
		if _, ok := v.([]any); ok {
			return true
		}
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return false
}

func jsonName(sf reflect.StructField) (name string, omitempty, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitempty = true
		}
	}
	return parts[0], omitempty, false
}

// tagDescription reads description=... from a jsonschema struct tag.
func tagDescription(tag string) string {
	for _, part := range strings.Split(tag, ",") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(part), "description="); ok {
			return v
		}
	}
	return ""
}
