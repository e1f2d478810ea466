package schema

import (
	"reflect"
	"testing"
)

type base struct {
	Lang string `json:"lang,omitempty"`
}

type searchArgs struct {
	base
	Query   string   `json:"query" jsonschema:"description=Text to search for"`
	Limit   int      `json:"limit,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Exact   *bool    `json:"exact"`
	Ignored string   `json:"-"`
	hidden  string
}

func TestFields(t *testing.T) {
	fields := Fields(reflect.TypeOf(searchArgs{}))
	want := []Field{
		{Name: "lang", Type: TypeString},
		{Name: "query", Description: "Text to search for", Type: TypeString, Required: true},
		{Name: "limit", Type: TypeInteger},
		{Name: "tags", Type: TypeArray},
		{Name: "exact", Type: TypeBoolean},
	}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("unexpected fields:\n got %+v\nwant %+v", fields, want)
	}
}

type Paging struct {
	Page int `json:"page"`
}

type pagedArgs struct {
	*Paging
	Query string `json:"query"`
}

type framedArgs struct {
	Paging
	Query string `json:"query"`
}

func TestFieldsEmbedded(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want []Field
	}{
		{"pointer", reflect.TypeOf(pagedArgs{}), []Field{
			{Name: "page", Type: TypeInteger},
			{Name: "query", Type: TypeString, Required: true},
		}},
		{"value", reflect.TypeOf(framedArgs{}), []Field{
			{Name: "page", Type: TypeInteger, Required: true},
			{Name: "query", Type: TypeString, Required: true},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fields(tt.typ); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("unexpected fields:\n got %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestForStruct(t *testing.T) {
	s := For(reflect.TypeOf(&searchArgs{}))
	if s["type"] != TypeObject {
		t.Fatalf("expected object schema, got %v", s["type"])
	}
	required, _ := s["required"].([]string)
	if len(required) != 1 || required[0] != "query" {
		t.Fatalf("unexpected required list: %v", required)
	}
	props := s["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	if query["description"] != "Text to search for" {
		t.Fatalf("expected description on query, got %v", query)
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		typ  string
		v    any
		want bool
	}{
		{TypeString, "x", true},
		{TypeString, 1, false},
		{TypeInteger, float64(3), true},
		{TypeInteger, 3.5, false},
		{TypeNumber, 3.5, true},
		{TypeBoolean, true, true},
		{TypeArray, []any{1}, true},
		{TypeArray, []string{"a"}, true},
		{TypeObject, map[string]any{}, true},
		{TypeObject, searchArgs{}, true},
		{TypeObject, "x", false},
		{TypeString, nil, false},
	}
	for _, tt := range tests {
		if got := Compatible(tt.typ, tt.v); got != tt.want {
			t.Errorf("Compatible(%q, %#v) = %v, want %v", tt.typ, tt.v, got, tt.want)
		}
	}
}
