// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/argo/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New()
	if p.Model() != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, p.Model())
	}
	p = New(WithModel("gpt-4-turbo"), WithAPIKey("k"), WithBaseURL("http://localhost:1/"))
	if p.Model() != "gpt-4-turbo" {
		t.Errorf("expected model gpt-4-turbo, got %s", p.Model())
	}
	if len(p.reqOpts) != 2 {
		t.Errorf("expected 2 request options, got %d", len(p.reqOpts))
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
		want func(b []byte) bool
	}{
		{"system", llm.Message{Role: llm.RoleSystem, Content: "be nice"}, contains(`"role":"system"`)},
		{"user", llm.Message{Role: llm.RoleUser, Content: "hello"}, contains(`"role":"user"`)},
		{"assistant", llm.Message{Role: llm.RoleAssistant, Content: "hi"}, contains(`"role":"assistant"`)},
		{"tool", llm.Message{Role: llm.RoleTool, Content: "result", ToolCallID: "call_1"}, contains(`"tool_call_id":"call_1"`)},
		{"assistant tool call", llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       "call_2",
				Type:     llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`},
			}},
		}, contains(`"name":"web_search"`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(convertMessage(tt.msg))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !tt.want(b) {
				t.Fatalf("unexpected encoding %s", b)
			}
		})
	}
}

func contains(sub string) func([]byte) bool {
	return func(b []byte) bool { return strings.Contains(string(b), sub) }
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(WithAPIKey("test-key"), WithBaseURL(srv.URL+"/"), WithModel("test-model"))
}

func TestChat(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"skill\":\"search\"}"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`)
	})

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "pick"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != `{"skill":"search"}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if body["model"] != "test-model" {
		t.Errorf("expected default model in request, got %v", body["model"])
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", body["response_format"])
	}
}

func TestChatStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, err := p.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	var text strings.Builder
	done := false
	for c := range chunks {
		if c.Error != nil {
			t.Fatalf("stream error: %v", c.Error)
		}
		text.WriteString(c.Content)
		done = done || c.Done
	}
	if text.String() != "Hello" {
		t.Fatalf("expected Hello, got %q", text.String())
	}
	if !done {
		t.Fatal("expected a final Done chunk")
	}
}
