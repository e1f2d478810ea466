// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/message"
)

// Model is the language-model capability consumed by agents.
type Model interface {
	// Generate streams the completion of conversation as text chunks.
	Generate(ctx context.Context, conversation []message.Message) iter.Seq2[string, error]
	// Parse asks the model for a value conforming to shape and decodes it.
	Parse(ctx context.Context, shape message.Shape, conversation []message.Message) (any, error)
}

// Callback receives every generated chunk, for side-channel display.
type Callback func(chunk string)

// ModelOption configures a ProviderModel.
type ModelOption func(*ProviderModel)

// WithModelName sets the model name sent on every request.
func WithModelName(name string) ModelOption {
	return func(m *ProviderModel) {
		m.name = name
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ModelOption {
	return func(m *ProviderModel) {
		m.temperature = t
	}
}

// WithCallback installs a per-chunk streaming callback.
func WithCallback(cb Callback) ModelOption {
	return func(m *ProviderModel) {
		m.callback = cb
	}
}

// WithStreaming toggles use of ChatStream when the provider supports it.
func WithStreaming(enabled bool) ModelOption {
	return func(m *ProviderModel) {
		m.streaming = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ModelOption {
	return func(m *ProviderModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// ProviderModel implements Model over a chat Provider.
type ProviderModel struct {
	provider    Provider
	name        string
	temperature float64
	callback    Callback
	streaming   bool
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewModel wraps provider as a Model.
func NewModel(provider Provider, opts ...ModelOption) *ProviderModel {
	m := &ProviderModel{
		provider:  provider,
		streaming: true,
		logger:    slog.Default(),
		tracer:    otel.Tracer("argo/llm"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the configured model name.
func (m *ProviderModel) Name() string { return m.name }

// Generate implements Model.
func (m *ProviderModel) Generate(ctx context.Context, conversation []message.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := m.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
			attribute.String("gen_ai.request.model", m.name),
			attribute.Int("gen_ai.request.messages", len(conversation)),
		))
		defer span.End()

		req := m.request(conversation)
		fail := func(err error) {
			werr := wrapModelError(err, m.name)
			span.RecordError(werr)
			span.SetStatus(codes.Error, werr.Error())
			yield("", werr)
		}

		sp, ok := m.provider.(StreamingProvider)
		if !ok || !m.streaming {
			resp, err := m.provider.Chat(ctx, req)
			if err != nil {
				fail(err)
				return
			}
			recordUsage(span, resp.Usage)
			m.emit(ctx, resp.Content)
			yield(resp.Content, nil)
			return
		}

		streamCtx, cancel := context.WithCancel(ctx)
		chunks, err := sp.ChatStream(streamCtx, req)
		if err != nil {
			cancel()
			fail(err)
			return
		}
		// Cancel first, then drain, so the producer goroutine can exit.
		defer func() {
			for range chunks {
			}
		}()
		defer cancel()
		for chunk := range chunks {
			if chunk.Error != nil {
				fail(chunk.Error)
				return
			}
			if chunk.Usage != nil {
				recordUsage(span, *chunk.Usage)
			}
			if chunk.Content != "" {
				m.emit(ctx, chunk.Content)
				if !yield(chunk.Content, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}
}

// Parse implements Model.
func (m *ProviderModel) Parse(ctx context.Context, shape message.Shape, conversation []message.Message) (any, error) {
	ctx, span := m.tracer.Start(ctx, "llm.parse", trace.WithAttributes(
		attribute.String("gen_ai.request.model", m.name),
		attribute.String("argo.shape", shape.Name()),
	))
	defer span.End()

	req := m.request(conversation)
	if !shape.IsText() {
		req.JSON = true
		req.Messages = append(req.Messages, Message{
			Role: RoleSystem,
			Content: "Respond only with a JSON value that conforms to this JSON schema, " +
				"without any surrounding text: " + shape.SchemaJSON(),
		})
	}
	resp, err := m.provider.Chat(ctx, req)
	if err != nil {
		werr := wrapModelError(err, m.name)
		span.RecordError(werr)
		span.SetStatus(codes.Error, werr.Error())
		return nil, werr
	}
	recordUsage(span, resp.Usage)
	if shape.IsText() {
		return resp.Content, nil
	}

	raw := ExtractJSON(resp.Content)
	v, err := shape.Decode([]byte(raw))
	if err == nil {
		return v, nil
	}
	repaired, rerr := jsonrepair.JSONRepair(raw)
	if rerr != nil {
		span.RecordError(err)
		return nil, err
	}
	m.logger.DebugContext(ctx, "repaired model JSON output", "shape", shape.Name())
	v, err = shape.Decode([]byte(repaired))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v, nil
}

func (m *ProviderModel) request(conversation []message.Message) ChatRequest {
	return ChatRequest{
		Model:       m.name,
		Messages:    FromMessages(conversation),
		Temperature: m.temperature,
	}
}

func (m *ProviderModel) emit(ctx context.Context, chunk string) {
	if m.callback != nil && chunk != "" && !Muted(ctx) {
		m.callback(chunk)
	}
}

type muteKey struct{}

// Mute returns a context under which models do not call their streaming
// callback. Chunks are still yielded.
func Mute(ctx context.Context) context.Context {
	return context.WithValue(ctx, muteKey{}, true)
}

// Muted reports whether ctx was built by Mute.
func Muted(ctx context.Context) bool {
	muted, _ := ctx.Value(muteKey{}).(bool)
	return muted
}

// FromMessages converts conversation messages to provider wire messages.
func FromMessages(conversation []message.Message) []Message {
	out := make([]Message, 0, len(conversation))
	for _, msg := range conversation {
		out = append(out, Message{
			Role:    Role(msg.Role()),
			Content: msg.Text(),
		})
	}
	return out
}

// ExtractJSON trims markdown fences and surrounding prose from a model answer,
// returning the outermost JSON object or array when one is present.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		if idx := strings.LastIndex(rest, "```"); idx >= 0 {
			rest = rest[:idx]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func recordUsage(span trace.Span, usage Usage) {
	if usage.TotalTokens == 0 {
		return
	}
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", usage.CompletionTokens),
		attribute.Int("gen_ai.usage.total_tokens", usage.TotalTokens),
	)
}

func wrapModelError(err error, model string) error {
	if ae, ok := err.(*errors.ArgoError); ok && ae.Code == errors.CodeLLMError {
		return ae
	}
	return errors.New(errors.CodeLLMError, "model call failed", err).
		WithContext("model", model).
		WithAttribute("gen_ai.request.model", model).
		WithRecoverable(true)
}

var _ Model = (*ProviderModel)(nil)

// String implements fmt.Stringer.
func (m *ProviderModel) String() string {
	return fmt.Sprintf("model(%s)", m.name)
}
