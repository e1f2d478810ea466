// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/argo/pkg/audit"
	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/llm"
	"github.com/jllopis/argo/pkg/memory"
	"github.com/jllopis/argo/pkg/message"
	"github.com/jllopis/argo/pkg/telemetry"
	"github.com/jllopis/argo/pkg/tool"
)

// Agent owns an identity, a model, the skill and tool registries and the
// persistent conversation history. Perform is the only way to run a turn,
// and the agent is the only writer of its history.
type Agent struct {
	name        string
	description string
	model       llm.Model
	selector    Selector
	skills      *registry[*Skill]
	tools       *registry[tool.Tool]

	persistent   bool
	systemPrompt string
	inShape      message.Shape
	outShape     message.Shape
	truncation   memory.Strategy
	recorder     audit.Recorder
	guard        Guard

	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      *telemetry.TurnMetrics
	errorMetrics *ErrorMetricsIntegration

	mu      sync.RWMutex
	history []message.Message
	state   atomic.Int32
	busy    atomic.Bool
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an agent. Name and model are required.
func New(name, description string, model llm.Model, opts ...Option) (*Agent, error) {
	a := &Agent{
		name:         name,
		description:  description,
		model:        model,
		skills:       newRegistry[*Skill]("skill"),
		tools:        newRegistry[tool.Tool]("tool"),
		persistent:   true,
		systemPrompt: DefaultSystemPrompt,
		logger:       slog.Default(),
		tracer:       otel.Tracer("argo/agent"),
		errorMetrics: GetErrorMetrics(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.name == "" {
		return nil, NewInvalidInputError("agent name is required")
	}
	if a.model == nil {
		return nil, NewInvalidInputError("agent " + a.name + " has no model")
	}
	if a.selector == nil {
		a.selector = NewModelSelector(a.model)
	}
	prompt, err := RenderSystemPrompt(a.systemPrompt, a.name, a.description)
	if err != nil {
		return nil, err
	}
	a.history = []message.Message{message.System(prompt)}
	return a, nil
}

// WithSelector replaces the default model-backed selector.
func WithSelector(s Selector) Option {
	return func(a *Agent) error {
		if s == nil {
			return NewInvalidInputError("selector is nil")
		}
		a.selector = s
		return nil
	}
}

// WithPersistent enables or disables the persistent history.
// Non-persistent agents keep only the system prompt across turns.
func WithPersistent(persistent bool) Option {
	return func(a *Agent) error {
		a.persistent = persistent
		return nil
	}
}

// WithSystemPrompt sets the system prompt template.
func WithSystemPrompt(tmpl string) Option {
	return func(a *Agent) error {
		a.systemPrompt = tmpl
		return nil
	}
}

// WithShapes declares the input and output shapes of the agent's turns.
// A zero Shape disables the corresponding check.
func WithShapes(in, out message.Shape) Option {
	return func(a *Agent) error {
		a.inShape, a.outShape = in, out
		return nil
	}
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithRecorder attaches a turn audit recorder.
func WithRecorder(r audit.Recorder) Option {
	return func(a *Agent) error {
		a.recorder = r
		return nil
	}
}

// WithTruncation bounds the conversation handed to each turn.
func WithTruncation(s memory.Strategy) Option {
	return func(a *Agent) error {
		a.truncation = s
		return nil
	}
}

// WithMetrics attaches turn metrics.
func WithMetrics(m *telemetry.TurnMetrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// Guard screens turn input and rewrites the text of produced messages.
// guardrails.Guardrails implements it.
type Guard interface {
	Check(ctx context.Context, text string) error
	Filter(ctx context.Context, text string) string
}

// WithGuard screens every turn with g.
func WithGuard(g Guard) Option {
	return func(a *Agent) error {
		a.guard = g
		return nil
	}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.description }

// Model returns the language model.
func (a *Agent) Model() llm.Model { return a.model }

// Logger returns the agent logger.
func (a *Agent) Logger() *slog.Logger { return a.logger }

// Persistent reports whether turns are committed to history.
func (a *Agent) Persistent() bool { return a.persistent }

// Skills returns the selectable skills in registration order.
func (a *Agent) Skills() []*Skill { return a.skills.list() }

// Tools returns the registered tools in registration order.
func (a *Agent) Tools() []tool.Tool { return a.tools.list() }

// History returns a copy of the persistent conversation.
func (a *Agent) History() []message.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]message.Message(nil), a.history...)
}

// State returns the lifecycle state of the current or last turn.
func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) setState(ctx context.Context, s State) {
	a.state.Store(int32(s))
	a.logger.DebugContext(ctx, "agent state", "agent", a.name, "state", s.String())
	trace.SpanFromContext(ctx).AddEvent("agent.state",
		trace.WithAttributes(attribute.String(telemetry.AttrTurnState, s.String())))
}

func (a *Agent) modelName() string {
	if n, ok := a.model.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", a.model)
}

// RegisterSkill builds a skill and makes it selectable.
func (a *Agent) RegisterSkill(name, description string, exec ExecutorFunc, opts ...SkillOption) (*Skill, error) {
	s, err := NewSkill(name, description, exec, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.AddSkill(s); err != nil {
		return nil, err
	}
	return s, nil
}

// AddSkill makes an existing skill selectable.
func (a *Agent) AddSkill(s *Skill) error {
	if s == nil {
		return NewInvalidInputError("skill is nil")
	}
	if s.description == "" {
		a.logger.Warn("skill registered without description", "agent", a.name, "skill", s.name)
	}
	return a.skills.add(s)
}

// RegisterTool makes t available to skills through Context.Invoke.
func (a *Agent) RegisterTool(t tool.Tool) error {
	if t == nil {
		return NewInvalidInputError("tool is nil")
	}
	if t.Description() == "" {
		a.logger.Warn("tool registered without description", "agent", a.name, "tool", t.Name())
	}
	return a.tools.add(t)
}

// Perform runs one turn over input. The returned sequence is lazy and
// single-pass. When it is fully consumed without error, input and every
// yielded message are appended to the history. A failed turn, or one the
// caller stops early, leaves the history untouched even if messages were
// already yielded.
//
// An agent runs one turn at a time; ranging a second Perform while one is
// in progress yields a CONFLICT error.
func (a *Agent) Perform(ctx context.Context, input message.Message) iter.Seq2[message.Message, error] {
	return once(func(yield func(message.Message, error) bool) {
		a.perform(ctx, input, yield)
	})
}

type turn struct {
	id        string
	start     time.Time
	skill     string
	status    string
	err       error
	produced  int
	committed bool
}

func (a *Agent) perform(ctx context.Context, input message.Message, yield func(message.Message, error) bool) {
	if !a.busy.CompareAndSwap(false, true) {
		yield(message.Message{}, errors.New(errors.CodeConflict, "a turn is already in progress", nil).
			WithContext("agent", a.name).
			WithContext("state", a.State().String()))
		return
	}
	defer a.busy.Store(false)

	history := a.History()
	t := &turn{id: uuid.NewString(), start: time.Now(), status: telemetry.TurnFailed}
	ctx, span := a.tracer.Start(ctx, "agent.perform",
		trace.WithAttributes(telemetry.TurnAttributes(a.name, a.modelName(), t.id, a.persistent, len(history))...))
	defer span.End()
	defer a.finish(ctx, span, t)

	fail := func(err error) {
		if cerr := ctx.Err(); cerr != nil && !errors.HasCode(err, errors.CodeContextLost) && !errors.HasCode(err, errors.CodeTimeout) {
			err = WrapContextError(cerr, a.State())
		}
		t.err = err
		a.setState(ctx, StateFailed)
		yield(message.Message{}, err)
	}

	if err := a.validateInput(input); err != nil {
		fail(err)
		return
	}
	if a.guard != nil && input.IsText() {
		if err := a.guard.Check(ctx, input.Text()); err != nil {
			fail(err)
			return
		}
	}

	conv := append(history, input)
	if a.truncation != nil {
		truncated, err := a.truncation.Truncate(ctx, conv)
		if err != nil {
			a.logger.WarnContext(ctx, "conversation truncation failed", "agent", a.name, "error", err)
		} else {
			conv = truncated
		}
	}

	c := NewContext(ctx, a, conv)
	a.setState(ctx, StateEngaging)
	skill, err := c.Engage()
	if err != nil {
		fail(err)
		return
	}
	t.skill = skill.name

	var produced []message.Message
	for msg, err := range skill.Execute(c) {
		if err != nil {
			fail(err)
			return
		}
		if cerr := ctx.Err(); cerr != nil {
			fail(WrapContextError(cerr, a.State()))
			return
		}
		if !a.outShape.IsZero() {
			if _, err := msg.Unpack(a.outShape); err != nil {
				fail(err)
				return
			}
		}
		msg = a.filter(ctx, msg)
		produced = append(produced, msg)
		t.produced = len(produced)
		if !yield(msg, nil) {
			t.status = telemetry.TurnAbandoned
			a.setState(ctx, StateIdle)
			return
		}
	}
	if cerr := ctx.Err(); cerr != nil {
		fail(WrapContextError(cerr, a.State()))
		return
	}

	a.setState(ctx, StateCommitting)
	if a.persistent {
		a.mu.Lock()
		a.history = append(a.history, input)
		a.history = append(a.history, produced...)
		a.mu.Unlock()
		t.committed = true
	}
	t.status = telemetry.TurnSucceeded
	a.setState(ctx, StateIdle)
}

func (a *Agent) validateInput(input message.Message) error {
	if input.IsZero() {
		return NewInvalidInputError("input message is empty")
	}
	if a.inShape.IsZero() {
		return nil
	}
	_, err := input.Unpack(a.inShape)
	return err
}

// filter passes the text of msg through the guard. Structured messages are
// left alone.
func (a *Agent) filter(ctx context.Context, msg message.Message) message.Message {
	if a.guard == nil || !msg.IsText() {
		return msg
	}
	text := msg.Text()
	if filtered := a.guard.Filter(ctx, text); filtered != text {
		return message.New(msg.Role(), filtered)
	}
	return msg
}

// finish reports a completed, failed or abandoned turn.
func (a *Agent) finish(ctx context.Context, span trace.Span, t *turn) {
	elapsed := time.Since(t.start)
	span.SetAttributes(
		attribute.String(telemetry.AttrTurnStatus, t.status),
		attribute.Int(telemetry.AttrTurnMessages, t.produced),
		attribute.String(telemetry.AttrSkillName, t.skill),
	)
	a.metrics.RecordTurn(ctx, a.name, t.skill, t.status, elapsed)

	if t.err != nil {
		span.RecordError(t.err)
		span.SetStatus(codes.Error, t.err.Error())
		a.errorMetrics.RecordError(ctx, t.err, "agent")
		a.logger.ErrorContext(ctx, "turn failed",
			"agent", a.name, "turn", t.id, "skill", t.skill, "error", t.err)
	} else {
		span.SetStatus(codes.Ok, "")
		a.logger.DebugContext(ctx, "turn finished",
			"agent", a.name, "turn", t.id, "skill", t.skill, "status", t.status,
			"messages", t.produced, "duration_ms", elapsed.Milliseconds())
	}

	if a.recorder == nil {
		return
	}
	rec := audit.Turn{
		TurnID:     t.id,
		Agent:      a.name,
		Skill:      t.skill,
		Status:     t.status,
		Messages:   t.produced,
		Committed:  t.committed,
		StartedAt:  t.start,
		FinishedAt: t.start.Add(elapsed),
	}
	if t.err != nil {
		rec.ErrorCode = string(errors.CodeOf(t.err))
	}
	if err := a.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		a.logger.WarnContext(ctx, "turn audit failed", "agent", a.name, "turn", t.id, "error", err)
	}
}
