// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/jllopis/argo/pkg/message"
	"github.com/jllopis/argo/pkg/telemetry"
	"github.com/jllopis/argo/pkg/tool"
)

// Context is the working state of one turn: the owning agent and the
// conversation the selected skill sees. It is never shared across turns.
type Context struct {
	ctx   context.Context
	agent *Agent

	mu           sync.Mutex
	conversation []message.Message
}

// NewContext creates a turn context over conversation. Agents create one
// per Perform; tests and tools may build their own.
func NewContext(ctx context.Context, a *Agent, conversation []message.Message) *Context {
	return &Context{
		ctx:          ctx,
		agent:        a,
		conversation: append([]message.Message(nil), conversation...),
	}
}

// Context returns the context.Context of the turn.
func (c *Context) Context() context.Context { return c.ctx }

// Agent returns the owning agent.
func (c *Context) Agent() *Agent { return c.agent }

// Messages returns a copy of the working conversation.
func (c *Context) Messages() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Message(nil), c.conversation...)
}

// Last returns the latest message of the working conversation.
func (c *Context) Last() (message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.conversation) == 0 {
		return message.Message{}, false
	}
	return c.conversation[len(c.conversation)-1], true
}

// Add folds messages into the working conversation. The agent's persistent
// history is not affected.
func (c *Context) Add(msgs ...message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversation = append(c.conversation, msgs...)
}

func (c *Context) with(extra []message.Message) []message.Message {
	conv := c.Messages()
	return append(conv, extra...)
}

// Engage selects the skill that handles the conversation.
// With a single registered skill the selector is not consulted.
func (c *Context) Engage() (*Skill, error) {
	a := c.agent
	ctx, span := a.tracer.Start(c.ctx, "agent.engage")
	defer span.End()

	skills := a.skills.list()
	fail := func(err error) (*Skill, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	switch len(skills) {
	case 0:
		return fail(NewNoSkillError(a.name))
	case 1:
		span.SetAttributes(telemetry.SelectionAttributes("single", a.skills.names(), skills[0].name)...)
		return skills[0], nil
	}

	candidates := make([]Candidate, len(skills))
	for i, s := range skills {
		candidates[i] = Candidate{Name: s.name, Description: s.description}
	}
	answer, err := a.selector.Choose(ctx, c.Messages(), candidates)
	if err != nil {
		return fail(NewSelectionError(answer, err))
	}
	skill, ok := a.skills.get(answer)
	if !ok {
		return fail(NewSelectionError(answer, nil))
	}
	span.SetAttributes(telemetry.SelectionAttributes(fmt.Sprintf("%T", a.selector), a.skills.names(), skill.name)...)
	a.logger.DebugContext(ctx, "skill selected", "agent", a.name, "skill", skill.name)
	return skill, nil
}

// Reply hands the working conversation, plus extra, to the model and yields
// one complete assistant message. Chunks reach the model's streaming
// callback as they arrive.
func (c *Context) Reply(extra ...message.Message) iter.Seq2[message.Message, error] {
	return once(func(yield func(message.Message, error) bool) {
		msg, err := c.Complete(extra...)
		if err != nil {
			yield(message.Message{}, err)
			return
		}
		yield(msg, nil)
	})
}

// Stream is like Reply but yields one assistant message per chunk.
func (c *Context) Stream(extra ...message.Message) iter.Seq2[message.Message, error] {
	return once(func(yield func(message.Message, error) bool) {
		for chunk, err := range c.agent.model.Generate(c.ctx, c.with(extra)) {
			if err != nil {
				yield(message.Message{}, WrapModelError(err, c.agent.modelName()))
				return
			}
			if !yield(message.Assistant(chunk), nil) {
				return
			}
		}
	})
}

// Complete collects a full reply from the model.
func (c *Context) Complete(extra ...message.Message) (message.Message, error) {
	var b strings.Builder
	for chunk, err := range c.agent.model.Generate(c.ctx, c.with(extra)) {
		if err != nil {
			return message.Message{}, WrapModelError(err, c.agent.modelName())
		}
		b.WriteString(chunk)
	}
	return message.Assistant(b.String()), nil
}

// Parse asks the model for a value of shape given the working conversation
// plus extra.
func (c *Context) Parse(shape message.Shape, extra ...message.Message) (any, error) {
	return c.agent.model.Parse(c.ctx, shape, c.with(extra))
}

// Tool returns a registered tool by name.
func (c *Context) Tool(name string) (tool.Tool, bool) {
	return c.agent.tools.get(name)
}

// Invoke runs the registered tool name with args.
func (c *Context) Invoke(name string, args tool.Args) (any, error) {
	t, ok := c.agent.tools.get(name)
	if !ok {
		return nil, NewNotFoundError("tool", name)
	}

	a := c.agent
	ctx, span := a.tracer.Start(c.ctx, "tool.invoke")
	defer span.End()

	start := time.Now()
	out, err := t.Invoke(ctx, args)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	span.SetAttributes(telemetry.ToolCallAttributes(name, elapsed, err == nil)...)
	if raw, merr := json.Marshal(args); merr == nil {
		span.SetAttributes(telemetry.ToolCallArgsResult(string(raw), fmt.Sprint(out), 0)...)
	}
	a.metrics.RecordTool(ctx, name, err == nil)
	if err != nil {
		werr := WrapToolError(err, name)
		span.RecordError(werr)
		span.SetStatus(codes.Error, werr.Error())
		a.errorMetrics.RecordError(ctx, werr, "tool")
		a.logger.WarnContext(ctx, "tool invocation failed", "tool", name, "error", werr)
		return nil, werr
	}
	a.logger.DebugContext(ctx, "tool invoked", "tool", name, "duration_ms", elapsed)
	return out, nil
}

// InvokeFromConversation binds the latest user message to the tool's
// arguments and invokes it.
func (c *Context) InvokeFromConversation(name string) (any, error) {
	t, ok := c.agent.tools.get(name)
	if !ok {
		return nil, NewNotFoundError("tool", name)
	}
	args, err := tool.ArgsFromMessages(t, c.Messages())
	if err != nil {
		return nil, err
	}
	return c.Invoke(name, args)
}
