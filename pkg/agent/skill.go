// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"iter"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/argo/pkg/llm"
	"github.com/jllopis/argo/pkg/message"
	"github.com/jllopis/argo/pkg/telemetry"
)

// ExecutorFunc is the body of a skill. It produces the skill's messages
// lazily and may use c to reply, parse, invoke tools and fold context.
type ExecutorFunc func(c *Context) iter.Seq2[message.Message, error]

// Skill is a named, described capability an agent can select for a turn.
// Skills are immutable after construction.
type Skill struct {
	name        string
	description string
	exec        ExecutorFunc
	requires    []*Skill
}

// SkillOption configures a Skill.
type SkillOption func(*Skill) error

// Requires declares prerequisite skills that run, in order, before the body.
func Requires(skills ...*Skill) SkillOption {
	return func(s *Skill) error {
		for _, r := range skills {
			if r == nil {
				return NewInvalidInputError("required skill of " + s.name + " is nil")
			}
		}
		s.requires = append(s.requires, skills...)
		return nil
	}
}

// NewSkill builds a skill. Registering it with an agent makes it selectable;
// an unregistered skill can still serve as a prerequisite.
func NewSkill(name, description string, exec ExecutorFunc, opts ...SkillOption) (*Skill, error) {
	if name == "" {
		return nil, NewInvalidInputError("skill name is required")
	}
	if exec == nil {
		return nil, NewInvalidInputError("skill " + name + " has no executor")
	}
	s := &Skill{name: name, description: description, exec: exec}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := checkAcyclic(s, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// MustSkill is like NewSkill but panics on error. Meant for package-level
// declarations.
func MustSkill(name, description string, exec ExecutorFunc, opts ...SkillOption) *Skill {
	s, err := NewSkill(name, description, exec, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkAcyclic(s *Skill, path []string) error {
	for _, p := range path {
		if p == s.name {
			return NewInvalidInputError("requires cycle through skill "+s.name).
				WithContext("path", append(path, s.name))
		}
	}
	path = append(path, s.name)
	for _, r := range s.requires {
		if err := checkAcyclic(r, path); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the skill name.
func (s *Skill) Name() string { return s.name }

// Description returns the skill description.
func (s *Skill) Description() string { return s.description }

// Requires returns the declared prerequisites in declaration order.
func (s *Skill) Requires() []*Skill {
	return append([]*Skill(nil), s.requires...)
}

// Execute runs the requires chain and then the body against c.
// Messages produced by prerequisites are folded into c and are not yielded.
// The returned sequence is single-pass.
func (s *Skill) Execute(c *Context) iter.Seq2[message.Message, error] {
	return once(func(yield func(message.Message, error) bool) {
		s.run(c, "", yield)
	})
}

func (s *Skill) run(c *Context, requiredBy string, yield func(message.Message, error) bool) {
	ctx, span := c.agent.tracer.Start(c.ctx, "skill.execute",
		trace.WithAttributes(telemetry.SkillAttributes(s.name, skillNames(s.requires), requiredBy)...))
	defer span.End()

	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		yield(message.Message{}, err)
	}

	if requiredBy != "" {
		// Prerequisite output is folded, never shown.
		ctx = llm.Mute(ctx)
	}
	parent := c.ctx
	c.ctx = ctx
	defer func() { c.ctx = parent }()

	for _, req := range s.requires {
		if err := c.ctx.Err(); err != nil {
			fail(WrapContextError(err, c.agent.State()))
			return
		}
		c.agent.setState(c.ctx, StateRequiring)
		if err := c.require(req, s.name); err != nil {
			fail(WrapRequiresError(err, s.name, req.name))
			return
		}
	}

	if err := c.ctx.Err(); err != nil {
		fail(WrapContextError(err, c.agent.State()))
		return
	}
	if requiredBy == "" {
		c.agent.setState(c.ctx, StateExecuting)
	}
	for msg, err := range s.exec(c) {
		if err != nil {
			fail(err)
			return
		}
		if !yield(msg, nil) {
			return
		}
	}
}

// require runs req to completion and folds its messages into c.
func (c *Context) require(req *Skill, requiredBy string) error {
	var failure error
	req.run(c, requiredBy, func(msg message.Message, err error) bool {
		if err != nil {
			failure = err
			return false
		}
		c.Add(msg)
		return true
	})
	return failure
}

func skillNames(skills []*Skill) []string {
	if len(skills) == 0 {
		return nil
	}
	out := make([]string, len(skills))
	for i, s := range skills {
		out[i] = s.name
	}
	return out
}

// once guards seq so that ranging it a second time yields ErrSequenceConsumed.
func once[T any](seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	var used atomic.Bool
	return func(yield func(T, error) bool) {
		if !used.CompareAndSwap(false, true) {
			var zero T
			yield(zero, ErrSequenceConsumed)
			return
		}
		seq(yield)
	}
}
