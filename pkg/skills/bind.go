// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/jllopis/argo/pkg/agent"
	"github.com/jllopis/argo/pkg/message"
)

// BindOption configures Bind.
type BindOption func(*binder)

// WithResourceTools also registers every bound skill as a SkillTool, so
// other skills can fetch its instructions and resources.
func WithResourceTools() BindOption {
	return func(b *binder) { b.resourceTools = true }
}

type binder struct {
	agent         *agent.Agent
	specs         map[string]SkillSpec
	existing      map[string]*agent.Skill
	built         map[string]*agent.Skill
	visiting      map[string]bool
	resourceTools bool
}

// Bind turns specs into prompt skills on a. Requirements resolve against the
// other specs first and then against skills already registered on a.
// Specs whose metadata sets selectable to false are built as prerequisites
// only. Skills are returned in manifest order.
func Bind(a *agent.Agent, specs []SkillSpec, opts ...BindOption) ([]*agent.Skill, error) {
	b := &binder{
		agent:    a,
		specs:    make(map[string]SkillSpec, len(specs)),
		existing: make(map[string]*agent.Skill),
		built:    make(map[string]*agent.Skill),
		visiting: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, spec := range specs {
		if _, dup := b.specs[spec.Name]; dup {
			return nil, agent.NewDuplicateError("skill manifest", spec.Name)
		}
		b.specs[spec.Name] = spec
	}
	for _, s := range a.Skills() {
		b.existing[s.Name()] = s
	}

	out := make([]*agent.Skill, 0, len(specs))
	for _, spec := range specs {
		s, err := b.build(spec.Name, nil)
		if err != nil {
			return nil, err
		}
		if spec.Selectable() {
			if err := a.AddSkill(s); err != nil {
				return nil, err
			}
		}
		if b.resourceTools {
			if err := a.RegisterTool(NewSkillTool(spec)); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *binder) build(name string, path []string) (*agent.Skill, error) {
	if s, ok := b.built[name]; ok {
		return s, nil
	}
	spec, ok := b.specs[name]
	if !ok {
		if s, ok := b.existing[name]; ok {
			return s, nil
		}
		return nil, agent.NewNotFoundError("required skill", name).
			WithContext("required_by", strings.Join(path, " -> "))
	}
	if b.visiting[name] {
		return nil, agent.NewInvalidInputError("requires cycle: " + strings.Join(append(path, name), " -> "))
	}
	b.visiting[name] = true
	defer delete(b.visiting, name)

	next := append(slices.Clip(path), name)
	reqs := make([]*agent.Skill, 0, len(spec.Requires))
	for _, r := range spec.Requires {
		s, err := b.build(r, next)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, s)
	}
	s, err := agent.NewSkill(spec.Name, spec.Description, PromptExecutor(spec), agent.Requires(reqs...))
	if err != nil {
		return nil, err
	}
	b.built[name] = s
	return s, nil
}

// PromptExecutor runs a skill spec: it invokes every allowed tool that is
// registered on the agent with arguments bound from the conversation, then
// replies with the skill instructions and tool results as system context.
func PromptExecutor(spec SkillSpec) agent.ExecutorFunc {
	return func(c *agent.Context) iter.Seq2[message.Message, error] {
		return func(yield func(message.Message, error) bool) {
			var extra []message.Message
			if spec.Body != "" {
				extra = append(extra, message.System(spec.Body))
			}
			for _, name := range spec.AllowedTools {
				if _, ok := c.Tool(name); !ok {
					continue
				}
				out, err := c.InvokeFromConversation(name)
				if err != nil {
					yield(message.Message{}, err)
					return
				}
				extra = append(extra, message.System(fmt.Sprintf("Result of %s:\n%v", name, out)))
			}
			for msg, err := range c.Reply(extra...) {
				if !yield(msg, err) {
					return
				}
			}
		}
	}
}
