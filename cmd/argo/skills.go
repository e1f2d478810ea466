// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"iter"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/argo/pkg/agent"
	"github.com/jllopis/argo/pkg/config"
	"github.com/jllopis/argo/pkg/message"
	"github.com/jllopis/argo/pkg/skills"
	"github.com/jllopis/argo/pkg/tool"
	"github.com/jllopis/argo/pkg/tools/webfetch"
	"github.com/jllopis/argo/pkg/tools/websearch"
)

const (
	skillChat     = "chat"
	skillSearch   = "search"
	skillResearch = "research"
	skillAnswer   = "question_answering"

	// maxResearchPages bounds how many search hits the research skill reads.
	maxResearchPages = 2
)

type pageSummary struct {
	Relevant bool   `json:"relevant" jsonschema:"description=Whether the page helps answer the question"`
	Summary  string `json:"summary" jsonschema:"description=Short summary of the facts on the page that answer the question"`
}

func chatSkill(c *agent.Context) iter.Seq2[message.Message, error] {
	return c.Reply()
}

func searchSkill(c *agent.Context) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		out, err := c.InvokeFromConversation(websearch.Name)
		if err != nil {
			yield(message.Message{}, err)
			return
		}
		for msg, err := range c.Reply(message.System(fmt.Sprintf(
			"%s\n\nAnswer the user with these results and cite the URLs you used.", out))) {
			if !yield(msg, err) {
				return
			}
		}
	}
}

// researchSkill searches the web and reads the best hits concurrently. It
// yields notes, in search order, for the skills that require it.
func researchSkill(c *agent.Context) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		out, err := c.InvokeFromConversation(websearch.Name)
		if err != nil {
			yield(message.Message{}, err)
			return
		}
		if !yield(message.System(fmt.Sprintf("Research notes:\n%s", out)), nil) {
			return
		}
		res, ok := out.(websearch.Response)
		if !ok {
			return
		}
		if _, ok := c.Tool(webfetch.Name); !ok {
			return
		}

		var urls []string
		for _, hit := range res.Results {
			if hit.URL != "" && len(urls) < maxResearchPages {
				urls = append(urls, hit.URL)
			}
		}
		pages := make([]any, len(urls))
		var g errgroup.Group
		for i, url := range urls {
			g.Go(func() error {
				page, err := c.Invoke(webfetch.Name, tool.Args{"url": url})
				if err != nil {
					c.Agent().Logger().WarnContext(c.Context(), "research page skipped", "url", url, "error", err)
					return nil
				}
				pages[i] = page
				return nil
			})
		}
		_ = g.Wait()

		for i, page := range pages {
			if page == nil {
				continue
			}
			v, err := c.Parse(message.ShapeOf[pageSummary](), message.System(fmt.Sprintf(
				"%s\n\nSummarize what this page says about the user's question.", page)))
			if err != nil {
				yield(message.Message{}, err)
				return
			}
			summary := v.(pageSummary)
			if !summary.Relevant || strings.TrimSpace(summary.Summary) == "" {
				continue
			}
			if !yield(message.System(fmt.Sprintf("Research notes from %s:\n%s", urls[i], summary.Summary)), nil) {
				return
			}
		}
	}
}

func answerSkill(c *agent.Context) iter.Seq2[message.Message, error] {
	return c.Reply(message.System(
		"Answer the user's question using the research notes above. Cite the URLs they came from."))
}

// registerBuiltinSkills registers chat and, when web search is available,
// the search and question answering skills.
func registerBuiltinSkills(a *agent.Agent) error {
	if _, err := a.RegisterSkill(skillChat,
		"General conversation. Answers from the model's own knowledge without tools.",
		chatSkill); err != nil {
		return err
	}
	if !hasTool(a, websearch.Name) {
		return nil
	}
	if _, err := a.RegisterSkill(skillSearch,
		"Quick web lookups of facts such as people, places, definitions and dates.",
		searchSkill); err != nil {
		return err
	}
	research, err := agent.NewSkill(skillResearch,
		"Searches the web and reads the top pages.", researchSkill)
	if err != nil {
		return err
	}
	_, err = a.RegisterSkill(skillAnswer,
		"Questions that need research across several web pages before answering.",
		answerSkill, agent.Requires(research))
	return err
}

func hasTool(a *agent.Agent, name string) bool {
	for _, t := range a.Tools() {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// tableSelector routes on keywords. Manifest skills are matched by name.
func tableSelector(cfg *config.Config, specs []skills.SkillSpec) agent.TableSelector {
	var rules []agent.TableRule
	for _, spec := range specs {
		if !spec.Selectable() {
			continue
		}
		rules = append(rules, agent.TableRule{
			Keywords: []string{spec.Name, strings.ReplaceAll(spec.Name, "-", " ")},
			Skill:    spec.Name,
		})
	}
	if cfg.Search.Enabled {
		rules = append(rules,
			agent.TableRule{Keywords: []string{"research", "in depth", "compare"}, Skill: skillAnswer},
			agent.TableRule{Keywords: []string{"search", "look up", "who is", "what is"}, Skill: skillSearch},
		)
	}
	return agent.TableSelector{Rules: rules, Fallback: skillChat}
}
