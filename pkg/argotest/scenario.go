// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package argotest runs agent turns as declarative test scenarios.
//
//	provider := llm.NewScriptedMockProvider("Hello!")
//	a, _ := agent.New("argo", "", llm.NewModel(provider))
//	a.RegisterSkill("chat", "Talk", func(c *agent.Context) iter.Seq2[message.Message, error] {
//	    return c.Reply()
//	})
//
//	argotest.NewScenario("greeting").
//	    WithInput("Hi").
//	    ExpectNoError().
//	    ExpectOutput(argotest.Contains("Hello")).
//	    ExpectCommitted().
//	    Run(t, a).
//	    Assert(t)
package argotest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/argo/pkg/agent"
	"github.com/jllopis/argo/pkg/audit"
	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/message"
)

// Scenario is one turn against an agent plus the expectations on its outcome.
type Scenario struct {
	name         string
	input        message.Message
	ctx          context.Context
	timeout      time.Duration
	stopAfter    int
	recorder     *audit.InMemoryRecorder
	expectations []Expectation
}

// Expectation is a condition checked against a ScenarioResult.
type Expectation interface {
	Check(r *ScenarioResult) error
	Description() string
}

// ScenarioResult is the observed outcome of a scenario.
type ScenarioResult struct {
	scenario *Scenario

	Messages []message.Message
	// Output joins the text of Messages with newlines.
	Output string
	Error  error
	// HistoryDelta is the number of messages the turn added to the history.
	HistoryDelta int
	// Skill is the selected skill. It is only known when the scenario has
	// a recorder attached to the agent.
	Skill    string
	Duration time.Duration
}

// Committed reports whether the turn reached the history.
func (r *ScenarioResult) Committed() bool { return r.HistoryDelta > 0 }

// NewScenario creates a scenario with a 30 second timeout.
func NewScenario(name string) *Scenario {
	return &Scenario{name: name, ctx: context.Background(), timeout: 30 * time.Second}
}

// WithInput sets a user text input.
func (s *Scenario) WithInput(text string) *Scenario {
	s.input = message.User(text)
	return s
}

// WithMessage sets the input message.
func (s *Scenario) WithMessage(msg message.Message) *Scenario {
	s.input = msg
	return s
}

// WithContext sets the parent context of the turn.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.ctx = ctx
	return s
}

// WithTimeout bounds the turn.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// StopAfter stops consuming the turn after n messages.
func (s *Scenario) StopAfter(n int) *Scenario {
	s.stopAfter = n
	return s
}

// WithRecorder reads the selected skill from r, which must be the agent's
// audit recorder.
func (s *Scenario) WithRecorder(r *audit.InMemoryRecorder) *Scenario {
	s.recorder = r
	return s
}

// Expect adds an expectation.
func (s *Scenario) Expect(e Expectation) *Scenario {
	s.expectations = append(s.expectations, e)
	return s
}

// ExpectOutput matches the joined output text.
func (s *Scenario) ExpectOutput(m StringMatcher) *Scenario {
	return s.Expect(&outputExpectation{matcher: m})
}

// ExpectMessages expects exactly n messages.
func (s *Scenario) ExpectMessages(n int) *Scenario {
	return s.Expect(&messageCountExpectation{count: n})
}

// ExpectNoError expects the turn to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectErrorCode expects the turn to fail with code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(&errorCodeExpectation{code: code})
}

// ExpectCommitted expects the input and every message in the history.
func (s *Scenario) ExpectCommitted() *Scenario {
	return s.Expect(&committedExpectation{})
}

// ExpectHistoryUnchanged expects the turn to leave the history alone.
func (s *Scenario) ExpectHistoryUnchanged() *Scenario {
	return s.Expect(&historyUnchangedExpectation{})
}

// ExpectSkill expects name to be selected. Needs WithRecorder.
func (s *Scenario) ExpectSkill(name string) *Scenario {
	return s.Expect(&skillExpectation{name: name})
}

// ExpectMaxDuration expects the turn to finish within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run performs the scenario turn on a.
func (s *Scenario) Run(t testing.TB, a *agent.Agent) *ScenarioResult {
	t.Helper()
	if s.input.IsZero() {
		t.Fatalf("scenario %q has no input", s.name)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	before := len(a.History())
	r := &ScenarioResult{scenario: s}
	start := time.Now()
	for msg, err := range a.Perform(ctx, s.input) {
		if err != nil {
			r.Error = err
			break
		}
		r.Messages = append(r.Messages, msg)
		if s.stopAfter > 0 && len(r.Messages) >= s.stopAfter {
			break
		}
	}
	r.Duration = time.Since(start)
	r.HistoryDelta = len(a.History()) - before

	texts := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		texts[i] = m.Text()
	}
	r.Output = strings.Join(texts, "\n")

	if s.recorder != nil {
		turns, err := s.recorder.List(context.Background(), audit.Filter{Agent: a.Name()})
		if err != nil {
			t.Fatalf("scenario %q: list turns: %v", s.name, err)
		}
		if len(turns) > 0 {
			r.Skill = turns[len(turns)-1].Skill
		}
	}
	return r
}

// Assert reports every failed expectation.
func (r *ScenarioResult) Assert(t testing.TB) {
	t.Helper()
	for _, e := range r.scenario.expectations {
		if err := e.Check(r); err != nil {
			t.Errorf("scenario %q: %s: %v", r.scenario.name, e.Description(), err)
		}
	}
}

// StringMatcher matches output text.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

type matcherFunc struct {
	match func(string) bool
	desc  string
}

func (m matcherFunc) Match(s string) bool { return m.match(s) }
func (m matcherFunc) Description() string { return m.desc }

// Contains matches text containing substr.
func Contains(substr string) StringMatcher {
	return matcherFunc{func(s string) bool { return strings.Contains(s, substr) }, fmt.Sprintf("contains %q", substr)}
}

// NotContains matches text without substr.
func NotContains(substr string) StringMatcher {
	return matcherFunc{func(s string) bool { return !strings.Contains(s, substr) }, fmt.Sprintf("does not contain %q", substr)}
}

// Equals matches text equal to want.
func Equals(want string) StringMatcher {
	return matcherFunc{func(s string) bool { return s == want }, fmt.Sprintf("equals %q", want)}
}

// HasPrefix matches text starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return matcherFunc{func(s string) bool { return strings.HasPrefix(s, prefix) }, fmt.Sprintf("has prefix %q", prefix)}
}

// Regex matches text against pattern. An invalid pattern matches nothing.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return matcherFunc{func(s string) bool { return err == nil && re.MatchString(s) }, fmt.Sprintf("matches /%s/", pattern)}
}

type outputExpectation struct{ matcher StringMatcher }

func (e *outputExpectation) Check(r *ScenarioResult) error {
	if !e.matcher.Match(r.Output) {
		return fmt.Errorf("got %q", r.Output)
	}
	return nil
}

func (e *outputExpectation) Description() string { return "output " + e.matcher.Description() }

type messageCountExpectation struct{ count int }

func (e *messageCountExpectation) Check(r *ScenarioResult) error {
	if len(r.Messages) != e.count {
		return fmt.Errorf("got %d messages", len(r.Messages))
	}
	return nil
}

func (e *messageCountExpectation) Description() string {
	return fmt.Sprintf("yields %d messages", e.count)
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "succeeds" }

type errorCodeExpectation struct{ code errors.ErrorCode }

func (e *errorCodeExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("turn succeeded")
	}
	if got := errors.CodeOf(r.Error); got != e.code {
		return fmt.Errorf("got %s: %v", got, r.Error)
	}
	return nil
}

func (e *errorCodeExpectation) Description() string { return "fails with " + string(e.code) }

type committedExpectation struct{}

func (e *committedExpectation) Check(r *ScenarioResult) error {
	if want := len(r.Messages) + 1; r.HistoryDelta != want {
		return fmt.Errorf("history grew by %d, want %d", r.HistoryDelta, want)
	}
	return nil
}

func (e *committedExpectation) Description() string { return "commits the turn" }

type historyUnchangedExpectation struct{}

func (e *historyUnchangedExpectation) Check(r *ScenarioResult) error {
	if r.HistoryDelta != 0 {
		return fmt.Errorf("history grew by %d", r.HistoryDelta)
	}
	return nil
}

func (e *historyUnchangedExpectation) Description() string { return "leaves the history unchanged" }

type skillExpectation struct{ name string }

func (e *skillExpectation) Check(r *ScenarioResult) error {
	if r.scenario.recorder == nil {
		return fmt.Errorf("no recorder attached")
	}
	if r.Skill != e.name {
		return fmt.Errorf("selected %q", r.Skill)
	}
	return nil
}

func (e *skillExpectation) Description() string { return "selects " + e.name }

type maxDurationExpectation struct{ max time.Duration }

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("took %s", r.Duration)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("finishes within %s", e.max)
}
