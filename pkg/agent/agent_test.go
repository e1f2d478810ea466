package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/jllopis/argo/pkg/audit"
	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/llm"
	"github.com/jllopis/argo/pkg/memory"
	"github.com/jllopis/argo/pkg/message"
	"github.com/jllopis/argo/pkg/tool"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(t *testing.T, provider llm.Provider, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	a, err := New("argo", "A test assistant", llm.NewModel(provider), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

type iter2 = iter.Seq2[message.Message, error]

// emit yields fixed messages.
func emit(texts ...string) ExecutorFunc {
	return func(c *Context) iter2 {
		return func(yield func(message.Message, error) bool) {
			for _, s := range texts {
				if !yield(message.Assistant(s), nil) {
					return
				}
			}
		}
	}
}

func collect(seq iter2) ([]message.Message, error) {
	var out []message.Message
	var last error
	for msg, err := range seq {
		if err != nil {
			last = err
			continue
		}
		out = append(out, msg)
	}
	return out, last
}

func TestNew(t *testing.T) {
	model := llm.NewModel(&llm.MockProvider{})
	if _, err := New("", "", model); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for empty name, got %v", err)
	}
	if _, err := New("argo", "", nil); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for nil model, got %v", err)
	}
	if _, err := New("argo", "", model, WithSystemPrompt("{{.Nope")); err == nil {
		t.Fatal("expected template error")
	}

	a, err := New("argo", "Answers questions", model, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h := a.History()
	if len(h) != 1 || h[0].Role() != message.RoleSystem {
		t.Fatalf("expected a single system message, got %v", h)
	}
	if !strings.Contains(h[0].Text(), "You are argo") || !strings.Contains(h[0].Text(), "Answers questions") {
		t.Fatalf("unexpected system prompt %q", h[0].Text())
	}
	if !a.Persistent() || a.State() != StateIdle || a.Model() != model {
		t.Fatal("unexpected defaults")
	}
}

func TestRegistration(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	if _, err := a.RegisterSkill("chat", "Talk", emit("hi")); err != nil {
		t.Fatalf("RegisterSkill failed: %v", err)
	}
	if _, err := a.RegisterSkill("chat", "Again", emit("hi")); !errors.HasCode(err, errors.CodeConflict) {
		t.Fatalf("expected CONFLICT for duplicate skill, got %v", err)
	}
	if _, err := a.RegisterSkill("", "x", emit()); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for empty name, got %v", err)
	}
	if _, err := a.RegisterSkill("nil", "x", nil); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for nil executor, got %v", err)
	}

	echo := tool.NewFunc("echo", "Echo", nil, func(_ context.Context, args tool.Args) (any, error) { return args, nil })
	if err := a.RegisterTool(echo); err != nil {
		t.Fatalf("RegisterTool failed: %v", err)
	}
	if err := a.RegisterTool(echo); !errors.HasCode(err, errors.CodeConflict) {
		t.Fatalf("expected CONFLICT for duplicate tool, got %v", err)
	}

	skills := a.Skills()
	if len(skills) != 1 || skills[0].Name() != "chat" || skills[0].Description() != "Talk" {
		t.Fatalf("unexpected skills %v", skills)
	}
	if tools := a.Tools(); len(tools) != 1 || tools[0].Name() != "echo" {
		t.Fatalf("unexpected tools %v", tools)
	}
}

func TestSkillCycleRejected(t *testing.T) {
	a := MustSkill("a", "", emit())
	b := MustSkill("b", "", emit(), Requires(a))
	// a cannot be rebuilt to require b, so a cycle needs a self reference.
	self := &Skill{name: "self", exec: emit()}
	self.requires = []*Skill{self}
	if _, err := NewSkill("outer", "", emit(), Requires(b, self)); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected cycle to be rejected, got %v", err)
	}
	if _, err := NewSkill("x", "", emit(), Requires(nil)); err == nil {
		t.Fatal("expected nil requirement to be rejected")
	}
}

func TestEngage(t *testing.T) {
	ctx := context.Background()
	conv := []message.Message{message.User("hello")}

	t.Run("no skills", func(t *testing.T) {
		a := newTestAgent(t, &llm.MockProvider{})
		_, err := NewContext(ctx, a, conv).Engage()
		if !stderrors.Is(err, ErrNoSkillAvailable) {
			t.Fatalf("expected NO_SKILL_AVAILABLE, got %v", err)
		}
	})

	t.Run("single skill skips selector", func(t *testing.T) {
		a := newTestAgent(t, &llm.MockProvider{}, WithSelector(SelectorFunc(
			func(context.Context, []message.Message, []Candidate) (string, error) {
				t.Fatal("selector must not be consulted")
				return "", nil
			})))
		a.RegisterSkill("chat", "Talk", emit())
		s, err := NewContext(ctx, a, conv).Engage()
		if err != nil || s.Name() != "chat" {
			t.Fatalf("expected chat, got %v (%v)", s, err)
		}
	})

	answers := []struct {
		answer string
		err    error
		want   string
	}{
		{answer: "chat", want: "chat"},
		{answer: "search", want: "search"},
		{answer: "weather"},
		{answer: ""},
		{answer: "chat", err: fmt.Errorf("selector down")},
	}
	for _, tt := range answers {
		t.Run("answer "+tt.answer, func(t *testing.T) {
			var offered []Candidate
			a := newTestAgent(t, &llm.MockProvider{}, WithSelector(SelectorFunc(
				func(_ context.Context, _ []message.Message, c []Candidate) (string, error) {
					offered = c
					return tt.answer, tt.err
				})))
			a.RegisterSkill("chat", "Talk", emit())
			a.RegisterSkill("search", "Search the web", emit())

			s, err := NewContext(ctx, a, conv).Engage()
			if len(offered) != 2 || offered[1] != (Candidate{Name: "search", Description: "Search the web"}) {
				t.Fatalf("unexpected candidates %v", offered)
			}
			if tt.want == "" {
				if !errors.HasCode(err, errors.CodeSelection) {
					t.Fatalf("expected SELECTION_ERROR, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Engage failed: %v", err)
			}
			if !slices.Contains([]string{"chat", "search"}, s.Name()) || s.Name() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, s.Name())
			}
		})
	}
}

func TestPerformCommitsHistory(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{Response: "Hello! How can I help?"})
	a.RegisterSkill("chat", "Chit-chat", func(c *Context) iter2 { return c.Reply() })

	before := a.History()
	input := message.User("Hi")
	produced, err := collect(a.Perform(context.Background(), input))
	if err != nil {
		t.Fatalf("Perform failed: %v", err)
	}
	if len(produced) != 1 || produced[0].Text() != "Hello! How can I help?" || produced[0].Role() != message.RoleAssistant {
		t.Fatalf("unexpected output %v", produced)
	}

	want := append(append(before, input), produced...)
	assertHistory(t, a.History(), want)
	if a.State() != StateIdle {
		t.Fatalf("expected idle, got %s", a.State())
	}
}

func assertHistory(t *testing.T, got, want []message.Message) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("history length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID() != want[i].ID() {
			t.Fatalf("history[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPerformFailureLeavesHistory(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	fail := true
	a.RegisterSkill("flaky", "Fails once", func(c *Context) iter2 {
		return func(yield func(message.Message, error) bool) {
			if !yield(message.Assistant("partial"), nil) {
				return
			}
			if fail {
				yield(message.Message{}, fmt.Errorf("boom"))
				return
			}
			yield(message.Assistant("complete"), nil)
		}
	})

	before := a.History()
	produced, err := collect(a.Perform(context.Background(), message.User("go")))
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(produced) != 1 || produced[0].Text() != "partial" {
		t.Fatalf("expected the partial message to be streamed, got %v", produced)
	}
	assertHistory(t, a.History(), before)
	if a.State() != StateFailed {
		t.Fatalf("expected failed, got %s", a.State())
	}

	fail = false
	produced, err = collect(a.Perform(context.Background(), message.User("again")))
	if err != nil {
		t.Fatalf("second Perform failed: %v", err)
	}
	if len(a.History()) != len(before)+1+len(produced) {
		t.Fatalf("expected the second turn to commit, history %v", a.History())
	}
	if a.State() != StateIdle {
		t.Fatalf("expected idle, got %s", a.State())
	}
}

func TestRequiresChain(t *testing.T) {
	var order []string
	step := func(name string, err error) ExecutorFunc {
		return func(c *Context) iter2 {
			return func(yield func(message.Message, error) bool) {
				order = append(order, name)
				if err != nil {
					yield(message.Message{}, err)
					return
				}
				yield(message.Assistant(name+" done"), nil)
			}
		}
	}

	t.Run("sequential before body", func(t *testing.T) {
		order = nil
		a := newTestAgent(t, &llm.MockProvider{})
		first := MustSkill("A", "first", step("A", nil))
		second := MustSkill("B", "second", step("B", nil))
		var seen []string
		a.RegisterSkill("answer", "Answer", func(c *Context) iter2 {
			order = append(order, "body")
			for _, m := range c.Messages() {
				seen = append(seen, m.Text())
			}
			return emit("final")(c)
		}, Requires(first, second))

		before := a.History()
		input := message.User("q")
		produced, err := collect(a.Perform(context.Background(), input))
		if err != nil {
			t.Fatalf("Perform failed: %v", err)
		}
		if strings.Join(order, ",") != "A,B,body" {
			t.Fatalf("unexpected order %v", order)
		}
		if !slices.Contains(seen, "A done") || !slices.Contains(seen, "B done") {
			t.Fatalf("requirement output not folded into context: %v", seen)
		}
		if len(produced) != 1 || produced[0].Text() != "final" {
			t.Fatalf("requirement output must not be yielded, got %v", produced)
		}
		assertHistory(t, a.History(), append(append(before, input), produced...))
	})

	t.Run("failure short-circuits", func(t *testing.T) {
		order = nil
		a := newTestAgent(t, &llm.MockProvider{})
		cause := fmt.Errorf("search backend down")
		first := MustSkill("A", "first", step("A", cause))
		second := MustSkill("B", "second", step("B", nil))
		a.RegisterSkill("answer", "Answer", func(c *Context) iter2 {
			order = append(order, "body")
			return emit("final")(c)
		}, Requires(first, second))

		before := a.History()
		_, err := collect(a.Perform(context.Background(), message.User("q")))
		if !stderrors.Is(err, ErrRequiresChain) {
			t.Fatalf("expected REQUIRES_CHAIN_ERROR, got %v", err)
		}
		if !stderrors.Is(err, cause) {
			t.Fatalf("expected the cause to be wrapped, got %v", err)
		}
		if errors.AsArgoError(err).Context["requirement"] != "A" {
			t.Fatalf("expected the failed link to be named, got %v", errors.AsArgoError(err).Context)
		}
		if strings.Join(order, ",") != "A" {
			t.Fatalf("later links must not run, got %v", order)
		}
		assertHistory(t, a.History(), before)
	})
}

type searchInput struct {
	Query string `json:"query" jsonschema:"description=What to search for"`
}

func searchAgent(t *testing.T, provider llm.Provider, queries *[]string) *Agent {
	t.Helper()
	a := newTestAgent(t, provider)
	err := a.RegisterTool(tool.New("web_search", "Search the web",
		func(_ context.Context, in searchInput) (any, error) {
			*queries = append(*queries, in.Query)
			return "Paris is the capital and largest city of France.", nil
		}))
	if err != nil {
		t.Fatal(err)
	}
	a.RegisterSkill("chat", "Casual conversation and greetings", func(c *Context) iter2 { return c.Reply() })
	return a
}

func TestChatVersusSearch(t *testing.T) {
	provider := llm.NewScriptedMockProvider(`{"skill": "search"}`, "The capital of France is Paris.")
	var queries []string
	a := searchAgent(t, provider, &queries)
	a.RegisterSkill("search", "Answer factual questions using web search", func(c *Context) iter2 {
		return func(yield func(message.Message, error) bool) {
			results, err := c.InvokeFromConversation("web_search")
			if err != nil {
				yield(message.Message{}, err)
				return
			}
			for msg, err := range c.Reply(message.System(fmt.Sprintf("Search results: %v", results))) {
				if !yield(msg, err) {
					return
				}
			}
		}
	})

	produced, err := collect(a.Perform(context.Background(), message.User("What is the capital of France?")))
	if err != nil {
		t.Fatalf("Perform failed: %v", err)
	}
	if len(queries) != 1 || queries[0] != "What is the capital of France?" {
		t.Fatalf("unexpected tool queries %v", queries)
	}
	if len(produced) != 1 || produced[0].Text() == "" {
		t.Fatalf("expected a non-empty reply, got %v", produced)
	}

	sel := provider.Requests[0]
	prompt := sel.Messages[len(sel.Messages)-1].Content
	if !strings.Contains(prompt, "search: Answer factual questions") || !strings.Contains(prompt, "chat: Casual") {
		t.Fatalf("selection prompt does not list candidates: %q", prompt)
	}
	last, _ := provider.LastRequest()
	if !strings.Contains(last.Messages[len(last.Messages)-1].Content, "Paris is the capital") {
		t.Fatal("reply request should carry the search results")
	}
}

func TestSearchMissingQuery(t *testing.T) {
	provider := llm.NewScriptedMockProvider("search")
	var queries []string
	a := searchAgent(t, provider, &queries)
	a.RegisterSkill("search", "Web search", func(c *Context) iter2 {
		return func(yield func(message.Message, error) bool) {
			if _, err := c.Invoke("web_search", tool.Args{}); err != nil {
				yield(message.Message{}, err)
				return
			}
			yield(message.Assistant("unreachable"), nil)
		}
	})

	before := a.History()
	_, err := collect(a.Perform(context.Background(), message.User("search something")))
	if !errors.HasCode(err, errors.CodeParameter) {
		t.Fatalf("expected PARAMETER_ERROR, got %v", err)
	}
	if errors.AsArgoError(err).Context["parameter"] != "query" {
		t.Fatalf("expected the missing parameter to be named, got %v", err)
	}
	if len(queries) != 0 {
		t.Fatal("tool body must not run")
	}
	assertHistory(t, a.History(), before)
}

func TestInvokeUnknownTool(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	if _, err := NewContext(context.Background(), a, nil).Invoke("nope", nil); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestEarlyBreakCommitsNothing(t *testing.T) {
	rec := audit.NewInMemoryRecorder()
	a := newTestAgent(t, &llm.MockProvider{}, WithRecorder(rec))
	a.RegisterSkill("count", "Counts", emit("one", "two", "three"))

	before := a.History()
	for msg, err := range a.Perform(context.Background(), message.User("count")) {
		if err != nil {
			t.Fatal(err)
		}
		if msg.Text() == "one" {
			break
		}
	}
	assertHistory(t, a.History(), before)
	if a.State() != StateIdle {
		t.Fatalf("expected idle after abandon, got %s", a.State())
	}

	if _, err := collect(a.Perform(context.Background(), message.User("count"))); err != nil {
		t.Fatalf("next turn failed: %v", err)
	}
	turns, _ := rec.List(context.Background(), audit.Filter{})
	if len(turns) != 2 || turns[0].Status != audit.StatusAbandoned || turns[1].Status != audit.StatusSucceeded {
		t.Fatalf("unexpected audit trail %+v", turns)
	}
	if turns[0].Committed || !turns[1].Committed || turns[1].Messages != 3 {
		t.Fatalf("unexpected audit records %+v", turns)
	}
}

func TestConcurrentPerformConflict(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	started := make(chan struct{})
	release := make(chan struct{})
	a.RegisterSkill("slow", "Blocks", func(c *Context) iter2 {
		return func(yield func(message.Message, error) bool) {
			close(started)
			<-release
			yield(message.Assistant("done"), nil)
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := collect(a.Perform(context.Background(), message.User("first")))
		done <- err
	}()
	<-started
	if a.State() != StateExecuting {
		t.Errorf("expected executing, got %s", a.State())
	}

	_, err := collect(a.Perform(context.Background(), message.User("second")))
	if !stderrors.Is(err, ErrConflict) {
		t.Errorf("expected CONFLICT, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if len(a.History()) != 3 {
		t.Fatalf("only the first turn should be committed, got %d messages", len(a.History()))
	}
}

func TestPerformSinglePass(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	a.RegisterSkill("chat", "Talk", emit("hi"))

	seq := a.Perform(context.Background(), message.User("hello"))
	if _, err := collect(seq); err != nil {
		t.Fatal(err)
	}
	_, err := collect(seq)
	if !stderrors.Is(err, ErrSequenceConsumed) {
		t.Fatalf("expected ErrSequenceConsumed, got %v", err)
	}
	if stderrors.Is(err, ErrConflict) {
		t.Fatalf("a consumed sequence is not a turn conflict: %v", err)
	}
	if len(a.History()) != 3 {
		t.Fatalf("second range must not commit, got %d messages", len(a.History()))
	}
}

func TestSkillExecuteSinglePass(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	s := MustSkill("chat", "Talk", emit("hi"))
	seq := s.Execute(NewContext(context.Background(), a, nil))
	if msgs, err := collect(seq); err != nil || len(msgs) != 1 {
		t.Fatalf("first pass: %v %v", msgs, err)
	}
	if _, err := collect(seq); !stderrors.Is(err, ErrSequenceConsumed) {
		t.Fatalf("expected ErrSequenceConsumed, got %v", err)
	}
}

func TestNonPersistentAgent(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{Response: "ok"}, WithPersistent(false))
	a.RegisterSkill("chat", "Talk", func(c *Context) iter2 { return c.Reply() })
	for i := 0; i < 2; i++ {
		if _, err := collect(a.Perform(context.Background(), message.User("hi"))); err != nil {
			t.Fatal(err)
		}
	}
	if len(a.History()) != 1 {
		t.Fatalf("non-persistent agents keep only the system prompt, got %v", a.History())
	}
}

func TestPerformCancelledContext(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	ran := false
	a.RegisterSkill("chat", "Talk", func(c *Context) iter2 {
		ran = true
		return emit("hi")(c)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := a.History()
	_, err := collect(a.Perform(ctx, message.User("hi")))
	if !stderrors.Is(err, ErrContextLost) {
		t.Fatalf("expected CONTEXT_LOST, got %v", err)
	}
	if ran {
		t.Fatal("skill body must not run on a cancelled context")
	}
	assertHistory(t, a.History(), before)
}

type answer struct {
	Text string `json:"text"`
}

func TestShapes(t *testing.T) {
	shape := message.ShapeOf[answer]()

	t.Run("output mismatch", func(t *testing.T) {
		a := newTestAgent(t, &llm.MockProvider{}, WithShapes(message.Text, shape))
		a.RegisterSkill("chat", "Talk", emit("not json"))
		before := a.History()
		if _, err := collect(a.Perform(context.Background(), message.User("hi"))); !errors.HasCode(err, errors.CodeDecode) {
			t.Fatalf("expected DECODE_ERROR, got %v", err)
		}
		assertHistory(t, a.History(), before)
	})

	t.Run("output match", func(t *testing.T) {
		a := newTestAgent(t, &llm.MockProvider{}, WithShapes(message.Text, shape))
		a.RegisterSkill("chat", "Talk", func(c *Context) iter2 {
			return func(yield func(message.Message, error) bool) {
				msg, err := message.AssistantValue(answer{Text: "hi"})
				yield(msg, err)
			}
		})
		if _, err := collect(a.Perform(context.Background(), message.User("hi"))); err != nil {
			t.Fatalf("Perform failed: %v", err)
		}
	})

	t.Run("input mismatch", func(t *testing.T) {
		a := newTestAgent(t, &llm.MockProvider{}, WithShapes(shape, message.Shape{}))
		a.RegisterSkill("chat", "Talk", emit("hi"))
		if _, err := collect(a.Perform(context.Background(), message.User("plain"))); !errors.HasCode(err, errors.CodeDecode) {
			t.Fatalf("expected DECODE_ERROR, got %v", err)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		a := newTestAgent(t, &llm.MockProvider{})
		a.RegisterSkill("chat", "Talk", emit("hi"))
		if _, err := collect(a.Perform(context.Background(), message.Message{})); !errors.HasCode(err, errors.CodeInvalidInput) {
			t.Fatalf("expected INVALID_INPUT, got %v", err)
		}
	})
}

func TestTruncationDoesNotTouchHistory(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{}, WithTruncation(&memory.WindowStrategy{MaxMessages: 2}))
	var seen int
	a.RegisterSkill("chat", "Talk", func(c *Context) iter2 {
		seen = len(c.Messages())
		return emit("ok")(c)
	})
	for i := 0; i < 3; i++ {
		if _, err := collect(a.Perform(context.Background(), message.User(fmt.Sprintf("turn %d", i)))); err != nil {
			t.Fatal(err)
		}
	}
	if seen != 2 {
		t.Fatalf("expected a window of 2 messages, got %d", seen)
	}
	if len(a.History()) != 7 {
		t.Fatalf("history must keep every message, got %d", len(a.History()))
	}
}

func TestStateTransitions(t *testing.T) {
	a := newTestAgent(t, &llm.MockProvider{})
	var states []State
	req := MustSkill("prep", "Prepare", func(c *Context) iter2 {
		states = append(states, c.Agent().State())
		return emit("notes")(c)
	})
	a.RegisterSkill("chat", "Talk", func(c *Context) iter2 {
		states = append(states, c.Agent().State())
		return emit("hi")(c)
	}, Requires(req))

	if _, err := collect(a.Perform(context.Background(), message.User("hi"))); err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 || states[0] != StateRequiring || states[1] != StateExecuting {
		t.Fatalf("unexpected states %v", states)
	}
	if a.State() != StateIdle {
		t.Fatalf("expected idle, got %s", a.State())
	}
}
