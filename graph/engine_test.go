package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/loopgraph/graph/emit"
	"github.com/dshills/loopgraph/graph/store"
)

// record is the History record of the test workflow.
type record struct {
	Iteration int
	Question  string
	Answer    string
}

// decision is the output of the test workflow's Solve node.
type decision struct {
	Record   record
	Continue bool
	Next     string
}

var decisionType = NamedTypeOf[decision]("test.decision")

// designGraph is Gen -> Verify(interrupt) -> Solve -> Done, with the
// loop-back edge Solve -> Gen taken when Solve decides to continue.
func designGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := Define("design",
		[]NodeSpec{
			{Name: "Gen", Output: String, Inputs: []Port{
				{Name: InputPort, Type: String},
				{Name: "Solve", Type: decisionType, Optional: true},
			}},
			{Name: "Verify", Role: RoleInterrupt, Output: String, Prompt: String},
			{Name: "Solve", Output: decisionType, Inputs: []Port{{Name: "Verify", Type: String}}},
			{Name: "Done", Role: RoleTerminal, Output: decisionType},
		},
		[]Edge{
			{From: "Gen", To: "Verify"},
			{From: "Verify", To: "Solve"},
			{From: "Solve", To: "Done", When: func(v any) bool { return !v.(decision).Continue }, Label: "finish"},
			{From: "Solve", To: "Gen", When: func(v any) bool { return v.(decision).Continue }, LoopBack: true, Label: "continue"},
		},
		"Gen", "Done")
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	return g
}

func designBindings() map[string]Node[record] {
	return map[string]Node[record]{
		"Gen": NodeFunc[record](func(_ context.Context, in Input[record]) NodeResult {
			if d, ok := Get[decision](in, "Solve"); ok {
				return Produced(d.Next)
			}
			topic, _ := Get[string](in, InputPort)
			return Produced("How much traffic does " + topic + " serve?")
		}),
		"Verify": NodeFunc[record](func(_ context.Context, in Input[record]) NodeResult {
			q, _ := Get[string](in, "Gen")
			return Suspend(q)
		}),
		"Solve": NodeFunc[record](func(_ context.Context, in Input[record]) NodeResult {
			answer, _ := Get[string](in, "Verify")
			if answer == "bad" {
				return Produced(42)
			}
			return Produced(decision{
				Record:   record{Iteration: in.Iteration, Answer: answer},
				Continue: strings.Contains(answer, "deep dive"),
				Next:     fmt.Sprintf("Follow-up %d: %s", in.Iteration, answer),
			})
		}),
	}
}

var designHistory = HistoryPolicy[record]{
	Extract: func(outputs map[string]any) (record, bool) {
		d, ok := outputs["Solve"].(decision)
		return d.Record, ok
	},
}

// quiet keeps engine diagnostics out of test output.
func quiet() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

func newDesignEngine(t *testing.T, opts ...Option) *Engine[record] {
	t.Helper()
	e, err := New(designGraph(t), designBindings(), designHistory, append([]Option{quiet()}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func requireStatus(t *testing.T, out RunOutcome[record], want Status) {
	t.Helper()
	if out.Status != want {
		t.Fatalf("expected status %s, got %s (err: %v)", want, out.Status, out.Err)
	}
}

// Scenario A: one pass through the loop.
func TestEngine_SingleIteration(t *testing.T) {
	e := newDesignEngine(t)
	ctx := context.Background()

	out := e.Start(ctx, "design a cache")
	requireStatus(t, out, StatusSuspended)
	if out.Checkpoint.Node() != "Verify" {
		t.Errorf("expected suspension at Verify, got %s", out.Checkpoint.Node())
	}
	if out.Prompt != "How much traffic does design a cache serve?" {
		t.Errorf("unexpected prompt %v", out.Prompt)
	}
	if out.Checkpoint.Prompt() != out.Prompt {
		t.Errorf("checkpoint prompt %v differs from outcome prompt %v", out.Checkpoint.Prompt(), out.Prompt)
	}

	out = e.Resume(ctx, out.Checkpoint, "answer: 10k QPS")
	requireStatus(t, out, StatusCompleted)

	history := out.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history))
	}
	if history[0] != (record{Iteration: 1, Answer: "answer: 10k QPS"}) {
		t.Errorf("unexpected record %+v", history[0])
	}
	if v, ok := out.Output("Done"); !ok || v.(decision).Continue {
		t.Errorf("unexpected terminal output %v", v)
	}
}

// Scenario B: the loop-back edge fires once.
func TestEngine_LoopBack(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	e := newDesignEngine(t, WithEmitter(buf))
	ctx := context.Background()

	out := e.Start(ctx, "design a feed")
	requireStatus(t, out, StatusSuspended)

	out = e.Resume(ctx, out.Checkpoint, "let's deep dive into fan-out")
	requireStatus(t, out, StatusSuspended)
	if out.Checkpoint.Iteration() != 2 || out.State.Iteration != 2 {
		t.Errorf("expected iteration 2, got %d", out.Checkpoint.Iteration())
	}
	if out.Prompt != "Follow-up 1: let's deep dive into fan-out" {
		t.Errorf("second iteration should start from the loop-back value, got %v", out.Prompt)
	}
	if len(out.History()) != 1 {
		t.Errorf("history should hold the first iteration, got %d", len(out.History()))
	}

	out = e.Resume(ctx, out.Checkpoint, "that's enough")
	requireStatus(t, out, StatusCompleted)

	history := out.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(history))
	}
	if history[0].Iteration != 1 || history[1].Iteration != 2 {
		t.Errorf("unexpected history order %+v", history)
	}

	msgs := buf.Messages(out.State.ID)
	for _, want := range []string{emit.MsgSessionStart, emit.MsgSuspend, emit.MsgResume, emit.MsgIteration, emit.MsgHistoryAppend, emit.MsgNodeSkipped, emit.MsgComplete} {
		found := false
		for _, m := range msgs {
			if m == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a %s event in %v", want, msgs)
		}
	}
}

// Scenario C: a type mismatch fails the run and leaves the checkpoint usable.
func TestEngine_FailureReleasesCheckpoint(t *testing.T) {
	e := newDesignEngine(t)
	ctx := context.Background()

	out := e.Start(ctx, "design a queue")
	requireStatus(t, out, StatusSuspended)
	cp := out.Checkpoint

	failed := e.Resume(ctx, cp, "bad")
	requireStatus(t, failed, StatusFailed)
	var tm *TypeMismatchError
	if !errors.As(failed.Err, &tm) {
		t.Fatalf("expected TypeMismatchError, got %v", failed.Err)
	}
	if tm.Node != "Solve" || tm.Want != "test.decision" || tm.Got != "int" {
		t.Errorf("unexpected mismatch %+v", tm)
	}
	if failed.Checkpoint != cp {
		t.Error("failed outcome should return the checkpoint it resumed from")
	}

	out = e.Resume(ctx, cp, "answer: fine")
	requireStatus(t, out, StatusCompleted)
	if len(out.History()) != 1 {
		t.Errorf("expected 1 history record, got %d", len(out.History()))
	}
}

// Scenario D: concurrent sessions do not share state.
func TestEngine_ConcurrentSessions(t *testing.T) {
	e := newDesignEngine(t)
	ctx := context.Background()

	const sessions = 8
	histories := make([][]record, sessions)
	errs := make([]error, sessions)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := e.Start(ctx, fmt.Sprintf("system %d", i))
			for round := 0; out.Status == StatusSuspended; round++ {
				answer := fmt.Sprintf("session %d round %d", i, round)
				if round < i%3 {
					answer += " deep dive"
				}
				out = e.Resume(ctx, out.Checkpoint, answer)
			}
			if out.Status != StatusCompleted {
				errs[i] = fmt.Errorf("session %d ended %s: %v", i, out.Status, out.Err)
				return
			}
			histories[i] = out.History()
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if len(histories[i]) != i%3+1 {
			t.Errorf("session %d: expected %d records, got %d", i, i%3+1, len(histories[i]))
		}
		for round, r := range histories[i] {
			if !strings.HasPrefix(r.Answer, fmt.Sprintf("session %d round %d", i, round)) {
				t.Errorf("session %d saw foreign record %+v", i, r)
			}
		}
	}
}

func TestEngine_DuplicateResume(t *testing.T) {
	e := newDesignEngine(t)
	ctx := context.Background()

	out := e.Start(ctx, "design a cache")
	cp := out.Checkpoint

	first := e.Resume(ctx, cp, "answer: 10k QPS")
	requireStatus(t, first, StatusCompleted)

	second := e.Resume(ctx, cp, "answer: 10k QPS")
	requireStatus(t, second, StatusFailed)
	var dup *DuplicateResumeError
	if !errors.As(second.Err, &dup) || dup.CheckpointID != cp.ID() {
		t.Fatalf("expected DuplicateResumeError for %s, got %v", cp.ID(), second.Err)
	}
	if len(first.History()) != 1 {
		t.Error("the duplicate resume must not touch the first run's history")
	}

	third := e.Resume(ctx, cp, "a different answer")
	if !errors.As(third.Err, &dup) {
		t.Errorf("duplicate detection must not depend on the value, got %v", third.Err)
	}
}

func TestEngine_ResumeRejectsWrongType(t *testing.T) {
	e := newDesignEngine(t)
	ctx := context.Background()

	out := e.Start(ctx, "design a cache")
	bad := e.Resume(ctx, out.Checkpoint, 10000)
	requireStatus(t, bad, StatusFailed)

	var tm *TypeMismatchError
	if !errors.As(bad.Err, &tm) || tm.Node != "Verify" {
		t.Fatalf("expected TypeMismatchError at Verify, got %v", bad.Err)
	}

	requireStatus(t, e.Resume(ctx, out.Checkpoint, "10k QPS"), StatusCompleted)
}

func TestEngine_ResumeAcrossEngines(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()

	first := newDesignEngine(t, WithStore(st))
	out := first.Start(ctx, "design a cache")
	requireStatus(t, out, StatusSuspended)

	second := newDesignEngine(t, WithStore(st))
	cps, err := second.Checkpoints(ctx, out.State.ID)
	if err != nil || len(cps) != 1 {
		t.Fatalf("expected one stored checkpoint, got %d (%v)", len(cps), err)
	}
	if cps[0].Prompt() != out.Prompt {
		t.Errorf("stored prompt %v differs from %v", cps[0].Prompt(), out.Prompt)
	}

	saved, err := second.LoadSession(ctx, out.State.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if saved.Step != out.State.Step || !reflect.DeepEqual(saved.Pending(), []string{"Verify"}) {
		t.Errorf("unexpected saved state step=%d pending=%v", saved.Step, saved.Pending())
	}

	done := second.ResumeByID(ctx, out.Checkpoint.ID(), "answer")
	requireStatus(t, done, StatusCompleted)

	again := first.Resume(ctx, out.Checkpoint, "answer")
	var dup *DuplicateResumeError
	if !errors.As(again.Err, &dup) {
		t.Errorf("the shared store should reject a second resume, got %v", again.Err)
	}

	missing := second.ResumeByID(ctx, "no-such-checkpoint", "answer")
	if !errors.Is(missing.Err, ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", missing.Err)
	}
}

func TestEngine_StartValidation(t *testing.T) {
	e := newDesignEngine(t)
	ctx := context.Background()

	out := e.Start(ctx, 12)
	var tm *TypeMismatchError
	if !errors.As(out.Err, &tm) || tm.Port != InputPort {
		t.Errorf("expected input TypeMismatchError, got %v", out.Err)
	}

	out = e.Start(ctx, nil)
	var ee *EngineError
	if !errors.As(out.Err, &ee) || ee.Code != "MISSING_INPUT" {
		t.Errorf("expected MISSING_INPUT, got %v", out.Err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	out = e.Start(cancelled, "x")
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", out.Err)
	}

	if out := e.Resume(ctx, nil, "x"); out.Status != StatusFailed {
		t.Errorf("nil checkpoint should fail, got %s", out.Status)
	}
}

// linear builds entry -> ... -> terminal with pass-through nodes.
func linear(t *testing.T, names ...string) (*Graph, map[string]Node[string]) {
	t.Helper()
	var nodes []NodeSpec
	var edges []Edge
	bindings := make(map[string]Node[string])
	for i, n := range names {
		spec := NodeSpec{Name: n}
		if i == len(names)-1 {
			spec.Role = RoleTerminal
		} else {
			bindings[n] = NodeFunc[string](func(_ context.Context, in Input[string]) NodeResult {
				return Produced(n)
			})
		}
		nodes = append(nodes, spec)
		if i > 0 {
			edges = append(edges, Edge{From: names[i-1], To: n})
		}
	}
	g, err := Define("linear", nodes, edges, names[0], names[len(names)-1])
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	return g, bindings
}

func TestEngine_Liveness(t *testing.T) {
	ctx := context.Background()

	t.Run("straight line completes", func(t *testing.T) {
		g, b := linear(t, "A", "B", "T")
		e, _ := New(g, b, HistoryPolicy[string]{}, quiet())
		out := e.Start(ctx, "go")
		if out.Status != StatusCompleted || out.State.Step != 3 {
			t.Errorf("expected completion after 3 steps, got %s at %d", out.Status, out.State.Step)
		}
		if v, _ := out.Output("T"); v != "B" {
			t.Errorf("unbound terminal should pass its input through, got %v", v)
		}
	})

	t.Run("max steps", func(t *testing.T) {
		g, b := linear(t, "A", "B", "T")
		e, _ := New(g, b, HistoryPolicy[string]{}, quiet(), WithMaxSteps(2))
		out := e.Start(ctx, "go")
		if !errors.Is(out.Err, ErrMaxStepsExceeded) {
			t.Errorf("expected ErrMaxStepsExceeded, got %v", out.Err)
		}
	})

	t.Run("no progress", func(t *testing.T) {
		g, err := Define("stuck",
			[]NodeSpec{{Name: "A"}, {Name: "T", Role: RoleTerminal}},
			[]Edge{{From: "A", To: "T", When: func(any) bool { return false }}},
			"A", "T")
		if err != nil {
			t.Fatal(err)
		}
		e, _ := New(g, map[string]Node[string]{"A": NodeFunc[string](func(context.Context, Input[string]) NodeResult {
			return Produced("x")
		})}, HistoryPolicy[string]{}, quiet())
		if out := e.Start(ctx, nil); !errors.Is(out.Err, ErrNoProgress) {
			t.Errorf("expected ErrNoProgress, got %v", out.Err)
		}
	})

	t.Run("unguarded loop is bounded by max iterations", func(t *testing.T) {
		g, err := Define("spin",
			[]NodeSpec{{Name: "A"}, {Name: "B"}, {Name: "T", Role: RoleTerminal}},
			[]Edge{
				{From: "A", To: "B"},
				{From: "B", To: "T", When: func(any) bool { return false }},
				{From: "B", To: "A", LoopBack: true},
			},
			"A", "T")
		if err != nil {
			t.Fatal(err)
		}
		if len(g.Warnings()) != 1 {
			t.Fatalf("expected a NonTerminationRisk warning, got %v", g.Warnings())
		}
		count := NodeFunc[string](func(_ context.Context, in Input[string]) NodeResult {
			return Produced(fmt.Sprintf("pass %d", in.Iteration))
		})
		e, _ := New(g, map[string]Node[string]{"A": count, "B": count}, HistoryPolicy[string]{}, quiet(), WithMaxIterations(3))

		out := e.Start(ctx, nil)
		if !errors.Is(out.Err, ErrMaxIterationsExceeded) {
			t.Fatalf("expected ErrMaxIterationsExceeded, got %v", out.Err)
		}
		if out.State.Iteration != 3 || len(out.History()) != 3 {
			t.Errorf("expected 3 iterations and records, got %d and %d", out.State.Iteration, len(out.History()))
		}
	})
}

func TestEngine_DeadPathJoin(t *testing.T) {
	g, err := Define("branch",
		[]NodeSpec{
			{Name: "Split", Output: Int},
			{Name: "Even", Output: String},
			{Name: "Odd", Output: String},
			{Name: "Join", Output: String, Inputs: []Port{
				{Name: "Even", Type: String, Optional: true},
				{Name: "Odd", Type: String, Optional: true},
			}},
			{Name: "End", Role: RoleTerminal, Output: String},
		},
		[]Edge{
			{From: "Split", To: "Even", When: func(v any) bool { return v.(int)%2 == 0 }},
			{From: "Split", To: "Odd", When: func(v any) bool { return v.(int)%2 != 0 }},
			{From: "Even", To: "Join"},
			{From: "Odd", To: "Join"},
			{From: "Join", To: "End"},
		},
		"Split", "End")
	if err != nil {
		t.Fatalf("Define: %v", err)
	}

	label := func(s string) Node[string] {
		return NodeFunc[string](func(context.Context, Input[string]) NodeResult { return Produced(s) })
	}
	e, err := New(g, map[string]Node[string]{
		"Split": NodeFunc[string](func(_ context.Context, in Input[string]) NodeResult {
			n, _ := Get[int](in, InputPort)
			return Produced(n)
		}),
		"Even": label("even"),
		"Odd":  label("odd"),
		"Join": NodeFunc[string](func(_ context.Context, in Input[string]) NodeResult {
			if in.Has("Even") && in.Has("Odd") {
				return Failed(errors.New("both branches delivered"))
			}
			for _, v := range in.Values {
				return Produced("joined " + v.(string))
			}
			return Failed(errors.New("nothing delivered"))
		}),
	}, HistoryPolicy[string]{}, quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for n, want := range map[int]string{4: "joined even", 7: "joined odd"} {
		out := e.Start(context.Background(), n)
		if out.Status != StatusCompleted {
			t.Fatalf("input %d: expected completion, got %v", n, out.Err)
		}
		if v, _ := out.Output("End"); v != want {
			t.Errorf("input %d: expected %q, got %v", n, want, v)
		}
	}
}

type reducerFunc[R any] func(history []R, record R) []R

func (f reducerFunc[R]) Reduce(history []R, record R) []R { return f(history, record) }

func TestEngine_HistoryPolicy(t *testing.T) {
	ctx := context.Background()
	drive := func(e *Engine[record]) RunOutcome[record] {
		out := e.Start(ctx, "design a cache")
		for round := 0; out.Status == StatusSuspended; round++ {
			answer := "same answer"
			if round < 2 {
				answer += " deep dive"
			}
			out = e.Resume(ctx, out.Checkpoint, answer)
		}
		return out
	}

	t.Run("duplicates are not appended", func(t *testing.T) {
		buf := emit.NewBufferedEmitter()
		e, err := New(designGraph(t), designBindings(), HistoryPolicy[record]{
			Extract: designHistory.Extract,
			Reducer: NewReducer[record](func(a, b record) bool { return true }),
		}, quiet(), WithEmitter(buf))
		if err != nil {
			t.Fatal(err)
		}
		out := drive(e)
		requireStatus(t, out, StatusCompleted)
		if len(out.History()) != 1 {
			t.Errorf("expected 1 record, got %d", len(out.History()))
		}
		dups := buf.GetHistoryWithFilter(out.State.ID, emit.HistoryFilter{Msg: emit.MsgHistoryDuplicate})
		if len(dups) != 2 {
			t.Errorf("expected 2 duplicate events, got %d", len(dups))
		}
	})

	t.Run("shrinking reducer fails the run", func(t *testing.T) {
		e, err := New(designGraph(t), designBindings(), HistoryPolicy[record]{
			Extract: designHistory.Extract,
			Reducer: reducerFunc[record](func(history []record, r record) []record {
				if len(history) > 0 {
					return nil
				}
				return append(history, r)
			}),
		}, quiet())
		if err != nil {
			t.Fatal(err)
		}
		out := drive(e)
		var ee *EngineError
		if !errors.As(out.Err, &ee) || ee.Code != "HISTORY_SHRANK" {
			t.Errorf("expected HISTORY_SHRANK, got %v", out.Err)
		}
	})
}
