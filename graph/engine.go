package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dshills/loopgraph/graph/emit"
	"github.com/dshills/loopgraph/graph/store"
)

// Engine executes sessions of one Graph.
//
// The Engine holds no per-session state: every Start creates a fresh
// SessionState, and every Resume rebuilds one from a Checkpoint. One Engine
// can therefore serve any number of concurrent sessions, and a checkpoint
// taken by one process can be resumed by another process that built an
// equivalent Engine over a shared Store.
//
// Execution proceeds in supersteps. Each superstep runs, in topological
// order, every node whose inbound edges are resolved. When nothing is left
// to run and the loop-back edge delivered, a new iteration of the loop
// region begins; when a terminal node has produced, the session completes.
//
// Type parameter R is the History record type.
//
// Example:
//
//	engine, err := graph.New(g, map[string]graph.Node[Record]{
//	    "generate": generateNode,
//	    "verify":   verifyNode,
//	}, graph.HistoryPolicy[Record]{}, graph.WithMaxIterations(10))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out := engine.Start(ctx, "initial question")
//	for out.Status == graph.StatusSuspended {
//	    out = engine.Resume(ctx, out.Checkpoint, askUser(out.Prompt))
//	}
type Engine[R any] struct {
	graph    *Graph
	bindings map[string]Node[R]
	reducer  Reducer[R]
	extract  Extractor[R]
	opts     Options
}

// New binds executables to the nodes of g.
//
// Every normal node needs an executable. Interrupt and terminal nodes may be
// left unbound: an unbound interrupt node suspends with its input as the
// prompt, and an unbound terminal node produces its input. Missing or unknown
// bindings are reported as a *MalformedGraphError.
func New[R any](g *Graph, bindings map[string]Node[R], history HistoryPolicy[R], opts ...Option) (*Engine[R], error) {
	if g == nil {
		return nil, &EngineError{Message: "graph is required", Code: "MISSING_GRAPH"}
	}

	var problems []string
	for name, node := range bindings {
		if _, ok := g.specs[name]; !ok {
			problems = append(problems, fmt.Sprintf("executable bound to unknown node %q", name))
			continue
		}
		if node == nil {
			problems = append(problems, fmt.Sprintf("nil executable bound to node %q", name))
		}
	}
	for _, name := range g.order {
		if g.specs[name].role() != RoleNormal {
			continue
		}
		if _, ok := bindings[name]; !ok {
			problems = append(problems, fmt.Sprintf("node %q has no executable", name))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &MalformedGraphError{Graph: g.name, Problems: problems}
	}

	cfg := &engineConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	e := &Engine[R]{
		graph:    g,
		bindings: make(map[string]Node[R], len(bindings)),
		reducer:  history.Reducer,
		extract:  history.Extract,
		opts:     cfg.opts.withDefaults(),
	}
	for name, node := range bindings {
		e.bindings[name] = node
	}
	if e.reducer == nil {
		e.reducer = NewReducer[R](nil)
	}
	if e.extract == nil && g.loop != nil {
		e.extract = FromNode[R](g.loop.tail)
	}

	if e.opts.MaxIterations == 0 {
		for _, w := range g.warnings {
			e.opts.Logger.Warn("loop may never terminate", "graph", g.name, "warning", w.Error())
		}
	}
	return e, nil
}

// Graph returns the graph the engine executes.
func (e *Engine[R]) Graph() *Graph { return e.graph }

// Start begins a new session with input delivered to the entry node's
// input port, and runs it until it suspends, completes or fails.
func (e *Engine[R]) Start(ctx context.Context, input any) RunOutcome[R] {
	g := e.graph
	s := newSessionState[R](e.opts.NewID(), input)

	if input != nil {
		if err := g.inputType().Check(input); err != nil {
			return e.fail(s, &TypeMismatchError{Node: g.entry, Port: InputPort, Want: g.inputType().Name(), Got: typeName(input)})
		}
	} else if p, ok := g.specs[g.entry].port(InputPort); ok && !p.Optional {
		return e.fail(s, &EngineError{Message: "entry node " + g.entry + " requires input", Code: "MISSING_INPUT"})
	}

	e.publish(s, "", emit.MsgSessionStart, nil)
	return e.run(ctx, s)
}

// Resume continues the session captured by cp, with value as the output of
// the interrupt node it suspended at.
//
// A checkpoint is single-use. The first Resume claims it in the store, and a
// later Resume of the same checkpoint fails with a *DuplicateResumeError. If
// the resumed run fails, the claim is dropped and the outcome carries cp
// again, so the caller can retry. A value of the wrong type is rejected with
// a *TypeMismatchError before anything is claimed.
func (e *Engine[R]) Resume(ctx context.Context, cp *Checkpoint, value any) RunOutcome[R] {
	if cp == nil {
		return RunOutcome[R]{Status: StatusFailed, Err: &EngineError{Message: "checkpoint is required", Code: "MISSING_CHECKPOINT"}}
	}

	s, fold, err := e.restore(cp, value)
	if err != nil {
		return RunOutcome[R]{Status: StatusFailed, Checkpoint: cp, Err: err}
	}

	claimed, err := e.opts.Store.Consume(ctx, cp.ID())
	if err != nil {
		return RunOutcome[R]{Status: StatusFailed, Checkpoint: cp, State: s, Err: e.storeError("failed to claim checkpoint", err)}
	}
	if !claimed {
		e.opts.Metrics.IncrementDuplicateResumes(e.graph.name)
		return e.fail(s, &DuplicateResumeError{CheckpointID: cp.ID()})
	}

	e.opts.Metrics.IncrementResumes(e.graph.name)
	e.publish(s, cp.Node(), emit.MsgResume, map[string]interface{}{"checkpoint_id": cp.ID()})
	e.publishFold(s, fold)

	out := e.finishResumedStep(ctx, s, cp.Node())
	if out == nil {
		run := e.run(ctx, s)
		out = &run
	}
	if out.Status == StatusFailed {
		if err := e.opts.Store.Release(context.WithoutCancel(ctx), cp.ID()); err != nil {
			e.opts.Logger.Error("failed to release checkpoint", "checkpoint", cp.ID(), "error", err)
		}
		out.Checkpoint = cp
	}
	return *out
}

// ResumeByID loads a checkpoint from the store and resumes it.
func (e *Engine[R]) ResumeByID(ctx context.Context, checkpointID string, value any) RunOutcome[R] {
	cp, err := e.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return RunOutcome[R]{Status: StatusFailed, Err: err}
	}
	return e.Resume(ctx, cp, value)
}

// Checkpoint captures a suspension of s at the interrupt node, which must
// be pending in the current superstep. It does not modify s or touch the
// store.
func (e *Engine[R]) Checkpoint(s *SessionState[R], node string, prompt any) (*Checkpoint, error) {
	spec, ok := e.graph.specs[node]
	if !ok || spec.role() != RoleInterrupt {
		return nil, fmt.Errorf("cannot checkpoint at %q: not an interrupt node", node)
	}
	if !slices.Contains(s.pending, node) {
		return nil, fmt.Errorf("cannot checkpoint at %q: node is not pending in step %d", node, s.Step)
	}
	data, err := encodeState(e.graph, s, true)
	if err != nil {
		return nil, err
	}
	cp := &Checkpoint{
		id:        e.opts.NewID(),
		sessionID: s.ID,
		node:      node,
		step:      s.Step,
		iteration: s.Iteration,
		key:       computeIdempotencyKey(s.ID, s.Step, node, data),
		createdAt: e.opts.Now().UTC(),
		state:     data,
	}
	return cp.withPrompt(prompt, spec.prompt()), nil
}

// Restore rebuilds the session state captured by cp with value filled in as
// the output of the suspended node. The step counter is unchanged, so the
// session continues the superstep it suspended in. Restore neither claims
// the checkpoint nor runs anything.
func (e *Engine[R]) Restore(cp *Checkpoint, value any) (*SessionState[R], error) {
	s, _, err := e.restore(cp, value)
	return s, err
}

type foldResult struct {
	applied  bool
	appended bool
}

func (e *Engine[R]) restore(cp *Checkpoint, value any) (*SessionState[R], foldResult, error) {
	spec, ok := e.graph.specs[cp.Node()]
	if !ok || spec.role() != RoleInterrupt {
		return nil, foldResult{}, fmt.Errorf("checkpoint %s: %q is not an interrupt node of graph %s", cp.ID(), cp.Node(), e.graph.name)
	}
	if err := spec.output().Check(value); err != nil {
		return nil, foldResult{}, &TypeMismatchError{Node: cp.Node(), Want: spec.output().Name(), Got: typeName(value)}
	}

	s, err := decodeState[R](e.graph, cp.state)
	if err != nil {
		return nil, foldResult{}, fmt.Errorf("checkpoint %s: %w", cp.ID(), err)
	}
	idx := slices.Index(s.pending, cp.Node())
	if idx < 0 {
		return nil, foldResult{}, fmt.Errorf("checkpoint %s: node %q is not pending", cp.ID(), cp.Node())
	}
	s.pending = slices.Delete(s.pending, idx, idx+1)
	s.produce(cp.Node(), value)

	var fold foldResult
	if e.isTail(cp.Node()) {
		if fold, err = e.fold(s); err != nil {
			return nil, foldResult{}, err
		}
	}
	return s, fold, nil
}

// finishResumedStep persists the superstep when the resumed node was the
// last one pending in it. It returns a non-nil outcome only on failure.
func (e *Engine[R]) finishResumedStep(ctx context.Context, s *SessionState[R], node string) *RunOutcome[R] {
	if len(s.pending) > 0 {
		return nil
	}
	if err := e.saveStep(ctx, s, node); err != nil {
		out := e.fail(s, err)
		return &out
	}
	return nil
}

// DecodeCheckpoint parses a checkpoint serialized with json.Marshal.
func (e *Engine[R]) DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	return decodeCheckpoint(e.graph, data)
}

// DecodeResumeValue parses JSON into the output type of the interrupt node
// cp suspended at, so that it can be passed to Resume.
func (e *Engine[R]) DecodeResumeValue(cp *Checkpoint, data []byte) (any, error) {
	spec, ok := e.graph.specs[cp.Node()]
	if !ok || spec.role() != RoleInterrupt {
		return nil, fmt.Errorf("checkpoint %s: %q is not an interrupt node of graph %s", cp.ID(), cp.Node(), e.graph.name)
	}
	v, err := spec.output().Decode(data)
	if err != nil {
		return nil, fmt.Errorf("resume value for %s: %w", cp.Node(), err)
	}
	return v, nil
}

// LoadCheckpoint reads a checkpoint from the store.
func (e *Engine[R]) LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	rec, err := e.opts.Store.LoadCheckpoint(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	if err != nil {
		return nil, e.storeError("failed to load checkpoint", err)
	}
	return decodeCheckpoint(e.graph, rec.Data)
}

// Checkpoints lists the checkpoints a session has taken, oldest first.
func (e *Engine[R]) Checkpoints(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	recs, err := e.opts.Store.ListCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, e.storeError("failed to list checkpoints", err)
	}
	out := make([]*Checkpoint, 0, len(recs))
	for _, rec := range recs {
		cp, err := decodeCheckpoint(e.graph, rec.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// LoadSession returns the most recently persisted state of a session.
func (e *Engine[R]) LoadSession(ctx context.Context, sessionID string) (*SessionState[R], error) {
	data, _, err := e.opts.Store.LoadLatest(ctx, sessionID)
	if err != nil {
		return nil, e.storeError("failed to load session "+sessionID, err)
	}
	return decodeState[R](e.graph, data)
}

// run executes supersteps until the session suspends, completes or fails.
func (e *Engine[R]) run(ctx context.Context, s *SessionState[R]) RunOutcome[R] {
	e.opts.Metrics.SessionStarted()
	defer e.opts.Metrics.SessionStopped()

	for {
		if err := ctx.Err(); err != nil {
			return e.fail(s, err)
		}

		if len(s.pending) == 0 {
			if e.terminated(s) {
				return e.complete(s)
			}
			next := e.frontier(s)
			if len(next) == 0 {
				if !e.loopDelivers(s) {
					return e.fail(s, ErrNoProgress)
				}
				if max := e.opts.MaxIterations; max > 0 && s.Iteration >= max {
					return e.fail(s, fmt.Errorf("%w (%d)", ErrMaxIterationsExceeded, max))
				}
				e.nextIteration(s)
				continue
			}
			if max := e.opts.MaxSteps; max > 0 && s.Step >= max {
				return e.fail(s, fmt.Errorf("%w (%d)", ErrMaxStepsExceeded, max))
			}
			s.Step++
			s.pending = next
		}

		var last string
		for len(s.pending) > 0 {
			if err := ctx.Err(); err != nil {
				return e.fail(s, err)
			}
			name := s.pending[0]
			values, _ := e.assemble(s, name)

			res := e.step(ctx, s, name, values)
			switch res.Kind {
			case KindSuspend:
				return e.suspend(ctx, s, name, res.Prompt)
			case KindFailed:
				return e.fail(s, res.Err)
			}

			s.produce(name, res.Value)
			s.pending = s.pending[1:]
			last = name

			if e.isTail(name) {
				fold, err := e.fold(s)
				if err != nil {
					return e.fail(s, err)
				}
				e.publishFold(s, fold)
			}
		}

		if err := e.saveStep(ctx, s, last); err != nil {
			return e.fail(s, err)
		}
	}
}

// frontier returns the nodes ready to run, in topological order, and marks
// every node that can no longer receive a value as skipped.
func (e *Engine[R]) frontier(s *SessionState[R]) []string {
	var next []string
	for _, name := range e.graph.order {
		if s.resolved(name) {
			continue
		}
		switch _, r := e.assemble(s, name); r {
		case ready:
			next = append(next, name)
		case skip:
			s.skipped[name] = true
			e.publish(s, name, emit.MsgNodeSkipped, nil)
		}
	}
	return next
}

// step runs one node and records its observability data.
func (e *Engine[R]) step(ctx context.Context, s *SessionState[R], name string, values map[string]any) NodeResult {
	e.publish(s, name, emit.MsgNodeStart, nil)
	start := time.Now()
	res := e.execute(ctx, s, name, values)
	elapsed := time.Since(start)

	status := "success"
	switch res.Kind {
	case KindFailed:
		status = "error"
		e.opts.Metrics.IncrementNodeFailures(e.graph.name, name)
	case KindSuspend:
		status = "suspend"
	default:
		e.publish(s, name, emit.MsgNodeEnd, map[string]interface{}{"duration_ms": elapsed.Milliseconds()})
	}
	e.opts.Metrics.RecordStepLatency(e.graph.name, name, elapsed, status)
	return res
}

func (e *Engine[R]) suspend(ctx context.Context, s *SessionState[R], node string, prompt any) RunOutcome[R] {
	cp, err := e.Checkpoint(s, node, prompt)
	if err != nil {
		return e.fail(s, err)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return e.fail(s, fmt.Errorf("failed to marshal checkpoint: %w", err))
	}
	if err := e.saveStep(ctx, s, node); err != nil {
		return e.fail(s, err)
	}
	err = e.opts.Store.SaveCheckpoint(ctx, store.Checkpoint{
		ID:             cp.ID(),
		SessionID:      cp.SessionID(),
		NodeID:         cp.Node(),
		Step:           cp.Step(),
		IdempotencyKey: cp.IdempotencyKey(),
		Data:           data,
		CreatedAt:      cp.CreatedAt(),
	})
	if err != nil {
		return e.fail(s, e.storeError("failed to save checkpoint", err))
	}

	e.opts.Metrics.IncrementSuspensions(e.graph.name, node)
	e.publish(s, node, emit.MsgSuspend, map[string]interface{}{"checkpoint_id": cp.ID()})
	return RunOutcome[R]{Status: StatusSuspended, Checkpoint: cp, Prompt: prompt, State: s}
}

func (e *Engine[R]) complete(s *SessionState[R]) RunOutcome[R] {
	e.publish(s, "", emit.MsgComplete, map[string]interface{}{"history_len": len(s.History)})
	return RunOutcome[R]{Status: StatusCompleted, State: s}
}

func (e *Engine[R]) fail(s *SessionState[R], err error) RunOutcome[R] {
	e.publish(s, "", emit.MsgError, map[string]interface{}{"error": err.Error()})
	e.opts.Logger.Warn("session failed", "graph", e.graph.name, "session", s.ID, "step", s.Step, "error", err)
	return RunOutcome[R]{Status: StatusFailed, State: s, Err: err}
}

func (e *Engine[R]) saveStep(ctx context.Context, s *SessionState[R], node string) error {
	data, err := encodeState(e.graph, s, false)
	if err != nil {
		return err
	}
	if err := e.opts.Store.SaveStep(ctx, s.ID, s.Step, node, data); err != nil {
		return e.storeError("failed to save step", err)
	}
	return nil
}

func (e *Engine[R]) storeError(msg string, err error) error {
	return &EngineError{Message: msg + ": " + err.Error(), Code: "STORE_ERROR", Cause: err}
}

func (e *Engine[R]) terminated(s *SessionState[R]) bool {
	for t := range e.graph.terminals {
		if s.produced[t] {
			return true
		}
	}
	return false
}

func (e *Engine[R]) isTail(name string) bool {
	return e.graph.loop != nil && e.graph.loop.tail == name
}

// loopDelivers reports whether the loop tail produced in this iteration and
// the loop-back edge accepts its value.
func (e *Engine[R]) loopDelivers(s *SessionState[R]) bool {
	lr := e.graph.loop
	if lr == nil || !s.produced[lr.tail] {
		return false
	}
	return e.graph.edges[lr.edge].delivers(s.Values[lr.tail])
}

// nextIteration opens a new pass through the loop region. Nodes outside
// the region keep their results.
func (e *Engine[R]) nextIteration(s *SessionState[R]) {
	s.Iteration++
	for n := range e.graph.loop.region {
		delete(s.produced, n)
		delete(s.skipped, n)
	}
	e.opts.Metrics.IncrementIterations(e.graph.name)
	e.publish(s, e.graph.loop.head, emit.MsgIteration, nil)
}

// fold reduces the current iteration's record into History.
func (e *Engine[R]) fold(s *SessionState[R]) (foldResult, error) {
	if e.extract == nil {
		return foldResult{}, nil
	}
	record, ok := e.extract(s.iterationOutputs())
	if !ok {
		return foldResult{}, nil
	}
	before := len(s.History)
	next := e.reducer.Reduce(s.historyCopy(), record)
	if len(next) < before {
		return foldResult{}, &EngineError{
			Message: fmt.Sprintf("reducer shrank history from %d to %d records", before, len(next)),
			Code:    "HISTORY_SHRANK",
		}
	}
	s.History = next
	return foldResult{applied: true, appended: len(next) > before}, nil
}

func (e *Engine[R]) publishFold(s *SessionState[R], fold foldResult) {
	if !fold.applied {
		return
	}
	msg := emit.MsgHistoryAppend
	if !fold.appended {
		msg = emit.MsgHistoryDuplicate
	}
	e.opts.Metrics.RecordHistory(e.graph.name, fold.appended)
	e.publish(s, e.graph.loop.tail, msg, map[string]interface{}{"history_len": len(s.History)})
}

func (e *Engine[R]) publish(s *SessionState[R], node, msg string, meta map[string]interface{}) {
	e.opts.Emitter.Emit(emit.Event{
		SessionID: s.ID,
		Step:      s.Step,
		Iteration: s.Iteration,
		NodeID:    node,
		Msg:       msg,
		Meta:      meta,
	})
}
