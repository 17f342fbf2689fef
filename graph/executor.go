package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

type readiness int

const (
	waiting readiness = iota
	ready
	skip
)

// assemble collects the values delivered to a node and decides whether it
// can run. A node waits while any forward source is unresolved. Once all
// are resolved it runs if it received at least one value and every required
// port, and is skipped otherwise. The entry node always runs.
func (e *Engine[R]) assemble(s *SessionState[R], name string) (map[string]any, readiness) {
	g := e.graph
	values := make(map[string]any)
	for _, idx := range g.inbound[name] {
		edge := g.edges[idx]
		if !s.resolved(edge.From) {
			return nil, waiting
		}
		if !s.produced[edge.From] {
			continue
		}
		if v := s.Values[edge.From]; edge.delivers(v) {
			values[edge.port()] = v
		}
	}
	if name == g.entry && s.Input != nil {
		values[InputPort] = s.Input
	}
	if lr := g.loop; lr != nil && lr.head == name && s.Iteration > 1 {
		edge := g.edges[lr.edge]
		if v, ok := s.Values[edge.From]; ok {
			values[edge.port()] = v
		}
	}

	if name == g.entry {
		return values, ready
	}
	if len(values) == 0 {
		return nil, skip
	}
	for _, p := range g.specs[name].Inputs {
		if _, ok := values[p.Name]; !ok && !p.Optional {
			return nil, skip
		}
	}
	return values, ready
}

// execute runs the executable bound to name and validates its result. The
// returned NodeResult is Produced, Suspend (interrupt nodes only) or Failed
// with a *TypeMismatchError, *NodeExecutionError or *EngineError.
func (e *Engine[R]) execute(ctx context.Context, s *SessionState[R], name string, values map[string]any) NodeResult {
	spec := e.graph.specs[name]
	for port, v := range values {
		if p, ok := spec.port(port); ok && p.Type != nil {
			if err := p.Type.Check(v); err != nil {
				return Failed(&TypeMismatchError{Node: name, Port: port, Want: p.Type.Name(), Got: typeName(v)})
			}
		}
	}

	role := spec.role()
	node, bound := e.bindings[name]
	if !bound {
		switch role {
		case RoleInterrupt:
			return e.checkPrompt(spec, passThrough(values))
		case RoleTerminal:
			return e.checkOutput(spec, passThrough(values))
		default:
			return Failed(&EngineError{Message: "no executable bound to node " + name, Code: "UNBOUND_NODE"})
		}
	}

	in := Input[R]{
		SessionID: s.ID,
		Node:      name,
		Step:      s.Step,
		Iteration: s.Iteration,
		Values:    values,
		History:   s.historyCopy(),
	}
	res, err := runNode(ctx, node, in, nodeTimeout(spec, e.opts.DefaultNodeTimeout))
	if err != nil {
		return Failed(&NodeExecutionError{Node: name, Step: s.Step, Cause: err})
	}

	switch res.Kind {
	case KindProduced:
		if role == RoleInterrupt {
			return e.checkPrompt(spec, res.Value)
		}
		return e.checkOutput(spec, res.Value)
	case KindSuspend:
		if role != RoleInterrupt {
			return Failed(&NodeExecutionError{Node: name, Step: s.Step, Cause: errors.New("only interrupt nodes may suspend")})
		}
		return e.checkPrompt(spec, res.Prompt)
	case KindFailed:
		cause := res.Err
		if cause == nil {
			cause = errors.New("node reported failure without an error")
		}
		return Failed(&NodeExecutionError{Node: name, Step: s.Step, Cause: cause})
	default:
		return Failed(&NodeExecutionError{Node: name, Step: s.Step, Cause: fmt.Errorf("unknown result kind %d", res.Kind)})
	}
}

func (e *Engine[R]) checkOutput(spec NodeSpec, v any) NodeResult {
	if err := spec.output().Check(v); err != nil {
		return Failed(&TypeMismatchError{Node: spec.Name, Want: spec.output().Name(), Got: typeName(v)})
	}
	return Produced(v)
}

func (e *Engine[R]) checkPrompt(spec NodeSpec, prompt any) NodeResult {
	if prompt != nil {
		if err := spec.prompt().Check(prompt); err != nil {
			return Failed(&TypeMismatchError{Node: spec.Name, Want: spec.prompt().Name(), Got: typeName(prompt)})
		}
	}
	return Suspend(prompt)
}

// passThrough is the output of an unbound node: the single delivered value,
// or the whole port map when several ports were delivered.
func passThrough(values map[string]any) any {
	if len(values) == 1 {
		for _, v := range values {
			return v
		}
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// nodeTimeout determines the timeout for a node:
//  1. NodeSpec.Timeout (per-node override)
//  2. defaultTimeout (engine-wide default)
//  3. 0 (no timeout)
func nodeTimeout(spec NodeSpec, defaultTimeout time.Duration) time.Duration {
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// runNode executes a node with timeout enforcement and panic recovery.
// A non-nil error means the node timed out or panicked.
func runNode[R any](ctx context.Context, node Node[R], in Input[R], timeout time.Duration) (res NodeResult, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	res = node.Run(ctx, in)

	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", in.Node, timeout),
			Code:    "NODE_TIMEOUT",
			Cause:   context.DeadlineExceeded,
		}
	}
	return res, nil
}
