package graph

import (
	"context"
	"time"
)

// Role tags how the scheduler treats a node.
type Role string

const (
	// RoleNormal nodes run to completion synchronously within a superstep.
	RoleNormal Role = "normal"

	// RoleInterrupt nodes always suspend the run on their first invocation
	// and produce only the value supplied on resume.
	RoleInterrupt Role = "interrupt"

	// RoleTerminal nodes complete the run once they have produced.
	RoleTerminal Role = "terminal"
)

// InputPort is the reserved port on the entry node that receives the
// initial input passed to Start.
const InputPort = "input"

// Port is a named, typed input slot of a node.
//
// A required port must be delivered for the node to run. An optional port
// may stay empty, which is how a node joins alternative branches or accepts
// the loop-back value only on later iterations.
type Port struct {
	Name     string
	Type     Type
	Optional bool
}

// NodeSpec is the static, immutable declaration of a node.
type NodeSpec struct {
	// Name is the unique node identity.
	Name string

	// Inputs is the declared input signature. A node without declared
	// inputs accepts any edge, each delivered under its port name.
	Inputs []Port

	// Output is the declared output type. Nil means Any.
	Output Type

	// Prompt is the type of the payload an interrupt node suspends with.
	// It is only used to decode persisted checkpoints. Nil means Any.
	Prompt Type

	// Role defaults to RoleNormal.
	Role Role

	// Timeout bounds a single execution. Zero falls back to the engine default.
	Timeout time.Duration
}

func (s NodeSpec) role() Role {
	if s.Role == "" {
		return RoleNormal
	}
	return s.Role
}

func (s NodeSpec) output() Type {
	if s.Output == nil {
		return Any
	}
	return s.Output
}

func (s NodeSpec) prompt() Type {
	if s.Prompt == nil {
		return Any
	}
	return s.Prompt
}

func (s NodeSpec) port(name string) (Port, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Input is what a node receives when it runs.
//
// Values holds the delivered port values. History is a copy of the session
// History as of when the node runs, and Iteration is the current pass
// through the loop region, starting at 1.
type Input[R any] struct {
	SessionID string
	Node      string
	Step      int
	Iteration int
	Values    map[string]any
	History   []R
}

// Has reports whether a port was delivered.
func (in Input[R]) Has(port string) bool {
	_, ok := in.Values[port]
	return ok
}

// Get returns the value delivered on port as a T.
func Get[T any, R any](in Input[R], port string) (T, bool) {
	v, ok := in.Values[port]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Node is the executable bound to a node name. The engine never inspects
// what a node does; it only interprets the NodeResult.
type Node[R any] interface {
	Run(ctx context.Context, in Input[R]) NodeResult
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc[R any] func(ctx context.Context, in Input[R]) NodeResult

// Run implements Node.
func (f NodeFunc[R]) Run(ctx context.Context, in Input[R]) NodeResult {
	return f(ctx, in)
}

// ResultKind discriminates NodeResult.
type ResultKind int

const (
	KindProduced ResultKind = iota
	KindSuspend
	KindFailed
)

func (k ResultKind) String() string {
	switch k {
	case KindProduced:
		return "produced"
	case KindSuspend:
		return "suspend"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NodeResult is one of Produced(value), Suspend(prompt) or Failed(err).
type NodeResult struct {
	Kind   ResultKind
	Value  any
	Prompt any
	Err    error
}

// Produced returns a result carrying the node's output value.
func Produced(v any) NodeResult {
	return NodeResult{Kind: KindProduced, Value: v}
}

// Suspend returns a result asking the caller for input, with prompt as the
// payload shown to them.
func Suspend(prompt any) NodeResult {
	return NodeResult{Kind: KindSuspend, Prompt: prompt}
}

// Failed returns a result carrying an execution error.
func Failed(err error) NodeResult {
	return NodeResult{Kind: KindFailed, Err: err}
}
