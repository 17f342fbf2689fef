package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// SessionState is the state of one running session: the most recent output
// of every node, the initial input, the accumulated History and the step and
// iteration counters. It is owned by exactly one session.
type SessionState[R any] struct {
	ID        string
	Step      int
	Iteration int
	Input     any
	Values    map[string]any
	History   []R

	produced map[string]bool // produced during the current iteration
	skipped  map[string]bool // skipped during the current iteration
	pending  []string        // not yet executed in the current superstep
}

func newSessionState[R any](id string, input any) *SessionState[R] {
	return &SessionState[R]{
		ID:        id,
		Iteration: 1,
		Input:     input,
		Values:    make(map[string]any),
		produced:  make(map[string]bool),
		skipped:   make(map[string]bool),
	}
}

// Value returns the most recent output of a node.
func (s *SessionState[R]) Value(node string) (any, bool) {
	v, ok := s.Values[node]
	return v, ok
}

// Pending returns the nodes that still have to run in the current superstep.
func (s *SessionState[R]) Pending() []string {
	return append([]string(nil), s.pending...)
}

func (s *SessionState[R]) resolved(node string) bool {
	return s.produced[node] || s.skipped[node]
}

func (s *SessionState[R]) produce(node string, v any) {
	s.Values[node] = v
	s.produced[node] = true
}

// iterationOutputs returns the values produced during the current iteration.
func (s *SessionState[R]) iterationOutputs() map[string]any {
	out := make(map[string]any, len(s.produced))
	for n := range s.produced {
		out[n] = s.Values[n]
	}
	return out
}

func (s *SessionState[R]) historyCopy() []R {
	if s.History == nil {
		return nil
	}
	return append([]R(nil), s.History...)
}

// snapshot is the serialized form of a SessionState. Values stay raw until
// they are decoded against the declared output type of their node, so a
// round trip reproduces exact Go types. A value held in a slot declared Any
// carries the name of its concrete type in Types (InputType for the input)
// unless JSON already restores it as is.
type snapshot struct {
	SessionID string                     `json:"session_id"`
	Step      int                        `json:"step"`
	Iteration int                        `json:"iteration"`
	Input     json.RawMessage            `json:"input,omitempty"`
	InputType string                     `json:"input_type,omitempty"`
	Values    map[string]json.RawMessage `json:"values"`
	Types     map[string]string          `json:"types,omitempty"`
	History   json.RawMessage            `json:"history"`
	Produced  []string                   `json:"produced"`
	Skipped   []string                   `json:"skipped"`
	Pending   []string                   `json:"pending"`
}

// encodeState serializes state. The encoding is deterministic: map keys
// are sorted by encoding/json and the progress sets are sorted here. With
// strict set, a value that could not be restored exactly is an error;
// otherwise it is stored as plain JSON.
func encodeState[R any](g *Graph, s *SessionState[R], strict bool) ([]byte, error) {
	snap := snapshot{
		SessionID: s.ID,
		Step:      s.Step,
		Iteration: s.Iteration,
		Values:    make(map[string]json.RawMessage, len(s.Values)),
		Produced:  sortedKeys(s.produced),
		Skipped:   sortedKeys(s.skipped),
		Pending:   append([]string{}, s.pending...),
	}
	if s.Input != nil {
		raw, err := json.Marshal(s.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal input: %w", err)
		}
		snap.Input = raw
		if g.inputType().Name() == Any.Name() {
			name, err := g.anyTag(s.Input)
			if err != nil && strict {
				return nil, fmt.Errorf("input: %w", err)
			}
			snap.InputType = name
		}
	}
	for node, v := range s.Values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output of %s: %w", node, err)
		}
		snap.Values[node] = raw
		if g.specs[node].output().Name() != Any.Name() {
			continue
		}
		name, err := g.anyTag(v)
		if err != nil && strict {
			return nil, fmt.Errorf("output of %s: %w", node, err)
		}
		if name != "" {
			if snap.Types == nil {
				snap.Types = make(map[string]string)
			}
			snap.Types[node] = name
		}
	}
	raw, err := json.Marshal(s.History)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	snap.History = raw
	return json.Marshal(snap)
}

// decodeState rebuilds a SessionState, decoding each value with the type
// its node declares.
func decodeState[R any](g *Graph, data []byte) (*SessionState[R], error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	s := &SessionState[R]{
		ID:        snap.SessionID,
		Step:      snap.Step,
		Iteration: snap.Iteration,
		Values:    make(map[string]any, len(snap.Values)),
		produced:  toSet(snap.Produced),
		skipped:   toSet(snap.Skipped),
		pending:   snap.Pending,
	}
	if len(snap.Input) > 0 && !bytes.Equal(snap.Input, []byte("null")) {
		t, err := g.restoreType(g.inputType(), snap.InputType)
		if err != nil {
			return nil, fmt.Errorf("failed to decode input: %w", err)
		}
		v, err := t.Decode(snap.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to decode input: %w", err)
		}
		s.Input = v
	}
	for node, raw := range snap.Values {
		spec, ok := g.specs[node]
		if !ok {
			return nil, fmt.Errorf("state holds output of unknown node %q", node)
		}
		t, err := g.restoreType(spec.output(), snap.Types[node])
		if err != nil {
			return nil, fmt.Errorf("failed to decode output of %s: %w", node, err)
		}
		v, err := t.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode output of %s: %w", node, err)
		}
		s.Values[node] = v
	}
	if err := json.Unmarshal(snap.History, &s.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return s, nil
}

// anyTag names the concrete type of v for a slot declared Any. It is empty
// when JSON restores v unchanged. A value of any other type cannot come back
// from a checkpoint exactly and is an error.
func (g *Graph) anyTag(v any) (string, error) {
	if jsonNative(v) {
		return "", nil
	}
	if t, ok := g.concreteType(v); ok {
		return t.Name(), nil
	}
	return "", fmt.Errorf("value of type %s cannot be checkpointed: declare it as a node output or port type", typeName(v))
}

// restoreType picks the type a slot is decoded with.
func (g *Graph) restoreType(declared Type, tag string) (Type, error) {
	if tag == "" {
		return declared, nil
	}
	t, ok := g.types[tag]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", tag)
	}
	return t, nil
}

// inputType is the type of the entry node's input port, or Any.
func (g *Graph) inputType() Type {
	if p, ok := g.specs[g.entry].port(InputPort); ok && p.Type != nil {
		return p.Type
	}
	return Any
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, k := range list {
		m[k] = true
	}
	return m
}
