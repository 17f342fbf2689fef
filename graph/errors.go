// Package graph provides the core execution engine for loopgraph: typed
// workflow graphs with a single loop region, executed in supersteps, that
// suspend at interrupt nodes and resume from immutable checkpoints.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMaxStepsExceeded indicates that a run reached the configured superstep
// limit without completing or suspending.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrMaxIterationsExceeded indicates that the loop region would start an
// iteration beyond the configured limit.
var ErrMaxIterationsExceeded = errors.New("execution exceeded maximum loop iterations")

// ErrNoProgress is returned when no node is ready, no terminal has run and
// the loop-back edge did not deliver. The run cannot move forward.
var ErrNoProgress = errors.New("no progress: no runnable nodes")

// ErrCheckpointNotFound is returned when a checkpoint ID is unknown to the store.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// MalformedGraphError reports every structural problem found while defining
// or compiling a graph. No part of a malformed graph is usable.
type MalformedGraphError struct {
	Graph    string
	Problems []string
}

func (e *MalformedGraphError) Error() string {
	name := e.Graph
	if name == "" {
		name = "graph"
	}
	return fmt.Sprintf("malformed %s: %s", name, strings.Join(e.Problems, "; "))
}

// TypeMismatchError reports a value that does not conform to a declared type.
// Port is empty when the value is a node output.
type TypeMismatchError struct {
	Node string
	Port string
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("node %s port %s: type mismatch: want %s, got %s", e.Node, e.Port, e.Want, e.Got)
	}
	return fmt.Sprintf("node %s: type mismatch: want %s, got %s", e.Node, e.Want, e.Got)
}

// NodeExecutionError wraps a failure raised by a bound executable, including
// recovered panics and timeouts.
type NodeExecutionError struct {
	Node  string
	Step  int
	Cause error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed at step %d: %v", e.Node, e.Step, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// DuplicateResumeError is returned when a checkpoint that was already
// consumed by a successful resume is resumed again.
type DuplicateResumeError struct {
	CheckpointID string
}

func (e *DuplicateResumeError) Error() string {
	return "checkpoint " + e.CheckpointID + " was already resumed"
}

// NonTerminationRisk is a definition-time warning: the loop region has no
// interrupt node and an unconditional loop-back edge, so nothing inside the
// graph can stop the cycle.
type NonTerminationRisk struct {
	Head string
	Tail string
}

func (w *NonTerminationRisk) Error() string {
	return fmt.Sprintf("loop %s -> %s has no interrupt node or exit condition", w.Tail, w.Head)
}

// EngineError represents a configuration or infrastructure failure of the
// engine itself (store errors, missing bindings at run time).
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}
