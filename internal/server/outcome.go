package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/interview"
)

// Outcome is the wire form of a run outcome, shared by HTTP and MCP.
type Outcome struct {
	SessionID string       `json:"session_id,omitempty" jsonschema_description:"Interview session"`
	Status    graph.Status `json:"status" jsonschema_description:"suspended, completed or failed"`

	CheckpointID string `json:"checkpoint_id,omitempty" jsonschema_description:"Checkpoint to resume"`
	Node         string `json:"node,omitempty" jsonschema_description:"Interrupt node waiting for an answer"`
	Iteration    int    `json:"iteration,omitempty"`
	Prompt       any    `json:"prompt,omitempty" jsonschema_description:"What the waiting node asks"`

	Report  string                `json:"report,omitempty" jsonschema_description:"Markdown report of a completed interview"`
	History []interview.Iteration `json:"history,omitempty"`

	Error string `json:"error,omitempty"`
}

// View converts an engine outcome.
func View(out interview.Outcome) Outcome {
	v := Outcome{Status: out.Status}
	if out.State != nil {
		v.SessionID = out.State.ID
		v.Iteration = out.State.Iteration
	}
	if cp := out.Checkpoint; cp != nil {
		v.SessionID = cp.SessionID()
		v.CheckpointID = cp.ID()
		v.Node = cp.Node()
		v.Iteration = cp.Iteration()
		v.Prompt = cp.Prompt()
	}
	if out.Err != nil {
		v.Error = out.Err.Error()
	}
	if out.Status == graph.StatusCompleted {
		v.Report, _ = interview.Report(out)
		v.History = out.History()
	}
	return v
}

// CheckpointInfo summarizes a checkpoint without its state blob.
type CheckpointInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Node      string    `json:"node"`
	Step      int       `json:"step"`
	Iteration int       `json:"iteration"`
	Prompt    any       `json:"prompt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Info summarizes cp.
func Info(cp *graph.Checkpoint) CheckpointInfo {
	return CheckpointInfo{
		ID:        cp.ID(),
		SessionID: cp.SessionID(),
		Node:      cp.Node(),
		Step:      cp.Step(),
		Iteration: cp.Iteration(),
		Prompt:    cp.Prompt(),
		CreatedAt: cp.CreatedAt(),
	}
}

// statusCode maps an outcome error to an HTTP status. Runs that fail inside
// a node still answer 200: the failure is part of the outcome.
func statusCode(err error) int {
	var dup *graph.DuplicateResumeError
	var mismatch *graph.TypeMismatchError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, graph.ErrCheckpointNotFound):
		return http.StatusNotFound
	case errors.As(err, &dup):
		return http.StatusConflict
	case errors.As(err, &mismatch):
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
