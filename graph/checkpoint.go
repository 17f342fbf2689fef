package graph

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is an immutable snapshot of a session suspended at an interrupt
// node. It is single-use: the first successful Resume consumes it.
//
// The snapshot is held as opaque bytes and accessors return copies, so
// nothing a caller does to the values it reads can alter a checkpoint. The
// one exception is the prompt of a node that declares no prompt type, which
// is returned as the node produced it.
type Checkpoint struct {
	id        string
	sessionID string
	node      string
	step      int
	iteration int
	prompt    any
	promptRaw []byte // set when the prompt type is declared
	promptTyp Type
	key       string
	createdAt time.Time
	state     []byte
}

// ID uniquely identifies the checkpoint.
func (c *Checkpoint) ID() string { return c.id }

// SessionID identifies the session the checkpoint belongs to.
func (c *Checkpoint) SessionID() string { return c.sessionID }

// Node is the interrupt node awaiting input.
func (c *Checkpoint) Node() string { return c.node }

// Step is the superstep the session suspended in. Resuming continues it.
func (c *Checkpoint) Step() int { return c.step }

// Iteration is the loop iteration the session suspended in.
func (c *Checkpoint) Iteration() int { return c.iteration }

// Prompt is the payload the interrupt node suspended with.
func (c *Checkpoint) Prompt() any {
	if c.promptRaw == nil {
		return c.prompt
	}
	v, err := c.promptTyp.Decode(c.promptRaw)
	if err != nil {
		return c.prompt
	}
	return v
}

// withPrompt stores prompt, keeping its JSON form when t can rebuild a
// private copy of it.
func (c *Checkpoint) withPrompt(prompt any, t Type) *Checkpoint {
	c.prompt = prompt
	if prompt == nil || t == nil || t.Name() == Any.Name() {
		return c
	}
	raw, err := json.Marshal(prompt)
	if err != nil {
		return c
	}
	c.promptRaw = raw
	c.promptTyp = t
	return c
}

// IdempotencyKey is a SHA-256 digest over the session, step, node and
// snapshot, formatted as "sha256:<hex>".
func (c *Checkpoint) IdempotencyKey() string { return c.key }

// CreatedAt is when the session suspended.
func (c *Checkpoint) CreatedAt() time.Time { return c.createdAt }

// State returns a copy of the serialized session snapshot.
func (c *Checkpoint) State() []byte {
	return append([]byte(nil), c.state...)
}

type checkpointJSON struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Node           string          `json:"node"`
	Step           int             `json:"step"`
	Iteration      int             `json:"iteration"`
	Prompt         json.RawMessage `json:"prompt"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	State          json.RawMessage `json:"state"`
}

// MarshalJSON encodes the checkpoint for persistence or transport. Decode it
// with Engine.DecodeCheckpoint, which knows the graph's types.
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	prompt := json.RawMessage(c.promptRaw)
	if prompt == nil {
		raw, err := json.Marshal(c.prompt)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal prompt: %w", err)
		}
		prompt = raw
	}
	return json.Marshal(checkpointJSON{
		ID:             c.id,
		SessionID:      c.sessionID,
		Node:           c.node,
		Step:           c.step,
		Iteration:      c.iteration,
		Prompt:         prompt,
		IdempotencyKey: c.key,
		CreatedAt:      c.createdAt,
		State:          c.state,
	})
}

// decodeCheckpoint parses a checkpoint produced by MarshalJSON and verifies
// its idempotency key against the snapshot.
func decodeCheckpoint(g *Graph, data []byte) (*Checkpoint, error) {
	var raw checkpointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	spec, ok := g.specs[raw.Node]
	if !ok || spec.role() != RoleInterrupt {
		return nil, fmt.Errorf("checkpoint %s: %q is not an interrupt node of graph %s", raw.ID, raw.Node, g.name)
	}
	state := []byte(raw.State)
	if key := computeIdempotencyKey(raw.SessionID, raw.Step, raw.Node, state); key != raw.IdempotencyKey {
		return nil, fmt.Errorf("checkpoint %s: idempotency key mismatch", raw.ID)
	}
	var prompt any
	if len(raw.Prompt) > 0 && !bytes.Equal(raw.Prompt, []byte("null")) {
		v, err := spec.prompt().Decode(raw.Prompt)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", raw.ID, err)
		}
		prompt = v
	}
	cp := &Checkpoint{
		id:        raw.ID,
		sessionID: raw.SessionID,
		node:      raw.Node,
		step:      raw.Step,
		iteration: raw.Iteration,
		key:       raw.IdempotencyKey,
		createdAt: raw.CreatedAt,
		state:     append([]byte(nil), state...),
	}
	return cp.withPrompt(prompt, spec.prompt()), nil
}

// computeIdempotencyKey hashes everything that identifies a suspension:
// the session, the superstep, the waiting node and the exact snapshot.
// Identical suspensions produce identical keys.
func computeIdempotencyKey(sessionID string, step int, node string, state []byte) string {
	h := sha256.New()
	h.Write([]byte(sessionID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(step))
	h.Write(stepBytes)

	h.Write([]byte(node))
	h.Write(state)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
