// Package store persists session snapshots and suspension checkpoints.
//
// Stores deal in opaque bytes: the graph package owns serialization, so the
// same Store serves every graph and history record type.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session or checkpoint ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// Store provides persistence for session progress and checkpoints.
//
// It enables:
//   - Step-by-step snapshot persistence during execution
//   - Checkpoint save/load so a suspended session can resume in another process
//   - A consumption ledger that makes each checkpoint single-use
//
// Implementations:
//   - In-memory (MemStore, for tests and single-process use)
//   - SQLite (SQLiteStore, single-file persistence)
//   - MySQL (MySQLStore, shared relational storage)
//   - Redis (RedisStore, shared key-value storage with optional expiry)
type Store interface {
	// SaveStep persists the snapshot taken after a superstep. Saving the same
	// session and step again replaces the earlier snapshot, which happens
	// when a resumed session finishes the superstep it suspended in.
	SaveStep(ctx context.Context, sessionID string, step int, nodeID string, snapshot []byte) error

	// LoadLatest returns the snapshot with the highest step number.
	// Returns ErrNotFound if the session has no saved steps.
	LoadLatest(ctx context.Context, sessionID string) (snapshot []byte, step int, err error)

	// SaveCheckpoint persists a checkpoint. Checkpoints are immutable, so
	// saving an ID that already exists is a no-op.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns the checkpoint with the given ID, or ErrNotFound.
	LoadCheckpoint(ctx context.Context, id string) (Checkpoint, error)

	// ListCheckpoints returns a session's checkpoints ordered by step and
	// creation time. An unknown session yields an empty list.
	ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error)

	// Consume atomically claims a checkpoint for resumption. It returns
	// true for the first caller and false for every later one until the
	// claim is released.
	Consume(ctx context.Context, id string) (bool, error)

	// Release drops a claim so the checkpoint can be resumed again. It is
	// used when the run started from the checkpoint fails.
	Release(ctx context.Context, id string) error
}

// StepRecord is one persisted superstep snapshot.
type StepRecord struct {
	// Step is the superstep number (1-indexed).
	Step int

	// NodeID is the last node executed in the superstep.
	NodeID string

	// Snapshot is the serialized session state after the superstep.
	Snapshot []byte
}

// Checkpoint is the persisted form of a suspension checkpoint.
type Checkpoint struct {
	// ID is the unique checkpoint identifier.
	ID string

	// SessionID identifies the suspended session.
	SessionID string

	// NodeID is the interrupt node awaiting input.
	NodeID string

	// Step is the superstep the session suspended in.
	Step int

	// IdempotencyKey is the digest over the suspension, as computed by the engine.
	IdempotencyKey string

	// Data is the encoded checkpoint.
	Data []byte

	// CreatedAt is when the checkpoint was taken.
	CreatedAt time.Time
}
