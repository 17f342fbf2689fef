package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It stores snapshots and checkpoints in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-host deployments that must survive restarts
//   - Prototyping before migrating to a shared store
//
// SQLiteStore uses WAL mode for concurrent reads and proper transactions.
//
// Schema:
//   - session_steps: Superstep snapshots
//   - session_checkpoints: Suspension checkpoints
//   - checkpoint_claims: Consumption ledger
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./loopgraph.db" - file in current directory
//   - "/tmp/sessions.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and the tables, and
// enables WAL mode, foreign keys and a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./loopgraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close() // Ignore close error when returning pragma error
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	store := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close() // Ignore close error when returning table creation error
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"session_steps", `
			CREATE TABLE IF NOT EXISTS session_steps (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				step INTEGER NOT NULL,
				node_id TEXT NOT NULL,
				snapshot BLOB NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(session_id, step)
			)`},
		{"session_checkpoints", `
			CREATE TABLE IF NOT EXISTS session_checkpoints (
				checkpoint_id TEXT NOT NULL PRIMARY KEY,
				session_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				step INTEGER NOT NULL,
				idempotency_key TEXT NOT NULL,
				data BLOB NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`},
		{"idx_checkpoints_session", `
			CREATE INDEX IF NOT EXISTS idx_checkpoints_session
			ON session_checkpoints(session_id, step)`},
		{"checkpoint_claims", `
			CREATE TABLE IF NOT EXISTS checkpoint_claims (
				checkpoint_id TEXT NOT NULL PRIMARY KEY,
				claimed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`},
	}
	for _, st := range statements {
		if _, err := s.db.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a superstep snapshot (implements Store interface).
//
// If a step with the same session and step number already exists, it is replaced.
func (s *SQLiteStore) SaveStep(ctx context.Context, sessionID string, step int, nodeID string, snapshot []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO session_steps (session_id, step, node_id, snapshot)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			snapshot = excluded.snapshot
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, step, nodeID, snapshot); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a session (implements Store interface).
func (s *SQLiteStore) LoadLatest(ctx context.Context, sessionID string) ([]byte, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT step, snapshot
		FROM session_steps
		WHERE session_id = ?
		ORDER BY step DESC
		LIMIT 1
	`
	var (
		step     int
		snapshot []byte
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&step, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load latest step: %w", err)
	}
	return snapshot, step, nil
}

// SaveCheckpoint persists a checkpoint (implements Store interface).
// Saving an existing checkpoint ID is a no-op.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO session_checkpoints
			(checkpoint_id, session_id, node_id, step, idempotency_key, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(checkpoint_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		cp.ID, cp.SessionID, cp.NodeID, cp.Step, cp.IdempotencyKey, cp.Data, cp.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves a checkpoint (implements Store interface).
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	query := `
		SELECT checkpoint_id, session_id, node_id, step, idempotency_key, data, created_at
		FROM session_checkpoints
		WHERE checkpoint_id = ?
	`
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints (implements Store interface).
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT checkpoint_id, session_id, node_id, step, idempotency_key, data, created_at
		FROM session_checkpoints
		WHERE session_id = ?
		ORDER BY step, created_at, checkpoint_id
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Consume claims a checkpoint (implements Store interface). The primary key
// on checkpoint_claims makes the claim atomic across connections.
func (s *SQLiteStore) Consume(ctx context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoint_claims (checkpoint_id) VALUES (?) ON CONFLICT(checkpoint_id) DO NOTHING`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim checkpoint: %w", err)
	}
	return n == 1, nil
}

// Release drops a claim (implements Store interface).
func (s *SQLiteStore) Release(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoint_claims WHERE checkpoint_id = ?`, id); err != nil {
		return fmt.Errorf("failed to release checkpoint: %w", err)
	}
	return nil
}

// Close closes the database connection.
//
// After Close, all operations return ErrClosed.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp        Checkpoint
		createdAt time.Time
	)
	if err := row.Scan(&cp.ID, &cp.SessionID, &cp.NodeID, &cp.Step, &cp.IdempotencyKey, &cp.Data, &createdAt); err != nil {
		return Checkpoint{}, err
	}
	cp.CreatedAt = createdAt
	return cp, nil
}
