package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It stores snapshots and checkpoints in a relational database.
// Designed for:
//   - Several engine processes resuming each other's checkpoints
//   - Long-running sessions that survive process restarts
//   - Audit trails of every suspension
//
// MySQLStore uses connection pooling and transactions for reliability.
//
// Schema:
//   - session_steps: Superstep snapshots
//   - session_checkpoints: Suspension checkpoints
//   - checkpoint_claims: Consumption ledger
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// parseTime is always enabled, since checkpoint timestamps are scanned into
// time.Time.
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use the environment:
//	    LOOPGRAPH_STORE_DSN=user:pass@tcp(localhost:3306)/loopgraph
//
// Example:
//
//	st, err := store.NewMySQLStore("user:pass@tcp(localhost:3306)/loopgraph")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Max connection lifetime (prevent stale connections)
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS session_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			snapshot LONGBLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_session_id (session_id),
			UNIQUE KEY unique_session_step (session_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create session_steps table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS session_checkpoints (
			checkpoint_id VARCHAR(255) NOT NULL PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			idempotency_key VARCHAR(80) NOT NULL,
			data LONGBLOB NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_checkpoints_session (session_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create session_checkpoints table: %w", err)
	}

	claimsTable := `
		CREATE TABLE IF NOT EXISTS checkpoint_claims (
			checkpoint_id VARCHAR(255) NOT NULL PRIMARY KEY,
			claimed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, claimsTable); err != nil {
		return fmt.Errorf("failed to create checkpoint_claims table: %w", err)
	}

	return nil
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a superstep snapshot (implements Store interface).
//
// If a step with the same session and step number already exists, it is replaced.
func (m *MySQLStore) SaveStep(ctx context.Context, sessionID string, step int, nodeID string, snapshot []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO session_steps (session_id, step, node_id, snapshot)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			snapshot = VALUES(snapshot),
			created_at = CURRENT_TIMESTAMP
	`
	if _, err := m.db.ExecContext(ctx, query, sessionID, step, nodeID, snapshot); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a session (implements Store interface).
func (m *MySQLStore) LoadLatest(ctx context.Context, sessionID string) ([]byte, int, error) {
	if err := m.checkOpen(); err != nil {
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
	err := m.db.QueryRowContext(ctx, query, sessionID).Scan(&step, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load latest step: %w", err)
	}
	return snapshot, step, nil
}

// SaveCheckpoint persists a checkpoint (implements Store interface).
//
// The insert and the removal of any stale claim on the same ID run in one
// transaction, so a freshly saved checkpoint is always resumable.
func (m *MySQLStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	return m.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO session_checkpoints
				(checkpoint_id, session_id, node_id, step, idempotency_key, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, cp.ID, cp.SessionID, cp.NodeID, cp.Step, cp.IdempotencyKey, cp.Data, cp.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_claims WHERE checkpoint_id = ?`, cp.ID); err != nil {
			return fmt.Errorf("failed to reset checkpoint claim: %w", err)
		}
		return nil
	})
}

// LoadCheckpoint retrieves a checkpoint (implements Store interface).
func (m *MySQLStore) LoadCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	query := `
		SELECT checkpoint_id, session_id, node_id, step, idempotency_key, data, created_at
		FROM session_checkpoints
		WHERE checkpoint_id = ?
	`
	cp, err := scanCheckpoint(m.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints (implements Store interface).
func (m *MySQLStore) ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT checkpoint_id, session_id, node_id, step, idempotency_key, data, created_at
		FROM session_checkpoints
		WHERE session_id = ?
		ORDER BY step, created_at, checkpoint_id
	`
	rows, err := m.db.QueryContext(ctx, query, sessionID)
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

// Consume claims a checkpoint (implements Store interface).
func (m *MySQLStore) Consume(ctx context.Context, id string) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}

	res, err := m.db.ExecContext(ctx, `INSERT IGNORE INTO checkpoint_claims (checkpoint_id) VALUES (?)`, id)
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
func (m *MySQLStore) Release(ctx context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, `DELETE FROM checkpoint_claims WHERE checkpoint_id = ?`, id); err != nil {
		return fmt.Errorf("failed to release checkpoint: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
//
// After Close, all operations return ErrClosed.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Stats()
}

// WithTransaction executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (m *MySQLStore) WithTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
