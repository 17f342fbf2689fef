package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dshills/loopgraph/graph/store"
	"github.com/dshills/loopgraph/graph/store/storetest"
)

func newTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore_Contract(t *testing.T) {
	storetest.RunContract(t, newTestSQLiteStore(t))
}

// TestSQLiteStore_CloseAndReopen verifies that checkpoints and claims
// survive a restart.
func TestSQLiteStore_CloseAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	cp := store.Checkpoint{ID: "cp-1", SessionID: "s", NodeID: "ask", Step: 2, Data: []byte(`{}`)}
	if err := st.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if ok, err := st.Consume(ctx, cp.ID); err != nil || !ok {
		t.Fatalf("Consume = %v, %v", ok, err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if _, err := reopened.LoadCheckpoint(ctx, cp.ID); err != nil {
		t.Fatalf("LoadCheckpoint after reopen failed: %v", err)
	}
	if ok, _ := reopened.Consume(ctx, cp.ID); ok {
		t.Error("claim was lost across reopen")
	}
}

func TestSQLiteStore_ClosedStoreErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if err := st.SaveStep(ctx, "s", 1, "a", nil); !errors.Is(err, store.ErrClosed) {
		t.Errorf("SaveStep: expected ErrClosed, got %v", err)
	}
	if _, err := st.Consume(ctx, "cp"); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Consume: expected ErrClosed, got %v", err)
	}
	if err := st.Ping(ctx); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Ping: expected ErrClosed, got %v", err)
	}
}

func TestSQLiteStore_InterfaceCompliance(t *testing.T) {
	var _ store.Store = (*store.SQLiteStore)(nil)
	var _ store.Store = (*store.MySQLStore)(nil)
	var _ store.Store = (*store.RedisStore)(nil)
	var _ store.Store = (*store.MemStore)(nil)
}
