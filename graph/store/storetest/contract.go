// Package storetest provides a conformance suite that every store.Store
// implementation runs from its own tests.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/loopgraph/graph/store"
)

// RunContract verifies that st honours the Store contract. Each run uses
// fresh session and checkpoint IDs, so it is safe against a shared database.
func RunContract(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	session := "contract-session-" + suffix

	t.Run("LoadLatest unknown session", func(t *testing.T) {
		_, _, err := st.LoadLatest(ctx, "missing-"+suffix)
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveStep and LoadLatest", func(t *testing.T) {
		for step, node := range []string{"a", "b", "c"} {
			data := []byte(fmt.Sprintf(`{"step":%d}`, step+1))
			if err := st.SaveStep(ctx, session, step+1, node, data); err != nil {
				t.Fatalf("SaveStep(%d) failed: %v", step+1, err)
			}
		}
		snap, step, err := st.LoadLatest(ctx, session)
		if err != nil {
			t.Fatalf("LoadLatest failed: %v", err)
		}
		if step != 3 {
			t.Errorf("expected step 3, got %d", step)
		}
		if !bytes.Equal(snap, []byte(`{"step":3}`)) {
			t.Errorf("unexpected snapshot %s", snap)
		}
	})

	t.Run("SaveStep replaces same step", func(t *testing.T) {
		if err := st.SaveStep(ctx, session, 3, "c", []byte(`{"step":"again"}`)); err != nil {
			t.Fatalf("SaveStep failed: %v", err)
		}
		snap, step, err := st.LoadLatest(ctx, session)
		if err != nil {
			t.Fatalf("LoadLatest failed: %v", err)
		}
		if step != 3 || !bytes.Equal(snap, []byte(`{"step":"again"}`)) {
			t.Errorf("expected replaced step 3, got step %d snapshot %s", step, snap)
		}
	})

	t.Run("LoadCheckpoint unknown ID", func(t *testing.T) {
		_, err := st.LoadCheckpoint(ctx, "missing-cp-"+suffix)
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	created := time.Now().UTC().Truncate(time.Millisecond)
	first := store.Checkpoint{
		ID:             "cp-1-" + suffix,
		SessionID:      session,
		NodeID:         "ask",
		Step:           2,
		IdempotencyKey: "sha256:first",
		Data:           []byte(`{"id":"cp-1"}`),
		CreatedAt:      created,
	}
	second := store.Checkpoint{
		ID:             "cp-2-" + suffix,
		SessionID:      session,
		NodeID:         "ask",
		Step:           5,
		IdempotencyKey: "sha256:second",
		Data:           []byte(`{"id":"cp-2"}`),
		CreatedAt:      created.Add(time.Second),
	}

	t.Run("SaveCheckpoint and LoadCheckpoint", func(t *testing.T) {
		for _, cp := range []store.Checkpoint{second, first} {
			if err := st.SaveCheckpoint(ctx, cp); err != nil {
				t.Fatalf("SaveCheckpoint(%s) failed: %v", cp.ID, err)
			}
		}
		got, err := st.LoadCheckpoint(ctx, first.ID)
		if err != nil {
			t.Fatalf("LoadCheckpoint failed: %v", err)
		}
		if got.SessionID != first.SessionID || got.NodeID != first.NodeID || got.Step != first.Step {
			t.Errorf("checkpoint metadata mismatch: %+v", got)
		}
		if got.IdempotencyKey != first.IdempotencyKey {
			t.Errorf("expected key %q, got %q", first.IdempotencyKey, got.IdempotencyKey)
		}
		if !bytes.Equal(got.Data, first.Data) {
			t.Errorf("expected data %s, got %s", first.Data, got.Data)
		}
		if !got.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("expected created_at %v, got %v", first.CreatedAt, got.CreatedAt)
		}
	})

	t.Run("SaveCheckpoint keeps the first write", func(t *testing.T) {
		changed := first
		changed.Data = []byte(`{"id":"overwritten"}`)
		if err := st.SaveCheckpoint(ctx, changed); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
		got, err := st.LoadCheckpoint(ctx, first.ID)
		if err != nil {
			t.Fatalf("LoadCheckpoint failed: %v", err)
		}
		if !bytes.Equal(got.Data, first.Data) {
			t.Errorf("checkpoint was overwritten: %s", got.Data)
		}
	})

	t.Run("ListCheckpoints", func(t *testing.T) {
		list, err := st.ListCheckpoints(ctx, session)
		if err != nil {
			t.Fatalf("ListCheckpoints failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 checkpoints, got %d", len(list))
		}
		if list[0].ID != first.ID || list[1].ID != second.ID {
			t.Errorf("expected step order [%s %s], got [%s %s]", first.ID, second.ID, list[0].ID, list[1].ID)
		}

		empty, err := st.ListCheckpoints(ctx, "missing-"+suffix)
		if err != nil {
			t.Fatalf("ListCheckpoints(unknown) failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("expected no checkpoints, got %d", len(empty))
		}
	})

	t.Run("Consume is single-use until released", func(t *testing.T) {
		ok, err := st.Consume(ctx, first.ID)
		if err != nil || !ok {
			t.Fatalf("first Consume = %v, %v; want true, nil", ok, err)
		}
		ok, err = st.Consume(ctx, first.ID)
		if err != nil || ok {
			t.Fatalf("second Consume = %v, %v; want false, nil", ok, err)
		}
		if err := st.Release(ctx, first.ID); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		ok, err = st.Consume(ctx, first.ID)
		if err != nil || !ok {
			t.Fatalf("Consume after Release = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("Consume under contention", func(t *testing.T) {
		const workers = 16
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := st.Consume(ctx, second.ID)
				if err != nil {
					t.Errorf("Consume failed: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if got := wins.Load(); got != 1 {
			t.Errorf("expected exactly one winner, got %d", got)
		}
	})
}
