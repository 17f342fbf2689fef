package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dshills/loopgraph/graph/store"
	"github.com/dshills/loopgraph/graph/store/storetest"
)

func TestMemStore_Contract(t *testing.T) {
	storetest.RunContract(t, store.NewMemStore())
}

// TestMemStore_Isolation verifies that callers cannot mutate stored bytes.
func TestMemStore_Isolation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	snap := []byte(`{"v":1}`)
	if err := st.SaveStep(ctx, "s", 1, "a", snap); err != nil {
		t.Fatalf("SaveStep failed: %v", err)
	}
	snap[0] = 'X'

	got, _, err := st.LoadLatest(ctx, "s")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Errorf("stored snapshot was mutated: %s", got)
	}

	got[0] = 'Y'
	again, _, _ := st.LoadLatest(ctx, "s")
	if string(again) != `{"v":1}` {
		t.Errorf("returned snapshot aliases storage: %s", again)
	}
}

// TestMemStore_JSONRoundTrip verifies that a serialized store keeps its
// checkpoints and claims.
func TestMemStore_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	_ = st.SaveStep(ctx, "s", 1, "a", []byte(`{}`))
	_ = st.SaveCheckpoint(ctx, store.Checkpoint{ID: "cp", SessionID: "s", NodeID: "ask", Step: 1, Data: []byte(`{"x":1}`)})
	if ok, _ := st.Consume(ctx, "cp"); !ok {
		t.Fatal("expected first claim to succeed")
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	restored := store.NewMemStore()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}

	cp, err := restored.LoadCheckpoint(ctx, "cp")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if string(cp.Data) != `{"x":1}` {
		t.Errorf("unexpected checkpoint data %s", cp.Data)
	}
	if ok, _ := restored.Consume(ctx, "cp"); ok {
		t.Error("claim did not survive serialization")
	}
	if _, step, err := restored.LoadLatest(ctx, "s"); err != nil || step != 1 {
		t.Errorf("LoadLatest = %d, %v; want 1, nil", step, err)
	}
}

func TestMemStore_UnmarshalEmpty(t *testing.T) {
	st := store.NewMemStore()
	if err := json.Unmarshal([]byte(`{}`), st); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if err := st.SaveStep(context.Background(), "s", 1, "a", nil); err != nil {
		t.Fatalf("SaveStep after empty unmarshal failed: %v", err)
	}
}
