package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// It stores snapshots, checkpoints and claims in maps.
// Designed for:
//   - Testing and development
//   - Single-process sessions
//   - The CLI, which dumps a MemStore to a JSON file between invocations
//
// MemStore is thread-safe and supports concurrent access.
//
// Limitations:
//   - Data is lost when process terminates unless serialized with MarshalJSON
//   - Not suitable for several processes sharing checkpoints
type MemStore struct {
	mu          sync.RWMutex
	steps       map[string][]StepRecord // sessionID -> steps
	checkpoints map[string]Checkpoint   // checkpointID -> checkpoint
	consumed    map[string]bool         // checkpointID -> claimed
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore()
//	engine, err := graph.New(g, bindings, policy, graph.WithStore(st))
func NewMemStore() *MemStore {
	return &MemStore{
		steps:       make(map[string][]StepRecord),
		checkpoints: make(map[string]Checkpoint),
		consumed:    make(map[string]bool),
	}
}

// SaveStep persists a superstep snapshot, replacing an earlier save of
// the same step.
func (m *MemStore) SaveStep(_ context.Context, sessionID string, step int, nodeID string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := StepRecord{
		Step:     step,
		NodeID:   nodeID,
		Snapshot: append([]byte(nil), snapshot...),
	}

	records := m.steps[sessionID]
	for i := range records {
		if records[i].Step == step {
			records[i] = record
			return nil
		}
	}
	m.steps[sessionID] = append(records, record)
	return nil
}

// LoadLatest retrieves the most recent step for a session.
//
// Returns the step with the highest step number.
// This handles out-of-order step saves correctly.
func (m *MemStore) LoadLatest(_ context.Context, sessionID string) ([]byte, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, exists := m.steps[sessionID]
	if !exists || len(records) == 0 {
		return nil, 0, ErrNotFound
	}

	latest := records[0]
	for _, record := range records[1:] {
		if record.Step > latest.Step {
			latest = record
		}
	}

	return append([]byte(nil), latest.Snapshot...), latest.Step, nil
}

// SaveCheckpoint persists a checkpoint. An existing ID is left untouched.
func (m *MemStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkpoints[cp.ID]; exists {
		return nil
	}
	cp.Data = append([]byte(nil), cp.Data...)
	m.checkpoints[cp.ID] = cp
	return nil
}

// LoadCheckpoint retrieves a checkpoint by ID.
//
// Returns ErrNotFound if the checkpoint ID doesn't exist.
func (m *MemStore) LoadCheckpoint(_ context.Context, id string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, exists := m.checkpoints[id]
	if !exists {
		return Checkpoint{}, ErrNotFound
	}
	cp.Data = append([]byte(nil), cp.Data...)
	return cp, nil
}

// ListCheckpoints returns the checkpoints of a session.
func (m *MemStore) ListCheckpoints(_ context.Context, sessionID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Checkpoint, 0)
	for _, cp := range m.checkpoints {
		if cp.SessionID == sessionID {
			cp.Data = append([]byte(nil), cp.Data...)
			out = append(out, cp)
		}
	}
	sortCheckpoints(out)
	return out, nil
}

// Consume claims a checkpoint. Only the first caller gets true.
func (m *MemStore) Consume(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consumed[id] {
		return false, nil
	}
	m.consumed[id] = true
	return true, nil
}

// Release drops a claim.
func (m *MemStore) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.consumed, id)
	return nil
}

// serializableMemStore is the JSON-serializable representation of MemStore.
type serializableMemStore struct {
	Steps       map[string][]StepRecord `json:"steps"`
	Checkpoints map[string]Checkpoint   `json:"checkpoints"`
	Consumed    map[string]bool         `json:"consumed"`
}

// MarshalJSON serializes the MemStore to JSON.
//
// The CLI writes the result to its state file so a session suspended by
// one invocation can be resumed by the next.
//
// Thread-safe: acquires read lock during serialization.
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(serializableMemStore{
		Steps:       m.steps,
		Checkpoints: m.checkpoints,
		Consumed:    m.consumed,
	})
}

// UnmarshalJSON replaces the contents of the MemStore with the
// deserialized data.
//
// Thread-safe: acquires write lock during deserialization.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s serializableMemStore
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	m.steps = s.Steps
	m.checkpoints = s.Checkpoints
	m.consumed = s.Consumed

	// Initialize empty maps if nil (for empty JSON objects)
	if m.steps == nil {
		m.steps = make(map[string][]StepRecord)
	}
	if m.checkpoints == nil {
		m.checkpoints = make(map[string]Checkpoint)
	}
	if m.consumed == nil {
		m.consumed = make(map[string]bool)
	}
	return nil
}

func sortCheckpoints(cps []Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool {
		if cps[i].Step != cps[j].Step {
			return cps[i].Step < cps[j].Step
		}
		if !cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].CreatedAt.Before(cps[j].CreatedAt)
		}
		return cps[i].ID < cps[j].ID
	})
}
