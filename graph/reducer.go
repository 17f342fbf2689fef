package graph

import "reflect"

// Similarity reports whether two history records are duplicates.
type Similarity[R any] func(a, b R) bool

// StructuralEquality is the default Similarity: records are duplicates when
// they are deeply equal.
func StructuralEquality[R any](a, b R) bool {
	return reflect.DeepEqual(a, b)
}

// Reducer folds one loop iteration's record into the History.
//
// Implementations must be pure: they return a new slice and never modify
// the one they are given.
type Reducer[R any] interface {
	Reduce(history []R, record R) []R
}

// Reduce appends record to a copy of history unless similar judges it a
// duplicate of an existing record, in which case history is returned
// unchanged. A nil similar means StructuralEquality.
func Reduce[R any](history []R, record R, similar Similarity[R]) []R {
	if similar == nil {
		similar = StructuralEquality[R]
	}
	for _, existing := range history {
		if similar(existing, record) {
			return history
		}
	}
	out := make([]R, len(history), len(history)+1)
	copy(out, history)
	return append(out, record)
}

// DedupReducer is the standard Reducer: append unless duplicate.
type DedupReducer[R any] struct {
	Similar Similarity[R]
}

// NewReducer returns a DedupReducer using similar.
func NewReducer[R any](similar Similarity[R]) DedupReducer[R] {
	return DedupReducer[R]{Similar: similar}
}

// Reduce implements Reducer.
func (d DedupReducer[R]) Reduce(history []R, record R) []R {
	return Reduce(history, record, d.Similar)
}

// Extractor derives an iteration's History record from the outputs produced
// during that iteration. ok is false when the iteration yields no record.
type Extractor[R any] func(outputs map[string]any) (record R, ok bool)

// FromNode returns an Extractor that takes the output of one node.
func FromNode[R any](node string) Extractor[R] {
	return func(outputs map[string]any) (R, bool) {
		r, ok := outputs[node].(R)
		return r, ok
	}
}

// HistoryPolicy configures how loop iterations accumulate into History.
type HistoryPolicy[R any] struct {
	// Reducer defaults to NewReducer[R](nil).
	Reducer Reducer[R]

	// Extract defaults to FromNode(loop tail).
	Extract Extractor[R]
}
