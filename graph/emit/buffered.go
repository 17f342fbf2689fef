package emit

import "sync"

// BufferedEmitter stores events in memory, grouped by session.
//
// Use it to:
//   - Inspect the event sequence of a session in tests
//   - Serve a session's event history over an API
//   - Debug a suspended session
//
// Thread-safe for concurrent Emit and read calls.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // sessionID -> events
}

// HistoryFilter narrows GetHistoryWithFilter. Zero fields match everything.
type HistoryFilter struct {
	NodeID  string // Filter by node ID (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.SessionID] = append(b.events[event.SessionID], event)
}

// GetHistory returns a copy of the events of a session in emission order.
func (b *BufferedEmitter) GetHistory(sessionID string) []Event {
	return b.GetHistoryWithFilter(sessionID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of a session that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(sessionID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[sessionID]))
	for _, event := range b.events[sessionID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Messages returns the Msg of every event of a session, in order.
func (b *BufferedEmitter) Messages(sessionID string) []string {
	events := b.GetHistory(sessionID)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Msg
	}
	return out
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear removes the events of a session, or of every session when
// sessionID is empty.
func (b *BufferedEmitter) Clear(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sessionID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, sessionID)
	}
}
