// Package emit delivers observability events from the engine to logging,
// tracing and in-memory backends.
package emit

// Event represents an observability event emitted during a session.
//
// Events provide detailed insight into session behavior:
//   - Node execution start/end and dead-path skips
//   - Suspensions at interrupt nodes and resumptions
//   - Loop iterations and History growth
//   - Completion and failure
type Event struct {
	// SessionID identifies the session that emitted this event.
	SessionID string

	// Step is the superstep number (1-indexed).
	// Zero for session-level events emitted before the first superstep.
	Step int

	// Iteration is the current pass through the loop region (1-indexed).
	Iteration int

	// NodeID identifies which node emitted this event.
	// Empty string for session-level events.
	NodeID string

	// Msg names the event, one of the Msg* constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "checkpoint_id": Checkpoint identifier
	//   - "history_len": Length of History after a reduction
	//   - "tokens_in", "tokens_out", "cost_usd", "model": LLM usage
	Meta map[string]interface{}
}

// Event names.
const (
	MsgSessionStart     = "session_start"
	MsgNodeStart        = "node_start"
	MsgNodeEnd          = "node_end"
	MsgNodeSkipped      = "node_skipped"
	MsgSuspend          = "suspend"
	MsgResume           = "resume"
	MsgIteration        = "iteration"
	MsgHistoryAppend    = "history_append"
	MsgHistoryDuplicate = "history_duplicate"
	MsgComplete         = "complete"
	MsgError            = "error"
	MsgLLMCall          = "llm_call"
)

// Emitter receives and processes observability events.
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down execution
//   - Thread-safe: Engines serving several sessions call Emit concurrently
//   - Resilient: Handle failures internally and never panic
type Emitter interface {
	Emit(event Event)
}
