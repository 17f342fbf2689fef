package tool

import (
	"context"
	"sync"
)

// MockTool is a test implementation of Tool.
//
// Responses are returned in order and the last one repeats once the
// sequence is exhausted. Err, if set, is returned instead. Every call is
// recorded, failed ones included.
//
//	mock := &MockTool{
//	    ToolName:  "calculate_metrics",
//	    Responses: []map[string]interface{}{{"output": "42"}},
//	}
type MockTool struct {
	ToolName string

	// ToolDescription, when set, is offered to the model through Spec.
	ToolDescription string

	Responses []map[string]interface{}
	Err       error

	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single invocation of Call().
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements the Tool interface.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Description implements Describer.
func (m *MockTool) Description() string {
	return m.ToolDescription
}

// Schema implements Describer with an unconstrained object.
func (m *MockTool) Schema() map[string]interface{} {
	return nil
}

// Call implements the Tool interface.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and resets the response index.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Call() has been called.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
