package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// It returns Responses in order and repeats the last one once they run
// out. Every call is recorded in Calls.
//
// Example:
//
//	m := &model.MockChatModel{Responses: []model.ChatOut{
//	    {Text: `{"hypotheses": ["a", "b"], "questions": ["q1", "q2"]}`},
//	}}
type MockChatModel struct {
	Responses []ChatOut

	// Err, when set, is returned by every call.
	Err error

	// Respond, when set, computes replies instead of Responses.
	Respond func(messages []Message, tools []ToolSpec) (ChatOut, error)

	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records the arguments of one Chat call.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{
		Messages: append([]Message(nil), messages...),
		Tools:    tools,
	})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if m.Respond != nil {
		return m.Respond(messages, tools)
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears recorded calls and restarts the response script.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls made.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// LastCall returns the most recent call.
func (m *MockChatModel) LastCall() (MockChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Calls) == 0 {
		return MockChatCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
