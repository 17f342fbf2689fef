// Package model provides the LLM abstraction used by loopgraph nodes.
//
// Nodes depend on the ChatModel interface, never on a provider SDK.
// Provider adapters live in subpackages (anthropic, openai, google), and
// cross-cutting behavior is layered on by wrapping: WithRetry adds
// exponential backoff, Track records token usage and cost.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ChatModel defines the interface for conversational LLM interactions.
//
// Implementations must be safe for concurrent use: one model is shared by
// every session of an engine.
//
// Example:
//
//	out, err := m.Chat(ctx, []model.Message{
//	    model.System("You are a senior systems architect."),
//	    model.User("Propose three hypotheses for the slowdown."),
//	}, nil)
type ChatModel interface {
	// Chat sends the conversation and returns the model's reply. When tools
	// are offered, the reply may contain ToolCalls instead of, or as well
	// as, text.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser, RoleAssistant or RoleTool.
	Role string

	Content string

	// ToolCalls are the calls an assistant turn requested.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string

	// ToolName is the name of the answered tool. Some providers key tool
	// results by name instead of ID.
	ToolName string
}

// Standard message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant turns a reply back into a conversation message, keeping its
// tool calls so the follow-up tool results can refer to them.
func Assistant(out ChatOut) Message {
	return Message{Role: RoleAssistant, Content: out.Text, ToolCalls: out.ToolCalls}
}

// ToolResult answers a tool call.
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name}
}

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object describing the tool input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is the model's reply.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall

	// Model is the model that produced the reply, as reported by the provider.
	Model string

	Usage Usage
}

// Usage reports the tokens consumed by one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider's call identifier. Providers without one use Name.
	ID    string
	Name  string
	Input map[string]interface{}
}

// ErrNoJSON is returned by DecodeJSON when the text contains no JSON value.
var ErrNoJSON = errors.New("no JSON value found in model output")

// DecodeJSON extracts a JSON value from model output into v. Models often
// wrap JSON in markdown fences or surround it with prose, so fences are
// stripped and, failing a direct parse, the outermost object or array is
// decoded.
func DecodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start == -1 || end <= start {
			continue
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
		return nil
	}
	return ErrNoJSON
}

// SplitSystem separates system messages from the conversation, joining
// several system messages with blank lines. Providers that take the system
// prompt as a separate parameter use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	var rest []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}
