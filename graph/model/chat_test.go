package model

import (
	"errors"
	"testing"
)

func TestMessageHelpers(t *testing.T) {
	call := ToolCall{ID: "call_1", Name: "calculate_metrics", Input: map[string]interface{}{"expression": "1+1"}}

	asst := Assistant(ChatOut{Text: "checking", ToolCalls: []ToolCall{call}})
	if asst.Role != RoleAssistant || asst.Content != "checking" || len(asst.ToolCalls) != 1 {
		t.Errorf("unexpected assistant message %+v", asst)
	}

	res := ToolResult(call, "2")
	if res.Role != RoleTool || res.ToolCallID != "call_1" || res.ToolName != "calculate_metrics" || res.Content != "2" {
		t.Errorf("unexpected tool result %+v", res)
	}

	if m := System("s"); m.Role != RoleSystem || m.Content != "s" {
		t.Errorf("unexpected system message %+v", m)
	}
	if m := User("u"); m.Role != RoleUser || m.Content != "u" {
		t.Errorf("unexpected user message %+v", m)
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{System("a"), User("q"), System("b"), {Role: RoleAssistant, Content: "r"}})
	if system != "a\n\nb" {
		t.Errorf("unexpected system %q", system)
	}
	if len(rest) != 2 || rest[0].Content != "q" || rest[1].Content != "r" {
		t.Errorf("unexpected rest %+v", rest)
	}

	system, rest = SplitSystem([]Message{User("only")})
	if system != "" || len(rest) != 1 {
		t.Errorf("unexpected split %q %+v", system, rest)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Hypotheses []string `json:"hypotheses"`
	}

	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{name: "plain", text: `{"hypotheses": ["a", "b"]}`, want: 2},
		{name: "fenced", text: "```json\n{\"hypotheses\": [\"a\"]}\n```", want: 1},
		{name: "bare fence", text: "```\n{\"hypotheses\": [\"a\", \"b\", \"c\"]}\n```", want: 3},
		{name: "surrounded by prose", text: "Sure! Here you go:\n{\"hypotheses\": [\"x\"]}\nHope it helps.", want: 1},
		{name: "no json", text: "I cannot help with that.", wantErr: true},
		{name: "broken json", text: `{"hypotheses": [}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := DecodeJSON(tt.text, &p)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(p.Hypotheses) != tt.want {
				t.Errorf("expected %d hypotheses, got %d", tt.want, len(p.Hypotheses))
			}
		})
	}

	var p payload
	if err := DecodeJSON("nothing here", &p); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
}
