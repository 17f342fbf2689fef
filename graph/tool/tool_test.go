package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/loopgraph/graph/model"
)

type bareTool struct{}

func (bareTool) Name() string { return "bare" }

func (bareTool) Call(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"count": 3, "unit": "nodes"}, nil
}

func TestSpec(t *testing.T) {
	t.Run("tools without a description get an open schema", func(t *testing.T) {
		spec := Spec(bareTool{})
		if spec.Name != "bare" || spec.Description != "" {
			t.Errorf("unexpected spec %+v", spec)
		}
		if spec.Schema["type"] != "object" {
			t.Errorf("expected object schema, got %v", spec.Schema)
		}
	})

	t.Run("describers supply description and schema", func(t *testing.T) {
		spec := Spec(NewCalculator())
		if spec.Name != CalculatorName || !strings.Contains(spec.Description, "arithmetic") {
			t.Errorf("unexpected spec %+v", spec)
		}
		if _, ok := spec.Schema["properties"].(map[string]interface{})["script"]; !ok {
			t.Errorf("schema should declare script: %v", spec.Schema)
		}
	})
}

func TestToolbox(t *testing.T) {
	mock := &MockTool{ToolName: "lookup", Responses: []map[string]interface{}{{"output": "found"}}}
	box := NewToolbox(mock, bareTool{}, nil)

	if box.Len() != 2 {
		t.Fatalf("expected 2 tools, got %d", box.Len())
	}

	specs := box.Specs()
	if len(specs) != 2 || specs[0].Name != "bare" || specs[1].Name != "lookup" {
		t.Errorf("specs should be sorted by name: %+v", specs)
	}

	tests := []struct {
		name string
		call model.ToolCall
		want string
	}{
		{"output string is passed through", model.ToolCall{Name: "lookup"}, "found"},
		{"structured output is JSON", model.ToolCall{Name: "bare"}, `{"count":3,"unit":"nodes"}`},
		{"unknown tool", model.ToolCall{Name: "missing"}, `Error: unknown tool "missing"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := box.Invoke(context.Background(), tt.call); got != tt.want {
				t.Errorf("Invoke() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("tool errors become text", func(t *testing.T) {
		failing := NewToolbox(&MockTool{ToolName: "x", Err: errors.New("rate limited")})
		if got := failing.Invoke(context.Background(), model.ToolCall{Name: "x"}); got != "Error: rate limited" {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("nil toolbox", func(t *testing.T) {
		var nilBox *Toolbox
		if nilBox.Len() != 0 || nilBox.Specs() != nil {
			t.Error("nil toolbox should be empty")
		}
		if got := nilBox.Invoke(context.Background(), model.ToolCall{Name: "x"}); !strings.HasPrefix(got, "Error:") {
			t.Errorf("unexpected result %q", got)
		}
	})
}
