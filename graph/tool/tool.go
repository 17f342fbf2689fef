// Package tool provides the tools an LLM node may call while it reasons,
// and the loop that alternates model turns with tool invocations.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dshills/loopgraph/graph/model"
)

// Tool defines the interface for executable tools that LLMs can invoke.
//
// Implementations should validate their input, respect context
// cancellation, and return structured output. A returned error is reported
// back to the model as text; it does not fail the calling node.
//
// Example implementation:
//
//	type ClockTool struct{}
//
//	func (ClockTool) Name() string { return "now" }
//
//	func (ClockTool) Call(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
//	    return map[string]interface{}{"time": time.Now().Format(time.RFC3339)}, nil
//	}
type Tool interface {
	// Name returns the unique identifier the model uses to call the tool.
	Name() string

	// Call executes the tool with the model-supplied input.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Describer is implemented by tools that document themselves to the model.
// Tools without it are offered with an empty description and an
// unconstrained object schema.
type Describer interface {
	Description() string
	Schema() map[string]interface{}
}

// Spec returns the model-facing description of t.
func Spec(t Tool) model.ToolSpec {
	spec := model.ToolSpec{
		Name:   t.Name(),
		Schema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	}
	if d, ok := t.(Describer); ok {
		spec.Description = d.Description()
		if s := d.Schema(); s != nil {
			spec.Schema = s
		}
	}
	return spec
}

// Toolbox is a named set of tools offered to a model together.
type Toolbox struct {
	tools map[string]Tool
}

// NewToolbox collects tools by name. A later tool replaces an earlier one
// with the same name.
func NewToolbox(tools ...Tool) *Toolbox {
	b := &Toolbox{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t != nil {
			b.tools[t.Name()] = t
		}
	}
	return b
}

// Len reports how many tools the box holds.
func (b *Toolbox) Len() int {
	if b == nil {
		return 0
	}
	return len(b.tools)
}

// Specs returns the tool descriptions sorted by name.
func (b *Toolbox) Specs() []model.ToolSpec {
	if b.Len() == 0 {
		return nil
	}
	names := make([]string, 0, len(b.tools))
	for name := range b.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]model.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, Spec(b.tools[name]))
	}
	return specs
}

// Invoke runs the tool a model asked for and renders the outcome as the
// text of the tool-result message. Unknown tools and tool errors become
// error text so the model can correct itself.
func (b *Toolbox) Invoke(ctx context.Context, call model.ToolCall) string {
	var t Tool
	if b != nil {
		t = b.tools[call.Name]
	}
	if t == nil {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	out, err := t.Call(ctx, call.Input)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return render(out)
}

// render prefers a lone "output" string, the way the calculator reports,
// and falls back to JSON for anything structured.
func render(out map[string]interface{}) string {
	if len(out) == 1 {
		if s, ok := out["output"].(string); ok {
			return s
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("Error: unrenderable tool output: %v", err)
	}
	return string(data)
}
