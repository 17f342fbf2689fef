package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/loopgraph/graph/emit"
)

// ModelPricing defines input and output token costs in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the models the adapters default to plus the
// common alternatives. Prices change; override with SetCustomPricing.
var defaultModelPricing = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":       {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":  {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-sonnet-4-0":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-7-sonnet-latest":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-latest":    {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// LLMCall is one recorded model invocation.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// CostTracker accumulates token usage and cost across model calls.
//
// Models missing from the pricing table are recorded with zero cost.
// All methods are safe for concurrent use.
//
// Usage:
//
//	tracker := model.NewCostTracker("interview", "USD")
//	m := model.Track(anthropic.NewChatModel(key, ""), tracker, "VerifyHypotheses", nil)
//	...
//	fmt.Printf("total: $%.4f\n", tracker.TotalCost())
type CostTracker struct {
	scope    string
	currency string
	pricing  map[string]ModelPricing

	calls        []LLMCall
	totalCost    float64
	modelCosts   map[string]float64
	inputTokens  int64
	outputTokens int64

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker creates a tracker with the default pricing table. scope
// labels what the tracker covers, such as a session or an evaluation run.
func NewCostTracker(scope, currency string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		scope:      scope,
		currency:   currency,
		pricing:    pricing,
		modelCosts: make(map[string]float64),
		enabled:    true,
	}
}

// RecordLLMCall records one call and returns its cost.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !ct.enabled {
		return 0
	}

	pricing := ct.pricing[model]
	cost := (float64(inputTokens)/1_000_000.0)*pricing.InputPer1M +
		(float64(outputTokens)/1_000_000.0)*pricing.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})
	ct.totalCost += cost
	ct.modelCosts[model] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)
	return cost
}

// TotalCost returns the cumulative cost.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// CostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.modelCosts))
	for model, cost := range ct.modelCosts {
		costs[model] = cost
	}
	return costs
}

// Calls returns a copy of the recorded calls in order.
func (ct *CostTracker) Calls() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]LLMCall(nil), ct.calls...)
}

// TokenUsage returns total input and output token counts.
func (ct *CostTracker) TokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// SetCustomPricing overrides the price of one model.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops recording until Enable is called.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable resumes recording after Disable.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears recorded data but keeps the pricing table.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.calls = nil
	ct.totalCost = 0
	ct.modelCosts = make(map[string]float64)
	ct.inputTokens = 0
	ct.outputTokens = 0
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf("CostTracker{Scope: %s, Calls: %d, TotalCost: $%.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.scope, len(ct.calls), ct.totalCost, ct.currency, ct.inputTokens, ct.outputTokens)
}

// Track wraps m so every successful call is recorded in tracker under
// nodeID. When emitter is non-nil each call is also published as an
// emit.MsgLLMCall event carrying tokens_in, tokens_out, cost_usd and model.
func Track(m ChatModel, tracker *CostTracker, nodeID string, emitter emit.Emitter) ChatModel {
	return &trackedModel{next: m, tracker: tracker, node: nodeID, emitter: emitter}
}

type trackedModel struct {
	next    ChatModel
	tracker *CostTracker
	node    string
	emitter emit.Emitter
}

func (t *trackedModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	out, err := t.next.Chat(ctx, messages, tools)
	if err != nil {
		return out, err
	}
	cost := t.tracker.RecordLLMCall(out.Model, out.Usage.InputTokens, out.Usage.OutputTokens, t.node)
	if t.emitter != nil {
		t.emitter.Emit(emit.Event{
			SessionID: t.tracker.scope,
			NodeID:    t.node,
			Msg:       emit.MsgLLMCall,
			Meta: map[string]interface{}{
				"model":      out.Model,
				"tokens_in":  out.Usage.InputTokens,
				"tokens_out": out.Usage.OutputTokens,
				"cost_usd":   cost,
			},
		})
	}
	return out, nil
}
