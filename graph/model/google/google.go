// Package google provides a ChatModel adapter for the Google Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/loopgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gemini-2.0-flash"

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// System messages become the model's system instruction, earlier turns are
// sent as chat history, and responses blocked by safety filters surface as
// *SafetyFilterError.
//
// Example usage:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{model.User("What is the capital of France?")}, nil)
//	if err != nil {
//	    var safetyErr *google.SafetyFilterError
//	    if errors.As(err, &safetyErr) {
//	        log.Printf("Content blocked: %s", safetyErr.Category())
//	        return
//	    }
//	    log.Fatal(err)
//	}
type ChatModel struct {
	modelName string
	client    googleClient
}

// request is one Gemini call: the final turn's parts plus everything
// before it.
type request struct {
	model   string
	system  string
	history []*genai.Content
	parts   []genai.Part
	tools   []*genai.Tool
}

// googleClient defines the Gemini operations the adapter needs, so tests can
// substitute it.
type googleClient interface {
	generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// NewChatModel creates a ChatModel. An empty modelName means DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req, err := buildRequest(m.modelName, messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := m.client.generateContent(ctx, req)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}
	if err := checkSafety(resp); err != nil {
		return model.ChatOut{}, err
	}

	out := convertResponse(resp)
	out.Model = m.modelName
	return out, nil
}

func buildRequest(modelName string, messages []model.Message, tools []model.ToolSpec) (request, error) {
	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return request{}, errors.New("google: conversation has no user turn")
	}

	req := request{model: modelName, system: system}
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}

	contents := make([]*genai.Content, 0, len(conversation))
	for _, msg := range conversation {
		c, err := convertMessage(msg)
		if err != nil {
			return request{}, err
		}
		contents = append(contents, c)
	}

	last := contents[len(contents)-1]
	if last.Role != "user" {
		return request{}, fmt.Errorf("google: last turn must come from the user, got %q", last.Role)
	}
	req.history = contents[:len(contents)-1]
	req.parts = last.Parts
	return req, nil
}

func convertMessage(msg model.Message) (*genai.Content, error) {
	switch msg.Role {
	case model.RoleUser:
		return &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}}, nil
	case model.RoleAssistant:
		c := &genai.Content{Role: "model"}
		if msg.Content != "" {
			c.Parts = append(c.Parts, genai.Text(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			c.Parts = append(c.Parts, genai.FunctionCall{Name: call.Name, Args: call.Input})
		}
		return c, nil
	case model.RoleTool:
		name := msg.ToolName
		if name == "" {
			name = msg.ToolCallID
		}
		return &genai.Content{Role: "user", Parts: []genai.Part{genai.FunctionResponse{
			Name:     name,
			Response: map[string]any{"result": msg.Content},
		}}}, nil
	default:
		return nil, fmt.Errorf("google: unsupported message role %q", msg.Role)
	}
}

// convertTools converts tool specs to Gemini function declarations.
func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema converts a JSON Schema map to a genai.Schema, recursing
// into object properties and array items.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if typeStr, ok := schema["type"].(string); ok {
		result.Type = convertTypeString(typeStr)
	}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// convertResponse converts the first candidate of a response.
func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    p.Name,
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	return out
}

// checkSafety reports a prompt or candidate blocked by safety filters.
func checkSafety(resp *genai.GenerateContentResponse) error {
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return &SafetyFilterError{reason: fb.BlockReason.String(), category: blockedCategory(fb.SafetyRatings)}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		c := resp.Candidates[0]
		return &SafetyFilterError{reason: c.FinishReason.String(), category: blockedCategory(c.SafetyRatings)}
	}
	return nil
}

func blockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return r.Category.String()
		}
	}
	return "unknown"
}

// SafetyFilterError represents a Google safety filter block.
//
// Use errors.As to check for this error type:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}

// defaultClient wraps the official Google Gemini SDK client.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(req.model)
	if req.system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	gm.Tools = req.tools

	session := gm.StartChat()
	session.History = req.history
	return session.SendMessage(ctx, req.parts...)
}
