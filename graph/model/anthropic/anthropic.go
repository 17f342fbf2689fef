// Package anthropic adapts Anthropic's Claude API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/loopgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "claude-sonnet-4-0"

// DefaultMaxTokens bounds each reply.
const DefaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Anthropic's Claude API.
//
// System messages are lifted into the request's system parameter, tool
// calls round-trip as tool_use/tool_result blocks, and API errors are
// translated into *APIError.
//
// Example usage:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{model.User("What is the capital of France?")}, nil)
type ChatModel struct {
	modelName string
	maxTokens int64
	client    anthropicClient
}

// anthropicClient is the slice of the SDK the adapter uses, so tests can
// substitute it.
type anthropicClient interface {
	createMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int) Option {
	return func(m *ChatModel) { m.maxTokens = int64(n) }
}

// NewChatModel creates a ChatModel. An empty modelName means DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	return newChatModel(newSDKClient(apiKey, nil), modelName, opts...)
}

// NewChatModelWithRequestOptions is NewChatModel with SDK request options,
// such as option.WithBaseURL, applied to the underlying client.
func NewChatModelWithRequestOptions(apiKey, modelName string, reqOpts []option.RequestOption, opts ...Option) *ChatModel {
	return newChatModel(newSDKClient(apiKey, reqOpts), modelName, opts...)
}

func newChatModel(client anthropicClient, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{modelName: modelName, maxTokens: DefaultMaxTokens, client: client}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params, err := m.buildParams(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	msg, err := m.client.createMessage(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(msg)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) (sdk.MessageNewParams, error) {
	system, conversation := model.SplitSystem(messages)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.modelName),
		MaxTokens: m.maxTokens,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	for _, msg := range conversation {
		switch msg.Role {
		case model.RoleUser:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		case model.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, call.Input, call.Name))
			}
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		case model.RoleTool:
			params.Messages = append(params.Messages,
				sdk.NewUserMessage(sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			return sdk.MessageNewParams{}, fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}

	for _, tool := range tools {
		schema := sdk.ToolInputSchemaParam{Properties: tool.Schema["properties"]}
		if required, ok := tool.Schema["required"].([]string); ok {
			schema.Required = required
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        tool.Name,
			Description: sdk.String(tool.Description),
			InputSchema: schema,
		}})
	}
	return params, nil
}

func convertResponse(msg *sdk.Message) (model.ChatOut, error) {
	out := model.ChatOut{
		Model: string(msg.Model),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("anthropic: tool call %s (%s): invalid input: %w", block.Name, block.ID, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return out, nil
}

// APIError is a failed Anthropic API call.
type APIError struct {
	StatusCode int
	Message    string
	cause      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// Retryable is a model.RetryPolicy predicate: rate limits (429), server
// errors and overload (529) are transient.
func Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
}

func translateError(err error) error {
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		return &APIError{StatusCode: sdkErr.StatusCode, Message: sdkErr.Error(), cause: err}
	}
	return err
}

// sdkClient calls the official SDK.
type sdkClient struct {
	client sdk.Client
	hasKey bool
}

func newSDKClient(apiKey string, reqOpts []option.RequestOption) *sdkClient {
	opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, reqOpts...)
	return &sdkClient{client: sdk.NewClient(opts...), hasKey: apiKey != ""}
}

func (c *sdkClient) createMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	if !c.hasKey {
		return nil, errors.New("anthropic: API key is required")
	}
	return c.client.Messages.New(ctx, params)
}
