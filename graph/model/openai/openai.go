// Package openai adapts the OpenAI Chat Completions API, and servers that
// speak it such as Ollama, to model.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/loopgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gpt-4o"

// ChatModel implements model.ChatModel for OpenAI-compatible endpoints.
//
// Example usage:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//
//	// Local Ollama server
//	m := openai.NewChatModel("ollama", "llama3.1", openai.WithBaseURL("http://localhost:11434/v1"))
type ChatModel struct {
	modelName string
	client    openaiClient
}

// openaiClient is the slice of the SDK the adapter uses, so tests can
// substitute it.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error)
}

type config struct {
	baseURL string
}

// Option configures a ChatModel.
type Option func(*config)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// NewChatModel creates a ChatModel. An empty modelName means DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &ChatModel{
		modelName: modelName,
		client: &sdkClient{
			client: sdk.NewClient(reqOpts...),
			hasKey: apiKey != "" || cfg.baseURL != "",
		},
	}
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

	completion, err := m.client.createChatCompletion(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: response has no choices")
	}
	return convertResponse(completion)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) (sdk.ChatCompletionNewParams, error) {
	params := sdk.ChatCompletionNewParams{Model: shared.ChatModel(m.modelName)}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, sdk.SystemMessage(msg.Content))
		case model.RoleUser:
			params.Messages = append(params.Messages, sdk.UserMessage(msg.Content))
		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				params.Messages = append(params.Messages, sdk.AssistantMessage(msg.Content))
				continue
			}
			asst := sdk.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				asst.Content.OfString = sdk.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Input)
				if err != nil {
					return sdk.ChatCompletionNewParams{}, fmt.Errorf("openai: marshal tool input: %w", err)
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			params.Messages = append(params.Messages, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case model.RoleTool:
			params.Messages = append(params.Messages, sdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return sdk.ChatCompletionNewParams{}, fmt.Errorf("openai: unsupported message role %q", msg.Role)
		}
	}

	for _, tool := range tools {
		params.Tools = append(params.Tools, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		})
	}
	return params, nil
}

func convertResponse(completion *sdk.ChatCompletion) (model.ChatOut, error) {
	msg := completion.Choices[0].Message
	out := model.ChatOut{
		Text:  msg.Content,
		Model: completion.Model,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		var input map[string]interface{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("openai: tool call %s (%s): invalid arguments: %w", call.Function.Name, call.ID, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return out, nil
}

// APIError is a failed OpenAI API call.
type APIError struct {
	StatusCode int
	Message    string
	cause      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// Retryable is a model.RetryPolicy predicate for transient failures: rate
// limits, server errors and dropped connections.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "temporary"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func translateError(err error) error {
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		return &APIError{StatusCode: sdkErr.StatusCode, Message: sdkErr.Error(), cause: err}
	}
	return err
}

type sdkClient struct {
	client sdk.Client
	hasKey bool
}

func (c *sdkClient) createChatCompletion(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	if !c.hasKey {
		return nil, errors.New("openai: API key is required")
	}
	return c.client.Chat.Completions.New(ctx, params)
}
