// Package genai provides GenAI-enhanced operations using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// Defaults applied when no option overrides them.
const (
	DefaultModel               = openai.ChatModelGPT4oMini
	DefaultTemperature         = 0.7
	DefaultMaxCompletionTokens = 2048
)

// ErrNoChoicesReturned indicates the completion API returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the official client to the chatService seam.
type openaiChatService struct {
	client openai.Client
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ToolCallResponse carries the assistant text and any tool calls from one completion.
type ToolCallResponse struct {
	Content   string
	ToolCalls []models.ToolCall
}

// ClientInterface is the surface the drafting assistant depends on, kept
// narrow so tests can substitute a mock.
type ClientInterface interface {
	GeneratePrompt(systemPrompt, userPrompt string) (string, error)
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
}

// Option configures the client.
type Option func(*settings)

type settings struct {
	apiKey              string
	model               string
	temperature         float64
	maxCompletionTokens int64
}

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithModel selects the completion model.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// WithMaxCompletionTokens caps the completion length.
func WithMaxCompletionTokens(n int64) Option {
	return func(s *settings) { s.maxCompletionTokens = n }
}

// NewClient initializes a GenAI client. The API key comes from options or the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := settings{
		model:               DefaultModel,
		temperature:         DefaultTemperature,
		maxCompletionTokens: DefaultMaxCompletionTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.apiKey))
	slog.Debug("genai.NewClient: client initialized", "model", cfg.model)
	return &Client{
		chat:                openaiChatService{client: cli},
		model:               cfg.model,
		temperature:         cfg.temperature,
		maxCompletionTokens: cfg.maxCompletionTokens,
	}, nil
}

func (c *Client) newParams(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxCompletionTokens),
	}
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext is GeneratePrompt with caller-controlled cancellation.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.GenerateWithMessages(ctx, messages)
}

// GenerateWithMessages generates a response from a full conversation history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.chat.Create(ctx, c.newParams(messages))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools generates a response with tool definitions available to
// the model. The returned response carries either assistant text, tool calls,
// or both.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	params := c.newParams(messages)
	params.Tools = tools
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}
	msg := resp.Choices[0].Message
	result := &ToolCallResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("genai.GenerateWithTools: completion received",
		"toolCalls", len(result.ToolCalls), "hasContent", result.Content != "")
	return result, nil
}
