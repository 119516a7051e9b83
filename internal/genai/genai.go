// Package genai provides text generation over an OpenAI-compatible chat completion API.
//
// By default it targets Gemini through Google's OpenAI-compatible endpoint; any other
// compatible endpoint can be selected with WithBaseURL and WithModel.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration constants
const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	// DefaultModel is the model used when none is configured.
	DefaultModel = "gemini-2.5-flash"
	// DefaultTemperature controls response variety.
	DefaultTemperature = 0.7
	// DefaultMaxTokens caps the generated reply; replies are meant to be 2-3 sentences.
	DefaultMaxTokens = 512
	// DefaultTimeout bounds a single completion request.
	DefaultTimeout = 60 * time.Second
)

var (
	// ErrMissingAPIKey is returned when no API key was configured.
	ErrMissingAPIKey = errors.New("genai API key not set")
	// ErrNoChoicesReturned is returned when the service answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyResponse is returned when the only choice carries no text.
	ErrEmptyResponse = errors.New("empty response content")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the openai-go completion service to chatService.
type completionsAdapter struct {
	svc  openai.ChatCompletionService
	opts []option.RequestOption
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params, a.opts...)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	if resp == nil {
		return openai.ChatCompletion{}, ErrNoChoicesReturned
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) {
		o.Temperature = temp
	}
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(n int) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithTimeout bounds each completion request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// Client wraps the chat completion service for generating replies.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewClient creates a client. Without WithAPIKey it falls back to GEMINI_API_KEY and
// then OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("GenAI client options set", "base_url", cfg.BaseURL, "model", cfg.Model, "temperature", cfg.Temperature, "max_tokens", cfg.MaxTokens, "timeout", cfg.Timeout)

	cli := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(1),
	)
	return &Client{
		chat:        completionsAdapter{svc: cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate asks the model to continue a conversation. The preamble is sent as the
// system instruction, followed by the stored history and the new user text.
func (c *Client) Generate(ctx context.Context, preamble string, history []models.Turn, userText string) (string, error) {
	messages := BuildMessages(preamble, history, userText)
	return c.GenerateWithMessages(ctx, messages)
}

// GenerateWithMessages sends a prepared message list and returns the first choice.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI completion failed", "error", err, "model", c.model, "elapsed", time.Since(start))
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	slog.Debug("GenAI completion succeeded", "model", c.model, "messages", len(messages), "content_length", len(content), "elapsed", time.Since(start))
	return content, nil
}

// BuildMessages converts a preamble, stored turns and the new user text into the
// chat completion message list.
func BuildMessages(preamble string, history []models.Turn, userText string) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if strings.TrimSpace(preamble) != "" {
		messages = append(messages, openai.SystemMessage(preamble))
	}
	for _, turn := range history {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userText))
	return messages
}
