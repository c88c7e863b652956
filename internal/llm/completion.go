package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// CompletionConfig configures CompletionClient.
type CompletionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// MaxTokens caps the reply length; zero leaves it to the provider.
	MaxTokens   int
	Temperature float64
	HTTPTimeout time.Duration
}

// CompletionClient calls an OpenAI-compatible chat completions endpoint.
// It is safe for concurrent use.
type CompletionClient struct {
	cfg  CompletionConfig
	rest *restClient
}

// NewCompletionClient returns a stateless chat completions client.
func NewCompletionClient(cfg CompletionConfig, logger *slog.Logger) (*CompletionClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion client: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("completion client: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAssistantConfig().BaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	return &CompletionClient{
		cfg: cfg,
		rest: &restClient{
			baseURL: cfg.BaseURL,
			apiKey:  cfg.APIKey,
			http:    &http.Client{Timeout: cfg.HTTPTimeout},
			logger:  logger,
		},
	}, nil
}

type completionBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type completionResult struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends system prompt, history and the new message in one request.
func (c *CompletionClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: "user", Content: req.Message})

	var result completionResult
	err := c.rest.do(ctx, http.MethodPost, "/chat/completions", completionBody{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}, &result)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrProvider)
	}
	return result.Choices[0].Message.Content, nil
}
