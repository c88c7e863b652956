package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const contextPreamble = "SYSTEM_CONTEXT: The following are the user's confirmed preferences. " +
	"Please allow them to guide your personality dynamics:\n\n"

// Run statuses reported by the provider.
const (
	runCompleted      = "completed"
	runFailed         = "failed"
	runCancelled      = "cancelled"
	runExpired        = "expired"
	runIncomplete     = "incomplete"
	runRequiresAction = "requires_action"
)

// AssistantConfig configures AssistantClient.
type AssistantConfig struct {
	APIKey      string
	BaseURL     string
	AssistantID string
	// TruncationMessages bounds how many thread messages a run may see.
	TruncationMessages int
	PollInterval       time.Duration
	RunTimeout         time.Duration
	HTTPTimeout        time.Duration
}

// DefaultAssistantConfig returns default configuration.
func DefaultAssistantConfig() AssistantConfig {
	return AssistantConfig{
		BaseURL:            "https://api.openai.com/v1",
		TruncationMessages: 50,
		PollInterval:       time.Second,
		RunTimeout:         60 * time.Second,
		HTTPTimeout:        30 * time.Second,
	}
}

// AssistantClient drives OpenAI Assistants threads: it appends messages to a
// thread, starts a run and polls it until the run reaches a terminal status.
type AssistantClient struct {
	cfg    AssistantConfig
	rest   *restClient
	logger *slog.Logger
}

// NewAssistantClient creates a client for the given assistant.
func NewAssistantClient(cfg AssistantConfig, logger *slog.Logger) (*AssistantClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("assistant client: API key is required")
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("assistant client: assistant ID is required")
	}

	def := DefaultAssistantConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.TruncationMessages <= 0 {
		cfg.TruncationMessages = def.TruncationMessages
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}

	return &AssistantClient{
		cfg: cfg,
		rest: &restClient{
			baseURL: cfg.BaseURL,
			apiKey:  cfg.APIKey,
			headers: map[string]string{"OpenAI-Beta": "assistants=v2"},
			http:    &http.Client{Timeout: cfg.HTTPTimeout},
			logger:  logger,
		},
		logger: logger,
	}, nil
}

type threadObject struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type truncationStrategy struct {
	Type         string `json:"type"`
	LastMessages int    `json:"last_messages"`
}

type runRequest struct {
	AssistantID        string             `json:"assistant_id"`
	TruncationStrategy truncationStrategy `json:"truncation_strategy"`
}

type runObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// Respond appends the message (and any system context) to the thread, runs
// the assistant and returns its reply. An empty ThreadID starts a new thread.
func (c *AssistantClient) Respond(ctx context.Context, req ThreadRequest) (*ThreadReply, error) {
	threadID := req.ThreadID
	if threadID == "" {
		created, err := c.createThread(ctx)
		if err != nil {
			return nil, err
		}
		threadID = created
		c.logger.Info("Created remote thread", "thread_id", threadID)
	}

	if req.SystemContext != "" {
		if err := c.addMessage(ctx, threadID, contextPreamble+req.SystemContext); err != nil {
			return nil, err
		}
	}
	if err := c.addMessage(ctx, threadID, req.Message); err != nil {
		return nil, err
	}

	run, err := c.createRun(ctx, threadID)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Started run", "thread_id", threadID, "run_id", run.ID)

	if err := c.waitForRun(ctx, threadID, run.ID); err != nil {
		return nil, err
	}

	text, err := c.latestReply(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &ThreadReply{Text: text, ThreadID: threadID}, nil
}

func (c *AssistantClient) createThread(ctx context.Context) (string, error) {
	var thread threadObject
	if err := c.rest.do(ctx, http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if thread.ID == "" {
		return "", fmt.Errorf("%w: create thread returned no id", ErrProvider)
	}
	return thread.ID, nil
}

func (c *AssistantClient) addMessage(ctx context.Context, threadID, content string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	err := c.rest.do(ctx, http.MethodPost, path, messageRequest{Role: "user", Content: content}, nil)
	return c.threadError("add message", threadID, err)
}

func (c *AssistantClient) createRun(ctx context.Context, threadID string) (*runObject, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	body := runRequest{
		AssistantID: c.cfg.AssistantID,
		TruncationStrategy: truncationStrategy{
			Type:         "last_messages",
			LastMessages: c.cfg.TruncationMessages,
		},
	}
	var run runObject
	if err := c.rest.do(ctx, http.MethodPost, path, body, &run); err != nil {
		return nil, c.threadError("create run", threadID, err)
	}
	return &run, nil
}

func (c *AssistantClient) waitForRun(ctx context.Context, threadID, runID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)

	return pollUntil(ctx, c.cfg.PollInterval, c.cfg.RunTimeout, func(ctx context.Context) (bool, error) {
		var run runObject
		if err := c.rest.do(ctx, http.MethodGet, path, nil, &run); err != nil {
			return false, c.threadError("retrieve run", threadID, err)
		}

		switch run.Status {
		case runCompleted:
			return true, nil
		// No tools are registered, so a run asking for tool output cannot make progress.
		case runFailed, runCancelled, runExpired, runIncomplete, runRequiresAction:
			if run.LastError != nil && run.LastError.Message != "" {
				return false, fmt.Errorf("%w: status %s: %s", ErrRunFailed, run.Status, run.LastError.Message)
			}
			return false, fmt.Errorf("%w: status %s", ErrRunFailed, run.Status)
		default:
			return false, nil
		}
	})
}

func (c *AssistantClient) latestReply(ctx context.Context, threadID string) (string, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/messages?order=desc&limit=1"
	var list messageList
	if err := c.rest.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return "", c.threadError("list messages", threadID, err)
	}
	if len(list.Data) == 0 || list.Data[0].Role != "assistant" {
		return "", fmt.Errorf("%w: no assistant reply on thread %s", ErrProvider, threadID)
	}

	var text strings.Builder
	for _, part := range list.Data[0].Content {
		if part.Text != nil {
			text.WriteString(part.Text.Value)
		}
	}
	return text.String(), nil
}

func (c *AssistantClient) threadError(op, threadID string, err error) error {
	if err == nil {
		return nil
	}
	if isInvalidThread(err) {
		return fmt.Errorf("%s on thread %s: %w: %w", op, threadID, ErrInvalidThread, err)
	}
	return fmt.Errorf("%s on thread %s: %w", op, threadID, err)
}
