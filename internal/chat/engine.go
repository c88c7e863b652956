package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/ammora/internal/domain"
	"github.com/ashureev/ammora/internal/llm"
	"github.com/ashureev/ammora/internal/prompt"
	"github.com/ashureev/ammora/internal/store"
)

// Deps are the collaborators of an Engine. Threads and Completions are
// each optional, but a turn of the matching kind fails without them.
type Deps struct {
	Repo        store.Repository
	Cache       HistoryCache
	Builder     *prompt.Builder
	Threads     llm.ThreadResponder
	Completions llm.CompletionResponder
	Logger      *slog.Logger
}

// Engine orchestrates chat turns: it decides whether user context must be
// injected, calls the model, and hands persistence to background workers.
type Engine struct {
	repo        store.Repository
	cache       HistoryCache
	builder     *prompt.Builder
	threads     llm.ThreadResponder
	completions llm.CompletionResponder
	tracker     *ThreadTracker
	persister   *Persister
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates an engine and starts its persistence workers.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.Repo == nil {
		return nil, errors.New("chat engine: repository is required")
	}
	if deps.Threads == nil && deps.Completions == nil {
		return nil, errors.New("chat engine: a thread or completion responder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryHistoryCache(DefaultHistorySize)
	}
	builder := deps.Builder
	if builder == nil {
		builder = prompt.NewBuilder(prompt.DefaultPersona())
	}

	e := &Engine{
		repo:        deps.Repo,
		cache:       cache,
		builder:     builder,
		threads:     deps.Threads,
		completions: deps.Completions,
		tracker:     NewThreadTracker(deps.Repo, logger),
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
	e.persister = NewPersister(cfg.PersistWorkers, cfg.PersistQueueSize, cfg.PersistJobTimeout, e.persist, logger)
	return e, nil
}

// HandleChatTurn answers one message on the user's remote thread. The reply
// is returned as soon as the model answers; persistence happens afterwards.
func (e *Engine) HandleChatTurn(ctx context.Context, req ChatTurnRequest) (*ChatTurnResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if e.threads == nil {
		return nil, fmt.Errorf("%w: thread responder not configured", ErrUpstreamUnavailable)
	}
	received := e.now()

	user, err := e.lookupUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	state, err := e.tracker.State(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	inject := ShouldInject(state, e.cfg.RefreshEvery)
	var systemContext string
	if inject {
		systemContext, err = e.systemPrompt(ctx, user)
		if err != nil {
			return nil, err
		}
	}

	// The model call outlives a disconnected caller so that the exchange
	// still gets persisted.
	llmCtx := context.WithoutCancel(ctx)

	reply, err := e.threads.Respond(llmCtx, llm.ThreadRequest{
		Message:       req.Message,
		ThreadID:      state.ThreadID,
		SystemContext: systemContext,
	})
	if errors.Is(err, llm.ErrInvalidThread) {
		e.logger.Warn("Remote thread invalid, starting a new one",
			"user_id", req.UserID,
			"thread_id", state.ThreadID,
			"error", err,
		)
		if !inject {
			inject = true
			systemContext, err = e.systemPrompt(ctx, user)
			if err != nil {
				return nil, err
			}
		}
		reply, err = e.threads.Respond(llmCtx, llm.ThreadRequest{
			Message:       req.Message,
			SystemContext: systemContext,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	e.persister.Submit(PersistJob{
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		TrackThread:      true,
		PreviousThreadID: state.ThreadID,
		ThreadID:         reply.ThreadID,
		UserTurn:         newTurn(domain.RoleUser, req.Message, received),
		AssistantTurn:    newTurn(domain.RoleAssistant, reply.Text, e.now()),
	})

	return &ChatTurnResult{
		AssistantText:   reply.Text,
		ThreadID:        reply.ThreadID,
		ContextInjected: inject,
	}, nil
}

// HandleStatelessTurn answers one message by sending the full prompt and
// recent history to the model. No remote thread is involved.
func (e *Engine) HandleStatelessTurn(ctx context.Context, req ChatTurnRequest) (*ChatTurnResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if e.completions == nil {
		return nil, fmt.Errorf("%w: completion responder not configured", ErrUpstreamUnavailable)
	}
	received := e.now()

	user, err := e.lookupUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	system, err := e.systemPrompt(ctx, user)
	if err != nil {
		return nil, err
	}
	history, err := e.RecentHistory(ctx, req.UserID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	text, err := e.completions.Complete(context.WithoutCancel(ctx), llm.CompletionRequest{
		SystemPrompt: system,
		History:      prompt.FormatHistory(history),
		Message:      req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	e.persister.Submit(PersistJob{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		UserTurn:      newTurn(domain.RoleUser, req.Message, received),
		AssistantTurn: newTurn(domain.RoleAssistant, text, e.now()),
	})

	return &ChatTurnResult{AssistantText: text, ContextInjected: true}, nil
}

// RecentHistory returns up to limit recent turns for a user, oldest first.
// A cache miss loads the cache's full bound from the store so that a small
// limit never shrinks the cached window. Limits beyond the bound read the
// store directly. Empty results are not cached.
func (e *Engine) RecentHistory(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = e.cfg.HistoryLimit
	}

	bound := e.cache.Size()
	if limit > bound {
		turns, err := e.repo.RecentTurns(ctx, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: load history: %w", ErrUpstreamUnavailable, err)
		}
		return turns, nil
	}

	if turns, ok := e.cache.Get(userID); ok {
		return lastTurns(turns, limit), nil
	}

	turns, err := e.repo.RecentTurns(ctx, userID, bound)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %w", ErrUpstreamUnavailable, err)
	}
	if len(turns) > 0 {
		e.cache.Set(userID, turns)
	}
	return lastTurns(turns, limit), nil
}

// PendingPersistence returns the number of queued persistence jobs.
func (e *Engine) PendingPersistence() int {
	return e.persister.Pending()
}

// Close stops accepting persistence jobs and waits for queued ones to finish.
func (e *Engine) Close() error {
	return e.persister.Close(e.cfg.DrainTimeout)
}

func (e *Engine) lookupUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %w", ErrUpstreamUnavailable, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return user, nil
}

func (e *Engine) systemPrompt(ctx context.Context, user *domain.User) (string, error) {
	prefs, err := e.repo.GetPreferences(ctx, user.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: get preferences: %w", ErrUpstreamUnavailable, err)
	}
	return e.builder.SystemPrompt(user, prefs), nil
}

// persist runs on a persistence worker.
func (e *Engine) persist(ctx context.Context, job PersistJob) error {
	var errs []error

	if job.TrackThread {
		var err error
		if job.ThreadID != job.PreviousThreadID {
			err = e.tracker.RecordNewThread(ctx, job.UserID, job.ThreadID)
		} else {
			err = e.tracker.IncrementTurnCount(ctx, job.UserID, job.ThreadID)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, turn := range []domain.Turn{job.UserTurn, job.AssistantTurn} {
		if err := e.repo.AppendTurn(ctx, job.UserID, job.SessionID, turn); err != nil {
			errs = append(errs, fmt.Errorf("append %s turn: %w", turn.Role, err))
			break
		}
		e.cache.Append(job.UserID, turn)
	}

	if job.SessionID != "" {
		if err := e.repo.TouchSession(ctx, job.SessionID, job.UserID, job.AssistantTurn.Timestamp); err != nil {
			e.logger.Warn("Failed to update chat session",
				"session_id", job.SessionID,
				"user_id", job.UserID,
				"error", err,
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, errors.Join(errs...))
	}
	return nil
}

func validate(req ChatTurnRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	return nil
}

func lastTurns(turns []domain.Turn, n int) []domain.Turn {
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

func newTurn(role domain.Role, text string, at time.Time) domain.Turn {
	return domain.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: at,
	}
}
