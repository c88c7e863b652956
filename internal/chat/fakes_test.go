package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/ammora/internal/domain"
	"github.com/ashureev/ammora/internal/llm"
	"github.com/ashureev/ammora/internal/store"
)

var errStoreDown = errors.New("store down")

// fakeRepo is an in-memory store.Repository with call counters.
type fakeRepo struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	prefs   map[string]*domain.Preferences
	turns   map[string][]domain.Turn
	threads map[string]domain.ThreadRecord
	touched map[string]int

	getUserErr   error
	appendErr    error
	recentCalls  int
	prefsCalls   int
	appendCalls  int
	setThreadLog []domain.ThreadRecord
}

var _ store.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   make(map[string]*domain.User),
		prefs:   make(map[string]*domain.Preferences),
		turns:   make(map[string][]domain.Turn),
		threads: make(map[string]domain.ThreadRecord),
		touched: make(map[string]int),
	}
}

func (f *fakeRepo) addUser(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &domain.User{UserID: id, Name: name}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.UserID] = &cp
	return nil
}

func (f *fakeRepo) GetPreferences(_ context.Context, userID string) (*domain.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefsCalls++
	p, ok := f.prefs[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) UpsertPreferences(_ context.Context, prefs *domain.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *prefs
	f.prefs[prefs.UserID] = &cp
	return nil
}

func (f *fakeRepo) RecentTurns(_ context.Context, userID string, limit int) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentCalls++
	turns := f.turns[userID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.Turn(nil), turns...), nil
}

func (f *fakeRepo) AppendTurn(_ context.Context, userID, _ string, turn domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.appendErr != nil {
		return f.appendErr
	}
	f.turns[userID] = append(f.turns[userID], turn)
	return nil
}

func (f *fakeRepo) SessionMessages(context.Context, string, int) ([]domain.StoredMessage, error) {
	return nil, nil
}

func (f *fakeRepo) GetThreadRecord(_ context.Context, userID string) (*domain.ThreadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.threads[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeRepo) SetThreadRecord(_ context.Context, record *domain.ThreadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[record.UserID] = *record
	f.setThreadLog = append(f.setThreadLog, *record)
	return nil
}

func (f *fakeRepo) TouchSession(_ context.Context, sessionID, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[sessionID]++
	return nil
}

func (f *fakeRepo) GetSession(context.Context, string) (*domain.ChatSession, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

func (f *fakeRepo) thread(userID string) (domain.ThreadRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.threads[userID]
	return rec, ok
}

func (f *fakeRepo) storedTurns(userID string) []domain.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Turn(nil), f.turns[userID]...)
}

// scriptedThreads replays canned results and records every request.
type scriptedThreads struct {
	mu       sync.Mutex
	results  []threadResult
	requests []llm.ThreadRequest
}

type threadResult struct {
	reply *llm.ThreadReply
	err   error
}

func (s *scriptedThreads) Respond(ctx context.Context, req llm.ThreadRequest) (*llm.ThreadReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.results) == 0 {
		return nil, errors.New("no scripted result")
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.reply, r.err
}

func (s *scriptedThreads) calls() []llm.ThreadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ThreadRequest(nil), s.requests...)
}

type fakeCompletions struct {
	mu   sync.Mutex
	text string
	err  error
	reqs []llm.CompletionRequest
}

func (f *fakeCompletions) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.text, f.err
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
