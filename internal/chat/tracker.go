package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/ammora/internal/domain"
)

// ThreadStore is the durable side of the thread tracker.
type ThreadStore interface {
	GetThreadRecord(ctx context.Context, userID string) (*domain.ThreadRecord, error)
	SetThreadRecord(ctx context.Context, record *domain.ThreadRecord) error
}

// ThreadTracker keeps each user's remote thread ID and turn count.
// Mutations for one user are serialized; different users proceed independently.
type ThreadTracker struct {
	store  ThreadStore
	locks  keyedMutex
	now    func() time.Time
	logger *slog.Logger
}

// NewThreadTracker creates a tracker backed by store.
func NewThreadTracker(store ThreadStore, logger *slog.Logger) *ThreadTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadTracker{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// State returns the user's thread record, or a zero record if none exists.
func (t *ThreadTracker) State(ctx context.Context, userID string) (domain.ThreadRecord, error) {
	record, err := t.store.GetThreadRecord(ctx, userID)
	if err != nil {
		return domain.ThreadRecord{}, fmt.Errorf("get thread record: %w", err)
	}
	if record == nil {
		return domain.ThreadRecord{UserID: userID}, nil
	}
	return *record, nil
}

// RecordNewThread points the user at threadID and resets the turn count.
func (t *ThreadTracker) RecordNewThread(ctx context.Context, userID, threadID string) error {
	unlock := t.locks.Lock(userID)
	defer unlock()

	err := t.store.SetThreadRecord(ctx, &domain.ThreadRecord{
		UserID:    userID,
		ThreadID:  threadID,
		TurnCount: 0,
		UpdatedAt: t.now(),
	})
	if err != nil {
		return fmt.Errorf("record new thread: %w", err)
	}
	return nil
}

// IncrementTurnCount adds one completed turn to the user's thread. The count
// only belongs to threadID, so the increment is skipped when the stored
// thread has since been replaced.
func (t *ThreadTracker) IncrementTurnCount(ctx context.Context, userID, threadID string) error {
	unlock := t.locks.Lock(userID)
	defer unlock()

	record, err := t.store.GetThreadRecord(ctx, userID)
	if err != nil {
		return fmt.Errorf("get thread record: %w", err)
	}
	if record == nil {
		return fmt.Errorf("increment turn count: no thread record for user %s", userID)
	}
	if record.ThreadID != threadID {
		t.logger.Info("Skipping turn count increment for replaced thread",
			"user_id", userID,
			"thread_id", threadID,
			"current_thread_id", record.ThreadID,
		)
		return nil
	}

	record.TurnCount++
	record.UpdatedAt = t.now()
	if err := t.store.SetThreadRecord(ctx, record); err != nil {
		return fmt.Errorf("increment turn count: %w", err)
	}
	return nil
}
