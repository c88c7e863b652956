package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Persister runs persistence jobs on a fixed set of background workers fed
// by a bounded queue. Submit never blocks the request path.
type Persister struct {
	jobs       chan PersistJob
	run        func(ctx context.Context, job PersistJob) error
	jobTimeout time.Duration
	logger     *slog.Logger

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewPersister starts workers goroutines that call run for each submitted job.
func NewPersister(workers, queueSize int, jobTimeout time.Duration, run func(ctx context.Context, job PersistJob) error, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	p := &Persister{
		jobs:       make(chan PersistJob, queueSize),
		run:        run,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit queues job and reports whether it was accepted. A full queue or a
// closed persister drops the job.
func (p *Persister) Submit(job PersistJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("[PERSIST] Persister closed, dropping job",
			"user_id", job.UserID,
			"session_id", job.SessionID,
		)
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		p.logger.Error("[PERSIST] Queue full, dropping job",
			"user_id", job.UserID,
			"session_id", job.SessionID,
			"queue_len", len(p.jobs),
		)
		return false
	}
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (p *Persister) Pending() int {
	return len(p.jobs)
}

func (p *Persister) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(id, job)
	}
}

func (p *Persister) process(worker int, job PersistJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("[PERSIST] Job panicked",
				"worker", worker,
				"user_id", job.UserID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	ctx := context.Background()
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := p.run(ctx, job); err != nil {
		p.logger.Error("[PERSIST] Job failed",
			"worker", worker,
			"user_id", job.UserID,
			"session_id", job.SessionID,
			"error", err,
		)
		return
	}

	if d := time.Since(start); d > time.Second {
		p.logger.Warn("[PERSIST] Slow persistence job",
			"user_id", job.UserID,
			"duration_ms", d.Milliseconds(),
		)
	}
}

// Close stops accepting jobs and waits up to timeout for queued jobs to
// finish. Jobs still running after the deadline are abandoned.
func (p *Persister) Close(timeout time.Duration) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("[PERSIST] Persister drained")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("[PERSIST] Drain timed out", "pending", len(p.jobs))
		return fmt.Errorf("persister drain: timed out after %s", timeout)
	}
}
