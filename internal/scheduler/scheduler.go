// Package scheduler runs pipeline tasks as fire-and-forget goroutines,
// bounded per stage by admission gates and deduplicated per lecture axis.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hananf11/echo360/internal/logging"
)

// Gate bounds concurrent execution of one pipeline stage.
type Gate struct {
	name string
	sem  *semaphore.Weighted
}

// NewGate constructs a gate admitting size concurrent tasks.
func NewGate(name string, size int) *Gate {
	if size < 1 {
		size = 1
	}
	return &Gate{name: name, sem: semaphore.NewWeighted(int64(size))}
}

// Name returns the gate's stage label.
func (g *Gate) Name() string { return g.name }

// Key identifies a unit of work so the same lecture axis is never run
// twice concurrently.
type Key struct {
	LectureID int64
	Axis      string
}

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("scheduler shutting down")

// ErrAlreadyRunning is returned by Submit when the key is already in flight.
var ErrAlreadyRunning = errors.New("task already running")

// Scheduler owns the task registry and the lifecycle of spawned goroutines.
type Scheduler struct {
	mu       sync.Mutex
	running  map[Key]struct{}
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	shutdown bool
}

// New constructs a Scheduler whose tasks inherit from ctx.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	baseCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		running: make(map[Key]struct{}),
		baseCtx: baseCtx,
		cancel:  cancel,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Submit registers key and runs fn on a new goroutine once gate admits it.
// The task is deregistered when fn returns; fn's error is logged, not
// returned, because the caller has already moved on.
func (s *Scheduler) Submit(key Key, gate *Gate, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := s.running[key]; exists {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running[key] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, key)
			s.mu.Unlock()
		}()

		if err := gate.sem.Acquire(s.baseCtx, 1); err != nil {
			return
		}
		defer gate.sem.Release(1)

		if err := fn(s.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("task failed",
				logging.String(logging.FieldStage, gate.name),
				logging.Int64(logging.FieldLectureID, key.LectureID),
				logging.Error(err))
		}
	}()
	return nil
}

// IsRunning reports whether key is currently registered.
func (s *Scheduler) IsRunning(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[key]
	return ok
}

// RunningCount returns the number of registered tasks, admitted or waiting.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown cancels in-flight tasks and waits for them to unwind, or until
// ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
