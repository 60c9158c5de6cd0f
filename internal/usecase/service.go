package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tickethunter/internal/domain"
	"tickethunter/internal/events"
	"tickethunter/internal/ports"
)

// Sentinel errors callers branch on.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already started")
)

const (
	defaultWorkers       = 5
	defaultProgressEvery = 5
)

// ServiceDeps wires all driven adapters into the task service.
type ServiceDeps struct {
	Refiner    ports.KeywordRefiner
	Source     ports.NoteSource
	Classifier ports.TicketClassifier
	Repository ports.TaskRepository
	Hub        *events.Hub
	Logger     *slog.Logger

	// Workers bounds concurrent classification calls per task.
	Workers int
	// ProgressEvery controls how often the pool reports progress updates.
	ProgressEvery int
}

// Service owns the task registry and exposes the orchestration surface:
// start a task, request its stop, subscribe to live events. Each task runs
// on its own goroutine to a terminal state; the registry entry is the only
// shared handle and is written exclusively by the owning task.
type Service struct {
	deps ServiceDeps

	mu    sync.RWMutex
	tasks map[int64]*taskRunner

	seedOnce sync.Once
	nextID   atomic.Int64
}

// NewService builds the service. Zero Workers/ProgressEvery fall back to
// the defaults.
func NewService(deps ServiceDeps) *Service {
	if deps.Workers <= 0 {
		deps.Workers = defaultWorkers
	}
	if deps.ProgressEvery <= 0 {
		deps.ProgressEvery = defaultProgressEvery
	}
	return &Service{
		deps:  deps,
		tasks: make(map[int64]*taskRunner),
	}
}

// StartTask creates a task for the raw keyword, persists it as pending,
// and launches the pipeline in the background. It returns the new task
// identifier immediately.
func (s *Service) StartTask(ctx context.Context, keyword string) (int64, error) {
	if keyword == "" {
		return 0, fmt.Errorf("keyword is empty")
	}

	id := s.allocateID(ctx)

	task := domain.Task{
		ID:        id,
		Keyword:   keyword,
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	}

	runner := newTaskRunner(task, s.deps)

	s.mu.Lock()
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("task %d: %w", id, ErrTaskExists)
	}
	s.tasks[id] = runner
	s.mu.Unlock()

	if err := s.deps.Repository.CreateTask(ctx, task); err != nil {
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
		return 0, fmt.Errorf("create task: %w", err)
	}

	s.deps.Hub.Publish(domain.TaskUpdateEvent(id, domain.StatusPending, "task accepted"))

	go runner.run(context.WithoutCancel(ctx))

	return id, nil
}

// StopTask requests cooperative cancellation of a running task. Stopping a
// task that already reached a terminal state, or stopping twice, is a no-op.
func (s *Service) StopTask(taskID int64) error {
	s.mu.RLock()
	runner, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task %d: %w", taskID, ErrTaskNotFound)
	}

	runner.requestStop()
	return nil
}

// Subscribe opens a live event stream for one task, or for all tasks when
// taskID is events.AllTasks.
func (s *Service) Subscribe(taskID int64) *events.Subscription {
	return s.deps.Hub.Subscribe(taskID)
}

// Snapshot returns the current in-memory state of a task.
func (s *Service) Snapshot(taskID int64) (domain.Task, bool) {
	s.mu.RLock()
	runner, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return domain.Task{}, false
	}
	return runner.snapshot(), true
}

// allocateID hands out monotonically increasing task identifiers, seeded
// once from storage so restarts do not reuse identifiers.
func (s *Service) allocateID(ctx context.Context) int64 {
	s.seedOnce.Do(func() {
		last, err := s.deps.Repository.LastTaskID(ctx)
		if err != nil {
			if s.deps.Logger != nil {
				s.deps.Logger.Warn("seed task counter", "error", err)
			}
			last = 0
		}
		s.nextID.Store(last)
	})
	return s.nextID.Add(1)
}
