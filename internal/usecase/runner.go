package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tickethunter/internal/domain"
)

var errTerminal = errors.New("task already terminal")

// taskRunner owns one task's lifecycle. It is the single writer of the
// task's status; external callers only flip the cooperative stop flag and
// read snapshots. Exactly one terminal transition is ever recorded: a stop
// request racing with natural completion loses if the terminal state was
// already written.
type taskRunner struct {
	deps   ServiceDeps
	logger *slog.Logger

	mu   sync.Mutex
	task domain.Task

	stopOnce sync.Once
	stop     chan struct{}
}

func newTaskRunner(task domain.Task, deps ServiceDeps) *taskRunner {
	logger := deps.Logger
	if logger != nil {
		logger = logger.With("component", "task", "task_id", task.ID)
	}
	return &taskRunner{
		deps:   deps,
		logger: logger,
		task:   task,
		stop:   make(chan struct{}),
	}
}

// run executes the pipeline stages in sequence: refine the keyword, fetch
// the note batch, classify it under the analysis pool, then record exactly
// one terminal state.
func (r *taskRunner) run(ctx context.Context) {
	if err := r.transition(ctx, domain.StatusRunning, "searching: "+r.task.Keyword); err != nil {
		return
	}

	refined := r.deps.Refiner.Refine(ctx, r.task.Keyword)
	if refined == "" {
		refined = r.task.Keyword
	}
	r.setRefinedKeyword(ctx, refined)

	if r.stopRequested() {
		r.finish(ctx, domain.StatusStopped, "stopped before search")
		return
	}

	notes, err := r.deps.Source.Search(ctx, refined)
	if err != nil {
		r.finish(ctx, domain.StatusFailed, "search notes: "+err.Error())
		return
	}

	if len(notes) == 0 {
		r.finish(ctx, domain.StatusCompleted, "no notes found")
		return
	}

	r.progress(ctx, fmt.Sprintf("found %s, analyzing", plural(len(notes), "note", "notes")))

	for i := range notes {
		notes[i].TaskID = r.task.ID
	}

	pool := newAnalysisPool(r.deps, r.logger, r.task.ID)
	processed, matches := pool.run(ctx, notes, r.stop, func(done, found int) {
		r.progress(ctx, fmt.Sprintf("processed %d/%d notes, %s found",
			done, len(notes), plural(found, "ticket", "tickets")))
	})

	if r.stopRequested() && processed < len(notes) {
		r.finish(ctx, domain.StatusStopped,
			fmt.Sprintf("stopped after %d of %d notes, %s",
				processed, len(notes), plural(matches, "match", "matches")))
		return
	}

	r.finish(ctx, domain.StatusCompleted,
		fmt.Sprintf("%s processed, %s",
			plural(processed, "document", "documents"), plural(matches, "match", "matches")))
}

// requestStop flips the cooperative cancellation flag. It returns
// immediately; the pipeline honors it at the next safe checkpoint.
func (r *taskRunner) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *taskRunner) stopRequested() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *taskRunner) snapshot() domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task
}

// transition is the single mutation point for task status. It validates the
// step, persists it, and publishes exactly one TaskUpdate before returning.
// A failed status write is fatal to the task.
func (r *taskRunner) transition(ctx context.Context, status domain.TaskStatus, message string) error {
	r.mu.Lock()
	if !r.task.Status.CanTransitionTo(status) {
		current := r.task.Status
		r.mu.Unlock()
		if current.Terminal() {
			return errTerminal
		}
		return fmt.Errorf("invalid transition %s -> %s", current, status)
	}
	r.task.Status = status
	r.task.Message = message
	if status.Terminal() {
		now := time.Now()
		r.task.CompletedAt = &now
	}
	taskID := r.task.ID
	r.mu.Unlock()

	if err := r.deps.Repository.UpdateTaskStatus(ctx, taskID, status, message); err != nil {
		if r.logger != nil {
			r.logger.Error("persist task status", "status", status, "error", err)
		}
		if !status.Terminal() {
			r.finish(ctx, domain.StatusFailed, "persist task status: "+err.Error())
			return fmt.Errorf("persist task status: %w", err)
		}
	}

	r.deps.Hub.Publish(domain.TaskUpdateEvent(taskID, status, message))
	return nil
}

// finish records a terminal state; first terminal transition wins, later
// attempts are ignored.
func (r *taskRunner) finish(ctx context.Context, status domain.TaskStatus, message string) {
	if err := r.transition(ctx, status, message); err != nil && !errors.Is(err, errTerminal) {
		if r.logger != nil {
			r.logger.Error("record terminal state", "status", status, "error", err)
		}
	}
}

// progress publishes an intermediate running update without changing state.
func (r *taskRunner) progress(ctx context.Context, message string) {
	r.mu.Lock()
	if r.task.Status != domain.StatusRunning {
		r.mu.Unlock()
		return
	}
	r.task.Message = message
	taskID := r.task.ID
	r.mu.Unlock()

	if err := r.deps.Repository.UpdateTaskStatus(ctx, taskID, domain.StatusRunning, message); err != nil && r.logger != nil {
		r.logger.Warn("persist progress message", "error", err)
	}
	r.deps.Hub.Publish(domain.TaskUpdateEvent(taskID, domain.StatusRunning, message))
}

func (r *taskRunner) setRefinedKeyword(ctx context.Context, refined string) {
	r.mu.Lock()
	r.task.RefinedKeyword = refined
	r.mu.Unlock()

	if err := r.deps.Repository.UpdateTaskKeyword(ctx, r.task.ID, refined); err != nil && r.logger != nil {
		r.logger.Warn("persist refined keyword", "error", err)
	}
	if refined != r.task.Keyword && r.logger != nil {
		r.logger.Info("keyword refined", "from", r.task.Keyword, "to", refined)
	}
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, pluralForm)
}
