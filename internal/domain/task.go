package domain

import "time"

// TaskStatus enumerates the lifecycle states of a search task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusStopped   TaskStatus = "stopped"
)

// Terminal reports whether no further transitions may leave the state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// CanTransitionTo validates a single step of the task state machine:
// pending -> running -> {completed, failed, stopped}.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next.Terminal()
	}
	return false
}

// Task is one end-to-end search-and-analyze request and its lifecycle record.
type Task struct {
	ID             int64
	Keyword        string
	RefinedKeyword string
	Status         TaskStatus
	Message        string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}
