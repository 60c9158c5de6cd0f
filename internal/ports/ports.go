package ports

import (
	"context"
	"time"

	"tickethunter/internal/domain"
)

// KeywordRefiner rewrites a raw user query into a search-friendly keyword.
// Refinement fails open: on any upstream error the original keyword is
// returned unchanged, never an error.
type KeywordRefiner interface {
	Refine(ctx context.Context, keyword string) string
}

// NoteSource searches the external provider and returns a finite ordered
// batch of notes for a keyword.
type NoteSource interface {
	Search(ctx context.Context, keyword string) ([]domain.Note, error)
}

// TicketClassifier decides whether one note's text is a ticket-resale
// listing and extracts its fields.
type TicketClassifier interface {
	Classify(ctx context.Context, text string) (domain.Verdict, error)
}

// TaskRepository persists tasks, notes, and extracted tickets.
type TaskRepository interface {
	LastTaskID(ctx context.Context) (int64, error)
	CreateTask(ctx context.Context, task domain.Task) error
	UpdateTaskStatus(ctx context.Context, taskID int64, status domain.TaskStatus, message string) error
	UpdateTaskKeyword(ctx context.Context, taskID int64, refined string) error
	SaveNote(ctx context.Context, note domain.Note) error
	NoteExists(ctx context.Context, noteID string) (bool, error)
	SaveTicket(ctx context.Context, ticket domain.Ticket) error
	ListTasks(ctx context.Context, limit int) ([]domain.Task, error)
	ListTickets(ctx context.Context, taskID int64, limit int) ([]domain.Ticket, error)
}

// Publisher pushes live events to whatever fan-out mechanism is wired in.
type Publisher interface {
	Publish(event domain.Event)
}

// Notifier forwards extracted tickets to an outbound channel (Telegram, etc.).
type Notifier interface {
	AlertTicket(ctx context.Context, ticket domain.Ticket) error
}

// Scheduler drives a recurring job, used by keyword watches.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
