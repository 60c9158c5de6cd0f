package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"tickethunter/internal/domain"
	"tickethunter/internal/ports"
)

// PostgresRepository persists tasks, notes, and extracted tickets.
type PostgresRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.TaskRepository = (*PostgresRepository)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// InitSchema creates the tables if they do not exist yet.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id BIGINT PRIMARY KEY,
			keyword TEXT NOT NULL,
			refined_keyword TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS notes (
			note_id TEXT PRIMARY KEY,
			task_id BIGINT NOT NULL REFERENCES tasks(id),
			description TEXT NOT NULL DEFAULT '',
			note_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			note_id TEXT PRIMARY KEY REFERENCES notes(note_id),
			task_id BIGINT NOT NULL REFERENCES tasks(id),
			event_name TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			event_date TEXT NOT NULL DEFAULT '',
			area TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT '',
			quantity TEXT NOT NULL DEFAULT '',
			contact TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			note_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// LastTaskID returns the highest task identifier ever assigned.
func (r *PostgresRepository) LastTaskID(ctx context.Context) (int64, error) {
	query, args, err := r.sb.Select("COALESCE(MAX(id), 0)").From("tasks").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build last task id: %w", err)
	}

	var last int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last task id: %w", err)
	}
	return last, nil
}

// CreateTask inserts a new task row.
func (r *PostgresRepository) CreateTask(ctx context.Context, task domain.Task) error {
	query, args, err := r.sb.Insert("tasks").
		Columns("id", "keyword", "refined_keyword", "status", "message", "created_at").
		Values(task.ID, task.Keyword, task.RefinedKeyword, task.Status, task.Message, task.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create task: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus records a status transition; terminal states also stamp
// the completion time.
func (r *PostgresRepository) UpdateTaskStatus(ctx context.Context, taskID int64, status domain.TaskStatus, message string) error {
	builder := r.sb.Update("tasks").
		Set("status", status).
		Set("message", message).
		Where(sq.Eq{"id": taskID})
	if status.Terminal() {
		builder = builder.Set("completed_at", sq.Expr("NOW()"))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build update status: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// UpdateTaskKeyword records the refined search keyword.
func (r *PostgresRepository) UpdateTaskKeyword(ctx context.Context, taskID int64, refined string) error {
	query, args, err := r.sb.Update("tasks").
		Set("refined_keyword", refined).
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update keyword: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update task keyword: %w", err)
	}
	return nil
}

// SaveNote upserts a note; re-saving the same provider id is a no-op.
func (r *PostgresRepository) SaveNote(ctx context.Context, note domain.Note) error {
	query, args, err := r.sb.Insert("notes").
		Columns("note_id", "task_id", "description", "note_url", "created_at").
		Values(note.ID, note.TaskID, note.Description, note.URL, note.CreatedAt).
		Suffix("ON CONFLICT (note_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build save note: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// NoteExists reports whether a note is already stored.
func (r *PostgresRepository) NoteExists(ctx context.Context, noteID string) (bool, error) {
	query, args, err := r.sb.Select("1").From("notes").Where(sq.Eq{"note_id": noteID}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build note exists: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query note exists: %w", err)
	}
	return true, nil
}

// SaveTicket upserts a ticket; a note gets at most one ticket, so a second
// save for the same note is a no-op.
func (r *PostgresRepository) SaveTicket(ctx context.Context, ticket domain.Ticket) error {
	query, args, err := r.sb.Insert("tickets").
		Columns("note_id", "task_id", "event_name", "city", "event_date", "area",
			"price", "quantity", "contact", "notes", "note_url", "created_at").
		Values(ticket.NoteID, ticket.TaskID, ticket.EventName, ticket.City, ticket.EventDate,
			ticket.Area, ticket.Price, ticket.Quantity, ticket.Contact, ticket.Notes,
			ticket.NoteURL, ticket.CreatedAt).
		Suffix("ON CONFLICT (note_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build save ticket: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// ListTasks returns the most recent tasks.
func (r *PostgresRepository) ListTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	query, args, err := r.sb.Select("id", "keyword", "refined_keyword", "status", "message", "created_at", "completed_at").
		From("tasks").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tasks: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var task domain.Task
		var completedAt sql.NullTime
		if err := rows.Scan(&task.ID, &task.Keyword, &task.RefinedKeyword,
			&task.Status, &task.Message, &task.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			task.CompletedAt = &t
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return tasks, nil
}

// ListTickets returns recent tickets, optionally restricted to one task.
func (r *PostgresRepository) ListTickets(ctx context.Context, taskID int64, limit int) ([]domain.Ticket, error) {
	builder := r.sb.Select("note_id", "task_id", "event_name", "city", "event_date", "area",
		"price", "quantity", "contact", "notes", "note_url", "created_at").
		From("tickets").
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if taskID > 0 {
		builder = builder.Where(sq.Eq{"task_id": taskID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tickets: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.NoteID, &t.TaskID, &t.EventName, &t.City, &t.EventDate,
			&t.Area, &t.Price, &t.Quantity, &t.Contact, &t.Notes, &t.NoteURL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return tickets, nil
}
