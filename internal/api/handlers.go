package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tickethunter/internal/domain"
	"tickethunter/internal/events"
	"tickethunter/internal/ports"
	"tickethunter/internal/usecase"
)

const (
	defaultTaskLimit   = 20
	defaultTicketLimit = 50
	heartbeatInterval  = 30 * time.Second
)

// TaskService is the slice of the core surface the handlers consume.
type TaskService interface {
	StartTask(ctx context.Context, keyword string) (int64, error)
	StopTask(taskID int64) error
	Subscribe(taskID int64) *events.Subscription
}

// WatchService manages recurring keyword watches.
type WatchService interface {
	Watch(ctx context.Context, keyword string) (int64, error)
	Unwatch(ctx context.Context, watchID int64) error
}

// Handler adapts the task service and repository to HTTP, including the
// SSE event stream.
type Handler struct {
	service    TaskService
	watches    WatchService
	repository ports.TaskRepository
	logger     *slog.Logger
}

// NewHandler wires the handler dependencies.
func NewHandler(service TaskService, watches WatchService, repository ports.TaskRepository, logger *slog.Logger) *Handler {
	return &Handler{service: service, watches: watches, repository: repository, logger: logger}
}

type searchRequest struct {
	Keyword string `json:"keyword"`
}

type searchResponse struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}

// Search handles POST /search: start a new task and return immediately.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Keyword == "" {
		http.Error(w, "keyword is required", http.StatusBadRequest)
		return
	}

	taskID, err := h.service.StartTask(r.Context(), req.Keyword)
	if err != nil {
		http.Error(w, "start task: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, searchResponse{TaskID: taskID, Status: string(domain.StatusPending)})
}

// ListTasks handles GET /tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.repository.ListTasks(r.Context(), defaultTaskLimit)
	if err != nil {
		http.Error(w, "list tasks: "+err.Error(), http.StatusInternalServerError)
		return
	}

	type taskJSON struct {
		ID             int64  `json:"id"`
		Keyword        string `json:"keyword"`
		RefinedKeyword string `json:"refined_keyword,omitempty"`
		Status         string `json:"status"`
		Message        string `json:"message"`
		CreatedAt      string `json:"created_at"`
		CompletedAt    string `json:"completed_at,omitempty"`
	}

	out := make([]taskJSON, 0, len(tasks))
	for _, task := range tasks {
		entry := taskJSON{
			ID:             task.ID,
			Keyword:        task.Keyword,
			RefinedKeyword: task.RefinedKeyword,
			Status:         string(task.Status),
			Message:        task.Message,
			CreatedAt:      task.CreatedAt.Format(time.RFC3339),
		}
		if task.CompletedAt != nil {
			entry.CompletedAt = task.CompletedAt.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// StopTask handles POST /tasks/{id}/stop.
func (h *Handler) StopTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	if err := h.service.StopTask(taskID); err != nil {
		if errors.Is(err, usecase.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "stop task: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "stopping": true})
}

// ListTickets handles GET /api/tickets with an optional task_id filter.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	var taskID int64
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid task_id", http.StatusBadRequest)
			return
		}
		taskID = parsed
	}

	tickets, err := h.repository.ListTickets(r.Context(), taskID, defaultTicketLimit)
	if err != nil {
		http.Error(w, "list tickets: "+err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type watchRequest struct {
	Keyword string `json:"keyword"`
}

// CreateWatch handles POST /watches: re-run a keyword search on an interval.
func (h *Handler) CreateWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Keyword == "" {
		http.Error(w, "keyword is required", http.StatusBadRequest)
		return
	}

	watchID, err := h.watches.Watch(r.Context(), req.Keyword)
	if err != nil {
		http.Error(w, "create watch: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"watch_id": watchID})
}

// StopWatch handles POST /watches/{id}/stop.
func (h *Handler) StopWatch(w http.ResponseWriter, r *http.Request) {
	watchID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid watch id", http.StatusBadRequest)
		return
	}

	if err := h.watches.Unwatch(r.Context(), watchID); err != nil {
		http.Error(w, "stop watch: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watch_id": watchID, "stopped": true})
}

// Stream handles GET /stream: a Server-Sent Events feed of live task
// updates and found tickets, optionally filtered by task_id. Heartbeat
// comments keep idle connections alive.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	taskID := events.AllTasks
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid task_id", http.StatusBadRequest)
			return
		}
		taskID = parsed
	}

	sub := h.service.Subscribe(taskID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(streamEvent(event))
			if err != nil {
				if h.logger != nil {
					h.logger.Error("marshal stream event", "error", err)
				}
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// streamEvent shapes a domain event for the wire: a type tag, a data
// object, and the publish timestamp.
func streamEvent(event domain.Event) map[string]any {
	data := map[string]any{"task_id": event.TaskID}
	switch event.Type {
	case domain.EventTaskUpdate:
		data["status"] = string(event.Status)
		data["message"] = event.Message
	case domain.EventTicketFound:
		if event.Ticket != nil {
			data["ticket"] = ticketJSON(*event.Ticket)
		}
	}
	return map[string]any{
		"type":      string(event.Type),
		"data":      data,
		"timestamp": event.At.Format(time.RFC3339),
	}
}

func ticketJSON(t domain.Ticket) map[string]any {
	return map[string]any{
		"note_id":    t.NoteID,
		"task_id":    t.TaskID,
		"event_name": t.EventName,
		"city":       t.City,
		"event_date": t.EventDate,
		"area":       t.Area,
		"price":      t.Price,
		"quantity":   t.Quantity,
		"contact":    t.Contact,
		"notes":      t.Notes,
		"note_url":   t.NoteURL,
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
