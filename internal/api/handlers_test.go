package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"tickethunter/internal/domain"
	"tickethunter/internal/events"
	"tickethunter/internal/usecase"
)

type fakeService struct {
	hub      *events.Hub
	nextID   int64
	started  []string
	stopped  []int64
	stopErr  error
	startErr error
}

func (s *fakeService) StartTask(_ context.Context, keyword string) (int64, error) {
	if s.startErr != nil {
		return 0, s.startErr
	}
	s.nextID++
	s.started = append(s.started, keyword)
	return s.nextID, nil
}

func (s *fakeService) StopTask(taskID int64) error {
	if s.stopErr != nil {
		return s.stopErr
	}
	s.stopped = append(s.stopped, taskID)
	return nil
}

func (s *fakeService) Subscribe(taskID int64) *events.Subscription {
	return s.hub.Subscribe(taskID)
}

type fakeWatches struct {
	nextID    int64
	keywords  []string
	unwatched []int64
}

func (w *fakeWatches) Watch(_ context.Context, keyword string) (int64, error) {
	w.nextID++
	w.keywords = append(w.keywords, keyword)
	return w.nextID, nil
}

func (w *fakeWatches) Unwatch(_ context.Context, watchID int64) error {
	w.unwatched = append(w.unwatched, watchID)
	return nil
}

type stubRepo struct {
	tasks   []domain.Task
	tickets []domain.Ticket

	ticketsTaskID int64
}

func (r *stubRepo) LastTaskID(context.Context) (int64, error)               { return 0, nil }
func (r *stubRepo) CreateTask(context.Context, domain.Task) error           { return nil }
func (r *stubRepo) UpdateTaskKeyword(context.Context, int64, string) error  { return nil }
func (r *stubRepo) SaveNote(context.Context, domain.Note) error             { return nil }
func (r *stubRepo) NoteExists(context.Context, string) (bool, error)        { return false, nil }
func (r *stubRepo) SaveTicket(context.Context, domain.Ticket) error         { return nil }
func (r *stubRepo) UpdateTaskStatus(context.Context, int64, domain.TaskStatus, string) error {
	return nil
}

func (r *stubRepo) ListTasks(context.Context, int) ([]domain.Task, error) {
	return r.tasks, nil
}

func (r *stubRepo) ListTickets(_ context.Context, taskID int64, _ int) ([]domain.Ticket, error) {
	r.ticketsTaskID = taskID
	return r.tickets, nil
}

func newTestRouter(t *testing.T) (*mux.Router, *fakeService, *fakeWatches, *stubRepo) {
	t.Helper()
	service := &fakeService{hub: events.NewHub(16, nil)}
	watches := &fakeWatches{}
	repo := &stubRepo{}
	router := mux.NewRouter()
	SetupRoutes(router, NewHandler(service, watches, repo, nil))
	return router, service, watches, repo
}

func TestSearchStartsTask(t *testing.T) {
	t.Parallel()

	router, service, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"keyword":"X concert"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp struct {
		TaskID int64  `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != 1 || resp.Status != string(domain.StatusPending) {
		t.Fatalf("response = %+v", resp)
	}
	if len(service.started) != 1 || service.started[0] != "X concert" {
		t.Fatalf("started = %v", service.started)
	}
}

func TestSearchRejectsEmptyKeyword(t *testing.T) {
	t.Parallel()

	router, service, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"keyword":""}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(service.started) != 0 {
		t.Fatal("task started despite empty keyword")
	}
}

func TestStopTaskNotFound(t *testing.T) {
	t.Parallel()

	router, service, _, _ := newTestRouter(t)
	service.stopErr = usecase.ErrTaskNotFound

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks/42/stop", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStopTask(t *testing.T) {
	t.Parallel()

	router, service, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks/7/stop", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(service.stopped) != 1 || service.stopped[0] != 7 {
		t.Fatalf("stopped = %v", service.stopped)
	}
}

func TestListTicketsPassesFilter(t *testing.T) {
	t.Parallel()

	router, _, _, repo := newTestRouter(t)
	repo.tickets = []domain.Ticket{{NoteID: "n1", TaskID: 3, EventName: "X Concert"}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tickets?task_id=3", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if repo.ticketsTaskID != 3 {
		t.Fatalf("repository saw task_id %d, want 3", repo.ticketsTaskID)
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 1 || out[0]["event_name"] != "X Concert" {
		t.Fatalf("tickets = %v", out)
	}
}

func TestListTasks(t *testing.T) {
	t.Parallel()

	router, _, _, repo := newTestRouter(t)
	done := time.Now()
	repo.tasks = []domain.Task{
		{ID: 2, Keyword: "b", Status: domain.StatusRunning, CreatedAt: time.Now()},
		{ID: 1, Keyword: "a", Status: domain.StatusCompleted, CreatedAt: time.Now(), CompletedAt: &done},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 2 || out[0]["status"] != "running" {
		t.Fatalf("tasks = %v", out)
	}
	if _, ok := out[0]["completed_at"]; ok {
		t.Fatal("running task carries completed_at")
	}
}

func TestWatchLifecycle(t *testing.T) {
	t.Parallel()

	router, _, watches, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/watches", strings.NewReader(`{"keyword":"Y tour"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}
	if len(watches.keywords) != 1 || watches.keywords[0] != "Y tour" {
		t.Fatalf("watch keywords = %v", watches.keywords)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/watches/1/stop", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", rec.Code)
	}
	if len(watches.unwatched) != 1 || watches.unwatched[0] != 1 {
		t.Fatalf("unwatched = %v", watches.unwatched)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	t.Parallel()

	router, service, _, _ := newTestRouter(t)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	resp, err := server.Client().Get(server.URL + "/stream?task_id=5")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Wait until the subscription is registered before publishing.
	deadline := time.After(2 * time.Second)
	for service.hub.Subscribers() == 0 {
		select {
		case <-deadline:
			t.Fatal("stream never subscribed")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	service.hub.Publish(domain.TaskUpdateEvent(5, domain.StatusRunning, "analyzing"))

	reader := bufio.NewReader(resp.Body)
	var line string
	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			TaskID  int64  `json:"task_id"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
		t.Fatalf("decode stream event: %v", err)
	}
	if event.Type != string(domain.EventTaskUpdate) || event.Data.TaskID != 5 || event.Data.Status != "running" {
		t.Fatalf("stream event = %+v", event)
	}
}
