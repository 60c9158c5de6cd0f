package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tickethunter/internal/ports"
)

// Monitor re-launches searches for saved keywords on a fixed interval.
// Each run is an ordinary task with the full lifecycle; the watch itself
// only decides when to start the next one.
type Monitor struct {
	service   *Service
	newDriver func() ports.Scheduler
	logger    *slog.Logger

	mu      sync.Mutex
	nextID  int64
	watches map[int64]*watch
}

type watch struct {
	keyword string
	driver  ports.Scheduler
	cancel  context.CancelFunc
}

// NewMonitor builds a monitor; newDriver is called once per watch.
func NewMonitor(service *Service, newDriver func() ports.Scheduler, logger *slog.Logger) *Monitor {
	return &Monitor{
		service:   service,
		newDriver: newDriver,
		logger:    logger,
		watches:   make(map[int64]*watch),
	}
}

// Watch starts re-running searches for the keyword and returns a watch
// identifier for Unwatch.
func (m *Monitor) Watch(ctx context.Context, keyword string) (int64, error) {
	if keyword == "" {
		return 0, fmt.Errorf("keyword is empty")
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watch{keyword: keyword, driver: m.newDriver(), cancel: cancel}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watches[id] = w
	m.mu.Unlock()

	job := func(time.Time) {
		taskID, err := m.service.StartTask(watchCtx, keyword)
		if err != nil {
			if m.logger != nil {
				m.logger.Error("watch run failed to start task", "watch_id", id, "keyword", keyword, "error", err)
			}
			return
		}
		if m.logger != nil {
			m.logger.Info("watch launched task", "watch_id", id, "task_id", taskID, "keyword", keyword)
		}
	}

	if err := w.driver.Start(watchCtx, job); err != nil {
		cancel()
		m.mu.Lock()
		delete(m.watches, id)
		m.mu.Unlock()
		return 0, fmt.Errorf("start watch driver: %w", err)
	}

	return id, nil
}

// Unwatch stops a watch. Unknown identifiers and repeated calls are no-ops.
func (m *Monitor) Unwatch(ctx context.Context, watchID int64) error {
	m.mu.Lock()
	w, ok := m.watches[watchID]
	if ok {
		delete(m.watches, watchID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	w.cancel()
	if err := w.driver.Stop(ctx); err != nil {
		return fmt.Errorf("stop watch driver: %w", err)
	}
	return nil
}

// Close stops every active watch.
func (m *Monitor) Close(ctx context.Context) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Unwatch(ctx, id); err != nil && m.logger != nil {
			m.logger.Warn("stop watch", "watch_id", id, "error", err)
		}
	}
}
