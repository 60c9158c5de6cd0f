package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tickethunter/internal/domain"
	"tickethunter/internal/ports"
)

// AllTasks subscribes to events from every task.
const AllTasks int64 = 0

const defaultBuffer = 64

// Hub is the process-wide broadcaster between running tasks and observers.
// Publish never blocks: each subscriber owns a bounded buffer and a slow
// subscriber loses its oldest undelivered events instead of delaying others.
// The Hub keeps no history; events published before Subscribe are gone.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	buffer int
	logger *slog.Logger
}

var _ ports.Publisher = (*Hub)(nil)

// Subscription is one observer's handle on the Hub.
type Subscription struct {
	id     uuid.UUID
	taskID int64
	ch     chan domain.Event
	hub    *Hub
}

// NewHub builds an empty hub. A non-positive buffer falls back to the default.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[uuid.UUID]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers an observer for one task's events, or for all tasks
// when taskID is AllTasks. Matching events published after this call are
// delivered in publish order until Close.
func (h *Hub) Subscribe(taskID int64) *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		taskID: taskID,
		ch:     make(chan domain.Event, h.buffer),
		hub:    h,
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	return sub
}

// Publish delivers the event to every matching subscriber. When a
// subscriber's buffer is full its oldest undelivered event is dropped to
// make room, so the publisher never waits.
func (h *Hub) Publish(event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if sub.taskID != AllTasks && sub.taskID != event.TaskID {
			continue
		}

		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Buffer full: evict the oldest event, then retry once.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}

		if h.logger != nil {
			h.logger.Warn("slow subscriber, dropped oldest event", "task_id", event.TaskID)
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Close detaches the subscription from the hub. Idempotent and safe to call
// concurrently with in-flight Publish calls.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}
