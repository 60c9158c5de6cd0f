package domain

import "time"

// EventType tags the two kinds of live events a task produces.
type EventType string

const (
	EventTaskUpdate  EventType = "task_update"
	EventTicketFound EventType = "ticket_found"
)

// Event is an immutable live update delivered to subscribers. Status and
// Message are set for task updates; Ticket is set for ticket-found events.
type Event struct {
	Type    EventType
	TaskID  int64
	Status  TaskStatus
	Message string
	Ticket  *Ticket
	At      time.Time
}

// TaskUpdateEvent builds a status-change event for a task.
func TaskUpdateEvent(taskID int64, status TaskStatus, message string) Event {
	return Event{
		Type:    EventTaskUpdate,
		TaskID:  taskID,
		Status:  status,
		Message: message,
		At:      time.Now(),
	}
}

// TicketFoundEvent builds a record-found event carrying the extracted listing.
func TicketFoundEvent(ticket Ticket) Event {
	return Event{
		Type:   EventTicketFound,
		TaskID: ticket.TaskID,
		Ticket: &ticket,
		At:     time.Now(),
	}
}
