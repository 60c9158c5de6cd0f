package domain

import "time"

// Note is a single externally retrieved item queued for classification.
// The identifier is assigned by the search provider.
type Note struct {
	ID          string
	TaskID      int64
	Description string
	URL         string
	CreatedAt   time.Time
}

// Verdict is the classifier's structured reply for one note.
type Verdict struct {
	IsTicketResale bool   `json:"is_ticket_resale"`
	EventName      string `json:"event_name"`
	City           string `json:"city"`
	EventDate      string `json:"event_date"`
	Area           string `json:"area"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	Contact        string `json:"contact"`
	Notes          string `json:"notes"`
}

// Ticket is a resale listing extracted from a matching note. At most one
// ticket exists per note.
type Ticket struct {
	NoteID    string
	TaskID    int64
	EventName string
	City      string
	EventDate string
	Area      string
	Price     string
	Quantity  string
	Contact   string
	Notes     string
	NoteURL   string
	CreatedAt time.Time
}

// TicketFromVerdict builds the persisted listing out of a classifier verdict.
func TicketFromVerdict(note Note, verdict Verdict) Ticket {
	return Ticket{
		NoteID:    note.ID,
		TaskID:    note.TaskID,
		EventName: verdict.EventName,
		City:      verdict.City,
		EventDate: verdict.EventDate,
		Area:      verdict.Area,
		Price:     verdict.Price,
		Quantity:  verdict.Quantity,
		Contact:   verdict.Contact,
		Notes:     verdict.Notes,
		NoteURL:   note.URL,
		CreatedAt: time.Now(),
	}
}
