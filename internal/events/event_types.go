package events

import (
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

// EventType enumerates supported event identifiers. They mirror the ticket
// event log so subscribers see the same vocabulary as the audit trail.
type EventType = domain.TicketEventType

// Event represents a committed ticket change published after the store write.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	TicketID   int64          `json:"ticket_id"`
	Source     string         `json:"source"`
	RowVersion int64          `json:"row_version"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// FromTicketEvent converts a stored log entry into a published event.
func FromTicketEvent(e domain.TicketEvent, rowVersion int64) Event {
	return Event{
		ID:         e.ID,
		Type:       e.Type,
		TicketID:   e.TicketID,
		Source:     e.Source,
		RowVersion: rowVersion,
		Timestamp:  e.CreatedAt,
		Payload:    e.Payload,
	}
}
