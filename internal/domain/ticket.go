package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusOverdue    TicketStatus = "overdue"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Terminal reports whether the status only leaves through an explicit reopen.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusNew, TicketStatusInProgress, TicketStatusOverdue, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityCritical TicketPriority = "critical"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityNormal   TicketPriority = "normal"
	TicketPriorityLow      TicketPriority = "low"
)

// Priorities lists priorities from most to least urgent.
var Priorities = []TicketPriority{
	TicketPriorityCritical,
	TicketPriorityHigh,
	TicketPriorityNormal,
	TicketPriorityLow,
}

// Raise returns the next more urgent priority, or p itself when already critical.
func (p TicketPriority) Raise() TicketPriority {
	for i, candidate := range Priorities {
		if candidate == p && i > 0 {
			return Priorities[i-1]
		}
	}
	return p
}

// Ticket is the aggregate tracked against the SLA.
type Ticket struct {
	ID                 int64
	EntryID            string
	ThreadKey          string
	Priority           TicketPriority
	Status             TicketStatus
	Responsible        *string
	SenderEmail        string
	Subject            string
	NormalizedSubject  string
	Body               string
	BodyHash           string
	Comment            string
	CreatedAt          time.Time
	SLAStartedAt       time.Time
	DueAt              time.Time
	ResponseDueAt      time.Time
	FirstResponseAt    *time.Time
	LastInboundAt      time.Time
	LastReminderAt     *time.Time
	ReminderCount      int
	EscalationLevel    int
	// ResponseBreachedAt is set once when no first response arrived within
	// the response budget.
	ResponseBreachedAt *time.Time
	ResolvedAt         *time.Time
	ClosedAt           *time.Time
	RowVersion         int64
	UpdatedAt          time.Time
	UpdatedBy          string
}

// Overdue is derived from the status; it is never stored on its own.
func (t *Ticket) Overdue() bool {
	return t.Status == TicketStatusOverdue
}

// Owner returns the responsible address or an empty string.
func (t *Ticket) Owner() string {
	if t.Responsible == nil {
		return ""
	}
	return *t.Responsible
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (t Ticket) Clone() Ticket {
	out := t
	out.Responsible = cloneString(t.Responsible)
	out.FirstResponseAt = cloneTime(t.FirstResponseAt)
	out.LastReminderAt = cloneTime(t.LastReminderAt)
	out.ResponseBreachedAt = cloneTime(t.ResponseBreachedAt)
	out.ResolvedAt = cloneTime(t.ResolvedAt)
	out.ClosedAt = cloneTime(t.ClosedAt)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
