package domain

import (
	"regexp"
	"strings"
)

// statusAliases maps lower-cased free text (English and Russian, including
// the spreadsheet display labels) to canonical status codes.
var statusAliases = map[string]TicketStatus{
	"new":         TicketStatusNew,
	"новое":       TicketStatusNew,
	"входящее":    TicketStatusNew,
	"in_progress": TicketStatusInProgress,
	"in progress": TicketStatusInProgress,
	"assigned":    TicketStatusInProgress,
	"responded":   TicketStatusInProgress,
	"working":     TicketStatusInProgress,
	"в работе":    TicketStatusInProgress,
	"назначено":   TicketStatusInProgress,
	"дан ответ":   TicketStatusInProgress,
	"overdue":     TicketStatusOverdue,
	"просрочка":   TicketStatusOverdue,
	"resolved":    TicketStatusResolved,
	"resolve":     TicketStatusResolved,
	"done":        TicketStatusResolved,
	"fixed":       TicketStatusResolved,
	"close":       TicketStatusResolved,
	"решено":      TicketStatusResolved,
	"закрыть":     TicketStatusResolved,
	"closed":      TicketStatusClosed,
	"закрыто":     TicketStatusClosed,
}

var priorityAliases = map[string]TicketPriority{
	"critical": TicketPriorityCritical,
	"urgent":   TicketPriorityCritical,
	"p1":       TicketPriorityCritical,
	"high":     TicketPriorityHigh,
	"p2":       TicketPriorityHigh,
	"normal":   TicketPriorityNormal,
	"medium":   TicketPriorityNormal,
	"p3":       TicketPriorityNormal,
	"low":      TicketPriorityLow,
	"p4":       TicketPriorityLow,
}

var statusStrip = regexp.MustCompile(`[^\p{L}\p{N} _]+`)

// ParseTicketStatus maps free text to a status code.
func ParseTicketStatus(text string) (TicketStatus, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}
	if s, ok := statusAliases[t]; ok {
		return s, true
	}
	t = strings.Join(strings.Fields(statusStrip.ReplaceAllString(t, " ")), " ")
	if s, ok := statusAliases[t]; ok {
		return s, true
	}
	s, ok := statusAliases[strings.ReplaceAll(t, " ", "_")]
	return s, ok
}

// ParseTicketPriority maps free text to a priority.
func ParseTicketPriority(text string) (TicketPriority, bool) {
	p, ok := priorityAliases[strings.ToLower(strings.TrimSpace(text))]
	return p, ok
}

// StatusLabel is the spreadsheet display label of a status.
func StatusLabel(s TicketStatus) string {
	switch s {
	case TicketStatusNew:
		return "New"
	case TicketStatusInProgress:
		return "In progress"
	case TicketStatusOverdue:
		return "Overdue"
	case TicketStatusResolved:
		return "Resolved"
	case TicketStatusClosed:
		return "Closed"
	}
	return string(s)
}
