package service

import (
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/sla"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:        {domain.TicketStatusInProgress, domain.TicketStatusOverdue, domain.TicketStatusResolved},
	domain.TicketStatusInProgress: {domain.TicketStatusOverdue, domain.TicketStatusResolved},
	domain.TicketStatusOverdue:    {domain.TicketStatusInProgress, domain.TicketStatusResolved},
	domain.TicketStatusResolved:   {domain.TicketStatusClosed},
	domain.TicketStatusClosed:     {},
}

// reopenTransitions are only taken on an explicit reopen.
var reopenTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusResolved: {domain.TicketStatusInProgress},
	domain.TicketStatusClosed:   {domain.TicketStatusInProgress},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	return contains(allowedTransitions[current], next)
}

func isReopenTransition(current, next domain.TicketStatus) bool {
	return contains(reopenTransitions[current], next)
}

func contains(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

// transitionRequest describes a status change asked for by a pass.
// External requests come from mail or the spreadsheet and may not set
// overdue.
type transitionRequest struct {
	To       domain.TicketStatus
	Reopen   bool
	External bool
}

// slaClock derives deadlines for tickets from the calendar and SLA table.
type slaClock struct {
	cal   *sla.Calendar
	table sla.Table
}

// restart starts the SLA clock over at now.
func (c slaClock) restart(t *domain.Ticket, now time.Time) error {
	t.SLAStartedAt = now
	t.EscalationLevel = 0
	t.ResponseBreachedAt = nil
	return c.refresh(t)
}

// refresh recomputes the derived deadlines from the current clock start.
func (c slaClock) refresh(t *domain.Ticket) error {
	policy, err := c.table.Lookup(t.Priority)
	if err != nil {
		return err
	}
	due := sla.Deadlines(c.cal, policy, t.SLAStartedAt)
	t.ResponseDueAt = due.ResponseDue
	t.DueAt = due.ResolutionDue
	return nil
}

// transition validates req against the state machine and applies it with
// its side effects. It reports whether the status changed.
func (c slaClock) transition(t *domain.Ticket, req transitionRequest, now time.Time) (bool, error) {
	from := t.Status
	if !req.To.Valid() {
		return false, apperrors.NewTicketValidationError(t.ID, "unknown status", map[string]any{"status": req.To})
	}
	if req.To == from {
		return false, nil
	}
	if req.External && req.To == domain.TicketStatusOverdue {
		return false, apperrors.NewTicketValidationError(t.ID, "overdue is derived from the SLA clock", map[string]any{
			"from": from,
			"to":   req.To,
		})
	}

	switch {
	case isValidTransition(from, req.To):
	case req.Reopen && isReopenTransition(from, req.To):
		t.ResolvedAt = nil
		t.ClosedAt = nil
		if err := c.restart(t, now); err != nil {
			return false, err
		}
	default:
		return false, apperrors.NewTicketValidationError(t.ID, "invalid status transition", map[string]any{
			"from": from,
			"to":   req.To,
		})
	}

	switch req.To {
	case domain.TicketStatusResolved:
		at := now
		t.ResolvedAt = &at
	case domain.TicketStatusClosed:
		at := now
		t.ClosedAt = &at
	}
	t.Status = req.To
	return true, nil
}
