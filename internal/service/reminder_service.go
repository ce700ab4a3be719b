package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/config"
	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/mail"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	"github.com/ShapArt/outlook-exporter/internal/sla"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// DecisionKind is what the reminder engine does with one overdue ticket.
type DecisionKind string

const (
	DecisionSend    DecisionKind = "send"
	DecisionPreview DecisionKind = "preview"
	DecisionSkip    DecisionKind = "skip"
	DecisionFailed  DecisionKind = "failed"
)

// SkipReason explains a skip. A policy block is a value, never an error.
type SkipReason string

const (
	SkipNoOwner             SkipReason = "no_owner"
	SkipQuietHours          SkipReason = "quiet_hours"
	SkipInterval            SkipReason = "interval"
	SkipRecipientNotAllowed SkipReason = "recipient_not_allowed"
)

// VotingOptions are offered on every reminder.
var VotingOptions = []string{"OK", "Need time", "Close", "Not ours", "Escalate"}

// ReminderPolicy is the explicit input of DecideReminder.
type ReminderPolicy struct {
	SafeMode       bool
	AllowSend      bool
	Interval       time.Duration
	QuietStart     int
	QuietEnd       int
	Location       *time.Location
	SendAllowlist  []string
	TestAllowlist  []string
	AllowedDomains []string
	// EscalationMatrix lists CC recipients per priority once a
	// notify_escalation step has fired.
	EscalationMatrix map[domain.TicketPriority][]string
	Table            sla.Table
}

// NewReminderPolicy takes the reminder settings out of the policy config.
func NewReminderPolicy(p config.PolicyConfig, loc *time.Location, table sla.Table) ReminderPolicy {
	if loc == nil {
		loc = time.UTC
	}
	return ReminderPolicy{
		SafeMode:         p.SafeMode,
		AllowSend:        p.AllowSend,
		Interval:         p.ReminderInterval(),
		QuietStart:       p.QuietHoursStart,
		QuietEnd:         p.QuietHoursEnd,
		Location:         loc,
		SendAllowlist:    p.SendAllowlist,
		TestAllowlist:    p.TestAllowlist,
		AllowedDomains:   p.AllowedDomains,
		EscalationMatrix: p.EscalationMatrix,
		Table:            table,
	}
}

// Sending reports whether real mail may leave the process.
func (p ReminderPolicy) Sending() bool {
	return !p.SafeMode && p.AllowSend
}

// Allowed reports whether addr passes the allow-lists or allowed domains.
// With every list empty nothing is allowed.
func (p ReminderPolicy) Allowed(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return false
	}
	for _, list := range [][]string{p.SendAllowlist, p.TestAllowlist} {
		for _, allowed := range list {
			if strings.EqualFold(strings.TrimSpace(allowed), addr) {
				return true
			}
		}
	}
	for _, d := range p.AllowedDomains {
		if mail.DomainMatches(addr, d) {
			return true
		}
	}
	return false
}

// InQuietHours reports whether now falls in the quiet window. The window
// may wrap midnight; equal bounds disable it.
func (p ReminderPolicy) InQuietHours(now time.Time) bool {
	if p.QuietStart == p.QuietEnd {
		return false
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	h := now.In(loc).Hour()
	if p.QuietStart < p.QuietEnd {
		return h >= p.QuietStart && h < p.QuietEnd
	}
	return h >= p.QuietStart || h < p.QuietEnd
}

// Decision is the pure outcome of the reminder rules for one ticket.
type Decision struct {
	Kind      DecisionKind `json:"kind"`
	Reason    SkipReason   `json:"reason,omitempty"`
	To        string       `json:"to,omitempty"`
	CC        []string     `json:"cc,omitempty"`
	DroppedCC []string     `json:"dropped_cc,omitempty"`
}

// DecideReminder applies, in order: owner present, quiet hours, interval,
// then the SAFE/SEND gate and the recipient allow-list.
func DecideReminder(t domain.Ticket, now time.Time, p ReminderPolicy) Decision {
	owner := t.Owner()
	if owner == "" {
		return Decision{Kind: DecisionSkip, Reason: SkipNoOwner}
	}
	if p.InQuietHours(now) {
		return Decision{Kind: DecisionSkip, Reason: SkipQuietHours}
	}
	if t.LastReminderAt != nil && now.Sub(*t.LastReminderAt) < p.Interval {
		return Decision{Kind: DecisionSkip, Reason: SkipInterval}
	}

	cc := escalationCC(t, p)
	if !p.Sending() {
		return Decision{Kind: DecisionPreview, To: owner, CC: cc}
	}
	if !p.Allowed(owner) {
		return Decision{Kind: DecisionSkip, Reason: SkipRecipientNotAllowed, To: owner}
	}
	d := Decision{Kind: DecisionSend, To: owner}
	for _, addr := range cc {
		if p.Allowed(addr) {
			d.CC = append(d.CC, addr)
		} else {
			d.DroppedCC = append(d.DroppedCC, addr)
		}
	}
	return d
}

func escalationCC(t domain.Ticket, p ReminderPolicy) []string {
	policy, ok := p.Table[t.Priority]
	if !ok {
		return nil
	}
	escalated := false
	for i := 0; i < t.EscalationLevel && i < len(policy.Escalations); i++ {
		if policy.Escalations[i].Action == sla.ActionNotifyEscalation {
			escalated = true
			break
		}
	}
	if !escalated {
		return nil
	}
	owner := strings.ToLower(t.Owner())
	var cc []string
	for _, addr := range p.EscalationMatrix[t.Priority] {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr != "" && addr != owner {
			cc = append(cc, addr)
		}
	}
	return cc
}

// ReminderDecision is the per-ticket result of a reminder pass. Detail
// carries the preview path or the sender's failure reason.
type ReminderDecision struct {
	TicketID int64 `json:"ticket_id"`
	Decision
	Detail string `json:"detail,omitempty"`
}

// ReminderService sends or previews reminders for overdue tickets.
type ReminderService struct {
	core    *TicketService
	tickets repository.TicketRepository
	sender  mail.Sender
	policy  ReminderPolicy
	logger  *zap.Logger
}

// NewReminderService constructs the service.
func NewReminderService(deps Dependencies) *ReminderService {
	deps = deps.withDefaults()
	return &ReminderService{
		core:    NewTicketService(deps),
		tickets: deps.TicketRepo,
		sender:  deps.Sender,
		policy:  NewReminderPolicy(deps.Policy, deps.Calendar.Location(), deps.Table),
		logger:  deps.Logger,
	}
}

// SendOverdue decides, delivers and records reminders. An unreachable
// sender aborts the pass with the number of tickets already recorded.
func (s *ReminderService) SendOverdue(ctx context.Context) ([]ReminderDecision, error) {
	now := s.core.now()
	overdue, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusOverdue},
	})
	if err != nil {
		return nil, err
	}

	out := make([]ReminderDecision, 0, len(overdue))
	processed := 0
	for _, t := range overdue {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d := ReminderDecision{TicketID: t.ID, Decision: DecideReminder(t, now, s.policy)}
		if d.Kind == DecisionSkip {
			s.logger.Info("reminder skipped",
				zap.Int64("ticket_id", t.ID),
				zap.String("reason", string(d.Reason)),
			)
			out = append(out, d)
			continue
		}
		if len(d.DroppedCC) > 0 {
			s.logger.Warn("escalation recipients blocked",
				zap.Int64("ticket_id", t.ID),
				zap.Strings("dropped", d.DroppedCC),
			)
		}
		if s.sender == nil {
			return out, apperrors.NewCollaboratorUnavailable("mail_sender", processed, fmt.Errorf("no sender configured"))
		}

		msg := buildReminder(t, d.Decision, s.policy.Location)
		var res mail.SendResult
		if d.Kind == DecisionSend {
			res, err = s.sender.Send(ctx, msg)
		} else {
			res, err = s.sender.Preview(ctx, msg)
		}
		if err != nil {
			return out, apperrors.NewCollaboratorUnavailable("mail_sender", processed, err)
		}
		d.Detail = res.Reason
		if res.Status != mail.SendOK {
			d.Kind = DecisionFailed
			s.logger.Warn("reminder not delivered",
				zap.Int64("ticket_id", t.ID),
				zap.String("status", string(res.Status)),
				zap.String("reason", res.Reason),
			)
			out = append(out, d)
			continue
		}

		if err := s.record(ctx, t.ID, d, now); err != nil {
			return out, err
		}
		processed++
		out = append(out, d)
	}
	return out, nil
}

func (s *ReminderService) record(ctx context.Context, ticketID int64, d ReminderDecision, now time.Time) error {
	eventType := domain.EventReminderSent
	if d.Kind == DecisionPreview {
		eventType = domain.EventReminderPreviewed
	}
	_, _, err := s.core.mutateFresh(ctx, ticketID, domain.SourceReminder, now, 1, func(t *domain.Ticket) ([]domain.TicketEvent, error) {
		at := now
		t.LastReminderAt = &at
		t.ReminderCount++
		return []domain.TicketEvent{newEvent(eventType, map[string]any{
			"to":     d.To,
			"cc":     d.CC,
			"round":  t.ReminderCount,
			"detail": d.Detail,
		})}, nil
	})
	if err != nil {
		return fmt.Errorf("record reminder for ticket %d: %w", ticketID, err)
	}
	s.logger.Info("reminder recorded",
		zap.Int64("ticket_id", ticketID),
		zap.String("kind", string(d.Kind)),
		zap.String("to", d.To),
	)
	return nil
}

// ReminderSubject is the subject line of a reminder; replies keep the tag
// and the #id used to correlate them.
func ReminderSubject(t domain.Ticket) string {
	return fmt.Sprintf("%s[%s] Overdue #%d: %s", mail.ReminderTag, strings.ToUpper(string(t.Priority)), t.ID, t.Subject)
}

func buildReminder(t domain.Ticket, d Decision, loc *time.Location) mail.Outgoing {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d is overdue.\n\n", t.ID)
	fmt.Fprintf(&b, "Subject:  %s\n", t.Subject)
	fmt.Fprintf(&b, "From:     %s\n", t.SenderEmail)
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	fmt.Fprintf(&b, "Due:      %s\n", t.DueAt.In(loc).Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Reminder: %d\n\n", t.ReminderCount+1)
	fmt.Fprintf(&b, "Vote with one of: %s.\n\n", strings.Join(VotingOptions, ", "))
	b.WriteString("Or reply with commands at the top of the message:\n")
	b.WriteString("  /status in_progress|resolved|closed\n")
	b.WriteString("  /priority critical|high|normal|low\n")
	b.WriteString("  /owner name@example.com\n")
	b.WriteString("  /comment free text\n")
	b.WriteString("  /reopen\n")
	if body := stringPreview(t.Body, 500); body != "" {
		b.WriteString("\n----------\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return mail.Outgoing{
		TicketID:      t.ID,
		To:            d.To,
		CC:            d.CC,
		Subject:       ReminderSubject(t),
		TextBody:      b.String(),
		VotingOptions: VotingOptions,
	}
}
