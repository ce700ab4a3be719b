package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/mail"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// ResponseOutcome is what happened to one reply.
type ResponseOutcome string

const (
	OutcomeApplied     ResponseOutcome = "applied"
	OutcomeCommentOnly ResponseOutcome = "comment_only"
	OutcomeIgnored     ResponseOutcome = "ignored"
	OutcomeRejected    ResponseOutcome = "rejected"
)

// ResponseResult describes one processed reply.
type ResponseResult struct {
	EntryID  string          `json:"entry_id"`
	TicketID int64           `json:"ticket_id,omitempty"`
	Outcome  ResponseOutcome `json:"outcome"`
	Reason   string          `json:"reason,omitempty"`
	Changes  []string        `json:"changes,omitempty"`
	Notes    []string        `json:"notes,omitempty"`
}

// ResponseSummary aggregates a response pass. Duplicates are replies that
// were already handled by an earlier pass.
type ResponseSummary struct {
	Candidates  int              `json:"candidates"`
	Applied     int              `json:"applied"`
	CommentOnly int              `json:"comment_only"`
	Ignored     int              `json:"ignored"`
	Rejected    int              `json:"rejected"`
	Duplicates  int              `json:"duplicates"`
	Results     []ResponseResult `json:"results,omitempty"`
}

// ResponseService applies replies and votes on reminders to tickets.
type ResponseService struct {
	core      *TicketService
	tickets   repository.TicketRepository
	events    repository.TicketEventRepository
	responses repository.VotingResponseRepository
	mailbox   mail.Mailbox
	sender    mail.Sender
	policy    ReminderPolicy
	lookback  time.Duration
	logger    *zap.Logger
}

// NewResponseService constructs the service.
func NewResponseService(deps Dependencies) *ResponseService {
	deps = deps.withDefaults()
	return &ResponseService{
		core:      NewTicketService(deps),
		tickets:   deps.TicketRepo,
		events:    deps.EventRepo,
		responses: deps.ResponseRepo,
		mailbox:   deps.Mailbox,
		sender:    deps.Sender,
		policy:    NewReminderPolicy(deps.Policy, deps.Calendar.Location(), deps.Table),
		lookback:  deps.Policy.DedupLookback(),
		logger:    deps.Logger,
	}
}

// ProcessResponses handles replies received at or after since in arrival
// order, each at most once and against the ticket state at that moment.
func (s *ResponseService) ProcessResponses(ctx context.Context, since time.Time) (ResponseSummary, error) {
	msgs, err := s.mailbox.ListMessages(ctx, mail.SenderFilter{}, since)
	if err != nil {
		return ResponseSummary{}, apperrors.NewCollaboratorUnavailable("mailbox", 0, err)
	}

	var summary ResponseSummary
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !mail.IsReminderReply(msg.Subject) && strings.TrimSpace(msg.VotingResponse) == "" {
			continue
		}
		summary.Candidates++

		res, duplicate, err := s.processOne(ctx, msg)
		if err != nil {
			return summary, fmt.Errorf("process response %s: %w", msg.EntryID, err)
		}
		if duplicate {
			summary.Duplicates++
			continue
		}
		switch res.Outcome {
		case OutcomeApplied:
			summary.Applied++
		case OutcomeCommentOnly:
			summary.CommentOnly++
		case OutcomeRejected:
			summary.Rejected++
		default:
			summary.Ignored++
		}
		summary.Results = append(summary.Results, res)
		s.logger.Info("response processed",
			zap.String("entry_id", res.EntryID),
			zap.Int64("ticket_id", res.TicketID),
			zap.String("outcome", string(res.Outcome)),
			zap.String("reason", res.Reason),
		)
	}
	return summary, nil
}

func (s *ResponseService) processOne(ctx context.Context, msg domain.RawMessage) (ResponseResult, bool, error) {
	entryID := strings.TrimSpace(msg.EntryID)
	res := ResponseResult{EntryID: entryID, Outcome: OutcomeIgnored}
	if entryID == "" {
		res.Reason = "missing_entry_id"
		return res, false, nil
	}
	key := dedupKey("response", entryID)
	seen, err := s.events.ExistsByDedupKey(ctx, *key)
	if err != nil {
		return res, false, err
	}
	if seen {
		return res, true, nil
	}

	ticket, err := s.correlate(ctx, msg)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			res.Reason = "uncorrelated"
			return res, false, nil
		}
		return res, false, err
	}
	res.TicketID = ticket.ID

	parsed := ParseResponse(msg.Subject, msg.Body, msg.VotingResponse)
	res.Notes = parsed.Notes
	received := msg.ReceivedAt
	if received.IsZero() {
		received = s.core.now()
	}

	vote := parsed.Vote
	round := ticket.ReminderCount
	if vote != "" {
		reason := ""
		if ticket.Status.Terminal() {
			reason = "ticket_terminal"
		} else if applied, err := s.responses.HasApplied(ctx, ticket.ID, round); err != nil {
			return res, false, err
		} else if applied {
			reason = "round_already_voted"
		}
		if reason != "" {
			created, err := s.recordVote(ctx, domain.VotingResponse{
				MessageID: entryID, TicketID: ticket.ID, Option: string(vote),
				Round: round, Reason: reason, ReceivedAt: received,
			})
			if err != nil {
				return res, false, err
			}
			if !created {
				return res, true, nil
			}
			// the vote is dropped; commands in the same reply still apply
			vote = ""
			res.Reason = reason
			if len(parsed.Commands) == 0 {
				return res, false, nil
			}
		}
	}

	if vote == "" && len(parsed.Commands) == 0 && parsed.Comment == "" {
		res.Reason = "empty"
		return res, false, nil
	}

	if ticket.Status.Terminal() && !parsed.Has(CommandReopen) {
		for _, c := range parsed.Commands {
			if c.Kind == CommandStatus && c.Status != ticket.Status {
				return s.reject(ctx, *ticket, res, key, apperrors.NewTicketValidationError(ticket.ID,
					"ticket is finished; reopen it first", map[string]any{"status": ticket.Status, "requested": c.Status}))
			}
		}
	}

	var changes []string
	now := s.core.now()
	_, committed, err := s.core.mutateFresh(ctx, ticket.ID, domain.SourceMail, now, 1, func(t *domain.Ticket) ([]domain.TicketEvent, error) {
		var err error
		changes, err = s.apply(t, parsed, vote, now)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			return nil, nil
		}
		eventType := domain.EventResponseApplied
		if len(changes) == 1 && changes[0] == "comment" {
			eventType = domain.EventCommentAdded
		}
		e := newEvent(eventType, map[string]any{
			"entry_id": entryID,
			"sender":   strings.ToLower(msg.Sender),
			"vote":     string(vote),
			"changes":  changes,
			"notes":    parsed.Notes,
		})
		e.DedupKey = key
		return []domain.TicketEvent{e}, nil
	})
	if err != nil {
		if apperrors.IsValidation(err) {
			return s.reject(ctx, *ticket, res, key, err)
		}
		return res, false, err
	}
	if !committed {
		if res.Reason == "" {
			res.Reason = "no_change"
		}
		return res, false, nil
	}

	res.Changes = changes
	res.Outcome = OutcomeApplied
	if len(changes) == 1 && changes[0] == "comment" {
		res.Outcome = OutcomeCommentOnly
	}
	if vote != "" {
		if _, err := s.recordVote(ctx, domain.VotingResponse{
			MessageID: entryID, TicketID: ticket.ID, Option: string(vote),
			Round: round, Applied: true, ReceivedAt: received,
		}); err != nil {
			s.logger.Error("vote applied but not recorded", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	s.acknowledge(ctx, ticket.ID, msg, changes)
	return res, false, nil
}

// correlate finds the ticket by the #id of a reminder subject, else by the
// conversation or sender thread.
func (s *ResponseService) correlate(ctx context.Context, msg domain.RawMessage) (*domain.Ticket, error) {
	if id, ok := TicketRef(msg.Subject); ok {
		return s.tickets.GetByID(ctx, id)
	}
	if strings.TrimSpace(msg.ConversationID) == "" {
		return nil, repository.ErrNotFound
	}
	key := mail.ThreadKey(msg.ConversationID, msg.Sender, mail.NormalizeSubject(msg.Subject))
	since := msg.ReceivedAt.Add(-s.lookback)
	return s.tickets.FindByThreadKey(ctx, key, since)
}

// apply runs every directive of one reply against t and lists what changed.
func (s *ResponseService) apply(t *domain.Ticket, parsed ParsedResponse, vote Vote, now time.Time) ([]string, error) {
	clock := s.core.clock
	var changes []string
	status := func(to domain.TicketStatus, reopen bool) error {
		changed, err := clock.transition(t, transitionRequest{To: to, Reopen: reopen, External: true}, now)
		if changed {
			changes = append(changes, "status="+string(to))
		}
		return err
	}

	for _, c := range parsed.Commands {
		if c.Kind == CommandReopen && t.Status.Terminal() {
			if err := status(domain.TicketStatusInProgress, true); err != nil {
				return nil, err
			}
		}
	}

	if vote != "" {
		changes = append(changes, "vote="+string(vote))
	}
	switch vote {
	case VoteOK:
		if err := status(domain.TicketStatusInProgress, false); err != nil {
			return nil, err
		}
	case VoteNeedTime:
		if err := status(domain.TicketStatusInProgress, false); err != nil {
			return nil, err
		}
		if err := clock.restart(t, now); err != nil {
			return nil, err
		}
		changes = append(changes, "sla_restarted")
	case VoteClose:
		if err := status(domain.TicketStatusResolved, false); err != nil {
			return nil, err
		}
	case VoteNotOurs:
		if t.Responsible != nil {
			t.Responsible = nil
			changes = append(changes, "owner=")
		}
	case VoteEscalate:
		if raised := t.Priority.Raise(); raised != t.Priority {
			t.Priority = raised
			if err := clock.refresh(t); err != nil {
				return nil, err
			}
			changes = append(changes, "priority="+string(raised))
		}
	}

	for _, c := range parsed.Commands {
		switch c.Kind {
		case CommandStatus:
			if err := status(c.Status, parsed.Has(CommandReopen)); err != nil {
				return nil, err
			}
		case CommandPriority:
			if c.Priority != t.Priority {
				t.Priority = c.Priority
				if err := clock.refresh(t); err != nil {
					return nil, err
				}
				changes = append(changes, "priority="+string(c.Priority))
			}
		case CommandOwner:
			owner := normalizeOwner(c.Owner)
			if !equalString(owner, t.Responsible) {
				t.Responsible = owner
				changes = append(changes, "owner="+c.Owner)
			}
		case CommandComment:
			appendComment(t, c.Text)
			changes = append(changes, "comment")
		}
	}
	if parsed.Comment != "" {
		appendComment(t, parsed.Comment)
		changes = append(changes, "comment")
	}

	if len(changes) > 0 && t.FirstResponseAt == nil {
		at := now
		t.FirstResponseAt = &at
	}
	return changes, nil
}

func appendComment(t *domain.Ticket, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if t.Comment == "" {
		t.Comment = text
		return
	}
	t.Comment = t.Comment + "\n" + text
}

// reject records a refused reply without touching the ticket row.
func (s *ResponseService) reject(ctx context.Context, t domain.Ticket, res ResponseResult, key *string, cause error) (ResponseResult, bool, error) {
	res.Outcome = OutcomeRejected
	res.Reason = cause.Error()
	e := newEvent(domain.EventResponseRejected, map[string]any{
		"entry_id": res.EntryID,
		"reason":   cause.Error(),
		"status":   t.Status,
	})
	e.DedupKey = key
	if err := s.core.appendOnly(ctx, t, domain.SourceMail, s.core.now(), e); err != nil {
		return res, false, err
	}
	return res, false, nil
}

func (s *ResponseService) recordVote(ctx context.Context, vote domain.VotingResponse) (bool, error) {
	if s.responses == nil {
		return true, nil
	}
	return s.responses.Record(ctx, vote)
}

// acknowledge replies "Accepted" through the same SAFE/SEND gate as
// reminders. Failures are logged only.
func (s *ResponseService) acknowledge(ctx context.Context, ticketID int64, msg domain.RawMessage, changes []string) {
	if s.sender == nil {
		return
	}
	to := strings.ToLower(strings.TrimSpace(msg.Sender))
	if to == "" {
		return
	}
	out := mail.Outgoing{
		TicketID:  ticketID,
		To:        to,
		Subject:   fmt.Sprintf("%s Re #%d: accepted", mail.ReminderTag, ticketID),
		TextBody:  "Accepted. Updated: " + strings.Join(changes, ", ") + "\n",
		InReplyTo: msg.EntryID,
	}
	var (
		res mail.SendResult
		err error
	)
	switch {
	case !s.policy.Sending():
		res, err = s.sender.Preview(ctx, out)
	case s.policy.Allowed(to):
		res, err = s.sender.Send(ctx, out)
	default:
		s.logger.Info("acknowledgement skipped", zap.Int64("ticket_id", ticketID), zap.String("reason", string(SkipRecipientNotAllowed)))
		return
	}
	if err != nil || res.Status != mail.SendOK {
		s.logger.Warn("acknowledgement not delivered",
			zap.Int64("ticket_id", ticketID),
			zap.String("status", string(res.Status)),
			zap.String("reason", res.Reason),
			zap.Error(err),
		)
	}
}
