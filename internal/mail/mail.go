// Package mail holds the mailbox and outgoing-mail collaborators together
// with the text cleanup applied to inbound messages.
package mail

import (
	"context"
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

// Mailbox lists inbound messages received at or after since that pass filter.
type Mailbox interface {
	ListMessages(ctx context.Context, filter SenderFilter, since time.Time) ([]domain.RawMessage, error)
}

// Outgoing is a plain-text message produced by the tracker.
type Outgoing struct {
	TicketID      int64
	To            string
	CC            []string
	Subject       string
	TextBody      string
	VotingOptions []string
	InReplyTo     string
}

// SendStatus is the per-message outcome reported by a Sender.
type SendStatus string

const (
	SendOK      SendStatus = "ok"
	SendSkipped SendStatus = "skipped"
	SendFailed  SendStatus = "failed"
)

// SendResult describes what happened to one message.
type SendResult struct {
	Status SendStatus
	Reason string
}

// Sender delivers or previews messages. A non-nil error means the transport
// itself is unreachable; per-message rejections come back as SendFailed.
type Sender interface {
	Send(ctx context.Context, msg Outgoing) (SendResult, error)
	Preview(ctx context.Context, msg Outgoing) (SendResult, error)
}
