package domain

import "time"

// RawMessage is an inbound mail item handed over by the mail collaborator.
type RawMessage struct {
	EntryID        string    `json:"entry_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"received_at"`
	VotingResponse string    `json:"voting_response,omitempty"`
}

// VotingResponse records a recipient's selection on a reminder. MessageID is
// unique; Applied is false for duplicates and late votes.
type VotingResponse struct {
	MessageID  string
	TicketID   int64
	Option     string
	Round      int
	Applied    bool
	Reason     string
	ReceivedAt time.Time
}

// SnapshotRow is one ticket row of the human-editable spreadsheet mirror.
// Only Status, Responsible, Comment and Priority are editable.
type SnapshotRow struct {
	TicketID    int64  `json:"ticket_id"`
	RowVersion  int64  `json:"row_version"`
	Status      string `json:"status"`
	Responsible string `json:"responsible"`
	Comment     string `json:"comment"`
	Priority    string `json:"priority"`

	Subject   string     `json:"subject,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Overdue   bool       `json:"overdue,omitempty"`
}
