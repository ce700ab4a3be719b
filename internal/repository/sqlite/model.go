package sqlite

import "time"

type ticketRow struct {
	ID                 int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EntryID            string     `gorm:"column:entry_id;type:text;not null;default:''"`
	ThreadKey          string     `gorm:"column:thread_key;type:text;not null;index:idx_tickets_thread"`
	Priority           string     `gorm:"column:priority;type:text;not null"`
	Status             string     `gorm:"column:status;type:text;not null;index"`
	Responsible        *string    `gorm:"column:responsible;type:text"`
	SenderEmail        string     `gorm:"column:sender_email;type:text;not null;index:idx_tickets_fingerprint"`
	Subject            string     `gorm:"column:subject;type:text;not null"`
	NormalizedSubject  string     `gorm:"column:normalized_subject;type:text;not null;index:idx_tickets_fingerprint"`
	Body               string     `gorm:"column:body;type:text;not null"`
	BodyHash           string     `gorm:"column:body_hash;type:text;not null;index:idx_tickets_fingerprint"`
	Comment            string     `gorm:"column:comment;type:text;not null;default:''"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null"`
	SLAStartedAt       time.Time  `gorm:"column:sla_started_at;not null"`
	DueAt              time.Time  `gorm:"column:due_at;not null"`
	ResponseDueAt      time.Time  `gorm:"column:response_due_at;not null"`
	FirstResponseAt    *time.Time `gorm:"column:first_response_at"`
	LastInboundAt      time.Time  `gorm:"column:last_inbound_at;not null;index:idx_tickets_thread"`
	LastReminderAt     *time.Time `gorm:"column:last_reminder_at"`
	ReminderCount      int        `gorm:"column:reminder_count;not null;default:0"`
	EscalationLevel    int        `gorm:"column:escalation_level;not null;default:0"`
	ResponseBreachedAt *time.Time `gorm:"column:response_breached_at"`
	ResolvedAt         *time.Time `gorm:"column:resolved_at"`
	ClosedAt           *time.Time `gorm:"column:closed_at"`
	RowVersion         int64      `gorm:"column:row_version;not null;default:1"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	UpdatedBy          string     `gorm:"column:updated_by;type:text;not null;default:''"`
}

func (ticketRow) TableName() string {
	return "tickets"
}

type eventRow struct {
	Seq       uint64    `gorm:"column:seq;primaryKey;autoIncrement"`
	ID        string    `gorm:"column:id;type:text;not null;uniqueIndex"`
	TicketID  int64     `gorm:"column:ticket_id;not null;index"`
	Type      string    `gorm:"column:event_type;type:text;not null"`
	Source    string    `gorm:"column:source;type:text;not null"`
	Payload   string    `gorm:"column:payload;type:text;not null;default:'{}'"`
	DedupKey  *string   `gorm:"column:dedup_key;type:text;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (eventRow) TableName() string {
	return "ticket_events"
}

type responseRow struct {
	MessageID  string    `gorm:"column:message_id;type:text;primaryKey"`
	TicketID   int64     `gorm:"column:ticket_id;not null;index:idx_responses_round"`
	Option     string    `gorm:"column:option;type:text;not null"`
	Round      int       `gorm:"column:round;not null;index:idx_responses_round"`
	Applied    bool      `gorm:"column:applied;not null;default:0"`
	Reason     string    `gorm:"column:reason;type:text;not null;default:''"`
	ReceivedAt time.Time `gorm:"column:received_at;not null"`
}

func (responseRow) TableName() string {
	return "voting_responses"
}
