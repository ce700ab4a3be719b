package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSForwarder republishes events on <prefix>.<event type>.<ticket id>.
type NATSForwarder struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSForwarder wraps an established connection.
func NewNATSForwarder(conn *nats.Conn, prefix string) *NATSForwarder {
	return &NATSForwarder{conn: conn, prefix: prefix}
}

// Subject returns the NATS subject for event.
func (f *NATSForwarder) Subject(event Event) string {
	return fmt.Sprintf("%s.%s.%d", f.prefix, event.Type, event.TicketID)
}

// Handle is an EventHandler; subscribe it with an empty type to forward all events.
func (f *NATSForwarder) Handle(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return f.conn.Publish(f.Subject(event), data)
}

// Close drains the connection.
func (f *NATSForwarder) Close() error {
	if f == nil || f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}
