package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/events"
)

// NotificationService logs committed ticket events and forwards them to
// external subscribers such as the NATS publisher.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	forwarders []events.EventHandler
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, forwarders ...events.EventHandler) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		forwarders: forwarders,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(domain.EventSLAOverdue, n.handleOverdue)
	n.dispatcher.Subscribe(domain.EventEscalationFired, n.handleEscalation)
	n.dispatcher.Subscribe(domain.EventExcelConflict, n.handleConflict)
	n.dispatcher.Subscribe("", n.forward)
}

func (n *NotificationService) handleOverdue(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketOverdue", zap.Int64("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleEscalation(ctx context.Context, event events.Event) error {
	n.logger.Warn("EscalationFired",
		zap.Int64("ticket_id", event.TicketID),
		zap.Any("level", event.Payload["level"]),
		zap.Any("action", event.Payload["action"]),
	)
	return nil
}

func (n *NotificationService) handleConflict(ctx context.Context, event events.Event) error {
	n.logger.Warn("SpreadsheetConflict", zap.Int64("ticket_id", event.TicketID), zap.Any("kind", event.Payload["kind"]))
	return nil
}

func (n *NotificationService) forward(ctx context.Context, event events.Event) error {
	n.logger.Debug("TicketEvent",
		zap.Int64("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("row_version", event.RowVersion),
	)
	var first error
	for _, f := range n.forwarders {
		if err := f(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
