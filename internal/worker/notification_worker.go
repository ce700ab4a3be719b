package worker

import (
	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/events"
	"github.com/ShapArt/outlook-exporter/internal/service"
)

// StartNotificationWorker subscribes the notification handlers to dispatcher
// so committed overdue, escalation and conflict events are logged, and every
// event reaches the forwarders (NATS in production).
func StartNotificationWorker(dispatcher events.Dispatcher, logger *zap.Logger, forwarders ...events.EventHandler) *service.NotificationService {
	if dispatcher == nil {
		return nil
	}
	notifications := service.NewNotificationService(dispatcher, logger, forwarders...)
	notifications.RegisterHandlers()
	return notifications
}
