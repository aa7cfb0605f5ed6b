package notification

import (
	"context"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/shared"
	"go.uber.org/zap"
)

// ToastHandler turns broadcast permission events into a single toast for
// the affected owner.
type ToastHandler struct {
	notifier shared.Notifier
	logger   *zap.Logger
}

// NewToastHandler creates the handler
func NewToastHandler(notifier shared.Notifier, logger *zap.Logger) *ToastHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToastHandler{notifier: notifier, logger: logger}
}

// EventTypes returns the handled event types
func (h *ToastHandler) EventTypes() []string {
	return []string{document.EventTypePermissionDenied}
}

// Handle sends the toast
func (h *ToastHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	evt, ok := event.(*document.PermissionErrorEvent)
	if !ok {
		h.logger.Warn("unexpected event type", zap.String("event_type", event.EventType()))
		return nil
	}
	h.notifier.Notify(ctx, PermissionToast(evt))
	return nil
}

// PermissionToast builds the toast for a refused operation
func PermissionToast(evt *document.PermissionErrorEvent) shared.Notification {
	return shared.Notification{
		OwnerID:   evt.OwnerID(),
		Level:     shared.NotificationError,
		Code:      "PERMISSION_DENIED",
		Title:     "Permission denied",
		Message:   "You do not have access to " + evt.Path + ".",
		CreatedAt: evt.OccurredAt(),
	}
}

var _ shared.EventHandler = (*ToastHandler)(nil)
