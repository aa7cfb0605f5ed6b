package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/domain/shared"
	"github.com/erp/docsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Outcome says where a routed result went
type Outcome string

const (
	// OutcomeNone means there was nothing to report
	OutcomeNone Outcome = "none"
	// OutcomeInline means the failure belongs on the form
	OutcomeInline Outcome = "inline"
	// OutcomeBroadcast means a PermissionErrorEvent was published
	OutcomeBroadcast Outcome = "broadcast"
	// OutcomeNotified means a notification was sent to the owner
	OutcomeNotified Outcome = "notified"
)

// Router delivers failed results to the right surface. Every failure goes
// to exactly one place: permission failures to the event bus, field
// failures back to the caller, everything else to a notification.
type Router struct {
	publisher shared.EventPublisher
	notifier  shared.Notifier
	logger    *zap.Logger
	metrics   *telemetry.SyncMetrics
	clock     func() time.Time
}

// NewRouter creates a router
func NewRouter(publisher shared.EventPublisher, notifier shared.Notifier, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		clock:     time.Now,
	}
}

// SetMetrics sets the metrics collector
func (r *Router) SetMetrics(metrics *telemetry.SyncMetrics) {
	r.metrics = metrics
}

// Route reports res if it failed
func (r *Router) Route(ctx context.Context, res Result) Outcome {
	if res.OK() {
		return OutcomeNone
	}
	return r.RouteFailure(ctx, res.Err)
}

// RouteFailure reports a classified failure. Delivery does not depend on
// the caller's context staying alive.
func (r *Router) RouteFailure(ctx context.Context, f *MutationError) Outcome {
	if f == nil {
		return OutcomeNone
	}
	ctx = context.WithoutCancel(ctx)

	switch f.Kind {
	case KindNoIdentity:
		return OutcomeNone
	case KindValidation, KindNormalization:
		return OutcomeInline
	case KindPermission:
		if r.publisher == nil {
			r.logger.Error("permission failure with no publisher", zap.String("path", f.Path))
			return OutcomeNone
		}
		if err := r.publisher.Publish(ctx, document.PermissionEventFrom(f)); err != nil {
			r.logger.Error("failed to publish permission event",
				zap.String("path", f.Path),
				zap.String("operation", string(f.Operation)),
				zap.Error(err))
		}
		r.metrics.RecordPermissionEvent(ctx, string(f.Operation))
		return OutcomeBroadcast
	}

	n := NotificationFor(f)
	n.CreatedAt = r.clock()
	if n.OwnerID == "" {
		if id, ok := identity.FromContext(ctx); ok {
			n.OwnerID = id.OwnerID
		}
	}
	if r.notifier == nil {
		r.logger.Warn("notification dropped, no notifier", zap.String("code", n.Code))
		return OutcomeNone
	}
	r.notifier.Notify(ctx, n)
	r.metrics.RecordNotification(ctx, string(n.Level))
	return OutcomeNotified
}

// NotificationFor builds the user-facing message for a failure that is
// reported as a notification.
func NotificationFor(f *MutationError) shared.Notification {
	n := shared.Notification{
		OwnerID: document.OwnerOf(f.Path),
		Level:   shared.NotificationError,
	}
	verb := verbOf(f.Operation)
	switch f.Kind {
	case KindTransient:
		n.Level = shared.NotificationWarning
		n.Code = "TRANSIENT"
		n.Title = "Connection problem"
		n.Message = fmt.Sprintf("Could not %s the document because the server is unreachable. Try again.", verb)
		n.Retryable = true
	case KindUniqueness:
		n.Code = "DUPLICATE_IDENTIFIER"
		n.Title = "Already in use"
		if v, ok := f.Payload[f.Field]; ok && f.Field != "id" {
			n.Message = fmt.Sprintf("%s %v is already in use. Choose another one.", f.Field, v)
		} else {
			n.Message = fmt.Sprintf("A document with this %s already exists.", f.Field)
		}
	case KindNotFound:
		n.Level = shared.NotificationWarning
		n.Code = "NOT_FOUND"
		n.Title = "Document not found"
		n.Message = fmt.Sprintf("Could not %s the document; it no longer exists.", verb)
	default:
		n.Code = "UNEXPECTED"
		n.Title = "Something went wrong"
		n.Message = fmt.Sprintf("Could not %s the document.", verb)
	}
	return n
}

func verbOf(op document.Operation) string {
	switch op {
	case document.OperationCreate, document.OperationUpdate:
		return "save"
	case document.OperationDelete:
		return "delete"
	}
	return "load"
}
