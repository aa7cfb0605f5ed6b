package notification

import (
	"context"
	"sync"
	"time"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/shared"
	"go.uber.org/zap"
)

// DefaultDiagnosticsCapacity is how many permission events are kept
const DefaultDiagnosticsCapacity = 100

// PermissionDiagnostic is a recorded permission refusal
type PermissionDiagnostic struct {
	EventID        string             `json:"event_id"`
	OwnerID        string             `json:"owner_id"`
	Path           string             `json:"path"`
	Operation      document.Operation `json:"operation"`
	RequestPayload document.Record    `json:"request_payload,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// DiagnosticsRecorder logs every permission event and keeps the most recent
// ones in a ring buffer for the developer overlay.
type DiagnosticsRecorder struct {
	logger *zap.Logger

	mu    sync.Mutex
	ring  []PermissionDiagnostic
	next  int
	full  bool
	total uint64
}

// NewDiagnosticsRecorder creates a recorder keeping capacity entries
func NewDiagnosticsRecorder(capacity int, logger *zap.Logger) *DiagnosticsRecorder {
	if capacity <= 0 {
		capacity = DefaultDiagnosticsCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiagnosticsRecorder{logger: logger, ring: make([]PermissionDiagnostic, capacity)}
}

// EventTypes returns the handled event types
func (r *DiagnosticsRecorder) EventTypes() []string {
	return []string{document.EventTypePermissionDenied}
}

// Handle records a permission event
func (r *DiagnosticsRecorder) Handle(_ context.Context, event shared.DomainEvent) error {
	evt, ok := event.(*document.PermissionErrorEvent)
	if !ok {
		return nil
	}
	d := PermissionDiagnostic{
		EventID:        evt.EventID().String(),
		OwnerID:        evt.OwnerID(),
		Path:           evt.Path,
		Operation:      evt.Operation,
		RequestPayload: evt.RequestPayload,
		OccurredAt:     evt.OccurredAt(),
	}
	r.logger.Warn("permission denied",
		zap.String("event_id", d.EventID),
		zap.String("owner_id", d.OwnerID),
		zap.String("path", d.Path),
		zap.String("operation", string(d.Operation)),
		zap.Any("request_payload", d.RequestPayload))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = d
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	return nil
}

// Recent returns the kept events for ownerID, newest first. An empty
// ownerID returns every owner's events.
func (r *DiagnosticsRecorder) Recent(ownerID string) []PermissionDiagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.ring)
	}
	out := make([]PermissionDiagnostic, 0, n)
	for i := 0; i < n; i++ {
		d := r.ring[(r.next-1-i+len(r.ring))%len(r.ring)]
		if ownerID == "" || d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out
}

// Total returns how many events were recorded, including evicted ones
func (r *DiagnosticsRecorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

var _ shared.EventHandler = (*DiagnosticsRecorder)(nil)
