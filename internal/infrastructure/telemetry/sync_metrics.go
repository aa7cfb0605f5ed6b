package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("NewSyncMetrics: meter cannot be nil")

// SyncMetrics counts what the sync engine does: writes by outcome, routed
// failures and open listeners.
type SyncMetrics struct {
	mutationTotal     *Counter
	mutationDuration  *Histogram
	permissionEvents  *Counter
	notificationTotal *Counter
	activeListeners   *UpDownCounter
}

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &SyncMetrics{}
	var err error

	m.mutationTotal, err = NewCounter(meter,
		"docsync_mutation_total",
		"Total number of document writes by resource, operation and outcome",
		"{mutations}",
	)
	if err != nil {
		return nil, err
	}

	m.mutationDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "docsync_mutation_duration_seconds",
		Description: "Write pipeline latency in seconds",
		Unit:        "s",
		Boundaries:  MutationDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	m.permissionEvents, err = NewCounter(meter,
		"docsync_permission_denied_total",
		"Total number of permission errors published on the event bus",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	m.notificationTotal, err = NewCounter(meter,
		"docsync_notification_total",
		"Total number of user notifications by level",
		"{notifications}",
	)
	if err != nil {
		return nil, err
	}

	m.activeListeners, err = NewUpDownCounter(meter,
		"docsync_active_listeners",
		"Number of open live subscriptions",
		"{listeners}",
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordMutation counts one finished write. outcome is "ok" or a failure kind.
func (m *SyncMetrics) RecordMutation(ctx context.Context, resource, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrResource.String(resource), AttrOperation.String(operation), AttrOutcome.String(outcome)}
	m.mutationTotal.Inc(ctx, attrs...)
	m.mutationDuration.RecordDuration(ctx, elapsed, attrs...)
}

// RecordPermissionEvent counts one published permission error
func (m *SyncMetrics) RecordPermissionEvent(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.permissionEvents.Inc(ctx, AttrOperation.String(operation))
}

// RecordNotification counts one user notification
func (m *SyncMetrics) RecordNotification(ctx context.Context, level string) {
	if m == nil {
		return
	}
	m.notificationTotal.Inc(ctx, AttrLevel.String(level))
}

// ListenerOpened increments the open listener count
func (m *SyncMetrics) ListenerOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeListeners.Add(ctx, 1)
}

// ListenerClosed decrements the open listener count
func (m *SyncMetrics) ListenerClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeListeners.Add(ctx, -1)
}
