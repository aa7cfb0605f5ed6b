package shared

import (
	"context"
	"time"
)

// NotificationLevel is the severity shown to the user
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// Notification is a transient, user-visible message (a toast).
type Notification struct {
	OwnerID   string            `json:"owner_id"`
	Level     NotificationLevel `json:"level"`
	Code      string            `json:"code"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers notifications to the owner's open sessions.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
