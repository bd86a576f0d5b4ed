package domain

import (
	"context"
	"time"
)

// Notification is a server-pushed message for the signed-in driver.
type Notification struct {
	ID         string         `json:"id"`
	Type       string         `json:"type,omitempty"`
	Title      string         `json:"title,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Read       bool           `json:"read"`
}

// NotificationRepository is the port for the notification inbox.
type NotificationRepository interface {
	AddNotification(ctx context.Context, n Notification) error
	ListRecentNotifications(ctx context.Context, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context) (int, error)
	UnreadNotificationCount(ctx context.Context) (int, error)
}
