// Package memory implements in-memory adapters for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"driverlink/internal/domain"
)

// DB holds credentials and the notification inbox in process memory.
type DB struct {
	mu            sync.Mutex
	values        map[string]string
	notifications []domain.Notification
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		values: make(map[string]string),
	}
}

// Ensure interfaces are met.
var _ domain.CredentialStore = (*DB)(nil)
var _ domain.NotificationRepository = (*DB)(nil)

// --- CredentialStore ---

// Get returns the value for key, or "" when it is not set.
func (db *DB) Get(ctx context.Context, key string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.values[key], nil
}

// Set stores value under key.
func (db *DB) Set(ctx context.Context, key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.values[key] = value
	return nil
}

// Remove deletes the given keys. Missing keys are ignored.
func (db *DB) Remove(ctx context.Context, keys ...string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, k := range keys {
		delete(db.values, k)
	}
	return nil
}

// --- NotificationRepository ---

// AddNotification appends a notification, replacing one with the same ID.
func (db *DB) AddNotification(ctx context.Context, n domain.Notification) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.notifications {
		if db.notifications[i].ID == n.ID {
			db.notifications[i] = n
			return nil
		}
	}
	db.notifications = append(db.notifications, n)
	return nil
}

// ListRecentNotifications lists the most recent notifications first.
func (db *DB) ListRecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.Notification, len(db.notifications))
	copy(result, db.notifications)

	// stable keeps arrival order for equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkNotificationRead marks a notification read and reports whether it exists.
func (db *DB) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.notifications {
		if db.notifications[i].ID == id {
			db.notifications[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

// MarkAllNotificationsRead marks everything read and returns how many changed.
func (db *DB) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	n := 0
	for i := range db.notifications {
		if !db.notifications[i].Read {
			db.notifications[i].Read = true
			n++
		}
	}
	return n, nil
}

// UnreadNotificationCount returns the number of unread notifications.
func (db *DB) UnreadNotificationCount(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	n := 0
	for _, x := range db.notifications {
		if !x.Read {
			n++
		}
	}
	return n, nil
}
