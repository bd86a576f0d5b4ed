package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"driverlink/internal/domain"
)

var _ domain.NotificationRepository = (*DB)(nil)

// AddNotification inserts a notification, replacing one with the same ID.
func (d *DB) AddNotification(ctx context.Context, n domain.Notification) error {
	var data any
	if n.Data != nil {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("encode notification data: %w", err)
		}
		data = string(b)
	}
	_, err := d.sql.ExecContext(ctx,
		d.q(`INSERT INTO notifications(id, type, title, message, data, received_at, is_read) VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET type = excluded.type, title = excluded.title, message = excluded.message,
data = excluded.data, received_at = excluded.received_at, is_read = excluded.is_read;`),
		n.ID, n.Type, n.Title, n.Message, data, n.ReceivedAt.UTC().UnixNano(), n.Read,
	)
	return err
}

// ListRecentNotifications returns the most recent notifications up to limit.
// A non-positive limit returns all of them.
func (d *DB) ListRecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	query := "SELECT id, type, title, message, data, received_at, is_read FROM notifications ORDER BY received_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.sql.QueryContext(ctx, d.q(query+";"), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Notification
	for rows.Next() {
		var (
			n    domain.Notification
			data *string
			at   int64
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &data, &at, &n.Read); err != nil {
			return nil, err
		}
		if data != nil && *data != "" {
			if err := json.Unmarshal([]byte(*data), &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification %s data: %w", n.ID, err)
			}
		}
		n.ReceivedAt = time.Unix(0, at).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead marks a notification read and reports whether it exists.
func (d *DB) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	res, err := d.sql.ExecContext(ctx, d.q("UPDATE notifications SET is_read = ? WHERE id = ?;"), true, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkAllNotificationsRead marks everything read and returns how many changed.
func (d *DB) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	res, err := d.sql.ExecContext(ctx, d.q("UPDATE notifications SET is_read = ? WHERE is_read = ?;"), true, false)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UnreadNotificationCount returns the number of unread notifications.
func (d *DB) UnreadNotificationCount(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, d.q("SELECT COUNT(1) FROM notifications WHERE is_read = ?;"), false).Scan(&n)
	return n, err
}
