package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"driverlink/internal/domain"
)

var _ domain.CredentialStore = (*DB)(nil)

// Get returns the value for key, or "" when it is not set.
func (d *DB) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, d.q("SELECT value FROM credentials WHERE key = ?;"), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Set upserts value under key.
func (d *DB) Set(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx,
		d.q("INSERT INTO credentials(key, value, updated_at) VALUES(?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;"),
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the given keys in one transaction. Missing keys are ignored.
func (d *DB) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := d.q("DELETE FROM credentials WHERE key = ?;")
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, stmt, k); err != nil {
			return fmt.Errorf("remove %s: %w", k, err)
		}
	}
	return tx.Commit()
}
