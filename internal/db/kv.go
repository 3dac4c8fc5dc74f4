package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Keys used in the kv table.
const (
	KeyPendingOps = "pomodoroSyncQueue"
	KeyTombstones = "pomodoroDeletedTaskIds"
	KeyDeviceID   = "pomodoroDeviceId"
	KeyLastSync   = "lastSyncTime"
)

// Get returns the value stored under key. The boolean is false when the key
// has never been written.
func (db *DB) Get(key string) ([]byte, bool, error) {
	return db.GetContext(context.Background(), key)
}

// GetContext returns the value stored under key with context support.
func (db *DB) GetContext(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (db *DB) Put(key string, value []byte) error {
	return db.PutContext(context.Background(), key, value)
}

// PutContext stores value under key with context support.
func (db *DB) PutContext(ctx context.Context, key string, value []byte) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if value == nil {
		value = []byte{}
	}
	if _, err := db.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Returns nil if the key doesn't exist (idempotent).
func (db *DB) Delete(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// DeviceID returns the persisted device id, creating one with gen on first use.
func (db *DB) DeviceID(gen func() string) (string, error) {
	value, ok, err := db.Get(KeyDeviceID)
	if err != nil {
		return "", err
	}
	if ok && len(value) > 0 {
		return string(value), nil
	}

	id := gen()
	if err := db.Put(KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}
