package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

// Snapshot is the full set of entity collections held by one store.
type Snapshot struct {
	Tasks     []schema.Task          `json:"tasks"`
	Completed []schema.CompletedTask `json:"completedTasks"`
	Sessions  []schema.WorkSession   `json:"workSessions"`
	Archived  []schema.ArchivedTask  `json:"archivedTasks"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// rowKey holds the columns extracted from a record.
type rowKey struct {
	id     string
	sortAt time.Time
	day    string
}

func taskKey(t schema.Task) rowKey {
	return rowKey{id: t.ID, sortAt: t.CreatedAt}
}

func completedKey(t schema.CompletedTask) rowKey {
	at := t.ModifiedAt()
	if t.CompletedAt != nil {
		at = *t.CompletedAt
	}
	return rowKey{id: t.ID, sortAt: at, day: schema.DayUTC(at)}
}

func sessionKey(s schema.WorkSession) rowKey {
	return rowKey{id: s.ID, sortAt: s.CompletedAt, day: schema.DayUTC(s.CompletedAt)}
}

func archivedKey(a schema.ArchivedTask) rowKey {
	return rowKey{id: a.ID, sortAt: a.ArchivedAt, day: schema.DayUTC(a.ArchivedAt)}
}

func upsertRows[T any](ctx context.Context, q execer, table string, items []T, key func(T) rowKey) error {
	query := fmt.Sprintf(`
	INSERT INTO %s (id, sort_at, day, data) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		sort_at = excluded.sort_at,
		day = excluded.day,
		data = excluded.data
	`, table)

	for _, item := range items {
		k := key(item)
		if k.id == "" {
			return fmt.Errorf("failed to store %s row: id is required", table)
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode %s row %s: %w", table, k.id, err)
		}
		if _, err := q.ExecContext(ctx, query, k.id, formatSortKey(k.sortAt), k.day, string(data)); err != nil {
			return fmt.Errorf("failed to upsert %s row %s: %w", table, k.id, err)
		}
	}
	return nil
}

func replaceRows[T any](ctx context.Context, q execer, table string, items []T, key func(T) rowKey) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	return upsertRows(ctx, q, table, items, key)
}

// listRows returns the rows of table, newest first. An empty day returns every row.
func listRows[T any](ctx context.Context, q querier, table, day string) ([]T, error) {
	query := fmt.Sprintf(`SELECT data FROM %s`, table)
	var args []any
	if day != "" {
		query += ` WHERE day = ?`
		args = append(args, day)
	}
	query += ` ORDER BY sort_at DESC, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		var item T
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", table, err)
	}
	return items, nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTasks returns the active tasks, newest first.
func (db *DB) ListTasks(ctx context.Context) ([]schema.Task, error) {
	return listRows[schema.Task](ctx, db.conn, TableTasks, "")
}

// ReplaceTasks overwrites the whole active-task collection.
func (db *DB) ReplaceTasks(ctx context.Context, tasks []schema.Task) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return replaceRows(ctx, tx, TableTasks, tasks, taskKey)
	})
}

// DeleteTask removes an active task. Returns nil if the task doesn't exist (idempotent).
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ListCompleted returns completed tasks for the given UTC day, or all of them when day is empty.
func (db *DB) ListCompleted(ctx context.Context, day string) ([]schema.CompletedTask, error) {
	return listRows[schema.CompletedTask](ctx, db.conn, TableCompleted, day)
}

// UpsertCompleted inserts or replaces completed tasks by id.
func (db *DB) UpsertCompleted(ctx context.Context, tasks []schema.CompletedTask) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRows(ctx, tx, TableCompleted, tasks, completedKey)
	})
}

// ReplaceCompleted overwrites the completed-task collection.
func (db *DB) ReplaceCompleted(ctx context.Context, tasks []schema.CompletedTask) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return replaceRows(ctx, tx, TableCompleted, tasks, completedKey)
	})
}

// ListSessions returns work sessions for the given UTC day, or all of them when day is empty.
func (db *DB) ListSessions(ctx context.Context, day string) ([]schema.WorkSession, error) {
	return listRows[schema.WorkSession](ctx, db.conn, TableSessions, day)
}

// UpsertSessions inserts or replaces work sessions by id.
func (db *DB) UpsertSessions(ctx context.Context, sessions []schema.WorkSession) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRows(ctx, tx, TableSessions, sessions, sessionKey)
	})
}

// ListArchived returns archived tasks, newest archive first.
func (db *DB) ListArchived(ctx context.Context) ([]schema.ArchivedTask, error) {
	return listRows[schema.ArchivedTask](ctx, db.conn, TableArchived, "")
}

// UpsertArchived inserts or replaces archived tasks by id.
func (db *DB) UpsertArchived(ctx context.Context, tasks []schema.ArchivedTask) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRows(ctx, tx, TableArchived, tasks, archivedKey)
	})
}

// CompleteTask moves a task from the active collection into the completed
// collection and optionally records the session that finished it, in one
// transaction.
func (db *DB) CompleteTask(ctx context.Context, task schema.CompletedTask, session *schema.WorkSession) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, task.ID); err != nil {
			return fmt.Errorf("failed to remove active task: %w", err)
		}
		if err := upsertRows(ctx, tx, TableCompleted, []schema.CompletedTask{task}, completedKey); err != nil {
			return err
		}
		if session != nil {
			if err := upsertRows(ctx, tx, TableSessions, []schema.WorkSession{*session}, sessionKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot reads every collection.
func (db *DB) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Tasks, err = db.ListTasks(ctx); err != nil {
		return nil, err
	}
	if snap.Completed, err = db.ListCompleted(ctx, ""); err != nil {
		return nil, err
	}
	if snap.Sessions, err = db.ListSessions(ctx, ""); err != nil {
		return nil, err
	}
	if snap.Archived, err = db.ListArchived(ctx); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot overwrites every collection in one transaction.
func (db *DB) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := replaceRows(ctx, tx, TableTasks, snap.Tasks, taskKey); err != nil {
			return err
		}
		if err := replaceRows(ctx, tx, TableCompleted, snap.Completed, completedKey); err != nil {
			return err
		}
		if err := replaceRows(ctx, tx, TableSessions, snap.Sessions, sessionKey); err != nil {
			return err
		}
		return replaceRows(ctx, tx, TableArchived, snap.Archived, archivedKey)
	})
}
