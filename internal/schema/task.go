// Package schema provides the entity records shared by every pomosync device.
//
// Records cross the row-store boundary as JSON with the exact field names
// used by the browser client (camelCase), so the same rows can be read and
// written by either side.
package schema

import (
	"fmt"
	"time"
)

// SyncStatus tracks whether a record has been confirmed by the row-store.
type SyncStatus string

const (
	// SyncPending marks a record changed locally and not yet pushed.
	SyncPending SyncStatus = "pending"

	// SyncSynced marks a record that was pushed or pulled successfully.
	SyncSynced SyncStatus = "synced"
)

// MaxTextLength bounds the free-text field of a task.
const MaxTextLength = 500

// Task is an active to-do item.
//
// Version starts at 1 and is incremented on every local mutation. It is the
// primary conflict resolution key; LastModified only breaks ties.
type Task struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Completed    bool       `json:"completed"`
	Version      int        `json:"version,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	LastModified time.Time  `json:"lastModified"`
	DeviceID     string     `json:"deviceId,omitempty"`
	SyncStatus   SyncStatus `json:"syncStatus,omitempty"`
}

// CompletedTask has the shape of Task with Completed set.
type CompletedTask = Task

// ArchivedTask is a Task moved out of the active list by a bulk archive.
type ArchivedTask struct {
	Task
	ArchivedAt time.Time `json:"archivedAt"`
}

// EffectiveVersion returns the record version, treating a missing version as 1.
func (t *Task) EffectiveVersion() int {
	if t.Version < 1 {
		return 1
	}
	return t.Version
}

// ModifiedAt is the timestamp used to break version ties.
// Completed records written by older clients may carry only completedAt.
func (t *Task) ModifiedAt() time.Time {
	if !t.LastModified.IsZero() {
		return t.LastModified
	}
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Text == "" {
		return fmt.Errorf("text is required")
	}
	if len(t.Text) > MaxTextLength {
		return fmt.Errorf("text must be %d characters or less (got %d)", MaxTextLength, len(t.Text))
	}
	if t.Version < 0 {
		return fmt.Errorf("version must not be negative (got %d)", t.Version)
	}
	if t.Completed && t.CompletedAt == nil {
		return fmt.Errorf("completedAt is required for completed task")
	}
	return nil
}

// Normalize fills the defaults legacy records are missing: version 1,
// lastModified from createdAt (or now), and the origin device.
func (t *Task) Normalize(deviceID string, now time.Time) {
	if t.Version < 1 {
		t.Version = 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastModified.IsZero() {
		t.LastModified = t.CreatedAt
	}
	if t.DeviceID == "" {
		t.DeviceID = deviceID
	}
	if t.Completed && t.CompletedAt == nil {
		at := t.LastModified
		t.CompletedAt = &at
	}
}

// Touch records a local mutation: bumps the version and stamps the writer.
func (t *Task) Touch(deviceID string, now time.Time) {
	t.Version = t.EffectiveVersion() + 1
	t.LastModified = now
	t.DeviceID = deviceID
	t.SyncStatus = SyncPending
}

// NewTask creates a task at version 1 owned by deviceID.
func NewTask(text, deviceID string, now time.Time) Task {
	return Task{
		ID:           NewID(),
		Text:         text,
		Version:      1,
		CreatedAt:    now,
		LastModified: now,
		DeviceID:     deviceID,
		SyncStatus:   SyncPending,
	}
}

// Complete converts the task into its completed form.
func (t Task) Complete(deviceID string, now time.Time) CompletedTask {
	t.Completed = true
	at := now
	t.CompletedAt = &at
	t.Touch(deviceID, now)
	return t
}

// Archive converts the task into an archived record.
func (t Task) Archive(now time.Time) ArchivedTask {
	return ArchivedTask{Task: t, ArchivedAt: now}
}

// DayUTC formats t as the YYYY-MM-DD day used by the stats actions.
func DayUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
