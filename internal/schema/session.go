package schema

import (
	"fmt"
	"time"
)

// WorkSession is one focused work interval logged against a task.
//
// TaskText is a snapshot taken when the session ended; the task may have
// been edited or deleted since. Duration is in whole minutes.
// Version is optional on the wire; records without it compare as version 1.
type WorkSession struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	TaskText    string    `json:"taskText"`
	Duration    int       `json:"duration"`
	CompletedAt time.Time `json:"completedAt"`
	DeviceID    string    `json:"deviceId,omitempty"`
	Version     int       `json:"version,omitempty"`
}

// EffectiveVersion returns the session version, treating a missing version as 1.
func (s *WorkSession) EffectiveVersion() int {
	if s.Version < 1 {
		return 1
	}
	return s.Version
}

// Validate checks if the WorkSession has valid field values.
func (s *WorkSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Duration < 0 {
		return fmt.Errorf("duration must not be negative (got %d)", s.Duration)
	}
	if s.CompletedAt.IsZero() {
		return fmt.Errorf("completedAt is required")
	}
	return nil
}

// NewWorkSession records a session of the given length ending at now.
// Durations under a minute are rounded up to one minute.
func NewWorkSession(taskID, taskText string, elapsed time.Duration, deviceID string, now time.Time) WorkSession {
	minutes := int(elapsed / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	if taskText == "" {
		taskText = "Unknown task"
	}
	return WorkSession{
		ID:          NewID(),
		TaskID:      taskID,
		TaskText:    taskText,
		Duration:    minutes,
		CompletedAt: now,
		DeviceID:    deviceID,
		Version:     1,
	}
}
