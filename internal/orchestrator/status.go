package orchestrator

import (
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

// SyncState is the aggregate outcome shown to the user.
type SyncState string

const (
	StateIdle     SyncState = "idle"
	StateSyncing  SyncState = "syncing"
	StateSynced   SyncState = "synced"
	StatePartial  SyncState = "partial"
	StateError    SyncState = "error"
	StateDisabled SyncState = "disabled"
)

// Phase names.
const (
	PhaseTasks    = "tasks"
	PhaseStats    = "stats"
	PhaseArchived = "archived"
)

// PhaseResult describes one sub-phase of the last full sync.
type PhaseResult struct {
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Removed int    `json:"removed"`
	Pushed  bool   `json:"pushed"`
}

// Failed reports whether the phase ran and failed.
func (p PhaseResult) Failed() bool {
	return p.Error != ""
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State         SyncState              `json:"state"`
	LastSync      time.Time              `json:"lastSync,omitempty"`
	LastAttempt   time.Time              `json:"lastAttempt,omitempty"`
	Phases        map[string]PhaseResult `json:"phases,omitempty"`
	Pending       int                    `json:"pending"`
	ServerVersion int                    `json:"serverVersion,omitempty"`
}

func (s Status) clone() Status {
	if s.Phases != nil {
		phases := make(map[string]PhaseResult, len(s.Phases))
		for k, v := range s.Phases {
			phases[k] = v
		}
		s.Phases = phases
	}
	return s
}

// aggregate folds phase results into one state. Skipped phases are
// neither successes nor failures.
func aggregate(phases map[string]PhaseResult) SyncState {
	ok, failed := 0, 0
	for _, p := range phases {
		switch {
		case p.Failed():
			failed++
		case p.Skipped == "":
			ok++
		}
	}
	switch {
	case failed == 0:
		return StateSynced
	case ok == 0:
		return StateError
	default:
		return StatePartial
	}
}

// EventType names a change broadcast to listeners.
type EventType string

const (
	EventSyncStatus EventType = "sync_status"
	EventTaskUpdate EventType = "task_update"
	EventQueue      EventType = "queue"
)

// Event is delivered to listeners registered with Subscribe.
type Event struct {
	Type    EventType     `json:"type"`
	Status  *Status       `json:"status,omitempty"`
	Tasks   []schema.Task `json:"tasks,omitempty"`
	Pending int           `json:"pending"`
}
