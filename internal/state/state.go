// Package state holds the device's entity collections in memory and
// persists them through the local store after every change.
//
// All mutations, including applying a merge result, happen under one lock,
// so a merge is computed and applied against the same local view and a user
// edit can never be lost between the two.
package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pomosync/pomosync/internal/db"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/tombstone"
)

// ErrNotFound is returned when an id is not in the expected collection.
var ErrNotFound = errors.New("task not found")

// DefaultHistoryRetention is how long completed tasks and sessions are kept locally.
const DefaultHistoryRetention = 30 * 24 * time.Hour

// RecentSessionWindow is how old a session may be to be attached to a completion.
const RecentSessionWindow = 5 * time.Minute

// Store persists the collections.
type Store interface {
	LoadSnapshot(ctx context.Context) (*db.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *db.Snapshot) error
}

// Options configures a State.
type Options struct {
	DeviceID string
	Now      func() time.Time
	Logger   *log.Logger
}

// State is the local view of all four collections.
type State struct {
	mu        sync.RWMutex
	tasks     []schema.Task
	completed []schema.CompletedTask
	sessions  []schema.WorkSession
	archived  []schema.ArchivedTask

	// completedIDs backs the tombstone tracker's completed lookup. It has
	// its own lock so the tracker can consult it while mu is held.
	idxMu        sync.RWMutex
	completedIDs map[string]struct{}

	store      Store
	tombstones *tombstone.Tracker
	deviceID   string
	now        func() time.Time
	logger     *log.Logger
}

// New creates a State and installs its completed lookup on tombstones.
// Call Load before use.
func New(store Store, tombstones *tombstone.Tracker, opts Options) *State {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[state] ", log.LstdFlags)
	}
	s := &State{
		completedIDs: make(map[string]struct{}),
		store:        store,
		tombstones:   tombstones,
		deviceID:     opts.DeviceID,
		now:          opts.Now,
		logger:       opts.Logger,
	}
	tombstones.SetCompletedLookup(s.IsCompleted)
	return s
}

// DeviceID returns the id stamped on local writes.
func (s *State) DeviceID() string {
	return s.deviceID
}

// Tombstones returns the tracker guarding the active collection.
func (s *State) Tombstones() *tombstone.Tracker {
	return s.tombstones
}

// Load reads the collections from the store and fills in fields legacy
// records are missing.
func (s *State) Load(ctx context.Context) error {
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range snap.Tasks {
		snap.Tasks[i].Normalize(s.deviceID, now)
	}
	for i := range snap.Completed {
		snap.Completed[i].Normalize(s.deviceID, now)
	}

	s.tasks = snap.Tasks
	s.completed = snap.Completed
	s.sessions = snap.Sessions
	s.archived = snap.Archived
	s.reindexLocked()
	return nil
}

// IsCompleted reports whether id is in the completed collection.
func (s *State) IsCompleted(id string) bool {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	_, ok := s.completedIDs[id]
	return ok
}

func (s *State) reindexLocked() {
	ids := make(map[string]struct{}, len(s.completed))
	for _, c := range s.completed {
		ids[c.ID] = struct{}{}
	}
	s.idxMu.Lock()
	s.completedIDs = ids
	s.idxMu.Unlock()
}

func (s *State) snapshotLocked() *db.Snapshot {
	return &db.Snapshot{
		Tasks:     s.tasks,
		Completed: s.completed,
		Sessions:  s.sessions,
		Archived:  s.archived,
	}
}

func (s *State) saveLocked(ctx context.Context) error {
	if err := s.store.SaveSnapshot(ctx, s.snapshotLocked()); err != nil {
		return fmt.Errorf("failed to persist local state: %w", err)
	}
	return nil
}

func (s *State) findTaskLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// ResolveTaskID accepts a full id or a unique prefix of an active task id.
func (s *State) ResolveTaskID(ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match string
	for _, t := range s.tasks {
		if t.ID == ref {
			return ref, nil
		}
		if ref != "" && strings.HasPrefix(t.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("task id prefix %q is ambiguous", ref)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return match, nil
}

// Tasks returns a copy of the active tasks.
func (s *State) Tasks() []schema.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Task(nil), s.tasks...)
}

// Task returns the active task with id.
func (s *State) Task(id string) (schema.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.findTaskLocked(id); i >= 0 {
		return s.tasks[i], true
	}
	return schema.Task{}, false
}

// Completed returns completed tasks for a UTC day, or all of them when day is empty.
func (s *State) Completed(day string) []schema.CompletedTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.CompletedTask
	for _, c := range s.completed {
		if day == "" || (c.CompletedAt != nil && schema.DayUTC(*c.CompletedAt) == day) {
			out = append(out, c)
		}
	}
	return out
}

// Sessions returns work sessions for a UTC day, or all of them when day is empty.
func (s *State) Sessions(day string) []schema.WorkSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.WorkSession
	for _, ws := range s.sessions {
		if day == "" || schema.DayUTC(ws.CompletedAt) == day {
			out = append(out, ws)
		}
	}
	return out
}

// Archived returns a copy of the archive.
func (s *State) Archived() []schema.ArchivedTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.ArchivedTask(nil), s.archived...)
}

// Snapshot returns a copy of every collection.
func (s *State) Snapshot() *db.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &db.Snapshot{
		Tasks:     append([]schema.Task(nil), s.tasks...),
		Completed: append([]schema.CompletedTask(nil), s.completed...),
		Sessions:  append([]schema.WorkSession(nil), s.sessions...),
		Archived:  append([]schema.ArchivedTask(nil), s.archived...),
	}
}

// Validate checks that no id lives in more than one of the active,
// completed and archived collections.
func (s *State) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]string)
	check := func(id, domain string) error {
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("task %s is in both %s and %s", id, prev, domain)
		}
		seen[id] = domain
		return nil
	}
	for _, t := range s.tasks {
		if err := check(t.ID, "active"); err != nil {
			return err
		}
	}
	for _, c := range s.completed {
		if err := check(c.ID, "completed"); err != nil {
			return err
		}
	}
	for _, a := range s.archived {
		if err := check(a.ID, "archived"); err != nil {
			return err
		}
	}
	return nil
}
