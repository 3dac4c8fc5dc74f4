package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

// AddTask creates a task at version 1.
func (s *State) AddTask(ctx context.Context, text string) (schema.Task, error) {
	task := schema.NewTask(strings.TrimSpace(text), s.deviceID, s.now())
	if err := task.Validate(); err != nil {
		return schema.Task{}, fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append([]schema.Task{task}, s.tasks...)
	return task, s.saveLocked(ctx)
}

// EditTask replaces a task's text and bumps its version.
func (s *State) EditTask(ctx context.Context, id, text string) (schema.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTaskLocked(id)
	if i < 0 {
		return schema.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	edited := s.tasks[i]
	edited.Text = strings.TrimSpace(text)
	edited.Touch(s.deviceID, s.now())
	if err := edited.Validate(); err != nil {
		return schema.Task{}, fmt.Errorf("invalid task: %w", err)
	}

	s.tasks[i] = edited
	return edited, s.saveLocked(ctx)
}

// CompleteTask moves a task into the completed collection and tombstones it.
func (s *State) CompleteTask(ctx context.Context, id string) (schema.CompletedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTaskLocked(id)
	if i < 0 {
		return schema.CompletedTask{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	done := s.tasks[i].Complete(s.deviceID, s.now())
	s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
	s.completed = append([]schema.CompletedTask{done}, s.completed...)
	s.reindexLocked()

	if err := s.tombstones.Record(id); err != nil {
		s.logger.Printf("Warning: failed to tombstone completed task %s: %v", id, err)
	}
	return done, s.saveLocked(ctx)
}

// DeleteTask removes a task and tombstones it.
func (s *State) DeleteTask(ctx context.Context, id string) (schema.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findTaskLocked(id)
	if i < 0 {
		return schema.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	removed := s.tasks[i]
	s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)

	if err := s.tombstones.Record(id); err != nil {
		s.logger.Printf("Warning: failed to tombstone deleted task %s: %v", id, err)
	}
	return removed, s.saveLocked(ctx)
}

// ArchiveTasks copies the given active tasks into the archive and
// tombstones them out of the active set. Unknown ids are skipped.
func (s *State) ArchiveTasks(ctx context.Context, ids []string) ([]schema.ArchivedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	now := s.now()
	var archived []schema.ArchivedTask
	kept := make([]schema.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if _, ok := want[t.ID]; !ok {
			kept = append(kept, t)
			continue
		}
		archived = append(archived, t.Archive(now))
		if err := s.tombstones.Record(t.ID); err != nil {
			s.logger.Printf("Warning: failed to tombstone archived task %s: %v", t.ID, err)
		}
	}
	if len(archived) == 0 {
		return nil, nil
	}

	s.tasks = kept
	s.archived = append(append([]schema.ArchivedTask(nil), archived...), s.archived...)
	return archived, s.saveLocked(ctx)
}

// AddWorkSession logs a session against taskID. The task text is looked up
// in the active and completed collections.
func (s *State) AddWorkSession(ctx context.Context, taskID string, elapsed time.Duration) (schema.WorkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var text string
	if i := s.findTaskLocked(taskID); i >= 0 {
		text = s.tasks[i].Text
	} else {
		for _, c := range s.completed {
			if c.ID == taskID {
				text = c.Text
				break
			}
		}
	}

	session := schema.NewWorkSession(taskID, text, elapsed, s.deviceID, s.now())
	s.sessions = append([]schema.WorkSession{session}, s.sessions...)
	return session, s.saveLocked(ctx)
}

// RecentSession returns the newest session for taskID that ended within the
// given window, or nil.
func (s *State) RecentSession(taskID string, within time.Duration) *schema.WorkSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-within)
	var best *schema.WorkSession
	for i := range s.sessions {
		ws := s.sessions[i]
		if ws.TaskID != taskID || !ws.CompletedAt.After(cutoff) {
			continue
		}
		if best == nil || ws.CompletedAt.After(best.CompletedAt) {
			best = &ws
		}
	}
	return best
}

// MarkTasksSynced flags pushed tasks as confirmed. A task edited after the
// push (a different version) stays pending.
func (s *State) MarkTasksSynced(ctx context.Context, pushed []schema.Task) error {
	versions := make(map[string]int, len(pushed))
	for _, t := range pushed {
		versions[t.ID] = t.EffectiveVersion()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.tasks {
		t := &s.tasks[i]
		v, ok := versions[t.ID]
		if ok && v == t.EffectiveVersion() && t.SyncStatus != schema.SyncSynced {
			t.SyncStatus = schema.SyncSynced
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked(ctx)
}

// PruneHistory drops completed tasks and sessions that finished before the
// retention window. It returns how many records were removed.
func (s *State) PruneHistory(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	removed := 0

	completed := s.completed[:0:0]
	for _, c := range s.completed {
		if c.CompletedAt != nil && c.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		completed = append(completed, c)
	}

	sessions := s.sessions[:0:0]
	for _, ws := range s.sessions {
		if ws.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		sessions = append(sessions, ws)
	}

	if removed == 0 {
		return 0, nil
	}
	s.completed = completed
	s.sessions = sessions
	s.reindexLocked()
	s.logger.Printf("Pruned %d history records older than %s", removed, cutoff.Format(time.DateOnly))
	return removed, s.saveLocked(ctx)
}

// Replace overwrites every collection, used by import.
func (s *State) Replace(ctx context.Context, tasks []schema.Task, completed []schema.CompletedTask, sessions []schema.WorkSession, archived []schema.ArchivedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range tasks {
		tasks[i].Normalize(s.deviceID, now)
	}
	for i := range completed {
		completed[i].Normalize(s.deviceID, now)
	}
	s.tasks, s.completed, s.sessions, s.archived = tasks, completed, sessions, archived
	s.reindexLocked()
	return s.saveLocked(ctx)
}
