package state

import (
	"context"

	"github.com/pomosync/pomosync/internal/merge"
	"github.com/pomosync/pomosync/internal/schema"
)

// MergeTasks reconciles the active collection with a remote copy and
// applies the result. Ids the merge removed are tombstoned.
func (s *State) MergeTasks(ctx context.Context, remote []schema.Task) (merge.Result[schema.Task], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := merge.Tasks(s.tasks, remote, s.tombstones)
	for _, id := range res.RemovedIDs {
		if _, ok := s.tombstones.RecordedAt(id); ok {
			continue
		}
		if err := s.tombstones.Record(id); err != nil {
			s.logger.Printf("Warning: failed to tombstone %s: %v", id, err)
		}
	}

	if !res.HasChanges && !syncStatusChanged(s.tasks, res.Merged) {
		return res, nil
	}
	s.tasks = res.Merged
	return res, s.saveLocked(ctx)
}

// syncStatusChanged reports whether any record changed its sync status.
func syncStatusChanged(before, after []schema.Task) bool {
	status := make(map[string]schema.SyncStatus, len(before))
	for _, t := range before {
		status[t.ID] = t.SyncStatus
	}
	for _, t := range after {
		if status[t.ID] != t.SyncStatus {
			return true
		}
	}
	return false
}

// MergeCompleted reconciles the completed collection with a remote copy.
// Active tasks that now appear as completed leave the active collection.
func (s *State) MergeCompleted(ctx context.Context, remote []schema.CompletedTask) (merge.Result[schema.CompletedTask], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := merge.CompletedTasks(s.completed, remote)
	if !res.HasChanges {
		return res, nil
	}
	s.completed = res.Merged
	s.reindexLocked()
	s.dropActiveLocked(func(id string) bool { return s.IsCompleted(id) })
	return res, s.saveLocked(ctx)
}

// MergeSessions reconciles the session log with a remote copy.
func (s *State) MergeSessions(ctx context.Context, remote []schema.WorkSession) (merge.Result[schema.WorkSession], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := merge.WorkSessions(s.sessions, remote)
	if !res.HasChanges {
		return res, nil
	}
	s.sessions = res.Merged
	return res, s.saveLocked(ctx)
}

// MergeArchived reconciles the archive with a remote copy. Active tasks
// that now appear as archived leave the active collection.
func (s *State) MergeArchived(ctx context.Context, remote []schema.ArchivedTask) (merge.Result[schema.ArchivedTask], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := merge.ArchivedTasks(s.archived, remote)
	if !res.HasChanges {
		return res, nil
	}
	s.archived = res.Merged

	archivedIDs := make(map[string]struct{}, len(s.archived))
	for _, a := range s.archived {
		archivedIDs[a.ID] = struct{}{}
	}
	s.dropActiveLocked(func(id string) bool {
		_, ok := archivedIDs[id]
		return ok
	})
	return res, s.saveLocked(ctx)
}

// dropActiveLocked removes and tombstones active tasks matching gone.
func (s *State) dropActiveLocked(gone func(id string) bool) {
	kept := s.tasks[:0:0]
	for _, t := range s.tasks {
		if !gone(t.ID) {
			kept = append(kept, t)
			continue
		}
		if err := s.tombstones.Record(t.ID); err != nil {
			s.logger.Printf("Warning: failed to tombstone %s: %v", t.ID, err)
		}
	}
	s.tasks = kept
}
