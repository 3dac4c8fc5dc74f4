package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/pomosync/pomosync/internal/queue"
	"github.com/pomosync/pomosync/internal/schema"
)

// ProcessBatch is the queue's batch processor. Operations are grouped by
// kind and each group costs one request, except deletes which are sent per
// id. Groups are independent: a failed group is logged and dropped, and the
// remaining groups still run.
func (o *Orchestrator) ProcessBatch(ctx context.Context, ops []queue.Operation) error {
	if !o.remote.Configured() {
		o.logger.Printf("No endpoint configured, dropping %d queued operations", len(ops))
		return nil
	}

	var errs []error
	for _, group := range queue.GroupByKind(ops) {
		if err := o.processGroup(ctx, group); err != nil {
			o.logger.Printf("WARNING: Failed to sync %d %s operations: %v", len(group.Ops), group.Kind, err)
			errs = append(errs, fmt.Errorf("%s: %w", group.Kind, err))
		}
	}
	o.emitStatus()
	return errors.Join(errs...)
}

func (o *Orchestrator) processGroup(ctx context.Context, group queue.Group) error {
	switch group.Kind {
	case queue.KindSyncTask:
		// The payloads only signal that the active list changed; the whole
		// current list is pushed.
		o.logger.Printf("Syncing active tasks (%d queued changes)", len(group.Ops))
		return o.pushTasks(ctx)

	case queue.KindSyncCompletedTask:
		tasks, err := decodeLatest(group.Ops, func(t *schema.CompletedTask) string { return t.ID })
		if err != nil {
			return err
		}
		o.logger.Printf("Syncing %d completed tasks", len(tasks))
		return o.remote.SyncCompletedTasks(ctx, tasks)

	case queue.KindSyncWorkSession:
		sessions, err := decodeLatest(group.Ops, func(s *schema.WorkSession) string { return s.ID })
		if err != nil {
			return err
		}
		o.logger.Printf("Syncing %d work sessions", len(sessions))
		return o.remote.SyncWorkSessions(ctx, sessions)

	case queue.KindSyncArchivedTask:
		tasks, err := decodeLatest(group.Ops, func(t *schema.ArchivedTask) string { return t.ID })
		if err != nil {
			return err
		}
		o.logger.Printf("Syncing %d archived tasks", len(tasks))
		return o.remote.SyncArchivedTasks(ctx, tasks)

	case queue.KindDeleteTask:
		return o.processDeletes(ctx, group.Ops)
	}
	return fmt.Errorf("unknown operation kind %q", group.Kind)
}

// processDeletes sends one delete per distinct id. Every id is attempted.
func (o *Orchestrator) processDeletes(ctx context.Context, ops []queue.Operation) error {
	seen := make(map[string]struct{}, len(ops))
	var errs []error
	for _, op := range ops {
		var p queue.DeletePayload
		if err := op.Decode(&p); err != nil {
			errs = append(errs, err)
			continue
		}
		if p.TaskID == "" {
			continue
		}
		if _, dup := seen[p.TaskID]; dup {
			continue
		}
		seen[p.TaskID] = struct{}{}

		if err := o.remote.DeleteTask(ctx, p.TaskID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", p.TaskID, err))
			continue
		}
		o.logger.Printf("Deleted task on server: %s", p.TaskID)
	}
	return errors.Join(errs...)
}

// decodeLatest decodes the payloads and keeps the last record per id,
// preserving first-seen order. Undecodable payloads are skipped.
func decodeLatest[T any](ops []queue.Operation, id func(*T) string) ([]T, error) {
	index := make(map[string]int, len(ops))
	var out []T
	var errs []error
	for _, op := range ops {
		var v T
		if err := op.Decode(&v); err != nil {
			errs = append(errs, err)
			continue
		}
		key := id(&v)
		if i, ok := index[key]; ok {
			out[i] = v
			continue
		}
		index[key] = len(out)
		out = append(out, v)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
