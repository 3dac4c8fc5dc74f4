package orchestrator

import (
	"context"
	"time"

	"github.com/pomosync/pomosync/internal/queue"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/state"
)

// enqueue adds an operation. A queue failure is logged only: the change is
// already in the local collections and the next full sync re-offers it.
func (o *Orchestrator) enqueue(kind queue.Kind, payload any) {
	if err := o.queue.Add(kind, payload); err != nil {
		o.logger.Printf("Warning: failed to queue %s: %v", kind, err)
	}
}

func (o *Orchestrator) deletePayload(id string) queue.DeletePayload {
	return queue.DeletePayload{TaskID: id, Timestamp: o.now().UnixMilli()}
}

// AddTask creates a task and queues a push of the active list.
func (o *Orchestrator) AddTask(ctx context.Context, text string) (schema.Task, error) {
	task, err := o.state.AddTask(ctx, text)
	if err != nil {
		return task, err
	}
	o.enqueue(queue.KindSyncTask, task)
	o.emitTasks()
	return task, nil
}

// EditTask changes a task's text and queues a push of the active list.
func (o *Orchestrator) EditTask(ctx context.Context, id, text string) (schema.Task, error) {
	task, err := o.state.EditTask(ctx, id, text)
	if err != nil {
		return task, err
	}
	o.enqueue(queue.KindSyncTask, task)
	o.emitTasks()
	return task, nil
}

// CompleteTask completes a task locally, then asks the row-store to move it
// atomically together with the session that finished it (if one ended in
// the last few minutes). If the atomic request fails the pieces are queued
// separately instead.
func (o *Orchestrator) CompleteTask(ctx context.Context, id string) (schema.CompletedTask, error) {
	done, err := o.state.CompleteTask(ctx, id)
	if err != nil {
		return done, err
	}
	o.emitTasks()

	session := o.state.RecentSession(id, state.RecentSessionWindow)

	if o.remote.Configured() {
		err = o.remote.CompleteTask(ctx, done, session)
		if err == nil {
			o.logger.Printf("Task completed atomically on server: %s", done.Text)
			return done, nil
		}
		o.logger.Printf("Warning: atomic completion failed, queueing separately: %v", err)
	}

	o.enqueue(queue.KindSyncCompletedTask, done)
	if session != nil {
		o.enqueue(queue.KindSyncWorkSession, *session)
	}
	o.enqueue(queue.KindSyncTask, nil)
	return done, nil
}

// DeleteTask removes a task locally and queues its deletion on the row-store.
func (o *Orchestrator) DeleteTask(ctx context.Context, id string) (schema.Task, error) {
	task, err := o.state.DeleteTask(ctx, id)
	if err != nil {
		return task, err
	}
	o.enqueue(queue.KindDeleteTask, o.deletePayload(id))
	o.emitTasks()
	return task, nil
}

// ArchiveTasks archives the given tasks and queues both the archive upsert
// and the removal from the active collection for each.
func (o *Orchestrator) ArchiveTasks(ctx context.Context, ids []string) ([]schema.ArchivedTask, error) {
	archived, err := o.state.ArchiveTasks(ctx, ids)
	if err != nil {
		return archived, err
	}
	for _, a := range archived {
		o.enqueue(queue.KindSyncArchivedTask, a)
		o.enqueue(queue.KindDeleteTask, o.deletePayload(a.ID))
	}
	if len(archived) > 0 {
		o.emitTasks()
	}
	return archived, nil
}

// RecordSession logs a finished work session and queues it.
func (o *Orchestrator) RecordSession(ctx context.Context, taskID string, elapsed time.Duration) (schema.WorkSession, error) {
	session, err := o.state.AddWorkSession(ctx, taskID, elapsed)
	if err != nil {
		return session, err
	}
	o.enqueue(queue.KindSyncWorkSession, session)
	return session, nil
}
