package orchestrator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pomosync/pomosync/internal/schema"
)

// PerformFullSync pulls and merges every collection and pushes back what the
// row-store is missing. The tasks, stats and archived phases run
// concurrently, each behind its own lock; a phase whose lock is held is
// skipped. A phase failure is recorded in the status and never stops the
// other phases.
//
// Returns ErrSyncInProgress if another full sync holds the full lock.
func (o *Orchestrator) PerformFullSync(ctx context.Context) (Status, error) {
	if !o.fullLock.TryAcquire() {
		o.logger.Printf("Full sync already running, skipping")
		return o.Status(), ErrSyncInProgress
	}
	defer o.fullLock.Release()

	if !o.remote.Configured() {
		o.setState(StateDisabled)
		return o.Status(), nil
	}

	started := o.now()
	o.mu.Lock()
	o.status.LastAttempt = started
	o.mu.Unlock()
	o.setState(StateSyncing)
	o.logger.Printf("Starting full sync")

	var (
		mu     sync.Mutex
		phases = make(map[string]PhaseResult, 3)
	)
	record := func(name string, res PhaseResult) {
		mu.Lock()
		phases[name] = res
		mu.Unlock()
	}

	var g errgroup.Group
	run := func(name string, lock *Lock, fn func(context.Context) (PhaseResult, error)) {
		g.Go(func() error {
			if !lock.TryAcquire() {
				o.logger.Printf("Skipping %s phase: already running", name)
				record(name, PhaseResult{Skipped: "busy"})
				return nil
			}
			defer lock.Release()

			var res PhaseResult
			err := protect(func() error {
				var err error
				res, err = fn(ctx)
				return err
			})
			if err != nil {
				o.logger.Printf("WARNING: %s phase failed: %v", name, err)
				res.Error = err.Error()
			}
			record(name, res)
			return nil
		})
	}

	run(PhaseTasks, o.tasksLock, o.syncTasksPhase)
	run(PhaseStats, o.statsLock, o.syncStatsPhase)
	run(PhaseArchived, o.archivedLock, o.syncArchivedPhase)
	_ = g.Wait()

	finished := o.now()
	o.mu.Lock()
	o.status.Phases = phases
	o.status.State = aggregate(phases)
	o.status.LastSync = finished
	state := o.status.State
	o.mu.Unlock()
	o.saveLastSync(finished)

	o.logger.Printf("Full sync complete: %s (tasks=%s, stats=%s, archived=%s)",
		state, describe(phases[PhaseTasks]), describe(phases[PhaseStats]), describe(phases[PhaseArchived]))

	o.emitStatus()
	o.emitTasks()
	return o.Status(), nil
}

func describe(p PhaseResult) string {
	switch {
	case p.Failed():
		return "failed"
	case p.Skipped != "":
		return "skipped"
	default:
		return "ok"
	}
}

// syncTasksPhase pulls the active collection, merges it and, if the
// row-store is behind, overwrites it with the merged collection.
func (o *Orchestrator) syncTasksPhase(ctx context.Context) (PhaseResult, error) {
	var res PhaseResult

	remote, err := o.remote.GetTasks(ctx)
	if err != nil {
		return res, err
	}

	merged, err := o.state.MergeTasks(ctx, remote)
	res.Added, res.Updated, res.Removed = merged.Added, merged.Updated, merged.Removed
	if err != nil {
		return res, err
	}
	if merged.Ignored > 0 {
		o.logger.Printf("Ignored %d remote tasks already completed or deleted locally", merged.Ignored)
	}

	if !merged.NeedsPush() {
		return res, nil
	}

	if err := o.pushTasks(ctx); err != nil {
		return res, err
	}
	res.Pushed = true
	return res, nil
}

// pushTasks overwrites the row-store's active collection with the local one
// and marks the pushed records confirmed.
func (o *Orchestrator) pushTasks(ctx context.Context) error {
	tasks := o.state.Tasks()
	if err := o.remote.SyncTasks(ctx, tasks); err != nil {
		return err
	}
	if err := o.state.MarkTasksSynced(ctx, tasks); err != nil {
		o.logger.Printf("Warning: failed to mark %d tasks synced: %v", len(tasks), err)
	}
	return nil
}

// syncStatsPhase merges today's completed tasks and work sessions. It is
// skipped when the row-store is too old to support stats actions.
func (o *Orchestrator) syncStatsPhase(ctx context.Context) (PhaseResult, error) {
	var res PhaseResult

	if ok, reason := o.statsSupported(ctx); !ok {
		o.logger.Printf("Skipping stats sync: %s", reason)
		res.Skipped = reason
		return res, nil
	}

	day := today(o.now())
	var errs []error

	if completed, err := o.remote.GetCompletedTasks(ctx, day); err != nil {
		errs = append(errs, err)
	} else {
		merged, err := o.state.MergeCompleted(ctx, completed)
		res.Added += merged.Added
		res.Updated += merged.Updated
		if err != nil {
			errs = append(errs, err)
		}
		if missing := missingCompleted(o.state.Completed(day), completed, merged.KeptLocal > 0); len(missing) > 0 {
			if err := o.remote.SyncCompletedTasks(ctx, missing); err != nil {
				errs = append(errs, err)
			} else {
				res.Pushed = true
			}
		}
	}

	if sessions, err := o.remote.GetWorkSessions(ctx, day); err != nil {
		errs = append(errs, err)
	} else {
		merged, err := o.state.MergeSessions(ctx, sessions)
		res.Added += merged.Added
		res.Updated += merged.Updated
		if err != nil {
			errs = append(errs, err)
		}
		if missing := missingSessions(o.state.Sessions(day), sessions); len(missing) > 0 {
			if err := o.remote.SyncWorkSessions(ctx, missing); err != nil {
				errs = append(errs, err)
			} else {
				res.Pushed = true
			}
		}
	}

	return res, errors.Join(errs...)
}

// syncArchivedPhase merges the archive and pushes local-only archived tasks.
func (o *Orchestrator) syncArchivedPhase(ctx context.Context) (PhaseResult, error) {
	var res PhaseResult

	remote, err := o.remote.GetArchivedTasks(ctx)
	if err != nil {
		return res, err
	}

	merged, err := o.state.MergeArchived(ctx, remote)
	res.Added = merged.Added
	if err != nil {
		return res, err
	}

	onRemote := make(map[string]struct{}, len(remote))
	for _, a := range remote {
		onRemote[a.ID] = struct{}{}
	}
	var missing []schema.ArchivedTask
	for _, a := range o.state.Archived() {
		if _, ok := onRemote[a.ID]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		return res, nil
	}
	if err := o.remote.SyncArchivedTasks(ctx, missing); err != nil {
		return res, err
	}
	res.Pushed = true
	return res, nil
}

// missingCompleted returns local records the remote lacks or holds an older
// copy of.
func missingCompleted(local, remote []schema.CompletedTask, checkVersions bool) []schema.CompletedTask {
	remoteByID := make(map[string]*schema.CompletedTask, len(remote))
	for i := range remote {
		remoteByID[remote[i].ID] = &remote[i]
	}
	var out []schema.CompletedTask
	for _, c := range local {
		r, ok := remoteByID[c.ID]
		if !ok || (checkVersions && c.EffectiveVersion() > r.EffectiveVersion()) {
			out = append(out, c)
		}
	}
	return out
}

func missingSessions(local, remote []schema.WorkSession) []schema.WorkSession {
	onRemote := make(map[string]struct{}, len(remote))
	for _, s := range remote {
		onRemote[s.ID] = struct{}{}
	}
	var out []schema.WorkSession
	for _, s := range local {
		if _, ok := onRemote[s.ID]; !ok {
			out = append(out, s)
		}
	}
	return out
}
