package merge

import (
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

func taskID(t *schema.Task) string { return t.ID }

func taskStamp(t *schema.Task) Stamp {
	return Stamp{Version: t.EffectiveVersion(), At: t.ModifiedAt()}
}

func taskCreated(t *schema.Task) time.Time { return t.CreatedAt }

func completedAt(t *schema.CompletedTask) time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.ModifiedAt()
}

func confirmed(t schema.Task) schema.Task {
	t.SyncStatus = schema.SyncSynced
	return t
}

// Tasks reconciles the active-task collection.
//
// Remote-only ids are adopted unless tombstoned. A local-only id that the
// row-store had already confirmed is taken to be completed or deleted on
// another device: it is dropped and reported in RemovedIDs so the caller can
// tombstone it. A local-only id still pending its first push is kept and
// reported in Unconfirmed. Local records whose id is tombstoned are always
// dropped, so an id never lives in two domains at once.
func Tasks(local, remote []schema.Task, tombstones Tombstones) Result[schema.Task] {
	var res Result[schema.Task]

	merged := make([]schema.Task, 0, len(local)+len(remote))
	for _, t := range local {
		if isTombstoned(tombstones, t.ID) {
			res.Removed++
			res.RemovedIDs = append(res.RemovedIDs, t.ID)
			continue
		}
		merged = append(merged, t)
	}
	index := indexByID(merged, taskID)

	onRemote := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		onRemote[r.ID] = struct{}{}

		if isTombstoned(tombstones, r.ID) {
			res.Ignored++
			continue
		}

		i, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(merged)
			merged = append(merged, confirmed(r))
			res.Added++
			continue
		}

		switch Compare(taskStamp(&merged[i]), taskStamp(&r)) {
		case RemoteWins:
			merged[i] = confirmed(r)
			res.Updated++
		case LocalWins:
			res.KeptLocal++
		default:
			merged[i].SyncStatus = schema.SyncSynced
			res.InSync++
		}
	}

	kept := merged[:0]
	for _, t := range merged {
		if _, ok := onRemote[t.ID]; ok {
			kept = append(kept, t)
			continue
		}
		if t.SyncStatus == schema.SyncPending {
			res.Unconfirmed = append(res.Unconfirmed, t.ID)
			kept = append(kept, t)
			continue
		}
		res.Removed++
		res.RemovedIDs = append(res.RemovedIDs, t.ID)
	}
	merged = kept

	res.HasChanges = res.Added+res.Updated+res.Removed > 0
	if res.Added+res.Updated > 0 {
		newestFirst(merged, taskCreated)
	}
	res.Merged = merged
	return res
}

// CompletedTasks reconciles the completed-task history. Records are never
// removed by absence; remote-only records are added and shared ids follow
// the version-then-timestamp policy using lastModified, or completedAt when
// lastModified is missing.
func CompletedTasks(local, remote []schema.CompletedTask) Result[schema.CompletedTask] {
	var res Result[schema.CompletedTask]

	merged := make([]schema.CompletedTask, len(local), len(local)+len(remote))
	copy(merged, local)
	index := indexByID(merged, taskID)

	for _, r := range remote {
		i, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(merged)
			merged = append(merged, confirmed(r))
			res.Added++
			continue
		}

		switch Compare(taskStamp(&merged[i]), taskStamp(&r)) {
		case RemoteWins:
			merged[i] = confirmed(r)
			res.Updated++
		case LocalWins:
			res.KeptLocal++
		default:
			res.InSync++
		}
	}

	res.HasChanges = res.Added+res.Updated > 0
	if res.HasChanges {
		newestFirst(merged, completedAt)
	}
	res.Merged = merged
	return res
}

// WorkSessions reconciles the session log. Sessions are never removed by
// absence. For a shared id the higher version wins; at equal versions any
// difference in duration or completedAt is taken as a correction made on the
// row-store and the remote record wins.
func WorkSessions(local, remote []schema.WorkSession) Result[schema.WorkSession] {
	var res Result[schema.WorkSession]

	merged := make([]schema.WorkSession, len(local), len(local)+len(remote))
	copy(merged, local)
	index := indexByID(merged, func(s *schema.WorkSession) string { return s.ID })

	for _, r := range remote {
		i, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(merged)
			merged = append(merged, r)
			res.Added++
			continue
		}

		l := &merged[i]
		lv, rv := l.EffectiveVersion(), r.EffectiveVersion()
		switch {
		case rv > lv:
			merged[i] = r
			res.Updated++
		case rv < lv:
			res.KeptLocal++
		case r.Duration != l.Duration || !r.CompletedAt.Equal(l.CompletedAt):
			merged[i] = r
			res.Updated++
		default:
			res.InSync++
		}
	}

	res.HasChanges = res.Added+res.Updated > 0
	if res.HasChanges {
		newestFirst(merged, func(s *schema.WorkSession) time.Time { return s.CompletedAt })
	}
	res.Merged = merged
	return res
}

// ArchivedTasks reconciles the archive. It only adds: remote-only records
// are appended and records already present locally are left untouched.
func ArchivedTasks(local, remote []schema.ArchivedTask) Result[schema.ArchivedTask] {
	var res Result[schema.ArchivedTask]

	merged := make([]schema.ArchivedTask, len(local), len(local)+len(remote))
	copy(merged, local)
	index := indexByID(merged, func(a *schema.ArchivedTask) string { return a.ID })

	for _, r := range remote {
		if _, ok := index[r.ID]; ok {
			res.InSync++
			continue
		}
		index[r.ID] = len(merged)
		r.SyncStatus = schema.SyncSynced
		merged = append(merged, r)
		res.Added++
	}

	res.HasChanges = res.Added > 0
	if res.HasChanges {
		newestFirst(merged, func(a *schema.ArchivedTask) time.Time { return a.ArchivedAt })
	}
	res.Merged = merged
	return res
}
