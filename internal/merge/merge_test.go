package merge

import (
	"testing"
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func task(id string, version int, modified time.Time, status schema.SyncStatus) schema.Task {
	return schema.Task{
		ID:           id,
		Text:         "task " + id,
		Version:      version,
		CreatedAt:    t0,
		LastModified: modified,
		DeviceID:     "device_a",
		SyncStatus:   status,
	}
}

func ids(tasks []schema.Task) map[string]schema.Task {
	m := make(map[string]schema.Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

func TestCompare(t *testing.T) {
	later := t0.Add(time.Minute)

	tests := []struct {
		name   string
		local  Stamp
		remote Stamp
		want   Decision
	}{
		{name: "higher remote version", local: Stamp{1, t0}, remote: Stamp{2, t0}, want: RemoteWins},
		{name: "lower remote version", local: Stamp{3, t0}, remote: Stamp{2, later}, want: LocalWins},
		{name: "equal version later remote", local: Stamp{2, t0}, remote: Stamp{2, later}, want: RemoteWins},
		{name: "equal version earlier remote", local: Stamp{2, later}, remote: Stamp{2, t0}, want: LocalWins},
		{name: "identical", local: Stamp{2, t0}, remote: Stamp{2, t0}, want: Equal},
		{name: "missing version counts as one", local: Stamp{0, t0}, remote: Stamp{1, t0}, want: Equal},
		{name: "missing remote version loses to two", local: Stamp{2, t0}, remote: Stamp{0, later}, want: LocalWins},
		// A device whose clock runs an hour ahead still loses to a higher version.
		{name: "skewed clock cannot beat version", local: Stamp{5, t0}, remote: Stamp{4, t0.Add(time.Hour)}, want: LocalWins},
		{name: "higher version with older clock wins", local: Stamp{4, t0.Add(time.Hour)}, remote: Stamp{5, t0}, want: RemoteWins},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.local, tt.remote); got != tt.want {
				t.Errorf("Compare() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTasks_AddsRemoteOnly(t *testing.T) {
	remote := []schema.Task{task("r1", 1, t0, schema.SyncPending)}

	res := Tasks(nil, remote, nil)
	if !res.HasChanges || res.Added != 1 {
		t.Fatalf("Tasks() = %+v, want one added", res)
	}
	if res.Merged[0].SyncStatus != schema.SyncSynced {
		t.Errorf("adopted record SyncStatus = %q, want synced", res.Merged[0].SyncStatus)
	}
}

func TestTasks_LowerRemoteVersionNeverChangesLocal(t *testing.T) {
	local := []schema.Task{task("t1", 3, t0, schema.SyncSynced)}
	remoteCopy := task("t1", 2, t0.Add(time.Hour), schema.SyncSynced)
	remoteCopy.Text = "stale text"

	res := Tasks(local, []schema.Task{remoteCopy}, nil)
	if res.HasChanges {
		t.Error("HasChanges = true for a lower remote version")
	}
	if res.Merged[0].Text != "task t1" || res.Merged[0].Version != 3 {
		t.Errorf("local record changed: %+v", res.Merged[0])
	}
	if res.KeptLocal != 1 || !res.NeedsPush() {
		t.Errorf("KeptLocal = %d, NeedsPush = %v", res.KeptLocal, res.NeedsPush())
	}
}

func TestTasks_HigherRemoteVersionReplacesWholeRecord(t *testing.T) {
	local := []schema.Task{task("t1", 1, t0.Add(time.Hour), schema.SyncSynced)}
	remoteCopy := task("t1", 2, t0, schema.SyncSynced)
	remoteCopy.Text = "edited elsewhere"
	remoteCopy.DeviceID = "device_b"

	res := Tasks(local, []schema.Task{remoteCopy}, nil)
	if !res.HasChanges || res.Updated != 1 {
		t.Fatalf("Tasks() = %+v, want one update", res)
	}
	got := res.Merged[0]
	if got.Text != "edited elsewhere" || got.DeviceID != "device_b" || got.Version != 2 {
		t.Errorf("merged = %+v", got)
	}
}

func TestTasks_EqualVersionTimestampTiebreak(t *testing.T) {
	local := []schema.Task{task("t1", 2, t0, schema.SyncSynced)}
	newer := task("t1", 2, t0.Add(time.Second), schema.SyncSynced)
	newer.Text = "newer"

	res := Tasks(local, []schema.Task{newer}, nil)
	if res.Updated != 1 || res.Merged[0].Text != "newer" {
		t.Errorf("later timestamp at equal version did not win: %+v", res)
	}

	res = Tasks([]schema.Task{newer}, local, nil)
	if res.KeptLocal != 1 || res.Merged[0].Text != "newer" {
		t.Errorf("earlier timestamp at equal version won: %+v", res)
	}
}

func TestTasks_TombstoneSuppression(t *testing.T) {
	tombs := NewTombstoneSet("t1")
	remote := []schema.Task{task("t1", 9, t0.Add(time.Hour), schema.SyncSynced)}

	local := []schema.Task{}
	for i := 0; i < 3; i++ {
		res := Tasks(local, remote, tombs)
		if _, ok := ids(res.Merged)["t1"]; ok {
			t.Fatalf("pass %d: tombstoned id reappeared", i)
		}
		if res.Ignored != 1 || res.HasChanges {
			t.Errorf("pass %d: Ignored = %d, HasChanges = %v", i, res.Ignored, res.HasChanges)
		}
		local = res.Merged
	}
}

func TestTasks_TombstonedLocalIsDropped(t *testing.T) {
	local := []schema.Task{task("t1", 1, t0, schema.SyncPending)}
	res := Tasks(local, nil, NewTombstoneSet("t1"))
	if len(res.Merged) != 0 || res.Removed != 1 {
		t.Errorf("Tasks() = %+v, want tombstoned local dropped", res)
	}
}

func TestTasks_AbsenceRemovesConfirmedOnly(t *testing.T) {
	local := []schema.Task{
		task("done-elsewhere", 1, t0, schema.SyncSynced),
		task("legacy", 1, t0, ""),
		task("brand-new", 1, t0, schema.SyncPending),
	}

	res := Tasks(local, nil, nil)
	merged := ids(res.Merged)
	if _, ok := merged["done-elsewhere"]; ok {
		t.Error("confirmed task absent remotely was kept")
	}
	if _, ok := merged["legacy"]; ok {
		t.Error("legacy task without status absent remotely was kept")
	}
	if _, ok := merged["brand-new"]; !ok {
		t.Error("unconfirmed local task was removed")
	}
	if len(res.RemovedIDs) != 2 {
		t.Errorf("RemovedIDs = %v, want 2 ids", res.RemovedIDs)
	}
	if len(res.Unconfirmed) != 1 || res.Unconfirmed[0] != "brand-new" {
		t.Errorf("Unconfirmed = %v", res.Unconfirmed)
	}
	if !res.HasChanges {
		t.Error("HasChanges = false after removals")
	}
}

func TestTasks_Idempotent(t *testing.T) {
	local := []schema.Task{
		task("a", 2, t0, schema.SyncPending),
		task("b", 1, t0, schema.SyncSynced),
		task("gone", 1, t0, schema.SyncSynced),
	}
	remote := []schema.Task{
		task("a", 3, t0.Add(time.Minute), schema.SyncSynced),
		task("b", 1, t0, schema.SyncSynced),
		task("c", 1, t0, schema.SyncPending),
		task("dead", 4, t0, schema.SyncSynced),
	}
	tombs := NewTombstoneSet("dead")

	first := Tasks(local, remote, tombs)
	if !first.HasChanges {
		t.Fatal("first merge reported no changes")
	}
	second := Tasks(first.Merged, remote, tombs)
	if second.HasChanges {
		t.Errorf("second merge HasChanges = true: %+v", second)
	}
	if len(second.Merged) != len(first.Merged) {
		t.Errorf("second merge size %d, first %d", len(second.Merged), len(first.Merged))
	}
}

func TestTasks_DoesNotMutateInputs(t *testing.T) {
	local := []schema.Task{task("a", 1, t0, schema.SyncPending)}
	remote := []schema.Task{task("a", 2, t0, schema.SyncSynced)}
	remote[0].Text = "remote"

	_ = Tasks(local, remote, nil)
	if local[0].Text != "task a" || local[0].SyncStatus != schema.SyncPending {
		t.Errorf("local input mutated: %+v", local[0])
	}
}

// Devices A and B both hold t1 at version 1. A edits it, B deletes it before
// seeing the edit. B's tombstone beats A's higher version.
func TestTasks_DeleteBeatsConcurrentEdit(t *testing.T) {
	base := task("t1", 1, t0, schema.SyncSynced)

	onA := base
	onA.Touch("device_a", t0.Add(2*time.Minute))
	onA.Text = "edited on A"
	serverAfterA := []schema.Task{confirmed(onA)}

	localB := []schema.Task{}
	tombsB := NewTombstoneSet("t1")

	res := Tasks(localB, serverAfterA, tombsB)
	if len(res.Merged) != 0 {
		t.Errorf("t1 reappeared on B: %+v", res.Merged)
	}
	if res.Ignored != 1 {
		t.Errorf("Ignored = %d, want 1", res.Ignored)
	}
}

func TestTasks_SortsNewestFirstAfterAdd(t *testing.T) {
	older := task("older", 1, t0, schema.SyncSynced)
	newer := task("newer", 1, t0, schema.SyncSynced)
	newer.CreatedAt = t0.Add(time.Hour)

	res := Tasks([]schema.Task{older}, []schema.Task{older, newer}, nil)
	if res.Merged[0].ID != "newer" {
		t.Errorf("Merged[0] = %s, want newer", res.Merged[0].ID)
	}
}

func completed(id string, version int, at time.Time) schema.CompletedTask {
	c := task(id, version, at, schema.SyncSynced)
	c.Completed = true
	done := at
	c.CompletedAt = &done
	return c
}

func TestCompletedTasks(t *testing.T) {
	local := []schema.CompletedTask{
		completed("c1", 2, t0),
		completed("local-only", 2, t0),
	}
	fixed := completed("c1", 3, t0)
	fixed.Text = "corrected"
	remote := []schema.CompletedTask{fixed, completed("c2", 2, t0.Add(time.Hour))}

	res := CompletedTasks(local, remote)
	if res.Added != 1 || res.Updated != 1 {
		t.Fatalf("CompletedTasks() = %+v", res)
	}
	if len(res.Merged) != 3 {
		t.Errorf("completed history shrank: %d records", len(res.Merged))
	}
	if res.Merged[0].ID != "c2" {
		t.Errorf("Merged[0] = %s, want newest c2", res.Merged[0].ID)
	}

	again := CompletedTasks(res.Merged, remote)
	if again.HasChanges {
		t.Errorf("second merge HasChanges = true: %+v", again)
	}
}

func TestCompletedTasks_FallsBackToCompletedAt(t *testing.T) {
	l := completed("c1", 1, t0)
	l.LastModified = time.Time{}
	r := completed("c1", 1, t0.Add(time.Minute))
	r.LastModified = time.Time{}

	res := CompletedTasks([]schema.CompletedTask{l}, []schema.CompletedTask{r})
	if res.Updated != 1 {
		t.Errorf("later completedAt did not win: %+v", res)
	}
}

func session(id string, minutes int, at time.Time) schema.WorkSession {
	return schema.WorkSession{ID: id, TaskID: "t1", TaskText: "x", Duration: minutes, CompletedAt: at, Version: 1}
}

func TestWorkSessions(t *testing.T) {
	tests := []struct {
		name        string
		local       schema.WorkSession
		remote      schema.WorkSession
		wantUpdated int
		wantMinutes int
	}{
		{name: "identical", local: session("s", 25, t0), remote: session("s", 25, t0), wantUpdated: 0, wantMinutes: 25},
		{name: "duration correction", local: session("s", 25, t0), remote: session("s", 20, t0), wantUpdated: 1, wantMinutes: 20},
		{name: "time correction", local: session("s", 25, t0), remote: session("s", 25, t0.Add(-time.Minute)), wantUpdated: 1, wantMinutes: 25},
		{
			name:        "lower remote version ignored",
			local:       func() schema.WorkSession { s := session("s", 25, t0); s.Version = 2; return s }(),
			remote:      session("s", 10, t0),
			wantUpdated: 0,
			wantMinutes: 25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := WorkSessions([]schema.WorkSession{tt.local}, []schema.WorkSession{tt.remote})
			if res.Updated != tt.wantUpdated {
				t.Errorf("Updated = %d, want %d", res.Updated, tt.wantUpdated)
			}
			if res.Merged[0].Duration != tt.wantMinutes {
				t.Errorf("Duration = %d, want %d", res.Merged[0].Duration, tt.wantMinutes)
			}
		})
	}
}

func TestWorkSessions_NeverRemovesByAbsence(t *testing.T) {
	local := []schema.WorkSession{session("s1", 25, t0)}
	res := WorkSessions(local, nil)
	if len(res.Merged) != 1 || res.HasChanges {
		t.Errorf("WorkSessions() = %+v", res)
	}
}

func TestArchivedTasks_AddOnly(t *testing.T) {
	mine := task("a1", 1, t0, schema.SyncSynced).Archive(t0)
	mine.Text = "mine"
	theirs := mine
	theirs.Text = "theirs"
	theirs.Version = 7
	other := task("a2", 1, t0, schema.SyncPending).Archive(t0.Add(time.Hour))

	res := ArchivedTasks([]schema.ArchivedTask{mine}, []schema.ArchivedTask{theirs, other})
	if res.Added != 1 || res.InSync != 1 {
		t.Fatalf("ArchivedTasks() = %+v", res)
	}
	if res.Merged[0].ID != "a2" {
		t.Errorf("Merged[0] = %s, want newest archive first", res.Merged[0].ID)
	}
	if res.Merged[1].Text != "mine" {
		t.Errorf("existing archived record was replaced: %+v", res.Merged[1])
	}
}
