package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pomosync/pomosync/internal/schema"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// openTestDB opens an initialized database that is closed with the test.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open("file:" + path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Second InitSchema() failed: %v", err)
	}

	tables := []string{"kv", TableTasks, TableCompleted, TableSessions, TableArchived}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestClose_Twice(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestKV_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want false, nil", ok, err)
	}

	if err := db.Put(KeyPendingOps, []byte(`[{"kind":"sync_task"}]`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := db.Put(KeyPendingOps, []byte(`[]`)); err != nil {
		t.Fatalf("Put() overwrite failed: %v", err)
	}

	value, ok, err := db.Get(KeyPendingOps)
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if string(value) != "[]" {
		t.Errorf("Get() = %q, want []", value)
	}

	if err := db.Delete(KeyPendingOps); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete(KeyPendingOps); err != nil {
		t.Errorf("Delete() should be idempotent: %v", err)
	}
	if _, ok, _ := db.Get(KeyPendingOps); ok {
		t.Error("key still present after Delete()")
	}
}

func TestDeviceID_Stable(t *testing.T) {
	db := openTestDB(t)

	calls := 0
	gen := func() string {
		calls++
		return "device_1_abc"
	}

	first, err := db.DeviceID(gen)
	if err != nil {
		t.Fatalf("DeviceID() failed: %v", err)
	}
	second, err := db.DeviceID(gen)
	if err != nil {
		t.Fatalf("DeviceID() failed: %v", err)
	}
	if first != second || calls != 1 {
		t.Errorf("DeviceID() = %q then %q with %d generator calls", first, second, calls)
	}
}

func TestReplaceTasks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	a := schema.NewTask("first", "device_a", t0)
	b := schema.NewTask("second", "device_a", t0.Add(time.Minute))
	if err := db.ReplaceTasks(ctx, []schema.Task{a, b}); err != nil {
		t.Fatalf("ReplaceTasks() failed: %v", err)
	}

	tasks, err := db.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != b.ID {
		t.Fatalf("ListTasks() = %+v, want newest first", tasks)
	}

	if err := db.ReplaceTasks(ctx, []schema.Task{a}); err != nil {
		t.Fatalf("ReplaceTasks() failed: %v", err)
	}
	tasks, _ = db.ListTasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != a.ID {
		t.Errorf("ReplaceTasks() did not overwrite the collection: %+v", tasks)
	}
}

func TestListCompleted_DayFilter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	day1 := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	day2 := day1.Add(time.Hour)

	c1 := schema.NewTask("a", "device_a", day1).Complete("device_a", day1)
	c2 := schema.NewTask("b", "device_a", day2).Complete("device_a", day2)
	if err := db.UpsertCompleted(ctx, []schema.CompletedTask{c1, c2}); err != nil {
		t.Fatalf("UpsertCompleted() failed: %v", err)
	}

	got, err := db.ListCompleted(ctx, "2025-03-02")
	if err != nil {
		t.Fatalf("ListCompleted() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != c2.ID {
		t.Errorf("ListCompleted(2025-03-02) = %+v, want only %s", got, c2.ID)
	}

	all, _ := db.ListCompleted(ctx, "")
	if len(all) != 2 {
		t.Errorf("ListCompleted(\"\") returned %d rows, want 2", len(all))
	}
}

func TestUpsert_ReplacesByID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	s := schema.NewWorkSession("t1", "Focus", 25*time.Minute, "device_a", at)
	if err := db.UpsertSessions(ctx, []schema.WorkSession{s}); err != nil {
		t.Fatalf("UpsertSessions() failed: %v", err)
	}
	s.Duration = 30
	if err := db.UpsertSessions(ctx, []schema.WorkSession{s}); err != nil {
		t.Fatalf("UpsertSessions() failed: %v", err)
	}

	sessions, err := db.ListSessions(ctx, schema.DayUTC(at))
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Duration != 30 {
		t.Errorf("ListSessions() = %+v, want one session of 30 minutes", sessions)
	}
}

func TestUpsert_RequiresID(t *testing.T) {
	db := openTestDB(t)
	err := db.UpsertArchived(context.Background(), []schema.ArchivedTask{{}})
	if err == nil {
		t.Fatal("UpsertArchived() accepted a record without id")
	}
}

func TestCompleteTask_Atomic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	task := schema.NewTask("finish", "device_a", at)
	if err := db.ReplaceTasks(ctx, []schema.Task{task}); err != nil {
		t.Fatalf("ReplaceTasks() failed: %v", err)
	}

	done := task.Complete("device_a", at.Add(time.Hour))
	session := schema.NewWorkSession(task.ID, task.Text, 25*time.Minute, "device_a", at.Add(time.Hour))
	if err := db.CompleteTask(ctx, done, &session); err != nil {
		t.Fatalf("CompleteTask() failed: %v", err)
	}

	tasks, _ := db.ListTasks(ctx)
	if len(tasks) != 0 {
		t.Errorf("active tasks = %d, want 0", len(tasks))
	}
	completed, _ := db.ListCompleted(ctx, "")
	if len(completed) != 1 || completed[0].Version != 2 {
		t.Errorf("completed = %+v, want the version 2 record", completed)
	}
	sessions, _ := db.ListSessions(ctx, "")
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	active := schema.NewTask("active", "device_a", at)
	archived := schema.NewTask("old", "device_a", at).Archive(at.Add(time.Hour))
	snap := &Snapshot{
		Tasks:     []schema.Task{active},
		Completed: []schema.CompletedTask{schema.NewTask("done", "device_a", at).Complete("device_a", at)},
		Sessions:  []schema.WorkSession{schema.NewWorkSession(active.ID, active.Text, time.Hour, "device_a", at)},
		Archived:  []schema.ArchivedTask{archived},
	}
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	got, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot() failed: %v", err)
	}
	if len(got.Tasks) != 1 || len(got.Completed) != 1 || len(got.Sessions) != 1 || len(got.Archived) != 1 {
		t.Fatalf("LoadSnapshot() = %+v", got)
	}
	if !got.Archived[0].ArchivedAt.Equal(archived.ArchivedAt) {
		t.Errorf("ArchivedAt = %v, want %v", got.Archived[0].ArchivedAt, archived.ArchivedAt)
	}

	if err := db.SaveSnapshot(ctx, &Snapshot{}); err != nil {
		t.Fatalf("SaveSnapshot(empty) failed: %v", err)
	}
	got, _ = db.LoadSnapshot(ctx)
	if len(got.Tasks) != 0 || len(got.Archived) != 0 {
		t.Errorf("empty snapshot left rows behind: %+v", got)
	}
}
