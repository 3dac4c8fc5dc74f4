package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pomosync/pomosync/internal/db"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/tombstone"
)

func TestParseDay(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "2025-03-02", false},
		{"2025-01-15", "2025-01-15", false},
		{"today", "2025-03-02", false},
		{"yesterday", "2025-03-01", false},
		{"  yesterday ", "2025-03-01", false},
		{"banana", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDay(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDay(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// execute runs the root command against an isolated home and data dir.
func execute(t *testing.T, dataDir string, args ...string) {
	t.Helper()
	rootCmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("pomosync %s: %v", strings.Join(args, " "), err)
	}
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("POMOSYNC_ENDPOINT", "")
	t.Chdir(home)
	return filepath.Join(home, "data")
}

func TestCommands_OfflineTaskLifecycle(t *testing.T) {
	dataDir := isolate(t)
	ctx := context.Background()

	execute(t, dataDir, "add", "write", "report")
	execute(t, dataDir, "add", "read", "paper")

	listTasks := func() []schema.Task {
		t.Helper()
		store, err := db.Open(filepath.Join(dataDir, "pomosync.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer store.Close()
		tasks, err := store.ListTasks(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return tasks
	}

	tasks := listTasks()
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	var writeID, readID string
	for _, task := range tasks {
		if task.SyncStatus != schema.SyncPending {
			t.Errorf("task %q status = %q, want pending", task.Text, task.SyncStatus)
		}
		switch task.Text {
		case "write report":
			writeID = task.ID
		case "read paper":
			readID = task.ID
		}
	}
	if writeID == "" || readID == "" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	execute(t, dataDir, "edit", writeID[:8], "write", "final", "report")
	execute(t, dataDir, "session", writeID[:8], "-m", "25")
	execute(t, dataDir, "done", writeID[:8])

	exportPath := filepath.Join(t.TempDir(), "state.yaml")
	execute(t, dataDir, "export", "-o", exportPath)
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"write final report", "completedTasks:", "workSessions:"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %q:\n%s", want, data)
		}
	}

	execute(t, dataDir, "rm", readID)

	if remaining := listTasks(); len(remaining) != 0 {
		t.Errorf("active tasks after done and rm = %+v", remaining)
	}

	store, err := db.Open(filepath.Join(dataDir, "pomosync.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	completed, err := store.ListCompleted(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 || completed[0].Text != "write final report" {
		t.Errorf("completed = %+v", completed)
	}
	sessions, err := store.ListSessions(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Duration != 25 {
		t.Errorf("sessions = %+v", sessions)
	}
	if _, ok, err := store.Get(tombstone.DefaultKey); err != nil || !ok {
		t.Errorf("tombstones not persisted (ok=%v, err=%v)", ok, err)
	}
}

func TestInit_WritesConfig(t *testing.T) {
	dataDir := isolate(t)
	path := filepath.Join(t.TempDir(), "pomosync.yaml")

	execute(t, dataDir, "--config", path, "--endpoint", "https://rows.example.com/exec", "init", "--yes")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"endpoint: https://rows.example.com/exec", "data_dir: " + dataDir} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config missing %q:\n%s", want, data)
		}
	}

	rootCmd.SetArgs([]string{"--data-dir", dataDir, "--config", path, "init", "--yes"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("init over an existing config succeeded without --force")
	}
}
