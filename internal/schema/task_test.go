package schema

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestTask_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid task",
			task:    NewTask("Write report", "device_1_abc", now),
			wantErr: false,
		},
		{
			name:    "missing id",
			task:    Task{Text: "Test", Version: 1},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name:    "missing text",
			task:    Task{ID: "t1", Version: 1},
			wantErr: true,
			errMsg:  "text is required",
		},
		{
			name:    "text too long",
			task:    Task{ID: "t1", Text: strings.Repeat("x", MaxTextLength+1)},
			wantErr: true,
			errMsg:  "characters or less",
		},
		{
			name:    "completed without timestamp",
			task:    Task{ID: "t1", Text: "x", Completed: true},
			wantErr: true,
			errMsg:  "completedAt is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestTask_EffectiveVersion(t *testing.T) {
	tests := []struct {
		version int
		want    int
	}{
		{version: 0, want: 1},
		{version: -3, want: 1},
		{version: 1, want: 1},
		{version: 7, want: 7},
	}
	for _, tt := range tests {
		task := Task{Version: tt.version}
		if got := task.EffectiveVersion(); got != tt.want {
			t.Errorf("EffectiveVersion(%d) = %d, want %d", tt.version, got, tt.want)
		}
	}
}

func TestTask_TouchIncrementsVersion(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	task := NewTask("Draft", "device_a", t0)
	task.SyncStatus = SyncSynced

	prev := task.Version
	for i := 1; i <= 3; i++ {
		task.Touch("device_b", t0.Add(time.Duration(i)*time.Minute))
		if task.Version < prev {
			t.Fatalf("version went backwards: %d -> %d", prev, task.Version)
		}
		prev = task.Version
	}

	if task.Version != 4 {
		t.Errorf("Version = %d, want 4", task.Version)
	}
	if task.DeviceID != "device_b" {
		t.Errorf("DeviceID = %q, want device_b", task.DeviceID)
	}
	if task.SyncStatus != SyncPending {
		t.Errorf("SyncStatus = %q, want pending", task.SyncStatus)
	}
}

func TestTask_Complete(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	task := NewTask("Ship it", "device_a", t0)

	done := task.Complete("device_a", t0.Add(time.Hour))
	if !done.Completed || done.CompletedAt == nil {
		t.Fatalf("Complete() did not mark task completed: %+v", done)
	}
	if done.Version != 2 {
		t.Errorf("Version = %d, want 2", done.Version)
	}
	if task.Completed {
		t.Error("Complete() mutated the receiver")
	}
}

func TestTask_Normalize(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	created := now.Add(-time.Hour)

	task := Task{ID: "legacy", Text: "old", CreatedAt: created}
	task.Normalize("device_x", now)

	if task.Version != 1 {
		t.Errorf("Version = %d, want 1", task.Version)
	}
	if !task.LastModified.Equal(created) {
		t.Errorf("LastModified = %v, want %v", task.LastModified, created)
	}
	if task.DeviceID != "device_x" {
		t.Errorf("DeviceID = %q, want device_x", task.DeviceID)
	}
}

func TestTask_ModifiedAtFallsBackToCompletedAt(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	task := Task{ID: "c1", Text: "x", Completed: true, CompletedAt: &at}
	if got := task.ModifiedAt(); !got.Equal(at) {
		t.Errorf("ModifiedAt() = %v, want %v", got, at)
	}
}

func TestTask_JSONFieldNames(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	archived := NewTask("Read book", "device_a", at).Archive(at)

	data, err := json.Marshal(archived)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"id", "text", "completed", "version", "createdAt", "lastModified", "deviceId", "archivedAt"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("JSON is missing field %q: %s", key, data)
		}
	}
}

func TestTask_OpenTaskSendsNullCompletedAt(t *testing.T) {
	task := NewTask("Write report", "device_a", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"completedAt":null`) {
		t.Errorf("open task should carry completedAt as null: %s", data)
	}

	done := task.Complete("device_a", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	data, err = json.Marshal(done)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"completedAt":"2025-03-01T10:00:00Z"`) {
		t.Errorf("completed task completedAt = %s", data)
	}
}

func TestTask_UnmarshalBrowserRecord(t *testing.T) {
	raw := `{"id":"7f1c","text":"Legacy","completed":false,"createdAt":"2024-05-01T10:00:00.000Z","lastModified":"2024-05-01T10:05:00.000Z","deviceId":"device_1714557600000_k2j3h4g5f"}`

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if task.EffectiveVersion() != 1 {
		t.Errorf("EffectiveVersion() = %d, want 1", task.EffectiveVersion())
	}
	if task.LastModified.Minute() != 5 {
		t.Errorf("LastModified = %v", task.LastModified)
	}
}

func TestNewDeviceID(t *testing.T) {
	now := time.UnixMilli(1714557600000)
	id := NewDeviceID(now)

	pattern := regexp.MustCompile(`^device_1714557600000_[0-9a-z]{9}$`)
	if !pattern.MatchString(id) {
		t.Errorf("NewDeviceID() = %q, does not match %s", id, pattern)
	}
	if other := NewDeviceID(now); other == id {
		t.Errorf("NewDeviceID() returned the same id twice: %q", id)
	}
}

func TestNewWorkSession(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	s := NewWorkSession("t1", "", 20*time.Second, "device_a", now)
	if s.Duration != 1 {
		t.Errorf("Duration = %d, want 1 (rounded up)", s.Duration)
	}
	if s.TaskText != "Unknown task" {
		t.Errorf("TaskText = %q, want placeholder", s.TaskText)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	long := NewWorkSession("t1", "Focus", 25*time.Minute+40*time.Second, "device_a", now)
	if long.Duration != 25 {
		t.Errorf("Duration = %d, want 25", long.Duration)
	}
}

func TestDayUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	at := time.Date(2025, 3, 2, 5, 0, 0, 0, loc)
	if got := DayUTC(at); got != "2025-03-01" {
		t.Errorf("DayUTC() = %q, want 2025-03-01", got)
	}
}
