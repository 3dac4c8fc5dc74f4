package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pomosync/pomosync/internal/db"
	"github.com/pomosync/pomosync/internal/merge"
	"github.com/pomosync/pomosync/internal/queue"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/tombstone"
)

// Store is the local store an export is imported into. *db.DB implements it.
type Store interface {
	tombstone.KV
	LoadSnapshot(ctx context.Context) (*db.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *db.Snapshot) error
}

// Options contains configuration for the import.
type Options struct {
	// DryRun computes the result without writing.
	DryRun bool

	// DeviceID stamps legacy records that carry none. Defaults to the
	// export's device id.
	DeviceID string

	Now    func() time.Time
	Logger *log.Logger
}

// Result contains statistics about the import.
type Result struct {
	Tasks      int
	Completed  int
	Sessions   int
	Archived   int
	Tombstones int
	QueuedOps  int

	// Skipped counts records that failed validation.
	Skipped int

	DeviceID string
	Endpoint string
	LastSync time.Time
	Errors   []string
}

// Import folds exp into store. Records already present locally are replaced
// only when the imported copy wins version-then-timestamp comparison.
func Import(ctx context.Context, exp *Export, store Store, opts Options) (*Result, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.DeviceID == "" {
		opts.DeviceID = exp.DeviceID
	}
	now := opts.Now()

	res := &Result{DeviceID: exp.DeviceID}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load local state: %w", err)
	}

	if exp.Data != nil {
		res.Endpoint = exp.Data.GoogleSheetsWebhook
		if exp.Data.LastSyncTime != "" {
			if at, err := time.Parse(time.RFC3339Nano, exp.Data.LastSyncTime); err == nil {
				res.LastSync = at
			} else {
				res.Errors = append(res.Errors, fmt.Sprintf("lastSyncTime: %v", err))
			}
		}
		if err := importCollections(exp.Data, snap, res, opts.DeviceID, now); err != nil {
			return nil, err
		}
	}

	ops, err := decodeQueue(exp.Queue, res)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		if exp.Tombstones != nil {
			var entries []json.RawMessage
			if err := json.Unmarshal(exp.Tombstones, &entries); err == nil {
				res.Tombstones = len(entries)
			}
		}
		opts.Logger.Printf("Dry run: would import %d tasks, %d completed, %d sessions, %d archived",
			res.Tasks, res.Completed, res.Sessions, res.Archived)
		return res, nil
	}

	if err := store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save imported state: %w", err)
	}

	if exp.Tombstones != nil {
		tr := tombstone.New(store, tombstone.Options{Now: opts.Now, Logger: opts.Logger})
		if err := tr.Load(); err != nil {
			return nil, err
		}
		if res.Tombstones, err = tr.Merge(exp.Tombstones); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	if len(ops) > 0 {
		if err := appendQueue(store, ops); err != nil {
			return nil, err
		}
	}

	if err := putIfMissing(store, db.KeyDeviceID, exp.DeviceID); err != nil {
		return nil, err
	}
	if !res.LastSync.IsZero() {
		if err := putIfMissing(store, db.KeyLastSync, res.LastSync.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, err
		}
	}

	opts.Logger.Printf("Imported %d tasks, %d completed, %d sessions, %d archived, %d tombstones, %d queued operations",
		res.Tasks, res.Completed, res.Sessions, res.Archived, res.Tombstones, res.QueuedOps)
	return res, nil
}

func importCollections(data *LegacyData, snap *db.Snapshot, res *Result, deviceID string, now time.Time) error {
	tasks, err := decodeRecords[schema.Task](data.Tasks)
	if err != nil {
		return fmt.Errorf("invalid tasks: %w", err)
	}
	completed, err := decodeRecords[schema.CompletedTask](data.CompletedTasks)
	if err != nil {
		return fmt.Errorf("invalid completedTasks: %w", err)
	}
	sessions, err := decodeRecords[schema.WorkSession](data.WorkSessions)
	if err != nil {
		return fmt.Errorf("invalid workSessions: %w", err)
	}
	archived, err := decodeRecords[schema.ArchivedTask](data.ArchivedTasks)
	if err != nil {
		return fmt.Errorf("invalid archivedTasks: %w", err)
	}

	// Legacy task records are unconfirmed until the next sync.
	var validTasks []schema.Task
	for _, t := range tasks {
		t.Normalize(deviceID, now)
		t.SyncStatus = schema.SyncPending
		if err := t.Validate(); err != nil {
			res.skip("task", t.ID, err)
			continue
		}
		validTasks = append(validTasks, t)
	}
	var validCompleted []schema.CompletedTask
	for _, c := range completed {
		c.Completed = true
		c.Normalize(deviceID, now)
		if err := c.Validate(); err != nil {
			res.skip("completed task", c.ID, err)
			continue
		}
		validCompleted = append(validCompleted, c)
	}
	var validSessions []schema.WorkSession
	for _, s := range sessions {
		if s.DeviceID == "" {
			s.DeviceID = deviceID
		}
		if err := s.Validate(); err != nil {
			res.skip("work session", s.ID, err)
			continue
		}
		validSessions = append(validSessions, s)
	}
	var validArchived []schema.ArchivedTask
	for _, a := range archived {
		a.Normalize(deviceID, now)
		if a.ArchivedAt.IsZero() {
			a.ArchivedAt = a.LastModified
		}
		if err := a.Validate(); err != nil {
			res.skip("archived task", a.ID, err)
			continue
		}
		validArchived = append(validArchived, a)
	}

	// An id lives in one collection only; later lifecycle stages win.
	done := make(map[string]struct{})
	for _, c := range validCompleted {
		done[c.ID] = struct{}{}
	}
	for _, a := range validArchived {
		done[a.ID] = struct{}{}
	}
	for _, c := range snap.Completed {
		done[c.ID] = struct{}{}
	}
	for _, a := range snap.Archived {
		done[a.ID] = struct{}{}
	}
	active := validTasks[:0]
	for _, t := range validTasks {
		if _, ok := done[t.ID]; ok {
			continue
		}
		active = append(active, t)
	}

	snap.Tasks, res.Tasks = upsertNewer(snap.Tasks, active, taskStamp)
	snap.Completed, res.Completed = upsertNewer(snap.Completed, validCompleted, taskStamp)
	snap.Sessions, res.Sessions = upsertNewer(snap.Sessions, validSessions, func(s *schema.WorkSession) (string, merge.Stamp) {
		return s.ID, merge.Stamp{Version: s.Version, At: s.CompletedAt}
	})
	snap.Archived, res.Archived = upsertNewer(snap.Archived, validArchived, func(a *schema.ArchivedTask) (string, merge.Stamp) {
		return a.ID, merge.Stamp{Version: a.Version, At: a.ArchivedAt}
	})

	if len(done) > 0 {
		kept := snap.Tasks[:0]
		for _, t := range snap.Tasks {
			if _, ok := done[t.ID]; !ok {
				kept = append(kept, t)
			}
		}
		snap.Tasks = kept
	}
	return nil
}

func taskStamp(t *schema.Task) (string, merge.Stamp) {
	return t.ID, merge.Stamp{Version: t.Version, At: t.ModifiedAt()}
}

// upsertNewer adds imported records to existing, replacing an existing
// record only when the imported one wins. It returns how many were taken.
func upsertNewer[T any](existing, imported []T, stamp func(*T) (string, merge.Stamp)) ([]T, int) {
	index := make(map[string]int, len(existing))
	for i := range existing {
		id, _ := stamp(&existing[i])
		index[id] = i
	}

	taken := 0
	for _, rec := range imported {
		id, st := stamp(&rec)
		i, ok := index[id]
		if !ok {
			index[id] = len(existing)
			existing = append(existing, rec)
			taken++
			continue
		}
		_, cur := stamp(&existing[i])
		if merge.Compare(cur, st) == merge.RemoteWins {
			existing[i] = rec
			taken++
		}
	}
	return existing, taken
}

func (r *Result) skip(kind, id string, err error) {
	r.Skipped++
	r.Errors = append(r.Errors, fmt.Sprintf("%s %q: %v", kind, id, err))
}

func decodeQueue(raw json.RawMessage, res *Result) ([]queue.Operation, error) {
	if raw == nil {
		return nil, nil
	}
	var ops []queue.Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", KeyQueue, err))
		return nil, nil
	}
	valid := ops[:0]
	for _, op := range ops {
		if !op.Kind.Valid() {
			res.Errors = append(res.Errors, fmt.Sprintf("queued operation of unknown kind %q dropped", op.Kind))
			continue
		}
		valid = append(valid, op)
	}
	res.QueuedOps = len(valid)
	return valid, nil
}

// appendQueue adds ops behind the local backlog.
func appendQueue(store Store, ops []queue.Operation) error {
	var backlog []queue.Operation
	raw, ok, err := store.Get(queue.DefaultKey)
	if err != nil {
		return err
	}
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &backlog); err != nil {
			backlog = nil
		}
	}
	data, err := json.Marshal(append(backlog, ops...))
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}
	return store.Put(queue.DefaultKey, data)
}

func putIfMissing(store Store, key, value string) error {
	if value == "" {
		return nil
	}
	_, ok, err := store.Get(key)
	if err != nil || ok {
		return err
	}
	return store.Put(key, []byte(value))
}
