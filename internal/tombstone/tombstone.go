// Package tombstone records ids removed locally so a stale remote read can
// never bring them back.
//
// Entries are persisted as a JSON array of [id, unix-ms] pairs under a single
// key. Older clients wrote a bare array of ids; those load with the current
// time as their timestamp. A malformed value is discarded and the tracker
// starts empty.
package tombstone

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultRetention is how long a tombstone is kept before pruning.
const DefaultRetention = 90 * 24 * time.Hour

// DefaultKey is the kv key the tombstone map is stored under.
const DefaultKey = "pomodoroDeletedTaskIds"

// KV is the durable key-value store the tracker persists to.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// CompletedLookup reports whether id is in the completed-task collection.
type CompletedLookup func(id string) bool

// Options configures a Tracker.
type Options struct {
	Key       string
	Retention time.Duration
	Completed CompletedLookup
	Now       func() time.Time
	Logger    *log.Logger
}

// Tracker is the set of locally removed ids with the time each was removed.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	kv        KV
	key       string
	retention time.Duration
	completed CompletedLookup
	now       func() time.Time
	logger    *log.Logger
}

// New creates a tracker backed by kv. Call Load before use.
func New(kv KV, opts Options) *Tracker {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[tombstone] ", log.LstdFlags)
	}
	return &Tracker{
		entries:   make(map[string]time.Time),
		kv:        kv,
		key:       opts.Key,
		retention: opts.Retention,
		completed: opts.Completed,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

// SetCompletedLookup installs the completed-collection check used by IsTombstoned.
func (t *Tracker) SetCompletedLookup(fn CompletedLookup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = fn
}

// Load reads the persisted entries and prunes expired ones. Legacy entries
// are rewritten in the pair format once, so their timestamps stick.
// Missing or malformed state leaves the tracker empty; only store read
// and write failures are returned.
func (t *Tracker) Load() error {
	raw, ok, err := t.kv.Get(t.key)
	if err != nil {
		return fmt.Errorf("failed to read tombstones: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]time.Time)
	migrated := false
	if ok && len(raw) > 0 {
		entries, legacy, err := decode(raw, t.now())
		if err != nil {
			t.logger.Printf("Warning: discarding malformed tombstones: %v", err)
		} else {
			t.entries = entries
			migrated = legacy
			if migrated {
				t.logger.Printf("Migrated %d legacy tombstones", len(entries))
			}
		}
	}

	if removed := t.pruneLocked(); removed > 0 || migrated {
		return t.saveLocked()
	}
	return nil
}

// Record tombstones id at the current time and persists the map.
func (t *Tracker) Record(id string) error {
	if id == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = t.now()
	t.pruneLocked()
	return t.saveLocked()
}

// IsTombstoned reports whether id was removed locally or already completed.
// Age is not considered; expiry is handled by Prune.
func (t *Tracker) IsTombstoned(id string) bool {
	t.mu.Lock()
	_, ok := t.entries[id]
	completed := t.completed
	t.mu.Unlock()

	if ok {
		return true
	}
	return completed != nil && completed(id)
}

// Prune drops entries older than the retention window and returns how many
// were removed. The map is persisted only when something was removed.
func (t *Tracker) Prune() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := t.pruneLocked()
	if removed == 0 {
		return 0, nil
	}
	return removed, t.saveLocked()
}

// Len returns the number of live entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// IDs returns the tombstoned ids, sorted.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordedAt returns when id was tombstoned.
func (t *Tracker) RecordedAt(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.entries[id]
	return at, ok
}

func (t *Tracker) pruneLocked() int {
	cutoff := t.now().Add(-t.retention)
	removed := 0
	for id, at := range t.entries {
		if at.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) saveLocked() error {
	data, err := encode(t.entries)
	if err != nil {
		return fmt.Errorf("failed to encode tombstones: %w", err)
	}
	if err := t.kv.Put(t.key, data); err != nil {
		return fmt.Errorf("failed to persist tombstones: %w", err)
	}
	return nil
}

// Export writes the persisted form of the map to w.
func (t *Tracker) Export(w io.Writer) error {
	t.mu.Lock()
	data, err := encode(t.entries)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Merge adds entries from a persisted map (either format) without
// overwriting newer local timestamps, then persists.
func (t *Tracker) Merge(raw []byte) (int, error) {
	entries, _, err := decode(raw, t.now())
	if err != nil {
		return 0, fmt.Errorf("failed to decode tombstones: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for id, at := range entries {
		if cur, ok := t.entries[id]; ok && !at.After(cur) {
			continue
		}
		if _, ok := t.entries[id]; !ok {
			added++
		}
		t.entries[id] = at
	}
	t.pruneLocked()
	return added, t.saveLocked()
}
