// Package orchestrator drives synchronization between the local collections
// and the row-store.
//
// It owns the operation queue, the four entity-kind locks and the aggregate
// sync status. A full sync pulls and merges each collection in an
// independent phase; a failing phase is logged and never stops the others.
// Local mutations go through the orchestrator so every change is recorded,
// tombstoned and queued in one place.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pomosync/pomosync/internal/queue"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/state"
)

// ErrSyncInProgress is returned when a full sync is requested while one is running.
var ErrSyncInProgress = errors.New("full sync already in progress")

// DefaultMinServerVersion is the lowest row-store version with stats actions.
const DefaultMinServerVersion = 3

// KeyLastSync is the kv key the last sync time is stored under.
const KeyLastSync = "lastSyncTime"

// Options configures an Orchestrator.
type Options struct {
	// MinServerVersion gates the stats phase.
	MinServerVersion int

	// Queue configures the owned operation queue.
	Queue queue.Options

	Now    func() time.Time
	Logger *log.Logger
}

// Orchestrator coordinates local state, the queue and the row-store.
type Orchestrator struct {
	state  *state.State
	remote Remote
	kv     queue.KV
	queue  *queue.Queue

	tasksLock    *Lock
	statsLock    *Lock
	archivedLock *Lock
	fullLock     *Lock

	minVersion int
	now        func() time.Time
	logger     *log.Logger

	mu            sync.Mutex
	status        Status
	serverVersion int
	versionOK     bool

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

// New creates an orchestrator and its queue. The queue reloads any
// persisted backlog from kv and schedules it.
func New(st *state.State, remote Remote, kv queue.KV, opts Options) *Orchestrator {
	if opts.MinServerVersion <= 0 {
		opts.MinServerVersion = DefaultMinServerVersion
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	o := &Orchestrator{
		state:        st,
		remote:       remote,
		kv:           kv,
		tasksLock:    NewLock(LockTasks),
		statsLock:    NewLock(LockStats),
		archivedLock: NewLock(LockArchived),
		fullLock:     NewLock(LockFull),
		minVersion:   opts.MinServerVersion,
		now:          opts.Now,
		logger:       opts.Logger,
		status:       Status{State: StateIdle},
	}
	o.loadLastSync()

	qopts := opts.Queue
	userOnChange := qopts.OnChange
	qopts.OnChange = func(pending int) {
		if userOnChange != nil {
			userOnChange(pending)
		}
		o.emit(Event{Type: EventQueue, Pending: pending})
	}
	o.queue = queue.New(kv, o.ProcessBatch, qopts)
	return o
}

// State returns the local collections.
func (o *Orchestrator) State() *state.State {
	return o.state
}

// Queue returns the owned operation queue.
func (o *Orchestrator) Queue() *queue.Queue {
	return o.queue
}

// Lock returns the named entity-kind lock, or nil.
func (o *Orchestrator) Lock(name string) *Lock {
	switch name {
	case LockTasks:
		return o.tasksLock
	case LockStats:
		return o.statsLock
	case LockArchived:
		return o.archivedLock
	case LockFull:
		return o.fullLock
	}
	return nil
}

// Busy reports whether a full sync is running.
func (o *Orchestrator) Busy() bool {
	return o.fullLock.State() == Running
}

// Status returns the current aggregate status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status.clone()
	s.Pending = o.queue.Len()
	s.ServerVersion = o.serverVersion
	return s
}

// Subscribe registers fn for every event. fn must not block.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) emit(ev Event) {
	o.listenersMu.RLock()
	listeners := o.listeners
	o.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (o *Orchestrator) emitStatus() {
	s := o.Status()
	o.emit(Event{Type: EventSyncStatus, Status: &s, Pending: s.Pending})
}

func (o *Orchestrator) emitTasks() {
	o.emit(Event{Type: EventTaskUpdate, Tasks: o.state.Tasks(), Pending: o.queue.Len()})
}

func (o *Orchestrator) setState(s SyncState) {
	o.mu.Lock()
	o.status.State = s
	o.mu.Unlock()
	o.emitStatus()
}

func (o *Orchestrator) loadLastSync() {
	raw, ok, err := o.kv.Get(KeyLastSync)
	if err != nil || !ok {
		return
	}
	at, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		o.logger.Printf("Warning: ignoring malformed last sync time %q", raw)
		return
	}
	o.status.LastSync = at
}

func (o *Orchestrator) saveLastSync(at time.Time) {
	if err := o.kv.Put(KeyLastSync, []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
		o.logger.Printf("Warning: failed to persist last sync time: %v", err)
	}
}

// Flush processes pending operations now. Used before shutdown.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.queue.Flush(ctx)
}

// Close stops the queue. Pending operations stay persisted.
func (o *Orchestrator) Close() {
	o.queue.Close()
}

// statsSupported checks the row-store version once it is known to be
// sufficient; until then every call asks again.
func (o *Orchestrator) statsSupported(ctx context.Context) (bool, string) {
	o.mu.Lock()
	if o.versionOK {
		o.mu.Unlock()
		return true, ""
	}
	o.mu.Unlock()

	v, err := o.remote.GetVersion(ctx)
	if err != nil {
		return false, fmt.Sprintf("server version unavailable: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.serverVersion = v.Version
	if v.Version < o.minVersion {
		return false, fmt.Sprintf("server version %d is below required %d", v.Version, o.minVersion)
	}
	o.versionOK = true
	return true, ""
}

// protect runs fn and turns a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func today(now time.Time) string {
	return schema.DayUTC(now)
}
