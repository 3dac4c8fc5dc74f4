package orchestrator

import "sync"

// LockState is the state of an entity-kind lock.
type LockState int

const (
	Idle LockState = iota
	Running
)

// String returns the state name.
func (s LockState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Lock names.
const (
	LockTasks    = "tasks"
	LockStats    = "stats"
	LockArchived = "archived"
	LockFull     = "full"
)

// Lock guards one kind of sync pass. It never queues: a second TryAcquire
// while the lock is held fails and the caller skips its work.
type Lock struct {
	name  string
	mu    sync.Mutex
	state LockState
}

// NewLock returns an idle lock.
func NewLock(name string) *Lock {
	return &Lock{name: name}
}

// Name returns the lock name.
func (l *Lock) Name() string {
	return l.name
}

// TryAcquire moves the lock from Idle to Running. It returns false if the
// lock was already Running.
func (l *Lock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Running {
		return false
	}
	l.state = Running
	return true
}

// Release moves the lock back to Idle.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = Idle
}

// State returns the current state.
func (l *Lock) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
