// Package queue buffers local mutation intents and hands them to a batch
// processor once edits settle.
//
// Every Enqueue persists the whole pending list and restarts the debounce
// timer. When the timer fires the queue captures its contents, clears and
// persists itself, then calls the processor with the captured batch.
// Operations enqueued while a batch is being processed wait for the next
// cycle. Only one batch is processed at a time.
//
// Delivery is at-most-once: a batch that fails is logged and dropped. The
// entity collections remain authoritative and are re-offered by the next
// full sync.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a batch is processed.
const DefaultDebounce = 500 * time.Millisecond

// DefaultKey is the kv key the pending list is stored under.
const DefaultKey = "pomodoroSyncQueue"

// KV is the durable key-value store the queue persists to.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// Processor handles one captured batch.
type Processor func(ctx context.Context, ops []Operation) error

// Options configures a Queue.
type Options struct {
	Key      string
	Debounce time.Duration
	Logger   *log.Logger

	// OnChange is called with the pending count after it changes.
	OnChange func(pending int)
}

// Stats counts queue activity since construction.
type Stats struct {
	Enqueued int `json:"enqueued"`
	Batches  int `json:"batches"`
	Failed   int `json:"failed"`
}

// Queue is a debounced, persisted list of pending operations.
type Queue struct {
	mu         sync.Mutex
	ops        []Operation
	timer      *time.Timer
	processing bool
	done       chan struct{} // closed when the in-flight batch finishes
	closed     bool
	stats      Stats

	kv        KV
	key       string
	debounce  time.Duration
	processor Processor
	logger    *log.Logger
	onChange  func(int)

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue, reloads any persisted backlog and schedules it for
// processing. A malformed backlog is discarded.
func New(kv KV, processor Processor, opts Options) *Queue {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		kv:        kv,
		key:       opts.Key,
		debounce:  opts.Debounce,
		processor: processor,
		logger:    opts.Logger,
		onChange:  opts.OnChange,
		ctx:       ctx,
		cancel:    cancel,
	}

	q.load()

	q.mu.Lock()
	if len(q.ops) > 0 {
		q.logger.Printf("Loaded %d persisted operations", len(q.ops))
		q.scheduleLocked()
	}
	q.mu.Unlock()

	return q
}

func (q *Queue) load() {
	raw, ok, err := q.kv.Get(q.key)
	if err != nil {
		q.logger.Printf("Warning: failed to read persisted queue: %v", err)
		return
	}
	if !ok || len(raw) == 0 {
		return
	}

	var ops []Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		q.logger.Printf("Warning: discarding malformed persisted queue: %v", err)
		q.persistLocked()
		return
	}

	for _, op := range ops {
		if !op.Kind.Valid() {
			q.logger.Printf("Warning: dropping persisted operation of unknown kind %q", op.Kind)
			continue
		}
		q.ops = append(q.ops, op)
	}
}

// Enqueue appends op, persists the pending list and restarts the debounce timer.
func (q *Queue) Enqueue(op Operation) error {
	if !op.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	q.ops = append(q.ops, op)
	q.stats.Enqueued++
	q.persistLocked()
	q.scheduleLocked()
	pending := len(q.ops)
	q.mu.Unlock()

	q.notify(pending)
	return nil
}

// Add encodes payload and enqueues it.
func (q *Queue) Add(kind Kind, payload any) error {
	op, err := NewOperation(kind, payload)
	if err != nil {
		return err
	}
	return q.Enqueue(op)
}

// Flush cancels the debounce timer and processes the pending list now,
// waiting for an in-flight batch first. It returns when the flushed batch
// has been processed or ctx is done.
func (q *Queue) Flush(ctx context.Context) error {
	for {
		q.mu.Lock()
		q.stopTimerLocked()

		if q.processing {
			done := q.done
			q.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if len(q.ops) == 0 {
			q.mu.Unlock()
			return nil
		}

		q.logger.Printf("Flushing %d pending operations", len(q.ops))
		batch, done := q.captureLocked()
		q.mu.Unlock()

		q.run(ctx, batch, done)
		return nil
	}
}

// Clear empties the pending list and cancels the timer without processing.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.stopTimerLocked()
	q.ops = nil
	q.persistLocked()
	q.mu.Unlock()

	q.notify(0)
}

// Close stops the timer and rejects further operations. Pending operations
// stay persisted for the next start.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.stopTimerLocked()
	q.mu.Unlock()
	q.cancel()
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Pending returns a copy of the pending operations.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Processing reports whether a batch is in flight.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Stats returns activity counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) scheduleLocked() {
	if q.closed {
		return
	}
	q.stopTimerLocked()
	q.timer = time.AfterFunc(q.debounce, q.fire)
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// fire runs on the debounce timer.
func (q *Queue) fire() {
	q.mu.Lock()
	q.timer = nil
	if q.processing || len(q.ops) == 0 || q.closed {
		q.mu.Unlock()
		return
	}
	batch, done := q.captureLocked()
	q.mu.Unlock()

	q.run(q.ctx, batch, done)
}

// captureLocked takes the pending list and marks a batch in flight.
func (q *Queue) captureLocked() ([]Operation, chan struct{}) {
	batch := q.ops
	q.ops = nil
	q.persistLocked()
	q.processing = true
	q.done = make(chan struct{})
	return batch, q.done
}

func (q *Queue) run(ctx context.Context, batch []Operation, done chan struct{}) {
	q.notify(0)
	q.logger.Printf("Processing %d queued operations", len(batch))

	err := q.process(ctx, batch)

	q.mu.Lock()
	q.stats.Batches++
	if err != nil {
		q.stats.Failed++
	}
	q.processing = false
	close(done)
	pending := len(q.ops)
	if pending > 0 {
		q.scheduleLocked()
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Printf("Warning: batch processing failed: %v", err)
	}
	if pending > 0 {
		q.notify(pending)
	}
}

func (q *Queue) process(ctx context.Context, batch []Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return q.processor(ctx, batch)
}

func (q *Queue) persistLocked() {
	ops := q.ops
	if ops == nil {
		ops = []Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		q.logger.Printf("Warning: failed to encode queue: %v", err)
		return
	}
	if err := q.kv.Put(q.key, data); err != nil {
		q.logger.Printf("Warning: failed to persist queue: %v", err)
	}
}

func (q *Queue) notify(pending int) {
	if q.onChange != nil {
		q.onChange(pending)
	}
}
