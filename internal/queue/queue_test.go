package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// memKV is a concurrency-safe in-memory KV for tests.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) persisted(t *testing.T) []Operation {
	t.Helper()
	raw, _, _ := m.Get(DefaultKey)
	var ops []Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		t.Fatalf("persisted queue is not valid JSON: %v (%s)", err, raw)
	}
	return ops
}

// recorder collects processed batches and signals each one.
type recorder struct {
	mu      sync.Mutex
	batches [][]Operation
	seen    chan int
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan int, 16)}
}

func (r *recorder) process(_ context.Context, ops []Operation) error {
	r.mu.Lock()
	r.batches = append(r.batches, ops)
	n := len(r.batches)
	r.mu.Unlock()
	r.seen <- n
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func testOptions(debounce time.Duration) Options {
	return Options{Debounce: debounce, Logger: log.New(io.Discard, "", 0)}
}

func mustOp(t *testing.T, kind Kind, payload any) Operation {
	t.Helper()
	op, err := NewOperation(kind, payload)
	if err != nil {
		t.Fatalf("NewOperation() failed: %v", err)
	}
	return op
}

func TestEnqueue_CoalescesBurst(t *testing.T) {
	kv := newMemKV()
	rec := newRecorder()
	q := New(kv, rec.process, testOptions(20*time.Millisecond))
	defer q.Close()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(mustOp(t, KindSyncTask, map[string]int{"n": i})); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}
	if err := q.Add(KindDeleteTask, DeletePayload{TaskID: "t1"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	rec.wait(t)
	time.Sleep(50 * time.Millisecond)

	if rec.count() != 1 {
		t.Fatalf("processor called %d times, want 1", rec.count())
	}
	batch := rec.batches[0]
	if len(batch) != 6 {
		t.Fatalf("batch has %d operations, want 6", len(batch))
	}

	groups := GroupByKind(batch)
	if len(groups) != 2 {
		t.Fatalf("GroupByKind() returned %d groups, want 2", len(groups))
	}
	if groups[0].Kind != KindSyncTask || len(groups[0].Ops) != 5 {
		t.Errorf("first group = %s x%d, want sync_task x5", groups[0].Kind, len(groups[0].Ops))
	}
	if groups[1].Kind != KindDeleteTask || len(groups[1].Ops) != 1 {
		t.Errorf("second group = %s x%d, want delete_task x1", groups[1].Kind, len(groups[1].Ops))
	}

	if q.Len() != 0 || len(kv.persisted(t)) != 0 {
		t.Errorf("queue not empty after drain: len %d, persisted %d", q.Len(), len(kv.persisted(t)))
	}
}

func TestEnqueue_PersistsImmediately(t *testing.T) {
	kv := newMemKV()
	q := New(kv, newRecorder().process, testOptions(time.Hour))
	defer q.Close()

	_ = q.Add(KindSyncWorkSession, map[string]string{"id": "s1"})
	_ = q.Add(KindSyncTask, map[string]string{"id": "t1"})

	ops := kv.persisted(t)
	if len(ops) != 2 || ops[0].Kind != KindSyncWorkSession || ops[1].Kind != KindSyncTask {
		t.Errorf("persisted = %+v", ops)
	}
}

func TestEnqueue_UnknownKind(t *testing.T) {
	q := New(newMemKV(), newRecorder().process, testOptions(time.Hour))
	defer q.Close()

	if err := q.Enqueue(Operation{Kind: "log_activity"}); err == nil {
		t.Error("Enqueue() accepted an unknown kind")
	}
	if _, err := NewOperation("bogus", nil); err == nil {
		t.Error("NewOperation() accepted an unknown kind")
	}
}

func TestDrain_ArrivalsDuringProcessingWaitForNextCycle(t *testing.T) {
	kv := newMemKV()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	var mu sync.Mutex
	var batches [][]Operation
	processed := make(chan struct{}, 4)

	proc := func(_ context.Context, ops []Operation) error {
		mu.Lock()
		first := len(batches) == 0
		batches = append(batches, ops)
		mu.Unlock()
		if first {
			started <- struct{}{}
			<-release
		}
		processed <- struct{}{}
		return nil
	}

	q := New(kv, proc, testOptions(10*time.Millisecond))
	defer q.Close()

	_ = q.Add(KindSyncTask, "a")
	<-started

	_ = q.Add(KindSyncCompletedTask, "b")
	time.Sleep(40 * time.Millisecond)

	if !q.Processing() {
		t.Fatal("Processing() = false during blocked batch")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d during drain, want 1", q.Len())
	}

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case <-processed:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for batches")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if len(batches[0]) != 1 || batches[0][0].Kind != KindSyncTask {
		t.Errorf("first batch = %+v", batches[0])
	}
	if len(batches[1]) != 1 || batches[1][0].Kind != KindSyncCompletedTask {
		t.Errorf("second batch = %+v", batches[1])
	}
}

func TestFlush_DrainsImmediately(t *testing.T) {
	rec := newRecorder()
	q := New(newMemKV(), rec.process, testOptions(time.Hour))
	defer q.Close()

	_ = q.Add(KindSyncArchivedTask, "x")
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("processor called %d times, want 1", rec.count())
	}

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() on empty queue failed: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("empty Flush() called the processor")
	}
}

func TestFlush_WaitsForInFlightBatch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	var seen []Kind

	proc := func(_ context.Context, ops []Operation) error {
		mu.Lock()
		first := len(seen) == 0
		for _, op := range ops {
			seen = append(seen, op.Kind)
		}
		mu.Unlock()
		if first {
			started <- struct{}{}
			<-release
		}
		return nil
	}

	q := New(newMemKV(), proc, testOptions(5*time.Millisecond))
	defer q.Close()

	_ = q.Add(KindSyncTask, "a")
	<-started
	_ = q.Add(KindDeleteTask, DeletePayload{TaskID: "a"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[1] != KindDeleteTask {
		t.Errorf("processed kinds = %v, want [sync_task delete_task]", seen)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Flush(), want 0", q.Len())
	}
}

func TestFlush_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 1)

	proc := func(_ context.Context, ops []Operation) error {
		started <- struct{}{}
		<-release
		return nil
	}

	q := New(newMemKV(), proc, testOptions(time.Millisecond))
	defer q.Close()

	_ = q.Add(KindSyncTask, "a")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush() error = %v, want deadline exceeded", err)
	}
}

func TestClear_DropsWithoutProcessing(t *testing.T) {
	kv := newMemKV()
	rec := newRecorder()
	q := New(kv, rec.process, testOptions(30*time.Millisecond))
	defer q.Close()

	_ = q.Add(KindSyncTask, "a")
	_ = q.Add(KindSyncTask, "b")
	q.Clear()

	time.Sleep(80 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("processor called %d times after Clear()", rec.count())
	}
	if len(kv.persisted(t)) != 0 {
		t.Errorf("persisted queue not cleared")
	}
}

func TestFailedBatchIsDropped(t *testing.T) {
	kv := newMemKV()
	calls := make(chan struct{}, 4)
	proc := func(_ context.Context, ops []Operation) error {
		calls <- struct{}{}
		return errors.New("backend unavailable")
	}

	q := New(kv, proc, testOptions(time.Hour))
	defer q.Close()

	_ = q.Add(KindSyncTask, "a")
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	<-calls

	if q.Len() != 0 {
		t.Errorf("failed batch was re-queued: Len() = %d", q.Len())
	}
	if s := q.Stats(); s.Batches != 1 || s.Failed != 1 || s.Enqueued != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestProcessorPanicIsContained(t *testing.T) {
	q := New(newMemKV(), func(context.Context, []Operation) error {
		panic("boom")
	}, testOptions(time.Hour))
	defer q.Close()

	_ = q.Add(KindSyncTask, "a")
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if q.Processing() {
		t.Error("queue left in processing state after panic")
	}
	if q.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", q.Stats().Failed)
	}
}

func TestNew_ResumesPersistedBacklog(t *testing.T) {
	kv := newMemKV()

	first := New(kv, newRecorder().process, testOptions(time.Hour))
	_ = first.Add(KindSyncTask, "a")
	_ = first.Add(KindDeleteTask, DeletePayload{TaskID: "a"})
	first.Close()

	rec := newRecorder()
	second := New(kv, rec.process, testOptions(10*time.Millisecond))
	defer second.Close()

	rec.wait(t)
	if len(rec.batches[0]) != 2 {
		t.Fatalf("resumed batch has %d operations, want 2", len(rec.batches[0]))
	}
	var del DeletePayload
	if err := rec.batches[0][1].Decode(&del); err != nil || del.TaskID != "a" {
		t.Errorf("Decode() = %+v, %v", del, err)
	}
}

func TestNew_BacklogFormats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "current", raw: `[{"kind":"sync_task","payload":{"id":"a"}}]`, want: 1},
		{name: "browser", raw: `[{"type":"delete_task","data":{"taskId":"a","timestamp":1}},{"type":"sync_work_session","data":{"id":"s"}}]`, want: 2},
		{name: "unknown kinds dropped", raw: `[{"type":"log_activity"},{"kind":"sync_task"}]`, want: 1},
		{name: "malformed", raw: `[{"kind":`, want: 0},
		{name: "not a list", raw: `{"kind":"sync_task"}`, want: 0},
		{name: "empty", raw: ``, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newMemKV()
			if tt.raw != "" {
				kv.data[DefaultKey] = []byte(tt.raw)
			}
			q := New(kv, newRecorder().process, testOptions(time.Hour))
			defer q.Close()

			if q.Len() != tt.want {
				t.Errorf("Len() = %d, want %d", q.Len(), tt.want)
			}
		})
	}
}

func TestClose_RejectsEnqueue(t *testing.T) {
	kv := newMemKV()
	q := New(kv, newRecorder().process, testOptions(time.Hour))
	_ = q.Add(KindSyncTask, "a")
	q.Close()

	if err := q.Add(KindSyncTask, "b"); err == nil {
		t.Error("Add() after Close() succeeded")
	}
	if len(kv.persisted(t)) != 1 {
		t.Error("Close() dropped the persisted backlog")
	}
}

func TestOnChange(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	opts := testOptions(time.Hour)
	opts.OnChange = func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}

	q := New(newMemKV(), newRecorder().process, opts)
	defer q.Close()
	_ = q.Add(KindSyncTask, "a")
	_ = q.Add(KindSyncTask, "b")
	q.Clear()

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 0}
	if len(counts) != len(want) {
		t.Fatalf("OnChange counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("OnChange counts = %v, want %v", counts, want)
			break
		}
	}
}
