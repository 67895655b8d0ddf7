package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aigoflow/studio-bridge/internal/models"
)

// recordingProcessor notes processing order and how many items run inside the
// critical section at once.
type recordingProcessor struct {
	mu        sync.Mutex
	order     []string
	active    int32
	maxActive int32
	delay     time.Duration
}

func (p *recordingProcessor) Process(ctx context.Context, item *Item) Outcome {
	n := atomic.AddInt32(&p.active, 1)
	for {
		max := atomic.LoadInt32(&p.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&p.maxActive, max, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.order = append(p.order, item.ID)
	p.mu.Unlock()
	atomic.AddInt32(&p.active, -1)

	return Outcome{Completion: &models.ChatCompletion{ID: "chatcmpl-" + item.ID}}
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

func startQueue(t *testing.T, proc Processor) (*Queue, context.CancelFunc) {
	t.Helper()
	q := New(proc, nil, 50*time.Millisecond, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	return q, cancel
}

func await(t *testing.T, item *Item) Outcome {
	t.Helper()
	select {
	case o := <-item.Result():
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("Item %s never resolved", item.ID)
		return Outcome{}
	}
}

func TestFIFOOrderWithDisconnectSkip(t *testing.T) {
	proc := &recordingProcessor{delay: 20 * time.Millisecond}
	q, cancel := startQueue(t, proc)
	defer cancel()

	liveCtx := context.Background()
	deadCtx, kill := context.WithCancel(context.Background())

	a := q.Enqueue(liveCtx, &models.ChatCompletionRequest{})
	b := q.Enqueue(deadCtx, &models.ChatCompletionRequest{})
	c := q.Enqueue(liveCtx, &models.ChatCompletionRequest{})
	kill() // b's client leaves before it is dequeued

	oa := await(t, a)
	ob := await(t, b)
	oc := await(t, c)

	if oa.Err != nil || oc.Err != nil {
		t.Fatalf("Live items must succeed: %v / %v", oa.Err, oc.Err)
	}
	if ob.Err == nil || !errors.Is(ob.Err, models.ErrClientDisconnected) {
		t.Fatalf("Disconnected item should resolve 499, got %v", ob.Err)
	}

	done := proc.processed()
	if len(done) != 2 || done[0] != a.ID || done[1] != c.ID {
		t.Errorf("Processed order = %v, want [%s %s]", done, a.ID, c.ID)
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	proc := &recordingProcessor{delay: 5 * time.Millisecond}
	q, cancel := startQueue(t, proc)
	defer cancel()

	var items []*Item
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := q.Enqueue(context.Background(), &models.ChatCompletionRequest{})
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, item := range items {
		if o := await(t, item); o.Err != nil {
			t.Fatalf("Item %s failed: %v", item.ID, o.Err)
		}
	}
	if max := atomic.LoadInt32(&proc.maxActive); max > 1 {
		t.Errorf("Observed %d concurrent turns, want at most 1", max)
	}
}

func TestCancelQueuedItem(t *testing.T) {
	// Occupy the worker so the target stays queued.
	proc := &recordingProcessor{delay: 100 * time.Millisecond}
	q, cancel := startQueue(t, proc)
	defer cancel()

	blocker := q.Enqueue(context.Background(), &models.ChatCompletionRequest{})
	victim := q.Enqueue(context.Background(), &models.ChatCompletionRequest{})
	time.Sleep(20 * time.Millisecond) // let the worker pick up the blocker

	if !q.Cancel(victim.ID) {
		t.Fatal("Cancel should find the queued item")
	}
	if q.Cancel(victim.ID) {
		t.Error("Second cancel of the same id should miss")
	}
	if q.Cancel("zzzzzzz") {
		t.Error("Cancel of an unknown id should miss")
	}

	o := await(t, victim)
	if !errors.Is(o.Err, models.ErrClientCancelled) {
		t.Fatalf("Expected ErrClientCancelled, got %v", o.Err)
	}
	if o := await(t, blocker); o.Err != nil {
		t.Fatalf("Blocker should still complete: %v", o.Err)
	}

	for _, id := range proc.processed() {
		if id == victim.ID {
			t.Error("Cancelled item must never reach the processor")
		}
	}
}

func TestSnapshotReportsQueueState(t *testing.T) {
	proc := &recordingProcessor{delay: 100 * time.Millisecond}
	q, cancel := startQueue(t, proc)
	defer cancel()

	q.Enqueue(context.Background(), &models.ChatCompletionRequest{})
	q.Enqueue(context.Background(), &models.ChatCompletionRequest{Stream: true})
	time.Sleep(20 * time.Millisecond)

	s := q.Snapshot()
	if !s.LockHeld {
		t.Error("Lock should be held while a turn is processing")
	}
	if s.Length != 1 {
		t.Errorf("Queue length = %d, want 1 (one processing, one waiting)", s.Length)
	}
	if len(s.Items) != 1 || !s.Items[0].Streaming {
		t.Errorf("Snapshot items wrong: %+v", s.Items)
	}
	if s.Items[0].WaitSeconds < 0 {
		t.Error("Wait time must be non-negative")
	}
}

func TestNewRequestIDShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRequestID()
		if len(id) != 7 {
			t.Fatalf("Request id %q should be 7 chars", id)
		}
		for _, r := range id {
			if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z') {
				t.Fatalf("Request id %q has a non-base36 char", id)
			}
		}
		seen[id] = true
	}
	if len(seen) < 90 {
		t.Errorf("Request ids collide too often: %d unique of 100", len(seen))
	}
}

func TestStreamDrainWaitBounded(t *testing.T) {
	// The worker must not start the next turn until the stream drains or the
	// bounded wait elapses.
	streamDone := make(chan struct{})
	proc := &streamingProcessor{done: streamDone, secondStarted: make(chan struct{})}
	q, cancel := startQueue(t, proc)
	defer cancel()

	first := q.Enqueue(context.Background(), &models.ChatCompletionRequest{Stream: true})
	second := q.Enqueue(context.Background(), &models.ChatCompletionRequest{})

	o := await(t, first)
	if o.StreamDone == nil {
		t.Fatal("Streaming outcome should carry a drain channel")
	}

	select {
	case <-proc.secondStarted:
		t.Fatal("Second turn started before the stream drained")
	case <-time.After(10 * time.Millisecond):
	}

	close(streamDone)
	if o := await(t, second); o.Err != nil {
		t.Fatalf("Second item failed: %v", o.Err)
	}
}

type streamingProcessor struct {
	first         atomic.Bool
	done          chan struct{}
	secondStarted chan struct{}
}

func (p *streamingProcessor) Process(ctx context.Context, item *Item) Outcome {
	if p.first.CompareAndSwap(false, true) {
		return Outcome{Source: nil, Model: "m", StreamDone: p.done}
	}
	close(p.secondStarted)
	return Outcome{Completion: &models.ChatCompletion{ID: "chatcmpl-" + item.ID}}
}
