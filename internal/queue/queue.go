// Package queue serializes all page work: an unbounded FIFO of pending
// requests drained by a single worker that admits at most one in-flight
// browser interaction.
package queue

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aigoflow/studio-bridge/internal/models"
	"github.com/aigoflow/studio-bridge/internal/stream"
)

// scanLimit bounds the proactive disconnect scan so a huge queue cannot
// stall the worker before it reaches live work.
const scanLimit = 10

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRequestID returns the 7-char random base36 id used to tag a request
// across logs, errors, and snapshots.
func NewRequestID() string {
	b := make([]byte, 7)
	max := big.NewInt(int64(len(base36)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			b[i] = base36[time.Now().UnixNano()%36]
			continue
		}
		b[i] = base36[n.Int64()]
	}
	return string(b)
}

// Outcome is what a processed item resolves to. Exactly one of Err,
// Completion, or Source is meaningful.
type Outcome struct {
	Err        error
	Completion *models.ChatCompletion

	// Streaming: the handler drives Source through the assembler and closes
	// StreamDone when the generator has fully drained.
	Source     stream.Source
	Model      string
	StreamDone chan struct{}
}

// Item is one queued request plus its single-assignment result slot. The
// request context doubles as the client-liveness handle.
type Item struct {
	ID         string
	Request    *models.ChatCompletionRequest
	Ctx        context.Context
	EnqueuedAt time.Time

	result    chan Outcome
	once      sync.Once
	cancelled atomic.Bool
}

// Resolve assigns the result slot; later calls are no-ops.
func (it *Item) Resolve(o Outcome) {
	it.once.Do(func() {
		it.result <- o
	})
}

// Result is the awaitable the HTTP handler blocks on.
func (it *Item) Result() <-chan Outcome {
	return it.result
}

// Disconnected reports whether the client has gone away or cancelled.
func (it *Item) Disconnected() bool {
	return it.cancelled.Load() || it.Ctx.Err() != nil
}

// Processor runs one full turn against the page. Implemented by the turn
// service.
type Processor interface {
	Process(ctx context.Context, item *Item) Outcome
}

// Limiter is the slice of rate.Limiter the worker needs; narrowed for tests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// ItemStatus is one row of the diagnostic queue snapshot.
type ItemStatus struct {
	ID          string  `json:"id"`
	WaitSeconds float64 `json:"wait_seconds"`
	Streaming   bool    `json:"streaming"`
}

// Status is the /v1/queue snapshot.
type Status struct {
	Length   int          `json:"length"`
	LockHeld bool         `json:"lock_held"`
	Items    []ItemStatus `json:"items"`
}

// Queue is the FIFO plus its single worker. The processing mutex is the
// global page lock: every model switch, parameter write, submission, and
// extraction happens under it.
type Queue struct {
	mu    sync.Mutex
	items []*Item
	wake  chan struct{}

	procMu     sync.Mutex
	lockHeld   atomic.Bool
	limiter    Limiter
	drainGrace time.Duration
	drainMax   time.Duration

	proc Processor
}

func New(proc Processor, limiter Limiter, drainMax, drainGrace time.Duration) *Queue {
	return &Queue{
		proc:       proc,
		limiter:    limiter,
		drainMax:   drainMax,
		drainGrace: drainGrace,
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue admits a request. ctx is the client's request context; its
// cancellation is the disconnect signal.
func (q *Queue) Enqueue(ctx context.Context, req *models.ChatCompletionRequest) *Item {
	item := &Item{
		ID:         NewRequestID(),
		Request:    req,
		Ctx:        ctx,
		EnqueuedAt: time.Now(),
		result:     make(chan Outcome, 1),
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return item
}

// Cancel marks a still-queued item cancelled and resolves it. Returns false
// when the id is not in the queue (already processing or never existed).
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			item.cancelled.Store(true)
			item.Resolve(Outcome{Err: models.NewAPIError(item.ID, models.ErrClientCancelled)})
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot reads queue state without touching the processing lock; staleness
// is acceptable for diagnostics.
func (q *Queue) Snapshot() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	status := Status{
		Length:   len(q.items),
		LockHeld: q.lockHeld.Load(),
		Items:    make([]ItemStatus, 0, len(q.items)),
	}
	now := time.Now()
	for _, item := range q.items {
		status.Items = append(status.Items, ItemStatus{
			ID:          item.ID,
			WaitSeconds: now.Sub(item.EnqueuedAt).Seconds(),
			Streaming:   item.Request.Stream,
		})
	}
	return status
}

// Run is the worker loop. Cancelling ctx cancels the in-flight future and
// terminates the loop; that is fatal to the process — the owning lifecycle
// restarts the server rather than the worker.
func (q *Queue) Run(ctx context.Context) error {
	for {
		item := q.next(ctx)
		if item == nil {
			return ctx.Err()
		}

		// Liveness re-check: time spent queued is unbounded.
		if item.Disconnected() {
			item.Resolve(Outcome{Err: models.NewAPIError(item.ID, models.ErrClientDisconnected)})
			continue
		}

		// Space out consecutive streaming submissions; back-to-back turns
		// race the UI.
		if item.Request.Stream && q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				item.Resolve(Outcome{Err: models.NewAPIError(item.ID, models.ErrClientDisconnected)})
				return err
			}
		}

		q.procMu.Lock()
		q.lockHeld.Store(true)

		// Lock wait time is unbounded too; check again before touching the page.
		if item.Disconnected() {
			q.unlock()
			item.Resolve(Outcome{Err: models.NewAPIError(item.ID, models.ErrClientDisconnected)})
			continue
		}
		if ctx.Err() != nil {
			q.unlock()
			item.Resolve(Outcome{Err: models.NewAPIError(item.ID, ctx.Err())})
			return ctx.Err()
		}

		outcome := q.proc.Process(ctx, item)
		q.unlock()
		item.Resolve(outcome)

		// The response object is already in the client's hands; let the
		// generator drain fully before the shared page is reused.
		if outcome.Err == nil && outcome.StreamDone != nil {
			select {
			case <-outcome.StreamDone:
			case <-time.After(q.drainMax + q.drainGrace):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (q *Queue) unlock() {
	q.lockHeld.Store(false)
	q.procMu.Unlock()
}

// next blocks until a live item is available or ctx is cancelled. Each pass
// performs the bounded disconnect scan so dead items never consume the
// single processing slot.
func (q *Queue) next(ctx context.Context) *Item {
	for {
		if item := q.pop(); item != nil {
			return item
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (q *Queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Bounded scan: resolve disconnected items up front. Relative order of
	// live items is preserved.
	kept := q.items[:0]
	for i, item := range q.items {
		if i < scanLimit && item.Disconnected() {
			item.Resolve(Outcome{Err: models.NewAPIError(item.ID, models.ErrClientDisconnected)})
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}
