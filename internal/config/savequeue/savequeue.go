// Package savequeue batches settings writes coming from rapid UI edits.
//
// Writes are appended in submission order and flushed together once no
// new write has arrived for the debounce delay. Flushes of one queue never
// overlap: writes enqueued while a flush is in flight form the next batch,
// with a fresh debounce window.
package savequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/settingsync/internal/config"
)

// DefaultDelay is the debounce delay.
const DefaultDelay = 500 * time.Millisecond

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("save queue is closed")

// Writer applies a batch of writes. *config.Store implements it.
type Writer interface {
	WriteMany(ctx context.Context, writes []config.PendingWrite) error
}

// DepthFunc receives the number of outstanding writes per section:
// queued plus in flight.
type DepthFunc func(counts map[string]int)

// FlushFunc receives each flushed batch and the writer's result.
type FlushFunc func(batch []config.PendingWrite, err error)

// Queue debounces writes into batched flushes.
type Queue struct {
	mu       sync.Mutex
	pending  []config.PendingWrite
	inflight []config.PendingWrite
	timer    *time.Timer
	gen      uint64
	closed   bool

	// flushMu keeps at most one flush in flight.
	flushMu sync.Mutex

	// depthMu orders depth notifications so the last one delivered
	// always carries the current counts.
	depthMu sync.Mutex

	writer Writer
	delay  time.Duration
	logger hclog.Logger

	depthFuncs []DepthFunc
	flushFuncs []FlushFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates a queue that flushes into w.
func New(w Writer, opts ...Option) *Queue {
	q := &Queue{
		writer: w,
		delay:  DefaultDelay,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// OnDepthChange registers fn, called after every enqueue and every
// completed flush.
func (q *Queue) OnDepthChange(fn DepthFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.depthFuncs = append(q.depthFuncs, fn)
}

// OnFlush registers fn, called after every completed flush, before the
// depth handlers.
func (q *Queue) OnFlush(fn FlushFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushFuncs = append(q.flushFuncs, fn)
}

// Enqueue appends w and restarts the debounce window.
func (q *Queue) Enqueue(w config.PendingWrite) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	q.pending = append(q.pending, w)
	q.armLocked()
	q.mu.Unlock()

	q.notifyDepth()
	return nil
}

// Pending returns the number of queued writes, not counting a batch in
// flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Outstanding returns queued plus in-flight writes per section.
func (q *Queue) Outstanding() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countsLocked()
}

// Latest returns the data of the most recent outstanding write to
// section.key, queued or in flight.
func (q *Queue) Latest(section, key string) (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, list := range [][]config.PendingWrite{q.pending, q.inflight} {
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].Section == section && list[i].Key == key {
				return list[i].Data, true
			}
		}
	}
	return nil, false
}

// Flush writes everything queued now, without waiting for the debounce
// delay. It waits for a flush already in flight to finish first.
func (q *Queue) Flush(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.inflight = batch
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	q.logger.Debug("flushing settings", "writes", len(batch))
	err := q.writer.WriteMany(ctx, batch)
	if err != nil {
		q.logger.Warn("flush failed", "writes", len(batch), "error", err)
	}

	q.mu.Lock()
	q.inflight = nil
	flushFuncs := make([]FlushFunc, len(q.flushFuncs))
	copy(flushFuncs, q.flushFuncs)
	q.mu.Unlock()

	for _, fn := range flushFuncs {
		fn(batch, err)
	}
	q.notifyDepth()
	return err
}

// Close stops accepting writes, flushes what is queued and waits for
// timer-driven flushes to finish.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.gen++
	q.stopTimerLocked()
	q.mu.Unlock()

	err := q.Flush(ctx)
	q.wg.Wait()
	q.cancel()
	return err
}

// armLocked (re)starts the debounce timer. A timer from an older
// generation that fires anyway does nothing.
func (q *Queue) armLocked() {
	q.gen++
	gen := q.gen
	q.stopTimerLocked()
	q.wg.Add(1)
	q.timer = time.AfterFunc(q.delay, func() {
		defer q.wg.Done()
		q.fire(gen)
	})
}

// stopTimerLocked stops the pending timer. A timer stopped before firing
// never runs its callback, so its wait group slot is released here.
func (q *Queue) stopTimerLocked() {
	if q.timer != nil && q.timer.Stop() {
		q.wg.Done()
	}
	q.timer = nil
}

func (q *Queue) fire(gen uint64) {
	q.mu.Lock()
	current := gen == q.gen
	if current {
		q.timer = nil
	}
	q.mu.Unlock()

	if !current {
		return
	}
	_ = q.Flush(q.ctx)
}

func (q *Queue) countsLocked() map[string]int {
	counts := make(map[string]int)
	for _, w := range q.inflight {
		counts[w.Section]++
	}
	for _, w := range q.pending {
		counts[w.Section]++
	}
	return counts
}

// notifyDepth reports the current counts. Counts are taken while
// holding depthMu, so concurrent notifications cannot deliver a stale
// count last.
func (q *Queue) notifyDepth() {
	q.depthMu.Lock()
	defer q.depthMu.Unlock()

	q.mu.Lock()
	counts := q.countsLocked()
	handlers := make([]DepthFunc, len(q.depthFuncs))
	copy(handlers, q.depthFuncs)
	q.mu.Unlock()

	for _, fn := range handlers {
		fn(counts)
	}
}
