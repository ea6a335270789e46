package savequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dshills/settingsync/internal/config"
)

// recordingWriter records every batch and tracks flush concurrency.
type recordingWriter struct {
	mu       sync.Mutex
	batches  [][]config.PendingWrite
	err      error
	gate     chan struct{}
	entered  chan struct{}
	active   atomic.Int32
	maxSeen  atomic.Int32
	duration time.Duration
}

func (w *recordingWriter) WriteMany(_ context.Context, writes []config.PendingWrite) error {
	n := w.active.Add(1)
	defer w.active.Add(-1)
	for {
		m := w.maxSeen.Load()
		if n <= m || w.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	w.mu.Lock()
	gate, entered := w.gate, w.entered
	w.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if w.duration > 0 {
		time.Sleep(w.duration)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	batch := make([]config.PendingWrite, len(writes))
	copy(batch, writes)
	w.batches = append(w.batches, batch)
	return w.err
}

func (w *recordingWriter) snapshot() [][]config.PendingWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]config.PendingWrite, len(w.batches))
	copy(out, w.batches)
	return out
}

func write(section, key string, data any) config.PendingWrite {
	return config.PendingWrite{Section: section, Key: key, Data: data}
}

func TestQueue_OneFlushPerWindow(t *testing.T) {
	w := &recordingWriter{}
	q := New(w, WithDelay(50*time.Millisecond))
	defer q.Close(context.Background())

	writes := []config.PendingWrite{
		write("appOptions", "autostart", false),
		write("appOptions", "showTrayIcon", true),
		write("appOptions", "autostart", true),
	}
	for _, wr := range writes {
		require.NoError(t, q.Enqueue(wr))
	}

	assert.Empty(t, w.snapshot(), "nothing is written before the delay")

	require.Eventually(t, func() bool { return len(w.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	batches := w.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, writes, batches[0])
	assert.Zero(t, q.Pending())
}

func TestQueue_DebounceExtendsWindow(t *testing.T) {
	w := &recordingWriter{}
	q := New(w, WithDelay(80*time.Millisecond))
	defer q.Close(context.Background())

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(write("servers", "teams", i)))
		time.Sleep(40 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(w.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, w.snapshot()[0], 4)
}

func TestQueue_ServerScenario(t *testing.T) {
	store := config.New(&memStorage{})
	require.NoError(t, store.Load(context.Background()))
	defer store.Close()

	counting := &countingWriter{next: store}
	q := New(counting)
	defer q.Close(context.Background())

	serverA := config.Server{Name: "ServerA", URL: "https://a.example.com", Order: 0}
	serverB := config.Server{Name: "ServerB", URL: "https://b.example.com", Order: 1}

	require.NoError(t, q.Enqueue(write(config.SectionServers, config.KeyTeams, []config.Server{serverA})))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, q.Enqueue(write(config.SectionServers, config.KeyTeams, []config.Server{serverA, serverB})))

	require.Eventually(t, func() bool { return counting.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, counting.calls.Load())
	assert.Equal(t, 2, counting.lastLen())

	servers, err := store.Servers()
	require.NoError(t, err)
	assert.Equal(t, []config.Server{serverA, serverB}, servers)
}

func TestQueue_EnqueueDuringFlightStartsNewBatch(t *testing.T) {
	w := &recordingWriter{gate: make(chan struct{}), entered: make(chan struct{}, 4)}
	q := New(w, WithDelay(10*time.Millisecond))

	require.NoError(t, q.Enqueue(write("appOptions", "a", 1)))
	<-w.entered

	require.NoError(t, q.Enqueue(write("appOptions", "b", 2)))
	require.NoError(t, q.Enqueue(write("servers", "teams", 3)))
	assert.Equal(t, map[string]int{"appOptions": 2, "servers": 1}, q.Outstanding())

	// let the second batch's timer fire while the first is still blocked
	time.Sleep(50 * time.Millisecond)
	w.gate <- struct{}{}
	<-w.entered
	w.gate <- struct{}{}

	require.NoError(t, q.Close(context.Background()))

	batches := w.snapshot()
	require.Len(t, batches, 2)
	assert.Equal(t, []config.PendingWrite{write("appOptions", "a", 1)}, batches[0])
	assert.Equal(t, []config.PendingWrite{write("appOptions", "b", 2), write("servers", "teams", 3)}, batches[1])
	assert.EqualValues(t, 1, w.maxSeen.Load())
}

func TestQueue_DepthAndFlushHandlers(t *testing.T) {
	cause := errors.New("disk full")
	w := &recordingWriter{err: cause}
	q := New(w, WithDelay(time.Hour))
	defer q.Close(context.Background())

	var mu sync.Mutex
	var depths []map[string]int
	var flushErr error
	var order []string

	q.OnDepthChange(func(counts map[string]int) {
		mu.Lock()
		defer mu.Unlock()
		depths = append(depths, counts)
		order = append(order, "depth")
	})
	q.OnFlush(func(batch []config.PendingWrite, err error) {
		mu.Lock()
		defer mu.Unlock()
		flushErr = err
		order = append(order, "flush")
	})

	require.NoError(t, q.Enqueue(write("appOptions", "autostart", true)))
	err := q.Flush(context.Background())
	assert.ErrorIs(t, err, cause)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []map[string]int{{"appOptions": 1}, {}}, depths)
	assert.ErrorIs(t, flushErr, cause)
	assert.Equal(t, []string{"depth", "flush", "depth"}, order)
}

func TestQueue_CloseFlushesAndRejects(t *testing.T) {
	w := &recordingWriter{}
	q := New(w, WithDelay(time.Hour))

	require.NoError(t, q.Enqueue(write("appOptions", "autostart", true)))
	require.NoError(t, q.Close(context.Background()))

	assert.Len(t, w.snapshot(), 1)
	assert.ErrorIs(t, q.Enqueue(write("appOptions", "autostart", false)), ErrClosed)
	assert.NoError(t, q.Close(context.Background()))
}

func TestQueue_FlushEmpty(t *testing.T) {
	w := &recordingWriter{}
	q := New(w)
	defer q.Close(context.Background())

	require.NoError(t, q.Flush(context.Background()))
	assert.Empty(t, w.snapshot())
}

func TestQueue_NoLossNoDuplication(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := &recordingWriter{duration: time.Duration(rapid.IntRange(0, 2).Draw(rt, "writeMs")) * time.Millisecond}
		q := New(w, WithDelay(2*time.Millisecond))

		n := rapid.IntRange(1, 30).Draw(rt, "n")
		var want []config.PendingWrite
		for i := 0; i < n; i++ {
			wr := write(rapid.SampledFrom([]string{"servers", "appOptions"}).Draw(rt, "section"), fmt.Sprintf("k%d", i), i)
			if err := q.Enqueue(wr); err != nil {
				rt.Fatalf("Enqueue() error = %v", err)
			}
			want = append(want, wr)
			if pause := rapid.IntRange(0, 3).Draw(rt, "pauseMs"); pause > 0 {
				time.Sleep(time.Duration(pause) * time.Millisecond)
			}
		}
		if err := q.Close(context.Background()); err != nil {
			rt.Fatalf("Close() error = %v", err)
		}

		var got []config.PendingWrite
		for _, b := range w.snapshot() {
			if len(b) == 0 {
				rt.Fatalf("empty batch flushed")
			}
			got = append(got, b...)
		}
		if !assert.ObjectsAreEqual(want, got) {
			rt.Fatalf("flushed writes %v, want %v", got, want)
		}
		if m := w.maxSeen.Load(); m > 1 {
			rt.Fatalf("%d flushes in flight at once", m)
		}
	})
}

// countingWriter forwards to a store and counts calls.
type countingWriter struct {
	next  Writer
	calls atomic.Int32
	mu    sync.Mutex
	last  int
}

func (c *countingWriter) WriteMany(ctx context.Context, writes []config.PendingWrite) error {
	c.calls.Add(1)
	c.mu.Lock()
	c.last = len(writes)
	c.mu.Unlock()
	return c.next.WriteMany(ctx, writes)
}

func (c *countingWriter) lastLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type memStorage struct {
	mu   sync.Mutex
	data map[string]any
}

func (m *memStorage) Load(context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memStorage) Save(_ context.Context, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = doc
	return nil
}

func TestQueue_Latest(t *testing.T) {
	w := &recordingWriter{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	q := New(w, WithDelay(5*time.Millisecond))

	_, ok := q.Latest("appOptions", "autostart")
	assert.False(t, ok)

	require.NoError(t, q.Enqueue(write("appOptions", "autostart", true)))
	<-w.entered

	got, ok := q.Latest("appOptions", "autostart")
	require.True(t, ok, "in-flight write is visible")
	assert.Equal(t, true, got)

	require.NoError(t, q.Enqueue(write("appOptions", "autostart", false)))
	got, _ = q.Latest("appOptions", "autostart")
	assert.Equal(t, false, got, "queued write shadows the in-flight one")

	close(w.gate)
	require.NoError(t, q.Close(context.Background()))

	_, ok = q.Latest("appOptions", "autostart")
	assert.False(t, ok)
}
