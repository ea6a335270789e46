// Package notify provides change notification for the settings store.
//
// The notify package implements an observer pattern that allows components
// to subscribe to store events (update, error, synchronize) and receive
// callbacks when the document changes or persistence fails.
package notify

import (
	"sort"
	"sync"
)

// EventType represents the kind of store event.
type EventType int

const (
	// EventUpdate indicates the document changed, after a successful write
	// or a reload. Event.Document holds the new document.
	EventUpdate EventType = iota

	// EventError indicates a persistence or reload failure.
	// Event.Err holds the cause.
	EventError

	// EventSynchronize indicates a local write reached storage and other
	// processes should reload.
	EventSynchronize
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventUpdate:
		return "update"
	case EventError:
		return "error"
	case EventSynchronize:
		return "synchronize"
	default:
		return "unknown"
	}
}

// Event represents a store event.
type Event struct {
	// Type is the kind of event.
	Type EventType

	// Document is a snapshot of the document. Set for update events.
	Document map[string]any

	// Err is the failure cause. Set for error events.
	Err error

	// Source identifies what triggered the event ("write", "reload", ...).
	Source string
}

// Observer is called when store events occur.
type Observer func(event Event)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

type entry struct {
	observer Observer
	filter   map[EventType]bool
}

// Notifier manages store event subscriptions.
type Notifier struct {
	mu sync.RWMutex

	observers map[uint64]entry

	nextID uint64

	// Whether to notify synchronously or asynchronously
	async bool

	// Buffer for async notifications
	buffer chan Event

	done chan struct{}
	wg   sync.WaitGroup

	closed bool

	// Called with the recovered value when an observer panics
	onPanic func(any)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync enables asynchronous notification delivery.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Event, bufferSize)
		}
	}
}

// WithPanicHandler sets a callback invoked when an observer panics.
func WithPanicHandler(fn func(any)) Option {
	return func(n *Notifier) {
		n.onPanic = fn
	}
}

// New creates a new Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		observers: make(map[uint64]entry),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}

	return n
}

// Subscribe registers an observer for all events.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	return n.subscribe(observer, nil)
}

// SubscribeType registers an observer for the given event types only.
func (n *Notifier) SubscribeType(observer Observer, types ...EventType) *Subscription {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return n.subscribe(observer, filter)
}

func (n *Notifier) subscribe(observer Observer, filter map[EventType]bool) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.observers[id] = entry{observer: observer, filter: filter}

	return &Subscription{
		id:       id,
		notifier: n,
	}
}

// Notify sends an event to all relevant observers.
func (n *Notifier) Notify(event Event) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	n.mu.RUnlock()

	if n.async {
		select {
		case n.buffer <- event:
		case <-n.done:
		}
		return
	}

	n.deliver(event)
}

// NotifyUpdate is a convenience method for update events.
func (n *Notifier) NotifyUpdate(doc map[string]any, source string) {
	n.Notify(Event{Type: EventUpdate, Document: doc, Source: source})
}

// NotifyError is a convenience method for error events.
func (n *Notifier) NotifyError(err error, source string) {
	n.Notify(Event{Type: EventError, Err: err, Source: source})
}

// NotifySynchronize is a convenience method for synchronize events.
func (n *Notifier) NotifySynchronize(source string) {
	n.Notify(Event{Type: EventSynchronize, Source: source})
}

// Close shuts down the notifier. It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.observers, id)
}

// deliver sends an event to all matching observers in subscription order.
func (n *Notifier) deliver(event Event) {
	n.mu.RLock()
	ids := make([]uint64, 0, len(n.observers))
	for id, e := range n.observers {
		if e.filter == nil || e.filter[event.Type] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	observers := make([]Observer, len(ids))
	for i, id := range ids {
		observers[i] = n.observers[id].observer
	}
	onPanic := n.onPanic
	n.mu.RUnlock()

	// Call observers outside the lock
	for _, obs := range observers {
		safeCall(obs, event, onPanic)
	}
}

// safeCall calls an observer with panic recovery so one broken observer
// cannot stop delivery to the rest.
func safeCall(obs Observer, event Event, onPanic func(any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	obs(event)
}

// processAsync handles asynchronous notification delivery.
func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case event := <-n.buffer:
			n.deliver(event)
		case <-n.done:
			// Drain remaining buffered events
			for {
				select {
				case event := <-n.buffer:
					n.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// Batch collects multiple events and delivers them as a group.
type Batch struct {
	notifier *Notifier
	events   []Event
	mu       sync.Mutex
}

// NewBatch creates a new batch for collecting events.
func (n *Notifier) NewBatch() *Batch {
	return &Batch{
		notifier: n,
		events:   make([]Event, 0),
	}
}

// Add adds an event to the batch.
func (b *Batch) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Commit sends all batched events to observers in the order they were added.
func (b *Batch) Commit() {
	b.mu.Lock()
	events := b.events
	b.events = make([]Event, 0)
	b.mu.Unlock()

	for _, event := range events {
		b.notifier.Notify(event)
	}
}

// Discard clears the batch without sending notifications.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make([]Event, 0)
}

// Len returns the number of pending events.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
