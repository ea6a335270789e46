// Package savestate tracks the save indicator state of each settings
// section.
//
// Each section runs a small state machine driven by how many writes for it
// are queued or being flushed:
//
//	done   --(count > 0)-----------> saving
//	saving --(count back to 0)-----> saved
//	saved  --(reset delay elapsed)--> done
//	any    --(failure while saving)-> error
//	error  --(count > 0)-----------> saving
//
// The tracker only observes. It never writes to the store.
package savestate

import (
	"sort"
	"sync"
	"time"
)

// DefaultResetDelay is how long a section shows "saved" before "done".
const DefaultResetDelay = 2 * time.Second

// State is the save state of one section.
type State int

const (
	// Done means nothing is outstanding and nothing was saved recently.
	Done State = iota
	// Saving means writes for the section are queued or being flushed.
	Saving
	// Saved means the last writes were flushed; it reverts to Done.
	Saved
	// Error means a flush failed while the section had writes outstanding.
	Error
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Done:
		return "done"
	case Saving:
		return "saving"
	case Saved:
		return "saved"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Timer is the part of *time.Timer the machine needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Machine is the state machine for a single section.
type Machine struct {
	mu         sync.Mutex
	state      State
	gen        uint64
	timer      Timer
	resetDelay time.Duration
	afterFunc  AfterFunc
	onChange   func(from, to State)
}

// NewMachine creates a machine in the Done state. onChange may be nil; it
// is called outside the machine's lock.
func NewMachine(resetDelay time.Duration, afterFunc AfterFunc, onChange func(from, to State)) *Machine {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &Machine{
		resetDelay: resetDelay,
		afterFunc:  afterFunc,
		onChange:   onChange,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe feeds the current number of outstanding writes for the section.
func (m *Machine) Observe(count int) {
	m.mu.Lock()
	from := m.state

	switch {
	case count > 0:
		m.state = Saving
		m.cancelResetLocked()
	case m.state == Saving:
		m.state = Saved
		m.scheduleResetLocked()
	}

	to := m.state
	m.mu.Unlock()

	m.changed(from, to)
}

// Fail moves a section with outstanding writes to Error. It reports
// whether the state changed.
func (m *Machine) Fail() bool {
	m.mu.Lock()
	from := m.state
	if from != Saving {
		m.mu.Unlock()
		return false
	}
	m.state = Error
	m.cancelResetLocked()
	m.mu.Unlock()

	m.changed(from, Error)
	return true
}

// scheduleResetLocked arms the saved -> done transition. The generation
// check makes a timer that fires after a newer transition a no-op.
func (m *Machine) scheduleResetLocked() {
	m.cancelResetLocked()
	gen := m.gen
	m.timer = m.afterFunc(m.resetDelay, func() {
		m.reset(gen)
	})
}

func (m *Machine) cancelResetLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) reset(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Saved {
		m.mu.Unlock()
		return
	}
	m.state = Done
	m.timer = nil
	m.mu.Unlock()

	m.changed(Saved, Done)
}

func (m *Machine) changed(from, to State) {
	if from != to && m.onChange != nil {
		m.onChange(from, to)
	}
}

// ChangeFunc is called when a section's state changes.
type ChangeFunc func(section string, from, to State)

// Tracker holds one machine per section.
type Tracker struct {
	mu         sync.Mutex
	machines   map[string]*Machine
	resetDelay time.Duration
	afterFunc  AfterFunc
	handlers   []ChangeFunc
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithResetDelay sets how long "saved" is shown.
func WithResetDelay(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.resetDelay = d
		}
	}
}

// WithAfterFunc replaces the timer source, for tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.afterFunc = fn
		}
	}
}

// NewTracker creates a tracker with machines for the given sections.
// Other sections get a machine the first time they are observed.
func NewTracker(sections []string, opts ...Option) *Tracker {
	t := &Tracker{
		machines:   make(map[string]*Machine),
		resetDelay: DefaultResetDelay,
		afterFunc:  realAfterFunc,
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, s := range sections {
		t.machine(s)
	}
	return t
}

// OnChange registers a handler for state changes.
func (t *Tracker) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, fn)
}

// Observe feeds outstanding write counts. Known sections missing from
// counts are treated as zero.
func (t *Tracker) Observe(counts map[string]int) {
	for _, section := range t.sections(counts) {
		t.machine(section).Observe(counts[section])
	}
}

// Fail marks the given sections as failed; with no arguments every
// section currently saving is marked.
func (t *Tracker) Fail(sections ...string) {
	if len(sections) == 0 {
		sections = t.sections(nil)
	}
	for _, s := range sections {
		t.machine(s).Fail()
	}
}

// State returns the state of a section.
func (t *Tracker) State(section string) State {
	t.mu.Lock()
	m, ok := t.machines[section]
	t.mu.Unlock()
	if !ok {
		return Done
	}
	return m.State()
}

// Snapshot returns the state of every section.
func (t *Tracker) Snapshot() map[string]State {
	out := make(map[string]State)
	for _, s := range t.sections(nil) {
		out[s] = t.State(s)
	}
	return out
}

func (t *Tracker) sections(extra map[string]int) []string {
	t.mu.Lock()
	seen := make(map[string]bool, len(t.machines)+len(extra))
	for s := range t.machines {
		seen[s] = true
	}
	t.mu.Unlock()
	for s := range extra {
		seen[s] = true
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) machine(section string) *Machine {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.machines[section]; ok {
		return m
	}
	m := NewMachine(t.resetDelay, t.afterFunc, func(from, to State) {
		t.emit(section, from, to)
	})
	t.machines[section] = m
	return m
}

func (t *Tracker) emit(section string, from, to State) {
	t.mu.Lock()
	handlers := make([]ChangeFunc, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h(section, from, to)
	}
}
