package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/settingsync/internal/bridge"
	"github.com/dshills/settingsync/internal/config"
	"github.com/dshills/settingsync/internal/config/savequeue"
	"github.com/dshills/settingsync/internal/config/savestate"
)

const dialTimeout = time.Second

// Editor is a process that edits settings: a settings window or a CLI
// invocation. Edits go through a debounced save queue, the per-section
// save state follows the queue, and completed saves are signalled to the
// owner over the bridge.
type Editor struct {
	opts    Options
	logger  hclog.Logger
	store   *config.Store
	queue   *savequeue.Queue
	tracker *savestate.Tracker
	bridge  *bridge.Bridge

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewEditor loads the settings and connects to the owner if one is
// running. Without an owner the editor still saves; the owner picks the
// change up from its file watcher.
func NewEditor(ctx context.Context, opts Options) (*Editor, error) {
	opts = opts.withDefaults()
	e := &Editor{
		opts:   opts,
		logger: opts.Logger,
	}

	file, err := opts.settingsFile()
	if err != nil {
		return nil, initError("store", "open", err)
	}
	e.store = config.New(file, config.WithLogger(e.logger.Named("store")))
	if err := e.store.Load(ctx); err != nil {
		return nil, initError("store", "load", err)
	}

	e.tracker = savestate.NewTracker(config.KnownSections, savestate.WithResetDelay(opts.ResetDelay))
	e.queue = savequeue.New(e.store,
		savequeue.WithDelay(opts.Debounce),
		savequeue.WithLogger(e.logger.Named("savequeue")),
	)
	e.queue.OnDepthChange(e.tracker.Observe)

	// A failed save or reload fails every section with writes outstanding.
	// Fail only moves saving sections, so OnFlush adds no transition.
	e.store.OnError(func(error) {
		if sections := outstandingSections(e.queue.Outstanding()); len(sections) > 0 {
			e.tracker.Fail(sections...)
		}
	})
	e.queue.OnFlush(func(batch []config.PendingWrite, err error) {
		if err != nil {
			e.tracker.Fail(sectionsOf(batch)...)
		}
	})

	if !opts.Standalone {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		b, err := bridge.Dial(dctx, opts.Address, e.store, bridge.WithLogger(e.logger.Named("bridge")))
		cancel()
		if err != nil {
			e.logger.Info("no owner process reachable; saves will not be signalled", "address", opts.Address, "error", err)
		} else {
			b.Attach(e.store)
			e.bridge = b
		}
	}

	return e, nil
}

// Store returns the editor's settings store.
func (e *Editor) Store() *config.Store {
	return e.store
}

// Connected reports whether the editor is connected to an owner.
func (e *Editor) Connected() bool {
	return e.bridge != nil && e.bridge.Peers() > 0
}

// Edit queues document[section][key] = data.
func (e *Editor) Edit(section, key string, data any) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.queue.Enqueue(config.PendingWrite{Section: section, Key: key, Data: data}); err != nil {
		if errors.Is(err, savequeue.ErrClosed) {
			err = ErrClosed
		}
		return NewOperationError("edit", section+"."+key, err)
	}
	return nil
}

// View returns what the user last entered for section.key: the newest
// unsaved write if there is one, otherwise the stored value.
func (e *Editor) View(section, key string) (any, bool) {
	if v, ok := e.queue.Latest(section, key); ok {
		return v, true
	}
	return e.store.Get(section, key)
}

// Servers returns the configured servers, including unsaved edits.
func (e *Editor) Servers() ([]config.Server, error) {
	v, ok := e.View(config.SectionServers, config.KeyTeams)
	if !ok {
		return []config.Server{}, nil
	}
	return config.DecodeServers(v)
}

// AddServer validates s and queues the server list with s appended.
func (e *Editor) AddServer(s config.Server) error {
	if err := config.ValidateServer(s); err != nil {
		return NewOperationError("add-server", s.Name, err)
	}
	servers, err := e.Servers()
	if err != nil {
		return NewOperationError("add-server", s.Name, err)
	}
	for _, existing := range servers {
		if existing.Name == s.Name {
			return NewOperationError("add-server", s.Name, fmt.Errorf("a server named %q already exists", s.Name))
		}
	}
	return e.Edit(config.SectionServers, config.KeyTeams, config.AddServer(servers, s))
}

// UpdateServer validates s and queues the server list with the server
// named name replaced.
func (e *Editor) UpdateServer(name string, s config.Server) error {
	if err := config.ValidateServer(s); err != nil {
		return NewOperationError("update-server", name, err)
	}
	servers, err := e.Servers()
	if err != nil {
		return NewOperationError("update-server", name, err)
	}
	updated, err := config.UpdateServer(servers, name, s)
	if err != nil {
		return NewOperationError("update-server", name, err)
	}
	return e.Edit(config.SectionServers, config.KeyTeams, updated)
}

// RemoveServer queues the server list without the server named name.
func (e *Editor) RemoveServer(name string) error {
	servers, err := e.Servers()
	if err != nil {
		return NewOperationError("remove-server", name, err)
	}
	updated, err := config.RemoveServer(servers, name)
	if err != nil {
		return NewOperationError("remove-server", name, err)
	}
	return e.Edit(config.SectionServers, config.KeyTeams, updated)
}

// SaveState returns the save indicator state of section.
func (e *Editor) SaveState(section string) savestate.State {
	return e.tracker.State(section)
}

// SaveStates returns the save indicator state of every section.
func (e *Editor) SaveStates() map[string]savestate.State {
	return e.tracker.Snapshot()
}

// OnSaveState registers fn for save indicator transitions.
func (e *Editor) OnSaveState(fn savestate.ChangeFunc) {
	e.tracker.OnChange(fn)
}

// Flush saves queued edits now.
func (e *Editor) Flush(ctx context.Context) error {
	return e.queue.Flush(ctx)
}

// Close saves queued edits, disconnects from the owner and closes the
// store. Edits that could not be saved before ctx expired are reported
// with ErrShutdownTimeout.
func (e *Editor) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		errs := NewErrorList()

		if err := e.queue.Close(ctx); err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", ErrShutdownTimeout, err)
			}
			errs.Add(NewComponentError("savequeue", "flush", err))
		}
		if e.bridge != nil {
			if err := e.bridge.Close(); err != nil {
				errs.Add(NewComponentError("bridge", "close", err))
			}
		}
		e.store.Close()
		e.closeErr = errs.AsError()
	})
	return e.closeErr
}

func sectionsOf(batch []config.PendingWrite) []string {
	seen := make(map[string]bool, len(batch))
	var out []string
	for _, w := range batch {
		if !seen[w.Section] {
			seen[w.Section] = true
			out = append(out, w.Section)
		}
	}
	return out
}

func outstandingSections(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for section, n := range counts {
		if n > 0 {
			out = append(out, section)
		}
	}
	return out
}
