package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/settingsync/internal/config/loader"
	"github.com/dshills/settingsync/internal/config/notify"
)

// Event sources reported in notify.Event.Source.
const (
	SourceLoad   = "load"
	SourceWrite  = "write"
	SourceReload = "reload"
)

// Document is the settings document: section name to section value.
// Section values are normally maps from key to value; sections the
// store does not know about are carried through untouched.
type Document = map[string]any

// PendingWrite is one queued intent to set Document[Section][Key] = Data.
type PendingWrite struct {
	Section string
	Key     string
	Data    any
}

// Storage persists the document. Load returns nil, nil when nothing has
// been stored yet.
type Storage interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, doc map[string]any) error
}

// Store owns the canonical settings document for one process.
//
// Writes and reloads are serialized: a Reload that arrives while a
// WriteMany is persisting waits for it, so the in-flight write completes
// and the reload observes it. Read never waits on storage.
//
// Events are delivered synchronously while the operation that caused them
// still holds the store, in the order they happened. Observers must not
// call WriteMany or Reload from the delivering goroutine.
type Store struct {
	// opMu serializes Load, WriteMany, Reload and Close, including the
	// storage call.
	opMu sync.Mutex

	// mu guards doc and the state flags.
	mu     sync.RWMutex
	doc    map[string]any
	loaded bool
	closed bool

	storage  Storage
	notifier *notify.Notifier
	migrator *Migrator
	logger   hclog.Logger
	readOnly bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReadOnly opens the store for reading only: Load never writes the
// defaults or a migrated layout back, and WriteMany fails with
// ErrReadOnly.
func WithReadOnly() Option {
	return func(s *Store) {
		s.readOnly = true
	}
}

// New creates a Store backed by storage. Call Load before writing.
func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		doc:      defaultDocument(),
		storage:  storage,
		migrator: DefaultMigrator(),
		logger:   hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.notifier = notify.New(notify.WithPanicHandler(func(r any) {
		s.logger.Error("store observer panicked", "panic", r)
	}))

	return s
}

// Load reads the persisted document. A missing document is replaced by
// the defaults and an old flat layout is migrated; in both cases the
// result is written back. Failing to write it back is logged, not fatal.
func (s *Store) Load(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return ErrStoreClosed
	}

	data, err := s.storage.Load(ctx)
	if err != nil {
		return &PersistError{Op: "load", Err: err}
	}

	doc, changed, err := s.prepare(data)
	if err != nil {
		return &PersistError{Op: "load", Err: err}
	}

	s.mu.Lock()
	s.doc = doc
	s.loaded = true
	snapshot := loader.Clone(doc)
	s.mu.Unlock()

	if changed && !s.readOnly {
		if err := s.storage.Save(ctx, loader.Clone(snapshot)); err != nil {
			s.logger.Warn("could not write initial config", "error", err)
		}
	}

	s.logger.Debug("config loaded", "sections", len(snapshot))
	s.notifier.NotifyUpdate(snapshot, SourceLoad)
	return nil
}

// Close shuts down the store. Subsequent writes and reloads fail with
// ErrStoreClosed; Read keeps returning the last document.
func (s *Store) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.notifier.Close()
}

// Read returns a deep copy of the in-memory document.
func (s *Store) Read() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loader.Clone(s.doc)
}

// Get returns a copy of Document[section][key].
func (s *Store) Get(section, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.doc[section].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := sec[key]
	if !ok {
		return nil, false
	}
	return loader.Clone(map[string]any{key: v})[key], true
}

// Set writes a single value. It is WriteMany with one write.
func (s *Store) Set(ctx context.Context, section, key string, data any) error {
	return s.WriteMany(ctx, []PendingWrite{{Section: section, Key: key, Data: data}})
}

// WriteMany applies writes to the in-memory document in order, persists
// the result, and emits update then synchronize. If persisting fails the
// in-memory document keeps the writes, an error event is emitted and a
// *PersistError is returned.
//
// A write whose value cannot be stored (ErrInvalidValue) is skipped; the
// rest of the batch is still applied and persisted, and the skipped
// writes are reported in the same single error event and return value.
func (s *Store) WriteMany(ctx context.Context, writes []PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return ErrStoreClosed
	}
	if !s.isLoaded() {
		return ErrNotLoaded
	}
	if s.readOnly {
		return ErrReadOnly
	}

	values := make([]any, len(writes))
	valid := make([]bool, len(writes))
	var rejected []error
	for i, w := range writes {
		v, err := canonicalize(w.Data)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("write %s.%s: %w", w.Section, w.Key, err))
			continue
		}
		values[i], valid[i] = v, true
	}

	applied := len(writes) - len(rejected)
	if applied == 0 {
		err := errors.Join(rejected...)
		s.notifier.NotifyError(err, SourceWrite)
		return err
	}

	s.mu.Lock()
	for i, w := range writes {
		if valid[i] {
			applyWrite(s.doc, w.Section, w.Key, values[i])
		}
	}
	snapshot := loader.Clone(s.doc)
	s.mu.Unlock()

	if err := s.storage.Save(ctx, snapshot); err != nil {
		var perr error = &PersistError{Op: "save", Writes: applied, Err: err}
		s.logger.Warn("config save failed", "writes", applied, "error", err)
		if len(rejected) > 0 {
			perr = errors.Join(append([]error{perr}, rejected...)...)
		}
		s.notifier.NotifyError(perr, SourceWrite)
		return perr
	}

	s.logger.Debug("config saved", "writes", applied, "rejected", len(rejected))

	batch := s.notifier.NewBatch()
	batch.Add(notify.Event{Type: notify.EventUpdate, Document: loader.Clone(snapshot), Source: SourceWrite})
	batch.Add(notify.Event{Type: notify.EventSynchronize, Source: SourceWrite})
	var rejectErr error
	if len(rejected) > 0 {
		rejectErr = errors.Join(rejected...)
		batch.Add(notify.Event{Type: notify.EventError, Err: rejectErr, Source: SourceWrite})
	}
	batch.Commit()
	return rejectErr
}

// Reload replaces the in-memory document with the persisted one, dropping
// anything not yet durable, and emits update. On failure the in-memory
// document is left as it was and an error event is emitted.
func (s *Store) Reload(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return ErrStoreClosed
	}

	data, err := s.storage.Load(ctx)
	if err == nil {
		var doc map[string]any
		doc, _, err = s.prepare(data)
		if err == nil {
			s.mu.Lock()
			s.doc = doc
			s.loaded = true
			snapshot := loader.Clone(doc)
			s.mu.Unlock()

			s.logger.Debug("config reloaded")
			s.notifier.NotifyUpdate(snapshot, SourceReload)
			return nil
		}
	}

	perr := &PersistError{Op: "load", Err: err}
	s.logger.Warn("config reload failed", "error", err)
	s.notifier.NotifyError(perr, SourceReload)
	return perr
}

// Subscribe registers an observer for all store events.
func (s *Store) Subscribe(observer notify.Observer) *notify.Subscription {
	return s.notifier.Subscribe(observer)
}

// OnUpdate registers fn for update events.
func (s *Store) OnUpdate(fn func(doc Document, source string)) *notify.Subscription {
	return s.notifier.SubscribeType(func(e notify.Event) {
		fn(e.Document, e.Source)
	}, notify.EventUpdate)
}

// OnError registers fn for error events.
func (s *Store) OnError(fn func(err error)) *notify.Subscription {
	return s.notifier.SubscribeType(func(e notify.Event) {
		fn(e.Err)
	}, notify.EventError)
}

// OnSynchronize registers fn for synchronize events.
func (s *Store) OnSynchronize(fn func()) *notify.Subscription {
	return s.notifier.SubscribeType(func(notify.Event) {
		fn()
	}, notify.EventSynchronize)
}

// prepare turns freshly loaded data into a document: defaults for a
// missing document, layout migration, and defaults for missing keys.
// changed reports whether the result should be written back.
func (s *Store) prepare(data map[string]any) (doc map[string]any, changed bool, err error) {
	if data == nil {
		data = defaultDocument()
		changed = true
	}

	if s.migrator.NeedsMigration(data) {
		data, err = s.migrator.Migrate(data)
		if err != nil {
			return nil, false, err
		}
		changed = true
	}

	return loader.DeepMerge(defaultDocument(), data), changed, nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) isLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// applyWrite sets doc[section][key] = value, replacing a section that is
// not a map.
func applyWrite(doc map[string]any, section, key string, value any) {
	sec, ok := doc[section].(map[string]any)
	if !ok {
		sec = make(map[string]any)
		doc[section] = sec
	}
	sec[key] = value
}

func canonicalize(v any) (any, error) {
	out, err := loader.Canonical(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}
