package app

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/settingsync/internal/bridge"
	"github.com/dshills/settingsync/internal/config"
	"github.com/dshills/settingsync/internal/config/loader"
	"github.com/dshills/settingsync/internal/config/watcher"
)

const reloadTimeout = 10 * time.Second

// Owner is the long-running process that holds the settings file. It
// listens on the bridge, reloads when an editor saves and when the file
// is edited by another program, and forwards the latter to editors.
type Owner struct {
	opts    Options
	logger  hclog.Logger
	file    *loader.File
	store   *config.Store
	watcher *watcher.Watcher
	bridge  *bridge.Bridge

	closeOnce sync.Once
	closeErr  error
}

// NewOwner loads the settings and starts watching and listening.
func NewOwner(ctx context.Context, opts Options) (*Owner, error) {
	opts = opts.withDefaults()
	file, err := opts.settingsFile()
	if err != nil {
		return nil, initError("store", "open", err)
	}
	o := &Owner{
		opts:   opts,
		logger: opts.Logger,
		file:   file,
	}

	o.store = config.New(o.file, config.WithLogger(o.logger.Named("store")))
	o.store.OnUpdate(func(doc config.Document, source string) {
		o.logger.Info("settings updated", "source", source, "sections", len(doc))
	})
	o.store.OnError(func(err error) {
		o.logger.Error("settings error", "error", err)
	})
	if err := o.store.Load(ctx); err != nil {
		return nil, initError("store", "load", err)
	}

	o.watcher = watcher.New(
		watcher.WithDebounce(opts.WatchDebounce),
		watcher.WithLogger(o.logger.Named("watcher")),
	)
	o.watcher.OnChange(o.fileChanged)
	if err := o.watcher.Watch(opts.ConfigPath); err != nil {
		o.store.Close()
		return nil, initError("watcher", "watch", err)
	}
	if err := o.watcher.Start(); err != nil {
		o.store.Close()
		return nil, initError("watcher", "start", err)
	}

	if !opts.Standalone {
		b, err := bridge.Listen(opts.Address, o.store, bridge.WithLogger(o.logger.Named("bridge")))
		if err != nil {
			o.watcher.Stop()
			o.store.Close()
			return nil, initError("bridge", "listen", err)
		}
		b.Attach(o.store)
		o.bridge = b
	}

	o.logger.Info("owner started", "config", opts.ConfigPath, "address", opts.Address)
	return o, nil
}

// Store returns the owner's settings store.
func (o *Owner) Store() *config.Store {
	return o.store
}

// Bridge returns the listening bridge, or nil in standalone mode.
func (o *Owner) Bridge() *bridge.Bridge {
	return o.bridge
}

// Run blocks until ctx is done, then closes the owner.
func (o *Owner) Run(ctx context.Context) error {
	<-ctx.Done()
	return o.Close()
}

// Close stops the watcher and the bridge and closes the store.
func (o *Owner) Close() error {
	o.closeOnce.Do(func() {
		o.watcher.Stop()

		errs := NewErrorList()
		if o.bridge != nil {
			if err := o.bridge.Close(); err != nil {
				errs.Add(NewComponentError("bridge", "close", err))
			}
		}
		o.store.Close()
		o.closeErr = errs.AsError()
	})
	return o.closeErr
}

// fileChanged reloads after an external edit and tells editors about it.
// The owner's own writes leave the file digest unchanged and are skipped.
func (o *Owner) fileChanged(ev watcher.Event) {
	if ev.Op == watcher.OpRemove || ev.Op == watcher.OpRename {
		o.logger.Warn("settings file went away; keeping settings in memory", "path", ev.Path, "op", ev.Op)
		return
	}

	changed, err := o.file.Changed()
	if err != nil {
		o.logger.Warn("checking settings file", "error", err)
		return
	}
	if !changed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := o.store.Reload(ctx); err != nil {
		return
	}
	o.logger.Info("reloaded after external edit", "path", ev.Path)

	if o.bridge != nil {
		if err := o.bridge.Notify(); err != nil {
			o.logger.Warn("reload signal not delivered", "error", err)
		}
	}
}
