package app

import (
	"context"

	"github.com/dshills/settingsync/internal/config"
)

// Open loads the settings for reading. The file is never written, so a
// missing file or an old layout is left as it is on disk, and nothing is
// signalled over the bridge. Close the returned store when done.
func Open(ctx context.Context, opts Options) (*config.Store, error) {
	opts = opts.withDefaults()

	file, err := opts.settingsFile()
	if err != nil {
		return nil, initError("store", "open", err)
	}
	store := config.New(file,
		config.WithReadOnly(),
		config.WithLogger(opts.Logger.Named("store")),
	)
	if err := store.Load(ctx); err != nil {
		store.Close()
		return nil, initError("store", "load", err)
	}
	return store, nil
}
