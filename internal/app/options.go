package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/settingsync/internal/bridge"
	"github.com/dshills/settingsync/internal/config/loader"
	"github.com/dshills/settingsync/internal/config/savequeue"
	"github.com/dshills/settingsync/internal/config/savestate"
)

// Options configures an Owner or an Editor.
type Options struct {
	// ConfigPath is the settings file. The extension picks the format
	// unless Format is set.
	ConfigPath string

	// Format overrides the file format: json, toml or yaml.
	Format string

	// Address is the bridge endpoint: a socket path, or a pipe name on
	// Windows.
	Address string

	// Debounce is the save queue delay.
	Debounce time.Duration

	// ResetDelay is how long a section shows "saved" before "done".
	ResetDelay time.Duration

	// WatchDebounce coalesces bursts of file events in the owner.
	WatchDebounce time.Duration

	// Standalone skips the bridge entirely.
	Standalone bool

	// Logger receives all log output. Defaults to a null logger.
	Logger hclog.Logger
}

// settingsFile returns the storage for the configured path and format.
func (o Options) settingsFile() (*loader.File, error) {
	if o.Format == "" {
		return loader.NewFile(o.ConfigPath), nil
	}
	codec, err := loader.CodecByName(o.Format)
	if err != nil {
		return nil, err
	}
	return loader.NewFile(o.ConfigPath, loader.WithCodec(codec)), nil
}

// DefaultConfigPath returns the per-user settings file.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "settingsync", "config.json")
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.ConfigPath == "" {
		o.ConfigPath = DefaultConfigPath()
	}
	if o.Address == "" {
		o.Address = bridge.DefaultAddress()
	}
	if o.Debounce <= 0 {
		o.Debounce = savequeue.DefaultDelay
	}
	if o.ResetDelay <= 0 {
		o.ResetDelay = savestate.DefaultResetDelay
	}
	if o.WatchDebounce <= 0 {
		o.WatchDebounce = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	return o
}
