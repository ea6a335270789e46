package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/settingsync/internal/config"
	"github.com/dshills/settingsync/internal/config/savestate"
)

// transitions records save indicator changes for one section.
type transitions struct {
	mu      sync.Mutex
	section string
	states  []savestate.State
}

func (tr *transitions) record(section string, _, to savestate.State) {
	if section != tr.section {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states = append(tr.states, to)
}

func (tr *transitions) get() []savestate.State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]savestate.State, len(tr.states))
	copy(out, tr.states)
	return out
}

func newStandaloneEditor(t *testing.T, path string, debounce time.Duration) *Editor {
	t.Helper()
	e, err := NewEditor(context.Background(), Options{
		ConfigPath: path,
		Standalone: true,
		Debounce:   debounce,
		ResetDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func TestEditor_SaveStateCycle(t *testing.T) {
	e := newStandaloneEditor(t, filepath.Join(t.TempDir(), "config.json"), 20*time.Millisecond)
	tr := &transitions{section: config.SectionAppOptions}
	e.OnSaveState(tr.record)

	require.NoError(t, e.Edit(config.SectionAppOptions, "autostart", false))
	assert.Equal(t, savestate.Saving, e.SaveState(config.SectionAppOptions))
	assert.Equal(t, savestate.Done, e.SaveState(config.SectionServers))

	require.Eventually(t, func() bool {
		return e.SaveState(config.SectionAppOptions) == savestate.Done
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []savestate.State{savestate.Saving, savestate.Saved, savestate.Done}, tr.get())

	opts, err := e.Store().AppOptions()
	require.NoError(t, err)
	assert.False(t, opts.Autostart)
}

func TestEditor_SaveErrorThenRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	e := newStandaloneEditor(t, path, 20*time.Millisecond)
	tr := &transitions{section: config.SectionAppOptions}
	e.OnSaveState(tr.record)

	// A directory where the file should be makes the atomic rename fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o700))

	require.NoError(t, e.Edit(config.SectionAppOptions, "autostart", false))
	require.Eventually(t, func() bool {
		return e.SaveState(config.SectionAppOptions) == savestate.Error
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, savestate.Error, e.SaveState(config.SectionAppOptions), "error is sticky")
	assert.Equal(t, savestate.Done, e.SaveState(config.SectionServers))

	v, ok := e.Store().Get(config.SectionAppOptions, "autostart")
	require.True(t, ok)
	assert.Equal(t, false, v, "in-memory document keeps the failed write")

	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, e.Edit(config.SectionAppOptions, "minimizeToTray", true))
	require.Eventually(t, func() bool {
		return e.SaveState(config.SectionAppOptions) == savestate.Done
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []savestate.State{
		savestate.Saving, savestate.Error,
		savestate.Saving, savestate.Saved, savestate.Done,
	}, tr.get())

	reopened := newStandaloneEditor(t, path, time.Hour)
	opts, err := reopened.Store().AppOptions()
	require.NoError(t, err)
	assert.False(t, opts.Autostart)
	assert.True(t, opts.MinimizeToTray)
}

func TestEditor_ReloadErrorFailsOutstandingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	e := newStandaloneEditor(t, path, time.Hour)
	tr := &transitions{section: config.SectionAppOptions}
	e.OnSaveState(tr.record)

	require.NoError(t, e.Edit(config.SectionAppOptions, "autostart", false))
	require.Equal(t, savestate.Saving, e.SaveState(config.SectionAppOptions))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	require.Error(t, e.Store().Reload(context.Background()))

	assert.Equal(t, savestate.Error, e.SaveState(config.SectionAppOptions))
	assert.Equal(t, savestate.Done, e.SaveState(config.SectionServers), "no outstanding writes")
	assert.Equal(t, []savestate.State{savestate.Saving, savestate.Error}, tr.get())

	// The queued write is still saved, and the next edit clears the error.
	require.NoError(t, e.Edit(config.SectionAppOptions, "minimizeToTray", true))
	require.NoError(t, e.Flush(context.Background()))
	assert.Contains(t, []savestate.State{savestate.Saved, savestate.Done}, e.SaveState(config.SectionAppOptions))

	reopened := newStandaloneEditor(t, path, time.Hour)
	opts, err := reopened.Store().AppOptions()
	require.NoError(t, err)
	assert.False(t, opts.Autostart)
	assert.True(t, opts.MinimizeToTray)
}

func TestEditor_SaveErrorChangesStateOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	e := newStandaloneEditor(t, path, time.Hour)
	tr := &transitions{section: config.SectionAppOptions}
	e.OnSaveState(tr.record)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o700))

	require.NoError(t, e.Edit(config.SectionAppOptions, "autostart", false))
	require.Error(t, e.Flush(context.Background()))

	assert.Equal(t, []savestate.State{savestate.Saving, savestate.Error}, tr.get())
	require.NoError(t, os.RemoveAll(path))
}

func TestEditor_UpdateServerKeepsOrder(t *testing.T) {
	e := newStandaloneEditor(t, filepath.Join(t.TempDir(), "config.json"), time.Hour)

	require.NoError(t, e.AddServer(config.Server{Name: "A", URL: "https://a.example.com"}))
	require.NoError(t, e.AddServer(config.Server{Name: "B", URL: "https://b.example.com"}))
	require.NoError(t, e.UpdateServer("B", config.Server{Name: "B", URL: "https://b2.example.com"}))

	servers, err := e.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, config.Server{Name: "A", URL: "https://a.example.com", Order: 0}, servers[0])
	assert.Equal(t, config.Server{Name: "B", URL: "https://b2.example.com", Order: 1}, servers[1])
}

func TestEditor_ServersIncludeUnsavedEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	e := newStandaloneEditor(t, path, time.Hour)

	a := config.Server{Name: "ServerA", URL: "https://a.example.com"}
	b := config.Server{Name: "ServerB", URL: "https://b.example.com"}
	require.NoError(t, e.AddServer(a))
	require.NoError(t, e.AddServer(b))

	servers, err := e.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"ServerA", "ServerB"}, []string{servers[0].Name, servers[1].Name})
	assert.Equal(t, []int{0, 1}, []int{servers[0].Order, servers[1].Order})

	stored, err := e.Store().Servers()
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing saved before the flush")

	require.NoError(t, e.Close(context.Background()))

	reopened := newStandaloneEditor(t, path, time.Hour)
	stored, err = reopened.Store().Servers()
	require.NoError(t, err)
	assert.Equal(t, servers, stored)

	require.NoError(t, reopened.RemoveServer("ServerA"))
	servers, err = reopened.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "ServerB", servers[0].Name)
	assert.Equal(t, 0, servers[0].Order)
}

func TestEditor_ServerValidation(t *testing.T) {
	e := newStandaloneEditor(t, filepath.Join(t.TempDir(), "config.json"), time.Hour)

	err := e.AddServer(config.Server{Name: "bad", URL: "ftp://example.com"})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "add-server", opErr.Op)

	require.NoError(t, e.AddServer(config.Server{Name: "ok", URL: "https://example.com"}))
	assert.Error(t, e.AddServer(config.Server{Name: "ok", URL: "https://other.example.com"}), "duplicate name")

	assert.ErrorIs(t, e.RemoveServer("missing"), config.ErrServerNotFound)
	assert.ErrorIs(t, e.UpdateServer("missing", config.Server{Name: "x", URL: "https://x.example.com"}), config.ErrServerNotFound)

	require.NoError(t, e.UpdateServer("ok", config.Server{Name: "renamed", URL: "https://example.com"}))
	servers, err := e.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "renamed", servers[0].Name)
}

func TestEditor_EditAfterClose(t *testing.T) {
	e := newStandaloneEditor(t, filepath.Join(t.TempDir(), "config.json"), time.Hour)
	require.NoError(t, e.Close(context.Background()))

	assert.ErrorIs(t, e.Edit(config.SectionAppOptions, "autostart", true), ErrClosed)
	assert.NoError(t, e.Close(context.Background()))
}

func TestEditor_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewEditor(context.Background(), Options{ConfigPath: path, Standalone: true})
	assert.ErrorIs(t, err, ErrInitialization)
}
