package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/settingsync/internal/config"
	"github.com/dshills/settingsync/internal/config/savestate"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"false", false},
		{"2", float64(2)},
		{`{"flashWindow":2}`, map[string]any{"flashWindow": float64(2)}},
		{"dark", "dark"},
		{`"quoted"`, "quoted"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.in), tt.in)
	}
}

func TestRenderState(t *testing.T) {
	assert.Contains(t, renderState("appOptions", savestate.Saving), "saving")
	assert.Contains(t, renderState("appOptions", savestate.Saved), "saved")
	assert.Contains(t, renderState("servers", savestate.Error), "could not save")
	assert.Contains(t, renderState("servers", savestate.Done), "servers")
}

func TestRenderServers(t *testing.T) {
	assert.Contains(t, renderServers(nil), "no servers")

	out := renderServers([]config.Server{
		{Name: "A", URL: "https://a.example.com"},
		{Name: "B", URL: "https://b.example.com", Order: 1},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "1.")
	assert.Contains(t, lines[1], "https://b.example.com")
}

func TestCommands_SetThenGet(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	base := []string{"--config", cfg, "--standalone", "--log-level", "off", "--debounce", "10ms"}

	out, err := execute(t, append(base, "set", "appOptions", "trayIconTheme", "dark")...)
	require.NoError(t, err)
	assert.Contains(t, out, "saving")
	assert.Contains(t, out, "saved")

	out, err = execute(t, append(base, "get", "appOptions", "trayIconTheme")...)
	require.NoError(t, err)
	assert.Equal(t, "\"dark\"\n", out)

	_, err = execute(t, append(base, "get", "nope")...)
	assert.Error(t, err)
}

func TestCommands_Servers(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.toml")
	base := []string{"--config", cfg, "--standalone", "--log-level", "off", "--debounce", "10ms"}

	_, err := execute(t, append(base, "add-server", "ServerA", "https://a.example.com")...)
	require.NoError(t, err)
	_, err = execute(t, append(base, "add-server", "ServerB", "https://b.example.com")...)
	require.NoError(t, err)

	_, err = execute(t, append(base, "add-server", "Bad", "not a url")...)
	assert.Error(t, err)

	_, err = execute(t, append(base, "remove-server", "ServerA")...)
	require.NoError(t, err)

	out, err := execute(t, append(base, "servers")...)
	require.NoError(t, err)
	assert.Contains(t, out, "ServerB")
	assert.NotContains(t, out, "ServerA")
}

func TestCommands_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "c.json"), "--log-level", "loud", "get")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestCommands_ReadsDoNotWrite(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.json")
	base := []string{"--config", cfg, "--standalone", "--log-level", "off"}

	out, err := execute(t, append(base, "get", "appOptions", "autostart")...)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out, "defaults are served")

	_, err = execute(t, append(base, "servers")...)
	require.NoError(t, err)

	_, err = os.Stat(cfg)
	assert.True(t, os.IsNotExist(err), "reading must not create the file")

	legacy := []byte(`{"teams":[{"name":"Old","url":"https://old.example.com","index":false,"order":0}]}`)
	require.NoError(t, os.WriteFile(cfg, legacy, 0o600))

	out, err = execute(t, append(base, "servers")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Old")

	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, legacy, data, "old layout is left as it is")
}

func TestCommands_Format(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "settings.conf")
	base := []string{"--config", cfg, "--format", "toml", "--standalone", "--log-level", "off", "--debounce", "10ms"}

	_, err := execute(t, append(base, "set", "appOptions", "trayIconTheme", "dark")...)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[appOptions]")

	out, err := execute(t, append(base, "get", "appOptions", "trayIconTheme")...)
	require.NoError(t, err)
	assert.Equal(t, "\"dark\"\n", out)

	_, err = execute(t, "--config", cfg, "--format", "ini", "get")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config format")
}
