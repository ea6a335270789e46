//go:build !windows

package bridge

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"time"
)

// DefaultAddress returns the socket path shared by the processes of one
// user.
func DefaultAddress() string {
	return filepath.Join(os.TempDir(), "settingsync-"+currentUser()+".sock")
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

// listen opens a Unix domain socket at addr. A socket file left behind by
// a process that died is removed first; one with a live listener is not.
func listen(addr string) (net.Listener, error) {
	if _, err := os.Stat(addr); err == nil {
		conn, dialErr := net.DialTimeout("unix", addr, time.Second)
		if dialErr == nil {
			conn.Close()
			return nil, ErrAddressInUse
		}
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(addr), 0o700); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", addr)
	if err != nil {
		return nil, err
	}
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(true)
	}
	return l, nil
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", addr)
}
