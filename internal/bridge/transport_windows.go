//go:build windows

package bridge

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// pipeSecurity grants SYSTEM, the pipe owner and the interactive user
// access to the pipe.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GA;;;OW)(A;;GRGW;;;IU)"

// DefaultAddress returns the named pipe shared by the processes of one
// user session.
func DefaultAddress() string {
	return `\\.\pipe\settingsync`
}

func listen(addr string) (net.Listener, error) {
	l, err := winio.ListenPipe(addr, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
	})
	if err != nil {
		timeout := time.Second
		if conn, dialErr := winio.DialPipe(addr, &timeout); dialErr == nil {
			conn.Close()
			return nil, ErrAddressInUse
		}
		return nil, err
	}
	return l, nil
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, addr)
}
