//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package listener

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control sets SO_REUSEADDR, and SO_REUSEPORT when asked, before bind.
func control(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if serr == nil && reusePort {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}
