//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package listener

import "syscall"

// control is a no-op where SO_REUSEPORT is unavailable.
func control(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
