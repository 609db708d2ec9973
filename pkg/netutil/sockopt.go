package netutil

import (
	"context"
	"syscall"

	"golang.org/x/sys/unix"
)

// contextBackground exists only so the two ListenConfig.ListenPacket calls
// in this package don't need to import "context" at their call sites
// twice; it is always context.Background(), sockets here are not meant to
// be cancelled mid-bind.
func contextBackground() context.Context {
	return context.Background()
}

// reuseAddrControl sets SO_REUSEADDR on the raw socket before bind, so a
// restarted gateway process isn't blocked by a socket the previous
// process left in TIME_WAIT.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// reusePortControl sets both SO_REUSEADDR and SO_REUSEPORT, allowing
// multiple multicast listeners on the same port to coexist, matching the
// socket2 reuse_address/reuse_port pair the gateway's multicast join path
// was originally built on.
func reusePortControl(network, address string, c syscall.RawConn) error {
	if err := reuseAddrControl(network, address, c); err != nil {
		return err
	}
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
