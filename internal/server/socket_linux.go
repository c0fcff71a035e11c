//go:build linux

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl lets several sockets bind the same address, so a
// replacement process can start listening before the old one exits.
func reusePortControl(network, address string, c syscall.RawConn) error {
	var err error
	cerr := c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if err != nil {
			return
		}
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if cerr != nil {
		return cerr
	}
	return err
}
