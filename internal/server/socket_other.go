//go:build !linux

package server

import (
	"errors"
	"syscall"
)

func reusePortControl(network, address string, c syscall.RawConn) error {
	return errors.New("reuse_port is only supported on linux")
}
