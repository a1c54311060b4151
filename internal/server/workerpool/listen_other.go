//go:build !linux

package workerpool

import (
	"errors"
	"syscall"
)

func reusePortControl(network, address string, c syscall.RawConn) error {
	return errors.New("workerpool: SO_REUSEPORT is only supported on linux")
}
