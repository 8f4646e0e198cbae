//go:build !linux

package rfcomm

import (
	"errors"
	"io"
)

var errUnsupported = errors.New("rfcomm: bluetooth transport requires Linux with BlueZ; use a socket:// bridge or a bound rfcomm tty instead")

func dialBluetooth(addr string) (io.ReadWriteCloser, error) {
	return nil, errUnsupported
}

// Discover is unavailable without BlueZ.
func Discover() ([]DeviceInfo, error) {
	return nil, errUnsupported
}
