//go:build linux

package rfcomm

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// dialChannel opens a raw AF_BLUETOOTH RFCOMM socket, bypassing SDP. Only
// used as the last resolution tier, with the channel number the devices are
// known to use.
func dialChannel(addr string, channel uint8) (io.ReadWriteCloser, error) {
	mac, err := parseMAC(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: socket: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{Addr: mac, Channel: channel}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: connect %s channel %d: %w", addr, channel, err)
	}

	return wrapFd(fd)
}

// wrapFd turns a connected socket fd into a ReadWriteCloser backed by the
// runtime poller.
func wrapFd(fd int) (io.ReadWriteCloser, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: set nonblocking: %w", err)
	}
	return os.NewFile(uintptr(fd), "rfcomm"), nil
}

// parseMAC converts a colon-separated Bluetooth address into sockaddr byte
// order, which is the reverse of the printed order.
func parseMAC(s string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("rfcomm: bad bluetooth address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return out, fmt.Errorf("rfcomm: bad bluetooth address %q", s)
		}
		out[5-i] = byte(v)
	}
	return out, nil
}
