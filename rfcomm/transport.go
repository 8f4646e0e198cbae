// Package rfcomm opens raw duplex byte transports to MDR headsets. The
// protocol engine only needs "send bytes" / "bytes arrived" / "channel
// closed"; everything Bluetooth-specific stays in here.
package rfcomm

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// DeviceInfo describes one discovered headset candidate.
type DeviceInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Path    string `json:"path,omitempty"`
}

// Dial opens the transport for a connection link:
//
//	bluetooth://XX:XX:XX:XX:XX:XX  RFCOMM via BlueZ (Linux)
//	socket://host:port, tcp://     a TCP bridge (ser2net-style, or tests)
//	/dev/rfcomm0                   a tty bound with rfcomm(1)
func Dial(link string) (io.ReadWriteCloser, error) {
	if addr, ok := strings.CutPrefix(link, "bluetooth://"); ok {
		return dialBluetooth(addr)
	}

	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: bad connection link %q: %w", link, err)
	}

	switch u.Scheme {
	case "socket", "tcp":
		conn, err := net.Dial("tcp", u.Host)
		if err != nil {
			return nil, err
		}
		conn.(*net.TCPConn).SetKeepAlive(true)
		conn.(*net.TCPConn).SetKeepAlivePeriod(30 * time.Second)
		log.Debugf("opened tcp bridge to %s", u.Host)
		return conn, nil
	case "file", "":
		port, err := serial.OpenPort(&serial.Config{Name: u.Path, Baud: 115200})
		if err != nil {
			return nil, err
		}
		log.Debugf("opened serial device %s", u.Path)
		return port, nil
	default:
		return nil, fmt.Errorf("rfcomm: unsupported connection link %q", link)
	}
}
