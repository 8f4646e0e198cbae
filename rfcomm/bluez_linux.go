//go:build linux

package rfcomm

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	dbus "github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
)

// MDR proprietary service UUIDs, tried most-specific first. The generic
// serial port profile is a last resort before the hardcoded channel.
const (
	serviceUUIDV2 = "956c7b26-d49a-4ba8-b03f-b17d393cb6e2" // XM4 and later
	serviceUUIDV1 = "96cc203e-5068-46ad-b32d-e316f5e069ba" // XM3, early XM4
	sppUUID       = "00001101-0000-1000-8000-00805f9b34fb"
)

// fallbackChannel is used when no service record yields a channel.
const fallbackChannel uint8 = 9

// openWait bounds the wait for BlueZ to hand over the connection fd.
const openWait = 10 * time.Second

var profilePathCounter uint64

// Discover lists known headsets from BlueZ, matched by model name.
func Discover() ([]DeviceInfo, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("rfcomm: connect system bus: %w", err)
	}

	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := bus.Object(bluezService, dbus.ObjectPath("/"))
	if call := root.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, fmt.Errorf("rfcomm: GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("rfcomm: decode GetManagedObjects: %w", err)
	}

	var out []DeviceInfo
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		name, _ := variantString(props, "Name")
		if !strings.Contains(name, "WH-1000XM") {
			continue
		}
		addr, _ := variantString(props, "Address")
		out = append(out, DeviceInfo{Name: name, Address: addr, Path: string(path)})
	}
	return out, nil
}

func variantString(props map[string]dbus.Variant, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}

// profileHandler implements org.bluez.Profile1 and forwards the connection
// fd BlueZ passes in NewConnection.
type profileHandler struct {
	ch chan int
}

func (p *profileHandler) Release() *dbus.Error { return nil }
func (p *profileHandler) Cancel() *dbus.Error  { return nil }

func (p *profileHandler) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *profileHandler) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	select {
	case p.ch <- int(fd):
		return nil
	default:
		// No receiver; close the fd so it doesn't leak.
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
}

// dialBluetooth resolves the RFCOMM channel for a headset and opens it.
// Resolution tiers, each tried only when the prior yields nothing: the V2
// service UUID, the legacy V1 UUID, generic SPP, and finally a raw socket on
// the hardcoded fallback channel.
func dialBluetooth(addr string) (io.ReadWriteCloser, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("rfcomm: connect system bus: %w", err)
	}

	devPath, err := devicePathForAddress(bus, addr)
	if err != nil {
		return nil, err
	}

	for _, uuid := range []string{serviceUUIDV2, serviceUUIDV1, sppUUID} {
		f, err := connectProfile(bus, devPath, uuid)
		if err == nil {
			log.Infof("opened RFCOMM to %s via service %s", addr, uuid)
			return f, nil
		}
		log.Debugf("service %s: %v", uuid, err)
	}

	log.Warnf("no service record matched for %s, using fallback channel %d", addr, fallbackChannel)
	return dialChannel(addr, fallbackChannel)
}

func devicePathForAddress(bus *dbus.Conn, addr string) (dbus.ObjectPath, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := bus.Object(bluezService, dbus.ObjectPath("/"))
	if call := root.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return "", fmt.Errorf("rfcomm: GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return "", fmt.Errorf("rfcomm: decode GetManagedObjects: %w", err)
	}
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if a, _ := variantString(props, "Address"); strings.EqualFold(a, addr) {
			return path, nil
		}
	}
	return "", fmt.Errorf("rfcomm: device %s not known to BlueZ (pair it first)", addr)
}

// connectProfile registers a one-shot client profile for the UUID, asks the
// device to connect it, and waits for BlueZ to deliver the socket fd.
func connectProfile(bus *dbus.Conn, devPath dbus.ObjectPath, uuid string) (io.ReadWriteCloser, error) {
	handler := &profileHandler{ch: make(chan int, 1)}
	id := atomic.AddUint64(&profilePathCounter, 1)
	path := dbus.ObjectPath("/mdrd/profile/p" + strconv.FormatUint(id, 10))

	if err := bus.Export(handler, path, profileIface); err != nil {
		return nil, fmt.Errorf("rfcomm: export profile: %w", err)
	}
	defer func() { _ = bus.Export(nil, path, profileIface) }()

	pm := bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	opts := map[string]dbus.Variant{"Role": dbus.MakeVariant("client")}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, uuid, opts); call.Err != nil {
		return nil, fmt.Errorf("rfcomm: RegisterProfile: %w", call.Err)
	}
	defer func() { _ = pm.Call(profileManagerIface+".UnregisterProfile", 0, path).Err }()

	dev := bus.Object(bluezService, devPath)
	if call := dev.Call(deviceIface+".ConnectProfile", 0, uuid); call.Err != nil {
		return nil, fmt.Errorf("rfcomm: ConnectProfile: %w", call.Err)
	}

	select {
	case fd := <-handler.ch:
		return wrapFd(fd)
	case <-time.After(openWait):
		return nil, fmt.Errorf("rfcomm: channel did not open within %v", openWait)
	}
}
