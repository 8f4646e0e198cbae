package mdr

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// testDevice plays the headset side of a net.Pipe. A reader goroutine drains
// the session's writes, so session-side writes never block, and parses every
// frame onto the frames channel.
type testDevice struct {
	conn   net.Conn
	frames chan *Message
}

func startDevice(conn net.Conn) *testDevice {
	d := &testDevice{conn: conn, frames: make(chan *Message, 32)}
	go func() {
		defer close(d.frames)
		var buf []byte
		chunk := make([]byte, 256)
		for {
			n, err := conn.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				for {
					msg, rest := ExtractMessage(buf)
					buf = rest
					if msg == nil {
						break
					}
					d.frames <- msg
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return d
}

func (d *testDevice) send(t *testing.T, dataType DataType, seq byte, payload []byte) {
	t.Helper()
	if _, err := d.conn.Write(Pack(dataType, seq, payload)); err != nil {
		t.Fatalf("device write: %v", err)
	}
}

func (d *testDevice) next(t *testing.T) *Message {
	t.Helper()
	select {
	case msg, ok := <-d.frames:
		if !ok {
			t.Fatal("device side of the pipe closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame from the session")
	}
	return nil
}

// nextData skips ACK frames and returns the next data frame.
func (d *testDevice) nextData(t *testing.T) *Message {
	t.Helper()
	for {
		msg := d.next(t)
		if !msg.DataType.IsAck() {
			return msg
		}
	}
}

func newTestSession(t *testing.T) (*Session, *testDevice) {
	t.Helper()
	client, server := net.Pipe()
	s := NewSession(func(address string) (io.ReadWriteCloser, error) {
		return client, nil
	})
	s.HandshakeTimeout = 50 * time.Millisecond
	t.Cleanup(s.Close)
	return s, startDevice(server)
}

// newReadySession connects through the lenient handshake with a device that
// never answers, and consumes the two probe frames.
func newReadySession(t *testing.T) (*Session, *testDevice) {
	t.Helper()
	s, d := newTestSession(t)
	if err := s.Connect("test://device"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, want := range []Command{0x00, 0x06} {
		if got := d.nextData(t).Opcode(); got != want {
			t.Fatalf("handshake probe opcode = 0x%02X, want 0x%02X", byte(got), byte(want))
		}
	}
	return s, d
}

func TestSession_LenientHandshake(t *testing.T) {
	s, _ := newReadySession(t)

	if st := s.State(); st != StateReady {
		t.Errorf("state = %v, want ready with a mute device", st)
	}
	if !s.Status().Connected {
		t.Error("snapshot not marked connected")
	}
}

func TestSession_ConnectIdempotentWhenReady(t *testing.T) {
	s, _ := newReadySession(t)
	if err := s.Connect("test://device"); err != nil {
		t.Errorf("second connect while ready: %v", err)
	}
}

func TestSession_DialError(t *testing.T) {
	boom := errors.New("no adapter")
	s := NewSession(func(address string) (io.ReadWriteCloser, error) {
		return nil, boom
	})
	t.Cleanup(s.Close)

	if err := s.Connect("test://device"); !errors.Is(err, boom) {
		t.Errorf("connect error = %v, want wrapped dial error", err)
	}
	if st := s.State(); st != StateDisconnected {
		t.Errorf("state after failed dial = %v, want disconnected", st)
	}
}

func TestSession_SendBeforeConnect(t *testing.T) {
	s := NewSession(func(address string) (io.ReadWriteCloser, error) {
		return nil, errors.New("unused")
	})
	t.Cleanup(s.Close)

	if _, err := s.SendCommand(BatteryInquiry(), time.Second); err != ErrNotConnected {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestSession_CommandResponse(t *testing.T) {
	s, d := newReadySession(t)

	go func() {
		for msg := range d.frames {
			if msg.DataType.IsAck() {
				continue
			}
			if msg.Opcode() == CmdBatteryGet {
				d.conn.Write(Pack(DataTypeDataMdr, 1, []byte{0x23, 0x00, 77, 1}))
				return
			}
		}
	}()

	msg, err := s.SendCommand(BatteryInquiry(), time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Opcode() != CmdBatteryRet {
		t.Errorf("response opcode = 0x%02X, want 0x23", byte(msg.Opcode()))
	}

	// The response also flows through the notification decoder.
	st := s.Status()
	if st.Battery != 77 {
		t.Errorf("battery = %d, want 77", st.Battery)
	}
	if !st.Charging {
		t.Error("charging flag not set")
	}
}

func TestSession_AncRoundTrip(t *testing.T) {
	s, d := newReadySession(t)

	go func() {
		for msg := range d.frames {
			if msg.DataType.IsAck() {
				continue
			}
			if msg.Opcode() == CmdNcAsmSet {
				d.conn.Write(Pack(DataTypeDataMdr, 1, []byte{0x69, 0x19, 0x01, 0x01, 0x01, 0x00, 0x0A, 0x00, 0x00}))
				return
			}
		}
	}()

	if _, err := s.SendCommand(AncCommand(AncAmbient, 10, false), time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	if mode := s.Status().AncMode; mode != AncAmbient {
		t.Errorf("anc mode = %v, want ambient", mode)
	}
}

func TestSession_TimeoutLeavesSessionUsable(t *testing.T) {
	s, _ := newReadySession(t)

	if _, err := s.SendCommand(BatteryInquiry(), 100*time.Millisecond); err != ErrNoResponse {
		t.Fatalf("first send error = %v, want ErrNoResponse", err)
	}
	// The slot must be free again; a second attempt gets its own timeout,
	// not ErrBusy.
	if _, err := s.SendCommand(NcAsmGet(), 100*time.Millisecond); err != ErrNoResponse {
		t.Errorf("second send error = %v, want ErrNoResponse", err)
	}
}

func TestSession_SerialDiscipline(t *testing.T) {
	s, d := newReadySession(t)

	first := make(chan error, 1)
	go func() {
		_, err := s.SendCommand(BatteryInquiry(), 500*time.Millisecond)
		first <- err
	}()

	// Once the request frame is visible the pending slot is armed.
	d.nextData(t)

	if _, err := s.SendCommand(NcAsmGet(), time.Second); err != ErrBusy {
		t.Errorf("concurrent send error = %v, want ErrBusy", err)
	}
	if err := <-first; err != ErrNoResponse {
		t.Errorf("first send error = %v, want ErrNoResponse", err)
	}
}

func TestSession_AcksInboundNotifications(t *testing.T) {
	s, d := newReadySession(t)

	d.send(t, DataTypeDataMdr, 0, []byte{0xA9, 0x20, 15})

	ack := d.next(t)
	if !ack.DataType.IsAck() {
		t.Fatalf("expected an ack, got data type 0x%02X", byte(ack.DataType))
	}
	if ack.Seq != 1 {
		t.Errorf("ack seq = %d, want complement of 0", ack.Seq)
	}
	if vol := s.Status().Volume; vol != 15 {
		t.Errorf("volume = %d, want 15", vol)
	}
}

func TestSession_AdoptsDeviceSeq(t *testing.T) {
	s, d := newReadySession(t)

	d.send(t, DataTypeAck, 1, nil)
	time.Sleep(100 * time.Millisecond)

	go s.SendCommand(BatteryInquiry(), 200*time.Millisecond)

	msg := d.nextData(t)
	if msg.Seq != 1 {
		t.Errorf("outbound seq = %d, want 1 adopted from the device ack", msg.Seq)
	}
}

func TestSession_NotifyCallback(t *testing.T) {
	s, d := newReadySession(t)

	snapshots := make(chan DeviceState, 16)
	s.SetNotify(func(st DeviceState) { snapshots <- st })

	d.send(t, DataTypeDataMdr, 0, []byte{0xE9, 0x01, 0x01})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-snapshots:
			if st.Dsee {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with dsee enabled arrived")
		}
	}
}

func TestSession_RemoteClose(t *testing.T) {
	s, d := newReadySession(t)

	d.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatal("session never noticed the transport closing")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if s.Status().Connected {
		t.Error("snapshot still marked connected")
	}
	if _, err := s.SendCommand(BatteryInquiry(), time.Second); err != ErrNotConnected {
		t.Errorf("send error = %v, want ErrNotConnected", err)
	}
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	s, _ := newReadySession(t)

	s.Disconnect()
	s.Disconnect()

	if st := s.State(); st != StateDisconnected {
		t.Errorf("state = %v, want disconnected", st)
	}
}

func TestSession_CloseUnblocksSend(t *testing.T) {
	s, d := newReadySession(t)

	res := make(chan error, 1)
	go func() {
		_, err := s.SendCommand(BatteryInquiry(), 10*time.Second)
		res <- err
	}()
	d.nextData(t)

	s.Close()

	select {
	case err := <-res:
		if err != ErrClosed {
			t.Errorf("send error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send still blocked after close")
	}
}

func TestSession_ReconnectAfterDisconnect(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	conns := make(chan net.Conn, 2)
	conns <- client1
	conns <- client2

	s := NewSession(func(address string) (io.ReadWriteCloser, error) {
		return <-conns, nil
	})
	s.HandshakeTimeout = 50 * time.Millisecond
	t.Cleanup(s.Close)

	startDevice(server1)
	if err := s.Connect("test://device"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	s.Disconnect()

	d2 := startDevice(server2)
	if err := s.Connect("test://device"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if probe := d2.nextData(t); probe.Opcode() != 0x00 {
		t.Errorf("fresh transport probe opcode = 0x%02X, want 0x00", byte(probe.Opcode()))
	}
	if st := s.State(); st != StateReady {
		t.Errorf("state = %v, want ready", st)
	}
}

func TestSession_EmptyPayloadRejected(t *testing.T) {
	s, _ := newReadySession(t)
	if _, err := s.SendCommand(nil, time.Second); err == nil {
		t.Error("empty payload should be rejected before touching the wire")
	}
}

func TestSession_StatusIsACopy(t *testing.T) {
	s, _ := newReadySession(t)
	st := s.Status()
	st.Battery = 1
	if s.Status().Battery != BatteryUnknown {
		t.Error("mutating the returned snapshot leaked into the session")
	}
}
