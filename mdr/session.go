package mdr

import (
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SessionState is the connection lifecycle state of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateHandshaking
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// DialFunc opens the raw duplex transport to the device at the given
// address. The rfcomm package provides the real implementation; tests
// substitute an in-memory pipe.
type DialFunc func(address string) (io.ReadWriteCloser, error)

// Command timeouts. Fire-and-forget commands use the short timeout and
// treat the inevitable ErrNoResponse as success at the caller's discretion.
const (
	DefaultCommandTimeout   = 3 * time.Second
	FireAndForgetTimeout    = 500 * time.Millisecond
	defaultHandshakeTimeout = 2 * time.Second
)

// handshakeProbes are sent once after the transport opens. Some devices do
// not answer every probe, so responses are logged but never required.
var handshakeProbes = [][]byte{
	{0x00, 0x00}, // protocol info
	{0x06, 0x00}, // supported functions
}

// Session owns one transport and turns the raw byte stream into
// request/response pairs and state notifications.
//
// All mutable state belongs to a single loop goroutine. Public methods
// submit closures onto the loop and wait for completion, so callers on any
// goroutine are safe and the transport is only ever touched from one place.
// The protocol is strictly serial: at most one command is in flight, and a
// second concurrent SendCommand fails with ErrBusy.
type Session struct {
	// HandshakeTimeout bounds each handshake probe. Zero means the default.
	HandshakeTimeout time.Duration

	dial DialFunc
	ops  chan func()
	quit chan struct{}

	closeOnce sync.Once

	// Everything below is owned by the run loop.
	state    SessionState
	tr       io.ReadWriteCloser
	rx       chan []byte
	buf      []byte
	ch       channel
	pending  *pendingRequest
	dev      DeviceState
	address  string
	notifyFn func(DeviceState)
}

// pendingRequest is the single outstanding request slot. It is created when
// a command is written and resolved by a matching message or its timer.
type pendingRequest struct {
	expect map[Command]bool
	res    chan *Message
	timer  *time.Timer
}

// NewSession creates a session and starts its owning goroutine.
func NewSession(dial DialFunc) *Session {
	s := &Session{
		dial: dial,
		ops:  make(chan func()),
		quit: make(chan struct{}),
		dev:  newDeviceState(),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		var timeout <-chan time.Time
		if s.pending != nil {
			timeout = s.pending.timer.C
		}

		select {
		case <-s.quit:
			return
		case op := <-s.ops:
			op()
		case raw, ok := <-s.rx:
			if !ok {
				s.onTransportClosed()
				continue
			}
			s.onData(raw)
		case <-timeout:
			s.resolvePending(nil)
		}
	}
}

// do runs fn on the session loop and waits for it to finish.
func (s *Session) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(done) }:
	case <-s.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-s.quit:
		return false
	}
}

// Connect dials the device, opens the transport and runs the handshake.
// Connecting while already Ready is an idempotent success. The handshake is
// intentionally lenient: probe responses are logged, never required.
func (s *Session) Connect(address string) error {
	var already bool
	var err error
	if !s.do(func() {
		switch s.state {
		case StateReady:
			already = true
		case StateDisconnected:
			s.state = StateConnecting
		default:
			err = fmt.Errorf("mdr: connect already in progress")
		}
	}) {
		return ErrClosed
	}
	if already || err != nil {
		return err
	}

	log.Infof("connecting to %s", address)
	tr, derr := s.dial(address)
	if derr != nil {
		s.do(func() { s.state = StateDisconnected })
		return fmt.Errorf("mdr: open transport: %w", derr)
	}

	attached := false
	if !s.do(func() {
		// A Disconnect racing the dial wins; don't resurrect the session.
		if s.state != StateConnecting {
			return
		}
		s.attach(tr, address)
		s.state = StateHandshaking
		attached = true
	}) {
		tr.Close()
		return ErrClosed
	}
	if !attached {
		tr.Close()
		return ErrNotConnected
	}

	for _, probe := range handshakeProbes {
		msg, herr := s.send(probe, s.handshakeTimeout(), true)
		if herr != nil {
			log.Debugf("handshake probe % x: %v", probe, herr)
			continue
		}
		log.Infof("handshake probe % x answered with opcode 0x%02X", probe, msg.Opcode())
	}

	ready := false
	if !s.do(func() {
		// The transport may have died during the handshake.
		if s.state == StateHandshaking {
			s.state = StateReady
			s.dev.Connected = true
			s.notify()
			ready = true
		}
	}) {
		return ErrClosed
	}
	if !ready {
		return ErrNotConnected
	}
	log.Infof("connected to %s", address)
	return nil
}

// Disconnect closes the transport and resets the session. Idempotent.
func (s *Session) Disconnect() {
	s.do(func() {
		if s.state == StateDisconnected && s.tr == nil {
			return
		}
		s.dropTransport()
		log.Infof("disconnected")
	})
}

// Close tears the session down for good. Any blocked calls return ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.do(func() { s.dropTransport() })
		close(s.quit)
	})
}

// SendCommand writes an opcode-prefixed payload and blocks until a message
// with an opcode in {op, op+1} arrives or the timeout elapses. A timeout is
// reported as ErrNoResponse; the session stays usable and the caller decides
// whether to resend.
func (s *Session) SendCommand(payload []byte, timeout time.Duration) (*Message, error) {
	return s.send(payload, timeout, false)
}

// Status returns a copy of the cached device state snapshot.
func (s *Session) Status() DeviceState {
	st := newDeviceState()
	s.do(func() { st = s.dev })
	return st
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	var st SessionState
	if !s.do(func() { st = s.state }) {
		return StateDisconnected
	}
	return st
}

// SetNotify installs a callback invoked on the session loop after every
// state snapshot change. The callback must not block.
func (s *Session) SetNotify(fn func(DeviceState)) {
	s.do(func() { s.notifyFn = fn })
}

func (s *Session) handshakeTimeout() time.Duration {
	if s.HandshakeTimeout > 0 {
		return s.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

func (s *Session) send(payload []byte, timeout time.Duration, handshake bool) (*Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("mdr: empty command payload")
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	res := make(chan *Message, 1)
	var err error
	if !s.do(func() {
		if s.state != StateReady && !(handshake && s.state == StateHandshaking) {
			err = ErrNotConnected
			return
		}
		if s.pending != nil {
			err = ErrBusy
			return
		}
		if werr := s.ch.writeData(payload); werr != nil {
			err = fmt.Errorf("mdr: write command: %w", werr)
			s.dropTransport()
			return
		}
		op := Command(payload[0])
		s.pending = &pendingRequest{
			expect: map[Command]bool{op: true, op + 1: true},
			res:    res,
			timer:  time.NewTimer(timeout),
		}
	}) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}

	select {
	case msg := <-res:
		if msg == nil {
			log.Warnf("response timeout for opcode 0x%02X", payload[0])
			return nil, ErrNoResponse
		}
		return msg, nil
	case <-s.quit:
		return nil, ErrClosed
	}
}

// attach installs a freshly opened transport and starts its read pump.
func (s *Session) attach(tr io.ReadWriteCloser, address string) {
	s.tr = tr
	s.address = address
	s.buf = nil
	s.ch.reset(tr)

	rx := make(chan []byte, 8)
	s.rx = rx
	go readPump(tr, rx)
}

// onData appends a received chunk and drains every complete frame from the
// buffer. Responses resolving a pending request are additionally fed to the
// notification decoder, so both paths always run.
func (s *Session) onData(raw []byte) {
	s.buf = append(s.buf, raw...)
	for {
		msg, rest := ExtractMessage(s.buf)
		s.buf = rest
		if msg == nil {
			return
		}
		if !s.ch.handleFrame(msg) {
			continue // ACK, consumed by the channel
		}

		if s.pending != nil && s.pending.expect[msg.Opcode()] {
			log.Debugf("RX [opcode=0x%02X] resolves pending request", byte(msg.Opcode()))
			s.resolvePending(msg)
		}
		if delta, ok := decodeNotification(msg.Payload); ok {
			delta.apply(&s.dev)
			s.notify()
		}
	}
}

func (s *Session) resolvePending(msg *Message) {
	p := s.pending
	if p == nil {
		return
	}
	s.pending = nil
	p.timer.Stop()
	p.res <- msg
}

func (s *Session) onTransportClosed() {
	log.Warnf("transport closed by remote")
	s.dropTransport()
}

// dropTransport closes and detaches the transport and flips the session to
// Disconnected. An in-flight request is left armed so the blocked caller is
// released by its own timeout.
func (s *Session) dropTransport() {
	if s.tr != nil {
		s.tr.Close()
		s.tr = nil
	}
	if s.rx != nil {
		go drainChunks(s.rx)
		s.rx = nil
	}
	s.buf = nil
	s.state = StateDisconnected
	if s.dev.Connected {
		s.dev.Connected = false
		s.notify()
	}
}

func (s *Session) notify() {
	if s.notifyFn != nil {
		s.notifyFn(s.dev)
	}
}

// readPump moves raw chunks from the transport onto the session loop until
// the transport fails or closes.
func readPump(r io.Reader, rx chan<- []byte) {
	defer close(rx)
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			rx <- chunk
		}
		if err != nil {
			if err != io.EOF {
				log.Debugf("transport read: %v", err)
			}
			return
		}
	}
}

// drainChunks keeps an abandoned pump from blocking on its channel.
func drainChunks(rx <-chan []byte) {
	for range rx {
	}
}
