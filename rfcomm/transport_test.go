package rfcomm

import (
	"bytes"
	"net"
	"testing"
)

func TestDial_SocketBridge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	tr, err := Dial("socket://" + ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	remote := <-accepted
	defer remote.Close()

	if _, err := tr.Write([]byte{0x3E, 0x0C, 0x3C}); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := remote.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0x3E, 0x0C, 0x3C}) {
		t.Errorf("bridge carried % x", buf[:n])
	}
}

func TestDial_UnsupportedLink(t *testing.T) {
	if _, err := Dial("gopher://example"); err == nil {
		t.Error("unsupported scheme should be rejected")
	}
}
