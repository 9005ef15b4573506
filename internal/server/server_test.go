package server

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/kvstored/internal/aol"
	"github.com/dreamware/kvstored/internal/store"
	"github.com/dreamware/kvstored/internal/wire"
)

// testServer starts a Server on an ephemeral port backed by a fresh store
// and AOL in a temp directory, returning the server and its listen address.
func testServer(t *testing.T) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "kvstored.aol")

	w, err := aol.NewWriter(path, aol.WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	m := store.NewMap(store.DefaultShardCount)

	srv := New("127.0.0.1:0", m, w, Options{Workers: 4, StatsInterval: -1})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		srv.Stop()
		w.Close()
	})
	return srv, srv.Addr().String()
}

func sendRequest(t *testing.T, conn net.Conn, cmd wire.Command, seq uint16, key, value []byte) (wire.Status, []byte) {
	t.Helper()

	var req [wire.HeaderSize]byte
	binary.BigEndian.PutUint32(req[0:4], wire.RequestMagic)
	req[4] = byte(cmd)
	req[5] = 0
	binary.BigEndian.PutUint32(req[6:10], uint32(len(key)))
	binary.BigEndian.PutUint32(req[10:14], uint32(len(value)))
	binary.BigEndian.PutUint16(req[14:16], seq)

	if _, err := conn.Write(req[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if len(key) > 0 {
		if _, err := conn.Write(key); err != nil {
			t.Fatalf("write key: %v", err)
		}
	}
	if len(value) > 0 {
		if _, err := conn.Write(value); err != nil {
			t.Fatalf("write value: %v", err)
		}
	}

	var resp [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	if got := binary.BigEndian.Uint32(resp[0:4]); got != wire.ResponseMagic {
		t.Fatalf("expected response magic, got 0x%08x", got)
	}
	status := wire.Status(resp[4])
	dataLen := binary.BigEndian.Uint32(resp[6:10])
	gotSeq := binary.BigEndian.Uint16(resp[14:16])
	if gotSeq != seq {
		t.Errorf("expected echoed seq 0x%04x, got 0x%04x", seq, gotSeq)
	}
	payload := make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	return status, payload
}

func TestEndToEndPing(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	status, payload := sendRequest(t, conn, wire.CmdPing, 1, nil, nil)
	if status != wire.StatusOK {
		t.Errorf("expected OK, got %v", status)
	}
	if len(payload) != 0 {
		t.Errorf("expected empty payload, got %q", payload)
	}
}

func TestEndToEndSetThenGet(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	status, _ := sendRequest(t, conn, wire.CmdSet, 1, []byte("foo"), []byte("bar"))
	require.Equal(t, wire.StatusOK, status, "SET")

	status, payload := sendRequest(t, conn, wire.CmdGet, 2, []byte("foo"), nil)
	require.Equal(t, wire.StatusOK, status, "GET")
	require.Equal(t, "bar", string(payload))
}

func TestEndToEndDeleteRemoves(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sendRequest(t, conn, wire.CmdSet, 1, []byte("k"), []byte("v"))

	status, _ := sendRequest(t, conn, wire.CmdDelete, 2, []byte("k"), nil)
	if status != wire.StatusOK {
		t.Fatalf("DELETE expected OK, got %v", status)
	}

	status, _ = sendRequest(t, conn, wire.CmdGet, 3, []byte("k"), nil)
	if status != wire.StatusKeyNotFound {
		t.Errorf("expected KEY_NOT_FOUND after delete, got %v", status)
	}
}

func TestEndToEndDeleteOfAbsentKeyIsKeyNotFound(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	status, _ := sendRequest(t, conn, wire.CmdDelete, 1, []byte("never-set"), nil)
	if status != wire.StatusKeyNotFound {
		t.Errorf("expected KEY_NOT_FOUND, got %v", status)
	}
}

func TestEndToEndGetOfMissingKey(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	status, _ := sendRequest(t, conn, wire.CmdGet, 1, []byte("missing"), nil)
	if status != wire.StatusKeyNotFound {
		t.Errorf("expected KEY_NOT_FOUND, got %v", status)
	}
}

func TestEndToEndProtocolErrorOnBadMagic(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var bad [wire.HeaderSize]byte
	binary.BigEndian.PutUint32(bad[0:4], 0xBADBAD00)
	if _, err := conn.Write(bad[:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if wire.Status(resp[4]) != wire.StatusProtocolError {
		t.Errorf("expected PROTOCOL_ERROR, got %v", wire.Status(resp[4]))
	}

	// The server closes the connection after a protocol error.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Errorf("expected EOF after protocol error, got %v", err)
	}
}

func TestEndToEndProtocolErrorOnShortBody(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var req [wire.HeaderSize]byte
	binary.BigEndian.PutUint32(req[0:4], wire.RequestMagic)
	req[4] = byte(wire.CmdGet)
	binary.BigEndian.PutUint32(req[6:10], 5)
	binary.BigEndian.PutUint16(req[14:16], 7)
	if _, err := conn.Write(req[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	// Declare a 5-byte key but only send 3, then close the write side.
	if _, err := conn.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write partial key: %v", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	var resp [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if wire.Status(resp[4]) != wire.StatusProtocolError {
		t.Errorf("expected PROTOCOL_ERROR, got %v", wire.Status(resp[4]))
	}
	if gotSeq := binary.BigEndian.Uint16(resp[14:16]); gotSeq != 7 {
		t.Errorf("expected echoed seq 7, got %d", gotSeq)
	}
}

func TestEndToEndProtocolErrorOnShortHeader(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Send fewer bytes than a full header, then close the write side.
	if _, err := conn.Write([]byte{0x4B, 0x56, 0x53}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	var resp [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if wire.Status(resp[4]) != wire.StatusProtocolError {
		t.Errorf("expected PROTOCOL_ERROR, got %v", wire.Status(resp[4]))
	}
	if gotSeq := binary.BigEndian.Uint16(resp[14:16]); gotSeq != 0 {
		t.Errorf("expected seq 0 for an undecoded header, got %d", gotSeq)
	}
}

func TestEndToEndInvalidCommandIsDistinctFromProtocolError(t *testing.T) {
	_, addr := testServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var req [wire.HeaderSize]byte
	binary.BigEndian.PutUint32(req[0:4], wire.RequestMagic)
	req[4] = 0x99 // no such command
	binary.BigEndian.PutUint16(req[14:16], 3)
	if _, err := conn.Write(req[:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if wire.Status(resp[4]) != wire.StatusInvalidCommand {
		t.Errorf("expected INVALID_COMMAND, got %v", wire.Status(resp[4]))
	}
}

// Durability across restart (spec end-to-end scenario): set a key, stop the
// server (flushing the AOL), recover a fresh store from the same AOL path,
// and confirm the key survives.
func TestDurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvstored.aol")

	w1, err := aol.NewWriter(path, aol.WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	m1 := store.NewMap(store.DefaultShardCount)
	srv1 := New("127.0.0.1:0", m1, w1, Options{Workers: 2, StatsInterval: -1})
	if err := srv1.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn, err := net.Dial("tcp", srv1.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if status, _ := sendRequest(t, conn, wire.CmdSet, 1, []byte("foo"), []byte("bar")); status != wire.StatusOK {
		t.Fatalf("SET expected OK, got %v", status)
	}
	conn.Close()

	if err := srv1.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected aol file to exist: %v", err)
	}

	m2 := store.NewMap(store.DefaultShardCount)
	if err := aol.Recover(path, m2); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	w2, err := aol.NewWriter(path, aol.WriterOptions{})
	if err != nil {
		t.Fatalf("reopen NewWriter: %v", err)
	}
	defer w2.Close()
	srv2 := New("127.0.0.1:0", m2, w2, Options{Workers: 2, StatsInterval: -1})
	if err := srv2.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv2.Stop()

	conn2, err := net.Dial("tcp", srv2.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn2.Close()

	status, payload := sendRequest(t, conn2, wire.CmdGet, 1, []byte("foo"), nil)
	if status != wire.StatusOK {
		t.Fatalf("expected OK, got %v", status)
	}
	if string(payload) != "bar" {
		t.Errorf("expected bar, got %q", payload)
	}
}

func TestConcurrentOverwriteLastWriteWinsIsConsistent(t *testing.T) {
	_, addr := testServer(t)

	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Errorf("Dial: %v", err)
				return
			}
			defer conn.Close()
			sendRequest(t, conn, wire.CmdSet, uint16(i), []byte("shared"), []byte{byte(i)})
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	status, payload := sendRequest(t, conn, wire.CmdGet, 0, []byte("shared"), nil)
	if status != wire.StatusOK {
		t.Fatalf("expected OK, got %v", status)
	}
	if len(payload) != 1 {
		t.Fatalf("expected single-byte value from one of the writers, got %q", payload)
	}
}
