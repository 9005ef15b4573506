package aol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dreamware/kvstored/internal/store"
)

// ErrMalformedLog is returned by Recover when the log file's magic does
// not match or a record is truncated mid-way. Recovery does not attempt
// partial healing: a malformed log must be surfaced, and the caller is
// expected to refuse to start the server.
var ErrMalformedLog = errors.New("aol: malformed log")

// Recover rebuilds m by replaying the log at path in file order. A
// missing file is treated as a fresh store: success, no mutations
// applied. End-of-file exactly at a record boundary is success;
// end-of-file in the middle of a record is ErrMalformedLog.
//
// DELETE of a key not currently present is a no-op (not an error), which
// keeps replay total even though this implementation's server never
// logs a DELETE for a key it didn't observe removing from the map.
func Recover(path string, m *store.Map) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("aol: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, RecordHeaderSize)

	for {
		n, err := io.ReadFull(r, header)
		if errors.Is(err, io.EOF) && n == 0 {
			// Clean end of file at a record boundary.
			return nil
		}
		if err != nil {
			// Partial header: truncated mid-record.
			return fmt.Errorf("%w: truncated record header: %v", ErrMalformedLog, err)
		}

		if magic := binary.BigEndian.Uint32(header[0:4]); magic != RecordMagic {
			return fmt.Errorf("%w: bad magic 0x%08x", ErrMalformedLog, magic)
		}
		cmd := RecordCommand(header[4])
		keyLen := binary.BigEndian.Uint16(header[14:16])
		valueLen := binary.BigEndian.Uint32(header[16:20])

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return fmt.Errorf("%w: truncated key: %v", ErrMalformedLog, err)
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return fmt.Errorf("%w: truncated value: %v", ErrMalformedLog, err)
		}

		switch cmd {
		case RecordSet:
			m.Set(key, value)
		case RecordDelete:
			_ = m.Remove(key) // ErrKeyNotFound is a no-op during replay
		default:
			return fmt.Errorf("%w: unknown record command 0x%02x", ErrMalformedLog, cmd)
		}
	}
}
