package aol

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Writer durably records applied mutations to a single append-only file.
// It is the sole writer of that file: LogSet/LogDelete are serialized
// under a dedicated mutex, each call appends exactly one complete record
// and flushes before returning, and acknowledgement to the client happens
// only after the call returns.
//
// By default Writer flushes to the OS page cache but does not fsync —
// the "group-of-one fsync per mutation" baseline. Passing Fsync: true to
// NewWriter calls fsync after every record for a stronger durability
// guarantee at the cost of latency.
type Writer struct {
	mu    sync.Mutex
	file  *os.File
	buf   *bufio.Writer
	fsync bool
	log   *zap.Logger
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Fsync, when true, calls fsync after every appended record. When
	// false (the default), records are flushed to the OS page cache only.
	Fsync bool
	Log   *zap.Logger
}

// NewWriter opens path for append, creating it if it does not exist, and
// returns a Writer ready to accept mutations. The writer owns the
// returned file handle for the lifetime of the process.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("aol: open %s: %w", path, err)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		file:  f,
		buf:   bufio.NewWriter(f),
		fsync: opts.Fsync,
		log:   log,
	}, nil
}

// LogSet durably records a SET of key=value.
func (w *Writer) LogSet(key, value []byte) error {
	return w.append(RecordSet, key, value)
}

// LogDelete durably records a DELETE of key. Callers must only call this
// after confirming the key existed in the map — kvstored never writes a
// DELETE record for a key it never applied a removal for.
func (w *Writer) LogDelete(key []byte) error {
	return w.append(RecordDelete, key, nil)
}

func (w *Writer) append(cmd RecordCommand, key, value []byte) error {
	record := encodeRecord(cmd, time.Now().UnixNano(), key, value)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.buf.Write(record); err != nil {
		w.log.Error("aol write failed", zap.Error(err), zap.String("command", fmt.Sprint(cmd)))
		return fmt.Errorf("aol: write record: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.log.Error("aol flush failed", zap.Error(err))
		return fmt.Errorf("aol: flush: %w", err)
	}
	if w.fsync {
		if err := w.file.Sync(); err != nil {
			w.log.Error("aol fsync failed", zap.Error(err))
			return fmt.Errorf("aol: fsync: %w", err)
		}
	}
	return nil
}

// Flush forces any buffered bytes to the file and, if configured for
// stronger durability, syncs them to storage.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("aol: flush: %w", err)
	}
	if w.fsync {
		return w.file.Sync()
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
