package aol

import "encoding/binary"

// RecordMagic identifies a well-formed AOL record ("AOF1").
const RecordMagic uint32 = 0x414F4631

// RecordHeaderSize is the fixed size, in bytes, of a record's header
// (everything before the variable-length key and value).
const RecordHeaderSize = 20

// RecordCommand is the mutation kind a record describes.
type RecordCommand uint8

const (
	RecordSet    RecordCommand = 0x01
	RecordDelete RecordCommand = 0x02
)

// encodeRecord serializes one AOL record: magic, command, flags,
// timestamp, key/value lengths, then the key and value bytes themselves.
func encodeRecord(cmd RecordCommand, timestampNanos int64, key, value []byte) []byte {
	buf := make([]byte, RecordHeaderSize+len(key)+len(value))
	binary.BigEndian.PutUint32(buf[0:4], RecordMagic)
	buf[4] = byte(cmd)
	buf[5] = 0 // flags, reserved
	binary.BigEndian.PutUint64(buf[6:14], uint64(timestampNanos))
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(key)))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(value)))
	copy(buf[RecordHeaderSize:], key)
	copy(buf[RecordHeaderSize+len(key):], value)
	return buf
}
