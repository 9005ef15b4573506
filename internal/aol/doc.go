// Package aol implements kvstored's append-only durability log: the
// Writer durably records every applied mutation, and Recover replays a
// log file to rebuild a store.Map from empty at startup.
//
// # Record format
//
//	offset  size  field
//	0       4     magic        0x414F4631 ("AOF1")
//	4       1     command      0x01 SET · 0x02 DELETE
//	5       1     flags        reserved, 0
//	6       8     timestamp    nanoseconds since epoch, informational only
//	14      2     key_length   u16
//	16      4     value_length u32
//	20      ..    key bytes
//	20+kl   ..    value bytes (absent for DELETE)
//
// Records are appended in application order, one write-and-flush per
// mutation (fsync optional, see Writer). Recovery replays records
// strictly sequentially; a DELETE of an absent key is a no-op, and a
// magic mismatch or truncated trailing record fails the whole recovery
// with ErrMalformedLog rather than best-effort healing.
package aol
