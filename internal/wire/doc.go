// Package wire implements kvstored's binary request/response framing: a
// fixed 16-byte header in both directions, followed by a variable-length
// body. All multi-byte integers are big-endian.
//
// # Request header (16 bytes)
//
//	offset  size  field
//	0       4     magic        0x4B565354 ("KVST")
//	4       1     command      0x01 GET · 0x02 SET · 0x03 DELETE · 0x04 PING
//	5       1     flags        reserved, 0
//	6       4     key_length   u32, <= 65535
//	10      4     value_length u32
//	14      2     sequence_id  u16, echoed in the response
//
// followed by key_length bytes of key, then value_length bytes of value.
//
// # Response header (16 bytes)
//
//	offset  size  field
//	0       4     magic        0x4B565352 ("KVSR")
//	4       1     status       0x00 OK · 0x01 KEY_NOT_FOUND ·
//	                           0x02 INVALID_COMMAND · 0x03 PROTOCOL_ERROR ·
//	                           0x04 INTERNAL_ERROR
//	5       1     flags        reserved, 0
//	6       4     data_length  u32
//	10      4     reserved     0
//	14      2     sequence_id  u16, echoed from the request
//
// followed by data_length bytes of payload (only for OK responses to GET
// that carry data). The 4-byte reserved gap at offset 10 is kept for wire
// compatibility with the original layout; this package writes it as zero
// and never reads it back.
package wire
