// Package record implements the on-disk frame for one broker message:
//
//	[ length:4 | timestamp:8 | checksum:4 | data:length ]
//
// Total frame size is 16 + len(data). Offset is never stored in the frame —
// it is recovered from the sparse index or from a scan position, per the
// segment's bookkeeping.
package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ndungu/logbroker/internal/brokererr"
)

// HeaderSize is the fixed-width portion of a frame, before the payload.
const HeaderSize = 16

var enc = binary.BigEndian

// Record is one message. It is a value type: callers should treat it as
// copied on every return, never aliased across calls.
type Record struct {
	Offset    uint64
	Timestamp uint64
	Data      []byte
	Checksum  uint32
}

// Serialize writes r as a frame. If r.Checksum is zero, it is computed from
// r.Data first. The returned slice has length HeaderSize+len(r.Data).
func Serialize(r Record) []byte {
	if r.Checksum == 0 {
		r.Checksum = crc32.ChecksumIEEE(r.Data)
	}

	buf := make([]byte, HeaderSize+len(r.Data))
	enc.PutUint32(buf[0:4], uint32(len(r.Data)))
	enc.PutUint64(buf[4:12], r.Timestamp)
	enc.PutUint32(buf[12:16], r.Checksum)
	copy(buf[HeaderSize:], r.Data)
	return buf
}

// Deserialize reads one frame out of buf, which must contain at least
// HeaderSize+length bytes, and assigns assignedOffset to the resulting
// Record. It returns a *brokererr.Error of kind Corrupt if buf is too short
// for its declared length or the checksum does not verify.
func Deserialize(buf []byte, assignedOffset uint64) (Record, error) {
	if len(buf) < HeaderSize {
		return Record{}, brokererr.Corrupt("frame shorter than header (%d bytes)", len(buf))
	}

	length := enc.Uint32(buf[0:4])
	timestamp := enc.Uint64(buf[4:12])
	checksum := enc.Uint32(buf[12:16])

	if uint32(len(buf)) < HeaderSize+length {
		return Record{}, brokererr.Corrupt("frame declares length %d but only %d bytes available", length, len(buf)-HeaderSize)
	}

	data := make([]byte, length)
	copy(data, buf[HeaderSize:HeaderSize+length])

	r := Record{
		Offset:    assignedOffset,
		Timestamp: timestamp,
		Data:      data,
		Checksum:  checksum,
	}

	if !IsValid(r) {
		return Record{}, brokererr.Corrupt("checksum mismatch at offset %d", assignedOffset)
	}

	return r, nil
}

// IsValid re-hashes r.Data and compares it against r.Checksum.
func IsValid(r Record) bool {
	return crc32.ChecksumIEEE(r.Data) == r.Checksum
}

// FrameSize returns the total on-disk size of a frame carrying dataLen
// bytes of payload.
func FrameSize(dataLen int) int {
	return HeaderSize + dataLen
}
