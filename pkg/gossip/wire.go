package gossip

import (
	"encoding/binary"
	"fmt"
)

// requestSyncHeaderLen is the fixed-size prefix of the REQUEST_SYNC
// wire payload: p (4) + m (4) + dlen (4) (§4.1, §6).
const requestSyncHeaderLen = 12

// SyncFilter is the decoded form of a REQUEST_SYNC payload: the GCS
// parameters plus the raw delta-coded bucket data.
type SyncFilter struct {
	P    uint32
	M    uint32
	Data []byte
}

// ToFilter decodes Data into a ready-to-query Filter.
func (s SyncFilter) ToFilter() Filter {
	return Decode(s.P, s.M, s.Data)
}

// EncodeRequestSync serializes a SyncFilter to the big-endian wire
// format defined in §4.1 / §6:
//
//	offset 0  : u32 p
//	offset 4  : u32 m
//	offset 8  : u32 dlen
//	offset 12 : dlen bytes
//
// Fails with ErrInvalidPacket if the encoded result would exceed the
// packet payload cap — a GCSMaxBytes-bounded filter should never get
// here, but EncodeRequestSync fails closed rather than hand a caller
// an oversized payload.
func EncodeRequestSync(s SyncFilter) ([]byte, error) {
	buf := make([]byte, requestSyncHeaderLen+len(s.Data))
	binary.BigEndian.PutUint32(buf[0:4], s.P)
	binary.BigEndian.PutUint32(buf[4:8], s.M)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(s.Data)))
	copy(buf[requestSyncHeaderLen:], s.Data)
	if err := validateEncodedSize(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeRequestSync parses a REQUEST_SYNC payload. Per §4.1, truncation
// (fewer than 12 bytes) is not an error: it yields an empty filter
// rather than failing, preserving forward compatibility with a sender
// that means "I hold nothing." A declared dlen that overruns the
// buffer is clamped to what's actually available.
func DecodeRequestSync(payload []byte) SyncFilter {
	if len(payload) < requestSyncHeaderLen {
		return SyncFilter{M: 1}
	}
	p := binary.BigEndian.Uint32(payload[0:4])
	m := binary.BigEndian.Uint32(payload[4:8])
	dlen := binary.BigEndian.Uint32(payload[8:12])

	avail := uint32(len(payload) - requestSyncHeaderLen)
	if dlen > avail {
		dlen = avail
	}
	data := payload[requestSyncHeaderLen : requestSyncHeaderLen+int(dlen)]
	return SyncFilter{P: p, M: m, Data: data}
}

// validateEncodedSize fails closed if a locally-constructed REQUEST_SYNC
// payload would exceed the packet payload cap.
func validateEncodedSize(encoded []byte) error {
	if len(encoded) > MaxPayloadBytes {
		return fmt.Errorf("%w: request_sync payload %d bytes exceeds cap", ErrInvalidPacket, len(encoded))
	}
	return nil
}
