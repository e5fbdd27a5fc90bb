package meshnode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/anon0mesh/gossipcore/pkg/gossip"
)

// maxFrameBytes bounds a single encoded envelope read off a stream,
// independent of the length prefix a misbehaving peer might send. It leaves
// headroom over gossip.MaxPayloadBytes for the envelope's fixed fields.
const maxFrameBytes = gossip.MaxPayloadBytes + 4096

// encodeEnvelope serializes a Packet to the wire frame used on the
// envelope stream protocol:
//
//	u8  type length     | type bytes
//	u16 sender length    | sender bytes
//	u16 recipient length | recipient bytes
//	i64 timestamp (ms)
//	u32 payload length    | payload bytes
//	u16 signature length  | signature bytes
//	u8  ttl
func encodeEnvelope(p gossip.Packet) ([]byte, error) {
	if len(p.Type) > 255 {
		return nil, fmt.Errorf("%w: packet type %d bytes", ErrFrameTooLarge, len(p.Type))
	}
	if len(p.SenderID) > 65535 || len(p.RecipientID) > 65535 || len(p.Signature) > 65535 {
		return nil, fmt.Errorf("%w: id or signature field exceeds 65535 bytes", ErrFrameTooLarge)
	}
	if len(p.Payload) > gossip.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrFrameTooLarge, len(p.Payload))
	}

	size := 1 + len(p.Type) + 2 + len(p.SenderID) + 2 + len(p.RecipientID) + 8 + 4 + len(p.Payload) + 2 + len(p.Signature) + 1
	buf := make([]byte, size)
	off := 0

	buf[off] = byte(len(p.Type))
	off++
	off += copy(buf[off:], p.Type)

	binary.BigEndian.PutUint16(buf[off:], uint16(len(p.SenderID)))
	off += 2
	off += copy(buf[off:], p.SenderID)

	binary.BigEndian.PutUint16(buf[off:], uint16(len(p.RecipientID)))
	off += 2
	off += copy(buf[off:], p.RecipientID)

	binary.BigEndian.PutUint64(buf[off:], uint64(p.Timestamp))
	off += 8

	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Payload)))
	off += 4
	off += copy(buf[off:], p.Payload)

	binary.BigEndian.PutUint16(buf[off:], uint16(len(p.Signature)))
	off += 2
	off += copy(buf[off:], p.Signature)

	buf[off] = p.TTL

	return buf, nil
}

// decodeEnvelope is the inverse of encodeEnvelope.
func decodeEnvelope(buf []byte) (gossip.Packet, error) {
	var p gossip.Packet
	off := 0

	typeLen, ok := readByte(buf, off)
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	off++
	typeBytes, off, ok := readN(buf, off, int(typeLen))
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	p.Type = gossip.PacketType(typeBytes)

	senderLen, off, ok := readU16(buf, off)
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	p.SenderID, off, ok = readN(buf, off, int(senderLen))
	if !ok {
		return p, io.ErrUnexpectedEOF
	}

	recipLen, off, ok := readU16(buf, off)
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	p.RecipientID, off, ok = readN(buf, off, int(recipLen))
	if !ok {
		return p, io.ErrUnexpectedEOF
	}

	tsBytes, off, ok := readN(buf, off, 8)
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	p.Timestamp = int64(binary.BigEndian.Uint64(tsBytes))

	payloadLen, off, ok := readU32(buf, off)
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	p.Payload, off, ok = readN(buf, off, int(payloadLen))
	if !ok {
		return p, io.ErrUnexpectedEOF
	}

	sigLen, off, ok := readU16(buf, off)
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	p.Signature, off, ok = readN(buf, off, int(sigLen))
	if !ok {
		return p, io.ErrUnexpectedEOF
	}

	ttl, ok := readByte(buf, off)
	if !ok {
		return p, io.ErrUnexpectedEOF
	}
	p.TTL = ttl

	return p, nil
}

func readByte(buf []byte, off int) (byte, bool) {
	if off >= len(buf) {
		return 0, false
	}
	return buf[off], true
}

func readN(buf []byte, off, n int) ([]byte, int, bool) {
	if n < 0 || off+n > len(buf) {
		return nil, off, false
	}
	return buf[off : off+n], off + n, true
}

func readU16(buf []byte, off int) (uint16, int, bool) {
	b, end, ok := readN(buf, off, 2)
	if !ok {
		return 0, off, false
	}
	return binary.BigEndian.Uint16(b), end, true
}

func readU32(buf []byte, off int) (uint32, int, bool) {
	b, end, ok := readN(buf, off, 4)
	if !ok {
		return 0, off, false
	}
	return binary.BigEndian.Uint32(b), end, true
}

// writeFrame writes a length-prefixed frame to w: a u32 big-endian length
// followed by the frame bytes.
func writeFrame(w io.Writer, frame []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// readFrame reads one length-prefixed frame from r, rejecting declared
// lengths above maxFrameBytes before allocating.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("%w: declared frame length %d", ErrFrameTooLarge, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
