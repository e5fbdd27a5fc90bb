package gossip

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// PacketType tags the wire envelope. The core actively processes
// MESSAGE, ANNOUNCE, and REQUEST_SYNC; the rest pass through untouched
// (§3, §4.1).
type PacketType string

const (
	TypeMessage        PacketType = "MESSAGE"
	TypeAnnounce       PacketType = "ANNOUNCE"
	TypeRequestSync    PacketType = "REQUEST_SYNC"
	TypeTransaction    PacketType = "TRANSACTION"
	TypeLeave          PacketType = "LEAVE"
	TypeHandshakeInit  PacketType = "HANDSHAKE_INIT"
	TypeHandshakeResp  PacketType = "HANDSHAKE_RESP"
	TypeHandshakeFinal PacketType = "HANDSHAKE_FINAL"
)

// MaxPayloadBytes is the hard cap on Packet.Payload (§3).
const MaxPayloadBytes = 512 * 1024

// broadcastSentinel is the legacy 8-byte all-0xFF recipient that is
// treated as equivalent to an absent recipient (§9 "Broadcast sentinel").
var broadcastSentinel = [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ID is the 16-byte content-addressed packet identifier (§3).
type ID [16]byte

// Hex returns the lowercase hex encoding of the ID, used as the map key
// for the seen-set and (for sender IDs) the announcement map.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ID) String() string {
	return id.Hex()
}

// Packet is the in-memory representation of the wire envelope (§3). Wire
// encode/decode for every type other than REQUEST_SYNC's payload is the
// transport's responsibility; Packet is the canonical record the core
// operates on once the transport has parsed it off the wire.
type Packet struct {
	Type        PacketType
	SenderID    []byte
	RecipientID []byte // nil/empty => broadcast
	Timestamp   int64  // ms since Unix epoch
	Payload     []byte
	Signature   []byte // opaque to the core
	TTL         uint8
}

// IsBroadcastRecipient reports whether RecipientID denotes a broadcast:
// either absent, or the legacy 8-byte all-0xFF sentinel (§3, §9).
func (p *Packet) IsBroadcastRecipient() bool {
	if len(p.RecipientID) == 0 {
		return true
	}
	if len(p.RecipientID) != 8 {
		return false
	}
	for i, b := range broadcastSentinel {
		if p.RecipientID[i] != b {
			return false
		}
	}
	return true
}

// SenderHex returns the lowercase hex encoding of SenderID, the key used
// in the announcement map and for seen-set purge-by-sender.
func (p *Packet) SenderHex() string {
	return hex.EncodeToString(p.SenderID)
}

// Validate checks the structural invariants from §3 that the engine can
// verify without a signature validator: non-empty, size-capped payload
// and an in-range TTL. Timestamp-window and signature checks are the
// caller's responsibility when a validator is configured (§4.4).
func (p *Packet) Validate(maxTTL uint8) error {
	if len(p.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPacket)
	}
	if len(p.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: payload %d bytes exceeds cap of %d", ErrInvalidPacket, len(p.Payload), MaxPayloadBytes)
	}
	if p.TTL > maxTTL {
		return fmt.Errorf("%w: ttl %d exceeds max_ttl %d", ErrInvalidPacket, p.TTL, maxTTL)
	}
	return nil
}

// ComputeID derives the packet's content-addressed identifier: the first
// 16 bytes of SHA-256(type || sender_id || recipient_id_or_empty ||
// ascii(timestamp) || payload) (§3). Pure and infallible.
func ComputeID(p *Packet) ID {
	h := sha256.New()
	h.Write([]byte(p.Type))
	h.Write(p.SenderID)
	h.Write(p.RecipientID) // absent recipient hashes as empty; byte-equal per property 1
	h.Write([]byte(strconv.FormatInt(p.Timestamp, 10)))
	h.Write(p.Payload)

	var id ID
	copy(id[:], h.Sum(nil)[:16])
	return id
}
