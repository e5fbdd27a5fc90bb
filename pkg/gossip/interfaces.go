package gossip

// Transport is the capability interface the engine calls into for every
// side-effecting operation (§6). The gossip core never performs network
// I/O directly; an application supplies a Transport that owns dialing,
// fragmentation, and whatever radio or socket layer actually moves
// bytes (BLE, TCP, a libp2p stream — the core does not care).
//
// All three methods are fire-and-forget from the engine's perspective:
// a Transport error is the transport's problem (§4.4, §7) and is never
// retried by the engine.
type Transport interface {
	// SendBroadcast disseminates packet to all currently-reachable peers.
	SendBroadcast(packet Packet)

	// SendToPeer sends packet directly to peerIDHex, the hex-encoded
	// sender_id of the target.
	SendToPeer(peerIDHex string, packet Packet)

	// SignForBroadcast returns packet with Signature populated, or
	// packet unchanged if signing is disabled. The core treats
	// Signature as opaque bytes (§1, §6).
	SignForBroadcast(packet Packet) Packet
}

// SignatureValidator is an optional collaborator that rejects packets
// outside the accepted clock-skew/age window or with a signature that
// fails verification (§3, §4.4). When nil, the engine performs no
// timestamp or signature checks beyond the structural ones in
// Packet.Validate.
type SignatureValidator interface {
	// Validate returns a non-nil error (conventionally wrapping
	// ErrExpired or ErrInvalidPacket) if packet should be rejected.
	Validate(packet Packet) error
}
