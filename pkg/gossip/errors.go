package gossip

import "errors"

var (
	// ErrInvalidPacket is returned when a packet field is out of range:
	// empty or oversized payload, negative or out-of-range TTL, an
	// oversized REQUEST_SYNC encoding.
	ErrInvalidPacket = errors.New("gossip: invalid packet")

	// ErrExpired is returned by a SignatureValidator when a packet's
	// timestamp falls outside the accepted age / clock-skew window.
	ErrExpired = errors.New("gossip: expired packet")

	// ErrDuplicate names a packet whose ID is already present in the
	// seen-set. The engine drops duplicates silently; no function in this
	// package returns it.
	ErrDuplicate = errors.New("gossip: duplicate packet")

	// ErrMalformed names an undecodable REQUEST_SYNC payload. No function
	// in this package returns it: DecodeRequestSync never fails, and a
	// short payload decodes as an empty filter.
	ErrMalformed = errors.New("gossip: malformed request_sync payload")

	// ErrTransport names a failure of the injected Transport delegate.
	// Transport methods return nothing, so the engine never sees or
	// returns it.
	ErrTransport = errors.New("gossip: transport error")
)
