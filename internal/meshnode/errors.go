package meshnode

import "errors"

var (
	// ErrUnknownPeer names a sender-ID hex string that does not decode to
	// a valid libp2p peer ID. No function in this package returns it;
	// SendToPeer logs such IDs and drops the packet.
	ErrUnknownPeer = errors.New("meshnode: unknown peer id")

	// ErrStreamClosed names a read/write on a stream that the remote end
	// already reset or closed. No function in this package returns it.
	ErrStreamClosed = errors.New("meshnode: stream closed")

	// ErrFrameTooLarge is returned when a decoded envelope frame declares
	// a field length that exceeds its protocol ceiling.
	ErrFrameTooLarge = errors.New("meshnode: frame too large")
)
