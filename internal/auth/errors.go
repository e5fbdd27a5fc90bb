package auth

import "errors"

var (
	// ErrInvalidPeerID is returned when a string does not decode as a libp2p peer ID.
	ErrInvalidPeerID = errors.New("invalid peer id")

	// ErrPeerNotFound is returned when an operation targets a peer absent from
	// the authorized_keys file.
	ErrPeerNotFound = errors.New("peer not found")

	// ErrPeerAlreadyAuthorized is returned by AddPeer when the peer ID is
	// already present in the authorized_keys file.
	ErrPeerAlreadyAuthorized = errors.New("peer already authorized")
)
