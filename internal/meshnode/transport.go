package meshnode

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/anon0mesh/gossipcore/pkg/gossip"
)

// EnvelopeProtocol is the libp2p stream protocol ID used to carry gossip
// envelopes between mesh nodes.
const EnvelopeProtocol protocol.ID = "/gossipcore/envelope/1.0.0"

// streamWriteTimeout bounds how long a single envelope send may block a
// peer's stream before the transport gives up on it.
const streamWriteTimeout = 10 * time.Second

// Dispatcher is the subset of *gossip.Engine the Transport feeds inbound
// envelopes into. Declared as an interface so transport.go can be tested
// without a live Engine.
type Dispatcher interface {
	OnPublicPacketSeen(p gossip.Packet)
	HandleRequestSync(fromPeerIDHex string, requestPayload []byte)
}

// Host implements gossip.Transport over a libp2p host.Host. It owns no
// gossip-domain state: it is purely the stream plumbing between the
// engine's abstract peerIDHex addressing and libp2p's peer.ID/Stream API.
type Host struct {
	h          host.Host
	priv       crypto.PrivKey
	dispatcher Dispatcher
	metrics    *Metrics
}

// NewHost wraps an already-constructed libp2p host and registers the
// envelope stream handler. dispatcher receives every successfully decoded
// inbound envelope; metrics may be nil.
func NewHost(h host.Host, priv crypto.PrivKey, dispatcher Dispatcher, metrics *Metrics) *Host {
	mn := &Host{h: h, priv: priv, dispatcher: dispatcher, metrics: metrics}
	h.SetStreamHandler(EnvelopeProtocol, mn.handleStream)
	return mn
}

// Libp2pHost returns the underlying host, for peer-lifecycle wiring and
// shutdown.
func (mn *Host) Libp2pHost() host.Host {
	return mn.h
}

// PeerIDHex returns this node's own sender-ID hex, derived from its raw
// libp2p peer ID bytes — the same encoding SendToPeer expects for remote
// peers.
func (mn *Host) PeerIDHex() string {
	return hex.EncodeToString([]byte(mn.h.ID()))
}

// handleStream decodes envelopes off an inbound stream until the remote
// side closes it, dispatching each to the engine.
func (mn *Host) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	remoteHex := hex.EncodeToString([]byte(remote))

	for {
		frame, err := readFrame(s)
		if err != nil {
			if mn.metrics != nil {
				mn.metrics.StreamErrorsTotal.WithLabelValues("read").Inc()
			}
			return
		}
		p, err := decodeEnvelope(frame)
		if err != nil {
			slog.Debug("meshnode: dropping malformed envelope", "peer", remoteHex, "error", err)
			if mn.metrics != nil {
				mn.metrics.StreamErrorsTotal.WithLabelValues("decode").Inc()
			}
			continue
		}
		if mn.metrics != nil {
			mn.metrics.EnvelopesReceivedTotal.WithLabelValues(string(p.Type)).Inc()
		}

		if p.Type == gossip.TypeRequestSync {
			mn.dispatcher.HandleRequestSync(remoteHex, p.Payload)
			continue
		}
		mn.dispatcher.OnPublicPacketSeen(p)
	}
}

// SendBroadcast implements gossip.Transport by opening one envelope stream
// per currently-connected peer. Dial/stream failures are logged per peer
// and do not abort the broadcast to the remaining peers (§6 fire-and-forget).
func (mn *Host) SendBroadcast(packet gossip.Packet) {
	for _, p := range mn.h.Network().Peers() {
		mn.sendToLibp2pPeer(p, packet)
	}
}

// SendToPeer implements gossip.Transport. peerIDHex is the hex-encoded raw
// libp2p peer ID bytes, matching what PeerIDHex and handleStream produce.
func (mn *Host) SendToPeer(peerIDHex string, packet gossip.Packet) {
	raw, err := hex.DecodeString(peerIDHex)
	if err != nil {
		slog.Warn("meshnode: SendToPeer given non-hex peer id", "peer", peerIDHex, "error", err)
		return
	}
	mn.sendToLibp2pPeer(peer.ID(raw), packet)
}

func (mn *Host) sendToLibp2pPeer(p peer.ID, packet gossip.Packet) {
	ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
	defer cancel()

	s, err := mn.h.NewStream(ctx, p, EnvelopeProtocol)
	if err != nil {
		slog.Debug("meshnode: open stream failed", "peer", p.String()[:16]+"...", "error", err)
		if mn.metrics != nil {
			mn.metrics.StreamErrorsTotal.WithLabelValues("dial").Inc()
		}
		return
	}
	defer s.Close()

	s.SetWriteDeadline(time.Now().Add(streamWriteTimeout))

	frame, err := encodeEnvelope(packet)
	if err != nil {
		slog.Warn("meshnode: encode envelope failed", "error", err)
		s.Reset()
		return
	}
	if err := writeFrame(s, frame); err != nil {
		slog.Debug("meshnode: write envelope failed", "peer", p.String()[:16]+"...", "error", err)
		if mn.metrics != nil {
			mn.metrics.StreamErrorsTotal.WithLabelValues("write").Inc()
		}
		s.Reset()
		return
	}
	if mn.metrics != nil {
		mn.metrics.EnvelopesSentTotal.WithLabelValues(string(packet.Type)).Inc()
	}
}

// SignForBroadcast implements gossip.Transport by signing the packet's
// content-addressed ID with this node's identity key. The engine treats
// the result as opaque bytes.
func (mn *Host) SignForBroadcast(packet gossip.Packet) gossip.Packet {
	if mn.priv == nil {
		return packet
	}
	id := gossip.ComputeID(&packet)
	sig, err := mn.priv.Sign(id[:])
	if err != nil {
		slog.Warn("meshnode: sign packet failed", "error", err)
		return packet
	}
	packet.Signature = sig
	return packet
}

// Close shuts down the underlying libp2p host.
func (mn *Host) Close() error {
	return mn.h.Close()
}

var _ gossip.Transport = (*Host)(nil)

// signatureValidator implements gossip.SignatureValidator by verifying
// Packet.Signature against the sender's libp2p public key, recovered from
// its peer ID, and rejecting packets outside the clock-skew window.
type signatureValidator struct {
	maxAge      time.Duration
	clockSkew   time.Duration
	requireSigs bool
}

// NewSignatureValidator returns a gossip.SignatureValidator enforcing the
// given age/skew window. When requireSigs is false, packets carrying no
// Signature bytes are accepted on age alone (useful while peers are still
// being provisioned with identity keys).
func NewSignatureValidator(maxAge, clockSkew time.Duration, requireSigs bool) gossip.SignatureValidator {
	return &signatureValidator{maxAge: maxAge, clockSkew: clockSkew, requireSigs: requireSigs}
}

func (v *signatureValidator) Validate(p gossip.Packet) error {
	now := time.Now().UnixMilli()
	age := now - p.Timestamp
	if age > v.maxAge.Milliseconds() {
		return fmt.Errorf("%w: packet age %dms exceeds max_age", gossip.ErrExpired, age)
	}
	if -age > v.clockSkew.Milliseconds() {
		return fmt.Errorf("%w: packet timestamp %dms ahead of clock skew tolerance", gossip.ErrExpired, -age)
	}

	if len(p.Signature) == 0 {
		if v.requireSigs {
			return fmt.Errorf("%w: missing signature", gossip.ErrInvalidPacket)
		}
		return nil
	}

	senderPeerID, err := peer.IDFromBytes(p.SenderID)
	if err != nil {
		return fmt.Errorf("%w: sender id is not a valid peer id: %v", gossip.ErrInvalidPacket, err)
	}
	pub, err := senderPeerID.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("%w: cannot extract public key from peer id: %v", gossip.ErrInvalidPacket, err)
	}
	id := gossip.ComputeID(&p)
	ok, err := pub.Verify(id[:], p.Signature)
	if err != nil || !ok {
		return fmt.Errorf("%w: signature verification failed", gossip.ErrInvalidPacket)
	}
	return nil
}
