package meshnode

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"

	"github.com/anon0mesh/gossipcore/internal/auth"
)

// NewLibp2pHost builds the libp2p host a mesh node runs on: the node's
// persistent identity, TCP/QUIC/WebSocket transports (so BLE-adjacent
// ad-hoc links and ordinary IP links both work through the same host),
// and an optional authorized-peer connection gater.
func NewLibp2pHost(priv crypto.PrivKey, listenAddrs []string, authorizedKeysFile string, enableGating bool) (host.Host, *auth.AuthorizedPeerGater, error) {
	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(ws.New),
	}

	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddrs...))
	}

	var gater *auth.AuthorizedPeerGater
	if enableGating {
		authorized, err := auth.LoadAuthorizedKeys(authorizedKeysFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load authorized_keys: %w", err)
		}
		gater = auth.NewAuthorizedPeerGater(authorized)
		opts = append(opts, libp2p.ConnectionGater(gater))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create libp2p host: %w", err)
	}
	return h, gater, nil
}
