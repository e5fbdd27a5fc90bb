// Package meshnode wires the gossip engine to a libp2p transport: node
// identity, peer lifecycle (connect/disconnect → engine hooks), and a stream
// protocol for sending and receiving envelopes.
package meshnode

import (
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// LoadOrCreateIdentity loads an Ed25519 private key from path, generating and
// persisting a new one if the file does not exist. The key file is written
// with 0600 permissions since possession of it is equivalent to possession
// of the node's mesh identity.
func LoadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal identity key: %w", err)
		}
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}

	data, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write identity key: %w", err)
	}
	return priv, nil
}

// PeerIDFromKeyFile loads the identity at path and returns the peer ID it
// derives, without needing to stand up a host.
func PeerIDFromKeyFile(path string) (peer.ID, error) {
	priv, err := LoadOrCreateIdentity(path)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(priv)
}
