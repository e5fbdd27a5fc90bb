package auth

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// AuthDecisionFunc is called on every inbound auth decision with the peer ID
// (truncated) and result ("allow" or "deny"). Used for metrics and audit logging
// without creating a circular dependency on internal/meshnode.
type AuthDecisionFunc func(peerID, result string)

// AuthorizedPeerGater implements the libp2p ConnectionGater interface.
// It blocks connections from peers that are not in the authorized list.
// Supports enrollment mode for first-contact pairing and expiring peer
// authorization.
type AuthorizedPeerGater struct {
	authorizedPeers map[peer.ID]bool
	peerExpiry      map[peer.ID]time.Time // zero = never expires
	onDecision      AuthDecisionFunc      // nil-safe
	mu              sync.RWMutex

	// Enrollment mode: temporarily allows unknown peers during pairing.
	enrollmentEnabled bool
	probationPeers    map[peer.ID]time.Time // peer -> admitted time
	probationLimit    int                   // max concurrent probation peers
	probationTimeout  time.Duration         // evict after this duration
}

// NewAuthorizedPeerGater creates a new connection gater with the given authorized peers.
func NewAuthorizedPeerGater(authorizedPeers map[peer.ID]bool) *AuthorizedPeerGater {
	return &AuthorizedPeerGater{
		authorizedPeers:  authorizedPeers,
		peerExpiry:       make(map[peer.ID]time.Time),
		probationPeers:   make(map[peer.ID]time.Time),
		probationLimit:   10,
		probationTimeout: 15 * time.Second,
	}
}

// InterceptPeerDial is called when dialing a peer.
func (g *AuthorizedPeerGater) InterceptPeerDial(p peer.ID) bool {
	// Allow all outbound dials; authorization is enforced only on inbound
	// connections, in InterceptSecured.
	return true
}

// InterceptAddrDial is called when dialing an address.
func (g *AuthorizedPeerGater) InterceptAddrDial(id peer.ID, ma multiaddr.Multiaddr) bool {
	return true
}

// InterceptAccept is called when accepting a connection (before the crypto handshake).
func (g *AuthorizedPeerGater) InterceptAccept(cm network.ConnMultiaddrs) bool {
	// The peer ID isn't verified yet at this stage; the real check happens
	// in InterceptSecured once the handshake has authenticated it.
	return true
}

// InterceptSecured is called after the crypto handshake (peer ID is verified).
// This is the primary authorization checkpoint.
func (g *AuthorizedPeerGater) InterceptSecured(dir network.Direction, p peer.ID, addr network.ConnMultiaddrs) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if dir != network.DirInbound {
		return true
	}

	short := p.String()[:16] + "..."

	if g.authorizedPeers[p] {
		if exp, ok := g.peerExpiry[p]; ok && !exp.IsZero() && time.Now().After(exp) {
			slog.Warn("inbound connection denied (expired)", "peer", short)
			if g.onDecision != nil {
				g.onDecision(short, "deny")
			}
			return false
		}
		slog.Info("inbound connection allowed", "peer", short)
		if g.onDecision != nil {
			g.onDecision(short, "allow")
		}
		return true
	}

	if g.enrollmentEnabled && len(g.probationPeers) < g.probationLimit {
		g.mu.RUnlock()
		g.mu.Lock()
		if g.enrollmentEnabled && len(g.probationPeers) < g.probationLimit && !g.authorizedPeers[p] {
			g.probationPeers[p] = time.Now()
			slog.Info("inbound connection allowed (probation)", "peer", short)
			if g.onDecision != nil {
				g.onDecision(short, "allow")
			}
			g.mu.Unlock()
			g.mu.RLock()
			return true
		}
		g.mu.Unlock()
		g.mu.RLock()
	}

	slog.Warn("inbound connection denied", "peer", short)
	if g.onDecision != nil {
		g.onDecision(short, "deny")
	}
	return false
}

// InterceptUpgraded is called after connection upgrade (after muxer negotiation).
func (g *AuthorizedPeerGater) InterceptUpgraded(conn network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}

// UpdateAuthorizedPeers replaces the authorized peers list (for config hot-reload).
func (g *AuthorizedPeerGater) UpdateAuthorizedPeers(authorizedPeers map[peer.ID]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorizedPeers = authorizedPeers
	slog.Info("updated authorized peers list", "count", len(authorizedPeers))
}

// ReloadFromFile re-reads authorizedKeysPath and swaps in the resulting
// peer set, for use as a daemon.GaterReloader after an API-driven
// AddPeer/RemovePeer call.
func (g *AuthorizedPeerGater) ReloadFromFile(authorizedKeysPath string) error {
	peers, err := LoadAuthorizedKeys(authorizedKeysPath)
	if err != nil {
		return fmt.Errorf("reload authorized_keys: %w", err)
	}
	g.UpdateAuthorizedPeers(peers)

	entries, err := ListPeers(authorizedKeysPath)
	if err != nil {
		return fmt.Errorf("reload authorized_keys: %w", err)
	}
	for _, e := range entries {
		g.SetPeerExpiry(e.PeerID, e.ExpiresAt)
	}
	return nil
}

// GetAuthorizedPeersCount returns the number of authorized peers.
func (g *AuthorizedPeerGater) GetAuthorizedPeersCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.authorizedPeers)
}

// IsAuthorized checks if a peer is authorized.
func (g *AuthorizedPeerGater) IsAuthorized(p peer.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.authorizedPeers[p]
}

// SetDecisionCallback sets a callback invoked on every inbound auth decision.
func (g *AuthorizedPeerGater) SetDecisionCallback(fn AuthDecisionFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDecision = fn
}

// SetEnrollmentMode enables or disables enrollment mode for first-contact
// pairing. When enabled, unknown peers are admitted on probation up to the
// limit, for a caller to promote into authorized_keys once verified out of
// band (e.g. a shared passphrase exchanged over BLE during pairing).
func (g *AuthorizedPeerGater) SetEnrollmentMode(enabled bool, limit int, timeout time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enrollmentEnabled = enabled
	if limit > 0 {
		g.probationLimit = limit
	}
	if timeout > 0 {
		g.probationTimeout = timeout
	}
	if !enabled {
		g.probationPeers = make(map[peer.ID]time.Time)
	}
	slog.Info("enrollment mode changed", "enabled", enabled, "limit", g.probationLimit, "timeout", g.probationTimeout)
}

// IsEnrollmentEnabled returns whether enrollment mode is active.
func (g *AuthorizedPeerGater) IsEnrollmentEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enrollmentEnabled
}

// PromotePeer moves a peer from probation to the authorized list.
func (g *AuthorizedPeerGater) PromotePeer(p peer.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.probationPeers, p)
	g.authorizedPeers[p] = true
	slog.Info("peer promoted from probation", "peer", p.String()[:16]+"...")
}

// SetPeerExpiry sets an expiration time for an authorized peer.
// Zero time means never expires.
func (g *AuthorizedPeerGater) SetPeerExpiry(p peer.ID, expiresAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if expiresAt.IsZero() {
		delete(g.peerExpiry, p)
	} else {
		g.peerExpiry[p] = expiresAt
	}
}

// CleanupProbation evicts probation peers that have exceeded the timeout.
// The disconnect callback is invoked for each evicted peer outside the lock.
func (g *AuthorizedPeerGater) CleanupProbation(disconnect func(peer.ID)) {
	g.mu.Lock()
	now := time.Now()
	var evicted []peer.ID
	for p, admitted := range g.probationPeers {
		if now.Sub(admitted) > g.probationTimeout {
			evicted = append(evicted, p)
			delete(g.probationPeers, p)
		}
	}
	g.mu.Unlock()

	for _, p := range evicted {
		slog.Info("probation peer evicted", "peer", p.String()[:16]+"...")
		if disconnect != nil {
			disconnect(p)
		}
	}
}

// ProbationCount returns the current number of probation peers.
func (g *AuthorizedPeerGater) ProbationCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.probationPeers)
}
