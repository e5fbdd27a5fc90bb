package meshnode

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// EngineBridge is the subset of *gossip.Engine PeerLink drives on
// connect/disconnect transitions.
type EngineBridge interface {
	ScheduleInitialSyncToPeer(peerIDHex string, delay time.Duration)
	RemoveAnnouncementForPeer(peerIDHex string)
}

// PeerLink bridges libp2p connectivity events to the gossip engine: a
// newly connected peer gets an initial anti-entropy sync scheduled after a
// short delay (letting the connection settle), and a disconnected peer has
// its announcement purged so stale "last seen at this peer" state doesn't
// linger (§4.3 purge-by-sender).
type PeerLink struct {
	host       host.Host
	engine     EngineBridge
	initialSyncDelay time.Duration
	metrics    *Metrics

	mu      sync.Mutex
	tracked map[peer.ID]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPeerLink creates a PeerLink for h. It does not subscribe until Start
// is called.
func NewPeerLink(h host.Host, engine EngineBridge, initialSyncDelay time.Duration, metrics *Metrics) *PeerLink {
	return &PeerLink{
		host:             h,
		engine:           engine,
		initialSyncDelay: initialSyncDelay,
		metrics:          metrics,
		tracked:          make(map[peer.ID]struct{}),
	}
}

// Start subscribes to peer connectedness events and processes them until
// ctx is cancelled or Close is called.
func (pl *PeerLink) Start(ctx context.Context) error {
	sub, err := pl.host.EventBus().Subscribe(new(event.EvtPeerConnectednessChanged))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	pl.cancel = cancel

	pl.wg.Add(1)
	go func() {
		defer pl.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-sub.Out():
				if !ok {
					return
				}
				pl.handleEvent(evt.(event.EvtPeerConnectednessChanged))
			}
		}
	}()
	return nil
}

// Close stops the event loop and waits for it to exit.
func (pl *PeerLink) Close() {
	if pl.cancel != nil {
		pl.cancel()
	}
	pl.wg.Wait()
}

func (pl *PeerLink) handleEvent(evt event.EvtPeerConnectednessChanged) {
	peerHex := hex.EncodeToString([]byte(evt.Peer))

	switch evt.Connectedness {
	case network.Connected:
		pl.mu.Lock()
		_, already := pl.tracked[evt.Peer]
		pl.tracked[evt.Peer] = struct{}{}
		pl.mu.Unlock()
		if already {
			return
		}
		slog.Info("meshnode: peer connected", "peer", evt.Peer.String()[:16]+"...")
		if pl.metrics != nil {
			pl.metrics.PeersConnected.Inc()
		}
		pl.engine.ScheduleInitialSyncToPeer(peerHex, pl.initialSyncDelay)

	case network.NotConnected:
		pl.mu.Lock()
		_, wasTracked := pl.tracked[evt.Peer]
		delete(pl.tracked, evt.Peer)
		pl.mu.Unlock()
		if !wasTracked {
			return
		}
		slog.Info("meshnode: peer disconnected", "peer", evt.Peer.String()[:16]+"...")
		if pl.metrics != nil {
			pl.metrics.PeersConnected.Dec()
		}
		pl.engine.RemoveAnnouncementForPeer(peerHex)
	}
}

// ConnectedCount returns the number of peers PeerLink currently considers
// connected.
func (pl *PeerLink) ConnectedCount() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.tracked)
}
