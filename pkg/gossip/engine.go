package gossip

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// state is the engine's run state (§4.4 state machine).
type state int

const (
	stateStopped state = iota
	stateRunning
)

// Engine is the gossip engine (§4.4): it owns the seen-set and
// announcement map, runs the periodic anti-entropy timer, and answers
// incoming REQUEST_SYNC calls. It never performs I/O itself — every
// send goes through the injected Transport.
//
// Safe for concurrent use: all state mutations are serialized through
// a single mutex, matching the "logically serialized through a single
// task" model of §5 while tolerating a multi-goroutine caller.
type Engine struct {
	cfg       Config
	ownID     []byte
	ownIDHex  string
	transport Transport
	validator SignatureValidator
	metrics   *Metrics
	now       func() time.Time

	mu            sync.Mutex
	seen          *SeenSet
	announcements *AnnouncementMap
	state         state
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates an Engine for ownID (the node's own sender_id, raw
// bytes). cfg is copied and defaulted (Config.WithDefaults) at
// construction; it is never mutated afterward (§3).
func New(ownID []byte, cfg Config, transport Transport, opts ...Option) *Engine {
	defaulted := cfg.WithDefaults()
	e := &Engine{
		cfg:           defaulted,
		ownID:         append([]byte(nil), ownID...),
		ownIDHex:      hex.EncodeToString(ownID),
		transport:     transport,
		seen:          NewSeenSet(defaulted.SeenCapacity),
		announcements: NewAnnouncementMap(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithValidator installs a SignatureValidator consulted on every
// inbound packet before it reaches the stores (§3, §4.4).
func WithValidator(v SignatureValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithMetrics installs a Metrics sink. Nil-safe if never called.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// withClock overrides the engine's time source; test-only seam
// (mirrors p2pnet's discoverInterfacesFrom injectable-function pattern).
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Start begins the periodic sync timer (§4.4). Calling Start while
// already running is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.state == stateRunning {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = stateRunning
	e.mu.Unlock()

	e.wg.Add(1)
	go e.periodicLoop(runCtx)

	slog.Info("gossip: engine started", "peer", e.ownIDHex, "interval", e.cfg.PeriodicInterval)
}

// Stop cancels the periodic timer and waits for its goroutine to exit.
// Idempotent and synchronous; does not drain in-flight transport sends
// or pending initial-sync goroutines (§5).
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return
	}
	e.state = stateStopped
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	slog.Info("gossip: engine stopped", "peer", e.ownIDHex)
}

func (e *Engine) periodicLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PeriodicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runPeriodicSync()
		}
	}
}

func (e *Engine) runPeriodicSync() {
	packet, err := e.buildSyncPacket(nil)
	if err != nil {
		slog.Error("gossip: periodic sync packet build failed", "error", err)
		return
	}
	packet = e.transport.SignForBroadcast(packet)
	e.transport.SendBroadcast(packet)
	e.incMetric(func(m *Metrics) { m.SyncRequestsSent.WithLabelValues("periodic").Inc() })
}

// ScheduleInitialSyncToPeer sends a directed REQUEST_SYNC to peerIDHex
// after delay (§4.4). Fire-and-forget: there is no cancellation API
// (§5), and this is legal to call whether the engine is running or
// stopped.
func (e *Engine) ScheduleInitialSyncToPeer(peerIDHex string, delay time.Duration) {
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		recipient, err := hex.DecodeString(peerIDHex)
		if err != nil {
			slog.Warn("gossip: initial sync target is not valid hex", "peer", peerIDHex, "error", err)
			return
		}
		if len(recipient) > 8 {
			recipient = recipient[:8]
		}
		packet, err := e.buildSyncPacket(recipient)
		if err != nil {
			slog.Error("gossip: initial sync packet build failed", "peer", peerIDHex, "error", err)
			return
		}
		packet = e.transport.SignForBroadcast(packet)
		e.transport.SendToPeer(peerIDHex, packet)
		e.incMetric(func(m *Metrics) { m.SyncRequestsSent.WithLabelValues("initial").Inc() })
	}()
}

// buildSyncPacket gathers candidates, builds a size-budgeted GCS filter
// over them, and wraps it in an unsigned REQUEST_SYNC packet (§4.4
// "Periodic sync" steps 1-5). recipient nil means broadcast.
func (e *Engine) buildSyncPacket(recipient []byte) (Packet, error) {
	e.mu.Lock()
	candidates := e.gatherCandidatesLocked()
	seenCap := e.cfg.SeenCapacity
	e.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp > candidates[j].Timestamp
	})

	p := DeriveP(e.cfg.GCSTargetFPR)
	nMax := NMax(e.cfg.GCSMaxBytes, p)
	take := len(candidates)
	if nMax < take {
		take = nMax
	}
	if seenCap < take {
		take = seenCap
	}
	if take < 0 {
		take = 0
	}

	var filter Filter
	if take == 0 {
		filter = Filter{P: p, M: 1}
	} else {
		ids := make([]ID, take)
		for i := 0; i < take; i++ {
			id := candidates[i]
			ids[i] = ComputeID(&id)
		}
		filter = Build(ids, e.cfg.GCSMaxBytes, e.cfg.GCSTargetFPR)
	}

	payload, err := EncodeRequestSync(SyncFilter{P: filter.P, M: filter.M, Data: filter.Encode(e.cfg.GCSMaxBytes)})
	if err != nil {
		return Packet{}, err
	}

	return Packet{
		Type:        TypeRequestSync,
		SenderID:    e.ownID,
		RecipientID: recipient,
		Timestamp:   e.now().UnixMilli(),
		Payload:     payload,
		TTL:         0, // sentinel: node-local, never forwarded (§3)
	}, nil
}

// gatherCandidatesLocked collects every current announcement plus every
// stored broadcast message. Caller holds e.mu.
func (e *Engine) gatherCandidatesLocked() []Packet {
	candidates := make([]Packet, 0, e.announcements.Len()+e.seen.Len())
	candidates = append(candidates, e.announcements.All()...)
	candidates = append(candidates, e.seen.OrderedPackets()...)
	return candidates
}

// OnPublicPacketSeen classifies an observed public packet into the
// seen-set or announcement map (§4.3). It is idempotent for duplicates,
// emits no I/O, and absorbs all classification failures: malformed or
// expired packets are dropped and logged, never returned as a fatal
// error to the caller.
func (e *Engine) OnPublicPacketSeen(p Packet) {
	if err := p.Validate(e.cfg.MaxTTL); err != nil {
		slog.Debug("gossip: dropping invalid packet", "error", err, "type", p.Type)
		e.incMetric(func(m *Metrics) { m.PacketsDroppedTotal.WithLabelValues("invalid").Inc() })
		return
	}
	if e.validator != nil {
		if err := e.validator.Validate(p); err != nil {
			slog.Debug("gossip: dropping packet rejected by validator", "error", err, "type", p.Type)
			e.incMetric(func(m *Metrics) { m.PacketsDroppedTotal.WithLabelValues("expired").Inc() })
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case p.Type == TypeMessage && p.IsBroadcastRecipient():
		id := ComputeID(&p)
		if !e.seen.Insert(id, p) {
			slog.Debug("gossip: duplicate broadcast message dropped", "id", id.Hex())
			e.incMetric(func(m *Metrics) { m.PacketsDroppedTotal.WithLabelValues("duplicate").Inc() })
			return
		}
		e.incMetric(func(m *Metrics) { m.SeenSetSize.Set(float64(e.seen.Len())) })
	case p.Type == TypeAnnounce:
		e.announcements.Upsert(p)
		e.incMetric(func(m *Metrics) { m.AnnouncementMapSize.Set(float64(e.announcements.Len())) })
	default:
		// Other types (REQUEST_SYNC, TRANSACTION, LEAVE, handshakes)
		// are not stored here; the transport may still flood them
		// per §4.5.
	}
}

// HandleRequestSync answers a REQUEST_SYNC from fromPeerIDHex: packets
// this engine holds whose ID is absent from the sender's filter are
// sent back, each with TTL 0 (§4.4 "Responder"). Decoding never fails:
// a payload shorter than the 12-byte header decodes as an empty filter,
// so every held packet is sent, and an overstated data length is
// clamped to the bytes present. Nothing is logged or raised.
func (e *Engine) HandleRequestSync(fromPeerIDHex string, requestPayload []byte) {
	decoded := DecodeRequestSync(requestPayload)
	filter := decoded.ToFilter()

	e.incMetric(func(m *Metrics) { m.SyncRequestsReceived.Inc() })

	e.mu.Lock()
	announcements := e.announcements.All()
	sort.Slice(announcements, func(i, j int) bool {
		return announcements[i].SenderHex() < announcements[j].SenderHex()
	})
	messages := e.seen.OrderedPackets()
	e.mu.Unlock()

	sent := 0
	for _, p := range announcements {
		if e.sendIfMissing(fromPeerIDHex, p, filter) {
			sent++
		}
	}
	for _, p := range messages {
		if e.sendIfMissing(fromPeerIDHex, p, filter) {
			sent++
		}
	}
	e.incMetric(func(m *Metrics) { m.SyncResponsesSent.Add(float64(sent)) })
}

func (e *Engine) sendIfMissing(toPeerIDHex string, p Packet, filter Filter) bool {
	if filter.ContainsID(ComputeID(&p)) {
		return false
	}
	resp := p
	resp.TTL = 0 // responses are never flooded (§4.4, property 8)
	e.transport.SendToPeer(toPeerIDHex, resp)
	return true
}

// RemoveAnnouncementForPeer purges peerIDHex's announcement entry and
// every seen-set packet whose sender_id_hex matches it, case-
// insensitively (§4.4). Called on LEAVE or peer disconnection.
func (e *Engine) RemoveAnnouncementForPeer(peerIDHex string) {
	lower := strings.ToLower(peerIDHex)
	e.mu.Lock()
	e.announcements.Delete(lower)
	e.seen.PurgeSender(lower)
	e.mu.Unlock()
	slog.Info("gossip: purged peer", "peer", peerIDHex)
}

// SeenSetLen returns the current seen-set size, for status/metrics
// reporting by the demo daemon.
func (e *Engine) SeenSetLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen.Len()
}

// AnnouncementCount returns the number of tracked senders.
func (e *Engine) AnnouncementCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.announcements.Len()
}

func (e *Engine) incMetric(f func(*Metrics)) {
	if e.metrics != nil {
		f(e.metrics)
	}
}
