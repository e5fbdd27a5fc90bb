package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/anon0mesh/gossipcore/internal/auth"
	"github.com/anon0mesh/gossipcore/internal/config"
	"github.com/anon0mesh/gossipcore/internal/daemon"
	"github.com/anon0mesh/gossipcore/pkg/gossip"
)

// engineDispatcherProxy breaks the construction-order cycle between
// meshnode.Host (which needs a Dispatcher at construction time) and
// gossip.Engine (which needs a Transport at construction time, and is
// itself the Dispatcher). It is built empty and handed to
// meshnode.NewHost first, which registers the stream handler at once;
// envelopes that arrive before engine is set are dropped.
type engineDispatcherProxy struct {
	engine *gossip.Engine
}

func (p *engineDispatcherProxy) OnPublicPacketSeen(pkt gossip.Packet) {
	if p.engine != nil {
		p.engine.OnPublicPacketSeen(pkt)
	}
}

func (p *engineDispatcherProxy) HandleRequestSync(fromPeerIDHex string, requestPayload []byte) {
	if p.engine != nil {
		p.engine.HandleRequestSync(fromPeerIDHex, requestPayload)
	}
}

// gaterAdapter satisfies daemon.GaterReloader's zero-argument
// ReloadFromFile by closing over the authorized_keys path the gater
// itself doesn't remember.
type gaterAdapter struct {
	gater *auth.AuthorizedPeerGater
	path  string
}

func (g *gaterAdapter) ReloadFromFile() error {
	return g.gater.ReloadFromFile(g.path)
}

// nodeRuntime implements daemon.RuntimeInfo, giving the daemon API
// access to the running mesh node without depending on its concrete
// construction.
type nodeRuntime struct {
	host       host.Host
	engine     *gossip.Engine
	gater      *auth.AuthorizedPeerGater
	authPath   string
	configPath string
	version    string
	startTime  time.Time

	// ctx bounds EnforceCommitConfirmed goroutines launched by ApplyConfig.
	// It's the daemon's own run context, not a request context: a revert
	// must survive the HTTP request that triggered ApplyConfig.
	ctx context.Context
}

var _ daemon.RuntimeInfo = (*nodeRuntime)(nil)

func (rt *nodeRuntime) Host() host.Host          { return rt.host }
func (rt *nodeRuntime) Version() string          { return rt.version }
func (rt *nodeRuntime) StartTime() time.Time     { return rt.startTime }
func (rt *nodeRuntime) SeenSetLen() int          { return rt.engine.SeenSetLen() }
func (rt *nodeRuntime) AnnouncementCount() int   { return rt.engine.AnnouncementCount() }
func (rt *nodeRuntime) GatingEnabled() bool      { return rt.gater != nil }

func (rt *nodeRuntime) AuthKeysPath() string {
	if rt.gater == nil {
		return ""
	}
	return rt.authPath
}

func (rt *nodeRuntime) GaterForHotReload() daemon.GaterReloader {
	if rt.gater == nil {
		return nil
	}
	return &gaterAdapter{gater: rt.gater, path: rt.authPath}
}

func (rt *nodeRuntime) AuthorizedPeersCount() int {
	if rt.gater == nil {
		return 0
	}
	return rt.gater.GetAuthorizedPeersCount()
}

func (rt *nodeRuntime) ProbationCount() int {
	if rt.gater == nil {
		return 0
	}
	return rt.gater.ProbationCount()
}

func (rt *nodeRuntime) EnrollmentEnabled() bool {
	if rt.gater == nil {
		return false
	}
	return rt.gater.IsEnrollmentEnabled()
}

func (rt *nodeRuntime) PromoteAuthorizedPeer(peerIDStr string) {
	if rt.gater == nil {
		return
	}
	pid, err := peer.Decode(peerIDStr)
	if err != nil {
		return
	}
	rt.gater.PromotePeer(pid)
}

// ApplyConfig validates yamlData as a standalone config file, then hands
// it to the commit-confirmed machinery: the current config is backed up,
// yamlData is swapped in, and a goroutine bound to rt.ctx reverts it if
// nothing confirms within timeout.
func (rt *nodeRuntime) ApplyConfig(yamlData []byte, timeout time.Duration) error {
	staged := rt.configPath + ".incoming"
	if err := os.WriteFile(staged, yamlData, 0600); err != nil {
		return fmt.Errorf("write staged config: %w", err)
	}
	defer os.Remove(staged)

	newCfg, err := config.LoadNodeConfig(staged)
	if err != nil {
		return fmt.Errorf("parse staged config: %w", err)
	}
	config.ResolveConfigPaths(newCfg, filepath.Dir(rt.configPath))
	if err := config.ValidateNodeConfig(newCfg); err != nil {
		return fmt.Errorf("invalid staged config: %w", err)
	}

	if err := config.ApplyCommitConfirmed(rt.configPath, staged, timeout); err != nil {
		return err
	}
	go config.EnforceCommitConfirmed(rt.ctx, rt.configPath, time.Now().Add(timeout), os.Exit)
	return nil
}

// ConfirmConfig makes the most recent ApplyConfig permanent, cancelling
// its pending revert.
func (rt *nodeRuntime) ConfirmConfig() error {
	return config.Confirm(rt.configPath)
}

// socketPaths returns the Unix socket and cookie file paths for the
// daemon API, sitting next to the resolved config file.
func socketPaths(cfgDir string) (socketPath, cookiePath string) {
	return filepath.Join(cfgDir, ".gossipd.sock"), filepath.Join(cfgDir, ".gossipd.cookie")
}
