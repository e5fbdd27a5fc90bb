// Command gossipd runs a gossip mesh node: a libp2p host carrying the
// epidemic-gossip/GCS-reconciliation engine in pkg/gossip, plus a local
// HTTP status API and an optional Prometheus endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/anon0mesh/gossipcore/internal/auth"
	"github.com/anon0mesh/gossipcore/internal/config"
	"github.com/anon0mesh/gossipcore/internal/daemon"
	"github.com/anon0mesh/gossipcore/internal/meshnode"
	"github.com/anon0mesh/gossipcore/internal/watchdog"
	"github.com/anon0mesh/gossipcore/pkg/gossip"
)

// probationSweepInterval controls how often an enrollment-enabled gater's
// probation list is checked for peers past their timeout.
const probationSweepInterval = 5 * time.Second

// runProbationSweep evicts stale probation peers until ctx is cancelled.
func runProbationSweep(ctx context.Context, gater *auth.AuthorizedPeerGater, h host.Host) {
	ticker := time.NewTicker(probationSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gater.CleanupProbation(func(p peer.ID) {
				_ = h.Network().ClosePeer(p)
			})
		}
	}
}

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configFlag := flag.String("config", "", "path to gossipd config file (default: search standard locations)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gossipd %s (commit %s, built %s)\n", version, commit, buildDate)
		return
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *configFlag); err != nil {
		slog.Error("gossipd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFlag string) error {
	cfgFile, err := config.FindConfigFile(configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	cfg, err := config.LoadNodeConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfgDir := filepath.Dir(cfgFile)
	config.ResolveConfigPaths(cfg, cfgDir)

	if err := config.ValidateNodeConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.Archive(cfgFile); err != nil {
		slog.Warn("failed to archive config", "error", err)
	}

	hadPendingRevert, pendingDeadline := false, time.Time{}
	if deadline, err := config.CheckPending(cfgFile); err == nil && !deadline.IsZero() {
		hadPendingRevert, pendingDeadline = true, deadline
		slog.Warn("commit-confirmed pending; run the confirm step or the config will revert",
			"remaining", time.Until(deadline).Round(time.Second))
	}

	slog.Info("loaded configuration", "path", cfgFile, "rendezvous", cfg.Discovery.Rendezvous)

	priv, err := meshnode.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	if cfg.Security.EnableConnectionGating && cfg.Security.AuthorizedKeysFile == "" {
		return fmt.Errorf("connection gating enabled but no authorized_keys_file specified")
	}
	if !cfg.Security.EnableConnectionGating {
		slog.Warn("connection gating is DISABLED - any peer can connect")
	}

	h, gater, err := meshnode.NewLibp2pHost(priv, cfg.Network.ListenAddresses, cfg.Security.AuthorizedKeysFile, cfg.Security.EnableConnectionGating)
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}
	defer h.Close()

	slog.Info("libp2p host ready", "peer_id", h.ID().String(), "addrs", h.Addrs())

	gossipMetrics := gossip.NewMetrics()
	meshMetrics := meshnode.NewMetrics()
	daemonMetrics := daemon.NewMetrics()

	if gater != nil {
		gater.SetDecisionCallback(func(peerID, result string) {
			daemonMetrics.AuthDecisionsTotal.WithLabelValues(result).Inc()
		})
		if cfg.Security.Enrollment.Enabled {
			gater.SetEnrollmentMode(true, cfg.Security.Enrollment.Limit, cfg.Security.Enrollment.Timeout)
			slog.Info("enrollment mode enabled",
				"limit", cfg.Security.Enrollment.Limit, "timeout", cfg.Security.Enrollment.Timeout)
		}
	}

	// meshnode.Host needs a Dispatcher before gossip.Engine (the real
	// Dispatcher) can exist, and gossip.New needs meshnode.Host as its
	// Transport. Break the cycle with an empty proxy, filled in once the
	// engine exists; envelopes that arrive before then are dropped.
	dispatcher := &engineDispatcherProxy{}
	mnHost := meshnode.NewHost(h, priv, dispatcher, meshMetrics)

	engineCfg := cfg.Gossip.ToEngineConfig().WithDefaults()
	validator := meshnode.NewSignatureValidator(engineCfg.MaxAge, engineCfg.ClockSkewTolerance, false)

	engine := gossip.New([]byte(h.ID()), engineCfg, mnHost,
		gossip.WithValidator(validator),
		gossip.WithMetrics(gossipMetrics),
	)
	dispatcher.engine = engine

	peerLink := meshnode.NewPeerLink(h, engine, engineCfg.InitialSyncDelay, meshMetrics)
	if err := peerLink.Start(ctx); err != nil {
		return fmt.Errorf("failed to start peer link: %w", err)
	}
	defer peerLink.Close()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	rt := &nodeRuntime{
		host:       h,
		engine:     engine,
		gater:      gater,
		authPath:   cfg.Security.AuthorizedKeysFile,
		configPath: cfgFile,
		version:    version,
		startTime:  time.Now(),
		ctx:        runCtx,
	}

	if hadPendingRevert {
		go config.EnforceCommitConfirmed(runCtx, cfgFile, pendingDeadline, os.Exit)
	}

	socketPath, cookiePath := socketPaths(cfgDir)
	daemonServer := daemon.NewServer(rt, socketPath, cookiePath, version)
	daemonServer.SetInstrumentation(daemonMetrics)
	if err := daemonServer.Start(); err != nil {
		return fmt.Errorf("failed to start daemon API: %w", err)
	}
	defer daemonServer.Stop()

	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		gatherer := prometheus.Gatherers{gossipMetrics.Registry, meshMetrics.Registry, daemonMetrics.Registry}
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:         cfg.Telemetry.Metrics.ListenAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		slog.Info("metrics endpoint enabled", "addr", cfg.Telemetry.Metrics.ListenAddress)
	}

	watchdog.Ready()
	healthChecks := []watchdog.HealthCheck{
		{
			Name: "host-listening",
			Check: func() error {
				if len(h.Addrs()) == 0 {
					return fmt.Errorf("no listen addresses")
				}
				return nil
			},
		},
		{
			Name: "envelope-protocol-registered",
			Check: func() error {
				protos := h.Mux().Protocols()
				for _, p := range protos {
					if p == meshnode.EnvelopeProtocol {
						return nil
					}
				}
				return fmt.Errorf("envelope protocol not registered")
			},
		},
	}

	g, gctx := errgroup.WithContext(runCtx)

	engine.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		engine.Stop()
		return nil
	})

	g.Go(func() error {
		watchdog.Run(gctx, watchdog.Config{Interval: 30 * time.Second}, healthChecks)
		return nil
	})

	if gater != nil && cfg.Security.Enrollment.Enabled {
		g.Go(func() error {
			runProbationSweep(gctx, gater, h)
			return nil
		})
	}

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-daemonServer.ShutdownCh():
			slog.Info("shutdown requested via daemon API")
			runCancel()
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			runCancel()
		}
		return nil
	})

	<-gctx.Done()
	watchdog.Stopping()
	_ = g.Wait()
	return nil
}
