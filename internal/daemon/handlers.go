package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anon0mesh/gossipcore/internal/auth"
)

// maxRequestBodySize limits the size of JSON request bodies to prevent
// unbounded memory consumption from oversized or malicious payloads.
const maxRequestBodySize = 1 << 20 // 1 MB

// defaultConfigApplyTimeout is used when a POST /v1/config request omits
// timeout_seconds.
const defaultConfigApplyTimeout = 5 * time.Minute

// registerRoutes sets up all HTTP routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/peers", s.handlePeerList)
	mux.HandleFunc("GET /v1/auth", s.handleAuthList)

	mux.HandleFunc("POST /v1/auth", s.handleAuthAdd)
	mux.HandleFunc("DELETE /v1/auth/{peer_id}", s.handleAuthRemove)
	mux.HandleFunc("POST /v1/config", s.handleConfigApply)
	mux.HandleFunc("POST /v1/config/confirm", s.handleConfigConfirm)
	mux.HandleFunc("POST /v1/shutdown", s.handleShutdown)
}

// --- Format helpers ---

// wantsText returns true if the client prefers plain text output.
func wantsText(r *http.Request) bool {
	if r.URL.Query().Get("format") == "text" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain")
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

// respondText writes a plain text response.
func respondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, text)
}

// --- Handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rt := s.runtime
	h := rt.Host()

	addrs := make([]string, 0, len(h.Addrs()))
	for _, a := range h.Addrs() {
		addrs = append(addrs, a.String())
	}

	resp := StatusResponse{
		PeerID:            h.ID().String(),
		Version:           rt.Version(),
		UptimeSeconds:     int(time.Since(rt.StartTime()).Seconds()),
		ConnectedPeers:    len(h.Network().Peers()),
		ListenAddrs:       addrs,
		SeenSetSize:       rt.SeenSetLen(),
		AnnouncementCount: rt.AnnouncementCount(),
		GatingEnabled:     rt.GatingEnabled(),
	}
	if resp.GatingEnabled {
		resp.AuthorizedPeers = rt.AuthorizedPeersCount()
		resp.ProbationPeers = rt.ProbationCount()
		resp.EnrollmentEnabled = rt.EnrollmentEnabled()
	}

	if wantsText(r) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "peer_id: %s\n", resp.PeerID)
		fmt.Fprintf(&sb, "version: %s\n", resp.Version)
		fmt.Fprintf(&sb, "uptime: %ds\n", resp.UptimeSeconds)
		fmt.Fprintf(&sb, "connected_peers: %d\n", resp.ConnectedPeers)
		fmt.Fprintf(&sb, "seen_set_size: %d\n", resp.SeenSetSize)
		fmt.Fprintf(&sb, "announcement_count: %d\n", resp.AnnouncementCount)
		fmt.Fprintf(&sb, "gating_enabled: %v\n", resp.GatingEnabled)
		if resp.GatingEnabled {
			fmt.Fprintf(&sb, "authorized_peers: %d\n", resp.AuthorizedPeers)
			fmt.Fprintf(&sb, "probation_peers: %d\n", resp.ProbationPeers)
			fmt.Fprintf(&sb, "enrollment_enabled: %v\n", resp.EnrollmentEnabled)
		}
		fmt.Fprintf(&sb, "listen_addresses: %d\n", len(resp.ListenAddrs))
		for _, a := range resp.ListenAddrs {
			fmt.Fprintf(&sb, "  %s\n", a)
		}
		respondText(w, http.StatusOK, sb.String())
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePeerList(w http.ResponseWriter, r *http.Request) {
	h := s.runtime.Host()
	peerIDs := h.Network().Peers()

	peers := make([]PeerInfo, 0, len(peerIDs))
	for _, pid := range peerIDs {
		info := PeerInfo{ID: pid.String()}
		for _, a := range h.Peerstore().Addrs(pid) {
			info.Addresses = append(info.Addresses, a.String())
		}
		peers = append(peers, info)
	}

	if wantsText(r) {
		var sb strings.Builder
		for _, p := range peers {
			short := p.ID
			if len(short) > 16 {
				short = short[:16] + "..."
			}
			fmt.Fprintf(&sb, "%s\t%d addrs\n", short, len(p.Addresses))
		}
		respondText(w, http.StatusOK, sb.String())
		return
	}

	respondJSON(w, http.StatusOK, peers)
}

func (s *Server) handleAuthList(w http.ResponseWriter, r *http.Request) {
	authPath := s.runtime.AuthKeysPath()
	if authPath == "" {
		respondJSON(w, http.StatusOK, []AuthEntry{})
		return
	}

	peers, err := auth.ListPeers(authPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]AuthEntry, 0, len(peers))
	for _, p := range peers {
		e := AuthEntry{
			PeerID:   p.PeerID.String(),
			Comment:  p.Comment,
			Verified: p.Verified,
		}
		if !p.ExpiresAt.IsZero() {
			e.ExpiresAt = p.ExpiresAt.Format(time.RFC3339)
		}
		entries = append(entries, e)
	}

	if wantsText(r) {
		var sb strings.Builder
		for _, e := range entries {
			if e.Comment != "" {
				fmt.Fprintf(&sb, "%s\t# %s\n", e.PeerID, e.Comment)
			} else {
				fmt.Fprintf(&sb, "%s\n", e.PeerID)
			}
		}
		respondText(w, http.StatusOK, sb.String())
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuthAdd(w http.ResponseWriter, r *http.Request) {
	var req AuthAddRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PeerID == "" {
		respondError(w, http.StatusBadRequest, "peer_id is required")
		return
	}

	authPath := s.runtime.AuthKeysPath()
	if authPath == "" {
		respondError(w, http.StatusBadRequest, "connection gating is not enabled")
		return
	}

	if err := auth.AddPeer(authPath, req.PeerID, req.Comment); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.reloadGater(); err != nil {
		slog.Error("failed to reload gater after adding peer", "error", err)
		respondError(w, http.StatusInternalServerError, "peer added but gater reload failed: "+err.Error())
		return
	}
	s.runtime.PromoteAuthorizedPeer(req.PeerID)

	slog.Info("authorized peer added via API", "peer", shortID(req.PeerID))
	respondJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleAuthRemove(w http.ResponseWriter, r *http.Request) {
	peerID := r.PathValue("peer_id")
	if peerID == "" {
		respondError(w, http.StatusBadRequest, "peer_id is required")
		return
	}

	authPath := s.runtime.AuthKeysPath()
	if authPath == "" {
		respondError(w, http.StatusBadRequest, "connection gating is not enabled")
		return
	}

	if err := auth.RemovePeer(authPath, peerID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.reloadGater(); err != nil {
		slog.Error("failed to reload gater after removing peer", "error", err)
	}

	slog.Info("authorized peer removed via API", "peer", shortID(peerID))
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// reloadGater reloads the authorized_keys file and updates the connection gater.
func (s *Server) reloadGater() error {
	gater := s.runtime.GaterForHotReload()
	if gater == nil {
		return nil
	}
	return gater.ReloadFromFile()
}

func (s *Server) handleConfigApply(w http.ResponseWriter, r *http.Request) {
	var req ConfigApplyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.YAML == "" {
		respondError(w, http.StatusBadRequest, "yaml is required")
		return
	}

	timeout := defaultConfigApplyTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	if err := s.runtime.ApplyConfig([]byte(req.YAML), timeout); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("config apply staged via API", "timeout", timeout)
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "pending",
		"confirm_by": time.Now().Add(timeout).Format(time.RFC3339),
	})
}

func (s *Server) handleConfigConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.ConfirmConfig(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("config apply confirmed via API")
	respondJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})

	go func() {
		time.Sleep(100 * time.Millisecond) // let response flush
		close(s.shutdownCh)
	}()
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
