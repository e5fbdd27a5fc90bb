package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// --- Mock runtime ---

type mockRuntime struct {
	h               host.Host
	version         string
	startTime       time.Time
	seenSetLen      int
	announcementLen int
	authKeysPath    string
	gater           GaterReloader
	gatingEnabled   bool
	authorizedPeers int
	probationPeers  int
	enrollmentOn    bool
	promotedPeer    string

	applyConfigErr  error
	applyTimeout    time.Duration
	confirmConfigErr error
	confirmCalled   bool
}

func (m *mockRuntime) Host() host.Host                 { return m.h }
func (m *mockRuntime) Version() string                 { return m.version }
func (m *mockRuntime) StartTime() time.Time            { return m.startTime }
func (m *mockRuntime) SeenSetLen() int                 { return m.seenSetLen }
func (m *mockRuntime) AnnouncementCount() int          { return m.announcementLen }
func (m *mockRuntime) AuthKeysPath() string            { return m.authKeysPath }
func (m *mockRuntime) GaterForHotReload() GaterReloader { return m.gater }
func (m *mockRuntime) GatingEnabled() bool             { return m.gatingEnabled }
func (m *mockRuntime) AuthorizedPeersCount() int       { return m.authorizedPeers }
func (m *mockRuntime) ProbationCount() int             { return m.probationPeers }
func (m *mockRuntime) EnrollmentEnabled() bool         { return m.enrollmentOn }
func (m *mockRuntime) PromoteAuthorizedPeer(peerIDStr string) { m.promotedPeer = peerIDStr }

func (m *mockRuntime) ApplyConfig(yamlData []byte, timeout time.Duration) error {
	m.applyTimeout = timeout
	return m.applyConfigErr
}

func (m *mockRuntime) ConfirmConfig() error {
	m.confirmCalled = true
	return m.confirmConfigErr
}

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(
		libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"),
		libp2p.DisableRelay(),
	)
	if err != nil {
		t.Fatalf("create test host: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func newMockRuntime(t *testing.T) *mockRuntime {
	return &mockRuntime{
		h:         newTestHost(t),
		version:   "test-0.1.0",
		startTime: time.Now().Add(-60 * time.Second),
	}
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	cookiePath := filepath.Join(dir, ".test-cookie")

	rt := newMockRuntime(t)
	srv := NewServer(rt, socketPath, cookiePath, "test-0.1.0")
	return srv, dir
}

// --- Tests ---

func TestGenerateCookie(t *testing.T) {
	token, err := generateCookie()
	if err != nil {
		t.Fatalf("generateCookie failed: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64-char hex token, got %d chars", len(token))
	}

	token2, err := generateCookie()
	if err != nil {
		t.Fatalf("second generateCookie failed: %v", err)
	}
	if token == token2 {
		t.Error("two generated cookies should not be identical")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.authToken = "test-secret-token"

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := srv.authMiddleware(inner)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer test-secret-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.authToken = "test-secret-token"

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
	})

	handler := srv.authMiddleware(inner)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	var errResp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&errResp)
	if errResp.Error == "" {
		t.Error("expected error message in response")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.authToken = "test-secret-token"

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
	})

	handler := srv.authMiddleware(inner)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	respondJSON(rec, http.StatusOK, map[string]string{"hello": "world"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var envelope DataResponse
	var data map[string]string
	body := rec.Body.Bytes()
	json.Unmarshal(body, &envelope)
	dataBytes, _ := json.Marshal(envelope.Data)
	json.Unmarshal(dataBytes, &data)
	if data["hello"] != "world" {
		t.Errorf("expected data.hello=world, got %v", data)
	}
}

func TestRespondText(t *testing.T) {
	rec := httptest.NewRecorder()
	respondText(rec, http.StatusOK, "hello world\n")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("expected text/plain, got %s", ct)
	}
	if body := rec.Body.String(); body != "hello world\n" {
		t.Errorf("expected 'hello world\\n', got %q", body)
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, http.StatusBadRequest, "something went wrong")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	var errResp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&errResp)
	if errResp.Error != "something went wrong" {
		t.Errorf("expected error 'something went wrong', got %q", errResp.Error)
	}
}

func TestWantsText_QueryParam(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/status?format=text", nil)
	if !wantsText(req) {
		t.Error("expected wantsText=true for ?format=text")
	}
}

func TestWantsText_AcceptHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/status", nil)
	req.Header.Set("Accept", "text/plain")
	if !wantsText(req) {
		t.Error("expected wantsText=true for Accept: text/plain")
	}
}

func TestWantsText_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/status", nil)
	if wantsText(req) {
		t.Error("expected wantsText=false for default request")
	}
}

func TestServerStartStop(t *testing.T) {
	srv, dir := newTestServer(t)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cookiePath := filepath.Join(dir, ".test-cookie")
	if _, err := os.Stat(cookiePath); os.IsNotExist(err) {
		t.Error("cookie file should exist after Start")
	}

	socketPath := filepath.Join(dir, "test.sock")
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Error("socket file should exist after Start")
	}

	if srv.authToken == "" {
		t.Error("auth token should be set after Start")
	}

	srv.Stop()

	if _, err := os.Stat(cookiePath); !os.IsNotExist(err) {
		t.Error("cookie file should be removed after Stop")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed after Stop")
	}
}

func TestServerStaleSocketDetection(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	cookiePath := filepath.Join(dir, ".test-cookie")

	os.WriteFile(socketPath, []byte{}, 0600)

	rt := newMockRuntime(t)
	srv := NewServer(rt, socketPath, cookiePath, "test")

	if err := srv.Start(); err != nil {
		t.Fatalf("Start with stale socket should succeed: %v", err)
	}
	srv.Stop()
}

func TestServerDaemonAlreadyRunning(t *testing.T) {
	srv1, dir := newTestServer(t)

	if err := srv1.Start(); err != nil {
		t.Fatalf("First Start failed: %v", err)
	}
	defer srv1.Stop()

	socketPath := filepath.Join(dir, "test.sock")
	cookiePath := filepath.Join(dir, ".test-cookie2")
	rt := newMockRuntime(t)
	srv2 := NewServer(rt, socketPath, cookiePath, "test")

	err := srv2.Start()
	if err == nil {
		srv2.Stop()
		t.Fatal("Second Start should fail with ErrDaemonAlreadyRunning")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("expected 'already running' error, got: %v", err)
	}
}

func TestServerShutdownChannel(t *testing.T) {
	srv, _ := newTestServer(t)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-srv.ShutdownCh():
		t.Fatal("ShutdownCh should not be closed before shutdown request")
	default:
	}

	srv.Stop()
}

func TestClientNewClient_SocketNotFound(t *testing.T) {
	_, err := NewClient("/nonexistent/socket", "/nonexistent/cookie")
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "not running") {
		t.Errorf("expected 'not running' error, got: %v", err)
	}
}

func TestClientNewClient_CookieNotFound(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	os.WriteFile(socketPath, []byte{}, 0600)

	_, err := NewClient(socketPath, filepath.Join(dir, "nonexistent-cookie"))
	if err == nil {
		t.Fatal("expected error for missing cookie")
	}
	if !strings.Contains(err.Error(), "cookie") {
		t.Errorf("expected cookie-related error, got: %v", err)
	}
}

func TestHandlerShutdown_Response(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.authToken = "test-token"

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	req := httptest.NewRequest("POST", "/v1/shutdown", nil)
	rec := httptest.NewRecorder()

	srv.handleShutdown(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	var envelope DataResponse
	json.Unmarshal(body, &envelope)
	dataMap, ok := envelope.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected data to be a map, got %T", envelope.Data)
	}
	if dataMap["status"] != "shutting down" {
		t.Errorf("expected status='shutting down', got %v", dataMap["status"])
	}
}

// TestClientIntegration exercises every client method end-to-end against a
// real server backed by a live libp2p host.
func TestClientIntegration(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	cookiePath := filepath.Join(dir, ".test-cookie")

	authKeysPath := filepath.Join(dir, "authorized_keys")
	os.WriteFile(authKeysPath, nil, 0600)

	rt := &mockRuntime{
		h:             newTestHost(t),
		version:       "test-0.2.0",
		startTime:     time.Now().Add(-120 * time.Second),
		authKeysPath:  authKeysPath,
		gatingEnabled: true,
	}

	srv := NewServer(rt, socketPath, cookiePath, "test-0.2.0")
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	client, err := NewClient(socketPath, cookiePath)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	t.Run("Status", func(t *testing.T) {
		resp, err := client.Status()
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if resp.PeerID == "" {
			t.Error("PeerID empty")
		}
		if resp.Version != "test-0.2.0" {
			t.Errorf("Version = %q", resp.Version)
		}
		if resp.UptimeSeconds < 119 {
			t.Errorf("UptimeSeconds = %d", resp.UptimeSeconds)
		}
	})

	t.Run("StatusText", func(t *testing.T) {
		text, err := client.StatusText()
		if err != nil {
			t.Fatalf("StatusText: %v", err)
		}
		for _, want := range []string{"peer_id:", "version:", "uptime:"} {
			if !strings.Contains(text, want) {
				t.Errorf("missing %q in text output", want)
			}
		}
	})

	t.Run("Peers_Empty", func(t *testing.T) {
		peers, err := client.Peers()
		if err != nil {
			t.Fatalf("Peers: %v", err)
		}
		if len(peers) != 0 {
			t.Errorf("got %d peers, want 0", len(peers))
		}
	})

	t.Run("AuthList_Empty", func(t *testing.T) {
		entries, err := client.AuthList()
		if err != nil {
			t.Fatalf("AuthList: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("got %d entries, want 0", len(entries))
		}
	})

	pid := genDaemonTestPeerID(t)

	t.Run("AuthAdd", func(t *testing.T) {
		if err := client.AuthAdd(pid.String(), "test-peer"); err != nil {
			t.Fatalf("AuthAdd: %v", err)
		}

		entries, err := client.AuthList()
		if err != nil {
			t.Fatalf("AuthList: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		if entries[0].PeerID != pid.String() {
			t.Errorf("PeerID = %q, want %q", entries[0].PeerID, pid.String())
		}
	})

	t.Run("AuthRemove", func(t *testing.T) {
		if err := client.AuthRemove(pid.String()); err != nil {
			t.Fatalf("AuthRemove: %v", err)
		}

		entries, err := client.AuthList()
		if err != nil {
			t.Fatalf("AuthList: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected 0 entries after remove, got %d", len(entries))
		}
	})

	t.Run("Shutdown", func(t *testing.T) {
		if err := client.Shutdown(); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		select {
		case <-srv.ShutdownCh():
		case <-time.After(2 * time.Second):
			t.Fatal("ShutdownCh not closed after Shutdown()")
		}
	})
}

// TestAuthAdd_GatingDisabled covers the 400 path when connection gating
// has no backing authorized_keys file.
func TestAuthAdd_GatingDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.authToken = "test-token"

	body := strings.NewReader(`{"peer_id":"12D3KooWTest"}`)
	req := httptest.NewRequest("POST", "/v1/auth", body)
	rec := httptest.NewRecorder()

	srv.handleAuthAdd(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func genDaemonTestPeerID(t *testing.T) peer.ID {
	t.Helper()
	return newTestHost(t).ID()
}

func TestHandleConfigApply(t *testing.T) {
	srv, _ := newTestServer(t)
	rt := srv.runtime.(*mockRuntime)

	body := strings.NewReader(`{"yaml":"identity:\n  key_file: /tmp/x\n","timeout_seconds":30}`)
	req := httptest.NewRequest("POST", "/v1/config", body)
	rec := httptest.NewRecorder()

	srv.handleConfigApply(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rt.applyTimeout != 30*time.Second {
		t.Errorf("ApplyConfig timeout = %v, want 30s", rt.applyTimeout)
	}
}

func TestHandleConfigApply_MissingYAML(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/v1/config", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	srv.handleConfigApply(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleConfigApply_DefaultTimeout(t *testing.T) {
	srv, _ := newTestServer(t)
	rt := srv.runtime.(*mockRuntime)

	req := httptest.NewRequest("POST", "/v1/config", strings.NewReader(`{"yaml":"x: y\n"}`))
	rec := httptest.NewRecorder()

	srv.handleConfigApply(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rt.applyTimeout != defaultConfigApplyTimeout {
		t.Errorf("ApplyConfig timeout = %v, want default %v", rt.applyTimeout, defaultConfigApplyTimeout)
	}
}

func TestHandleConfigApply_RuntimeRejects(t *testing.T) {
	srv, _ := newTestServer(t)
	rt := srv.runtime.(*mockRuntime)
	rt.applyConfigErr = fmt.Errorf("invalid staged config")

	req := httptest.NewRequest("POST", "/v1/config", strings.NewReader(`{"yaml":"x: y\n"}`))
	rec := httptest.NewRecorder()

	srv.handleConfigApply(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleConfigConfirm(t *testing.T) {
	srv, _ := newTestServer(t)
	rt := srv.runtime.(*mockRuntime)

	req := httptest.NewRequest("POST", "/v1/config/confirm", nil)
	rec := httptest.NewRecorder()

	srv.handleConfigConfirm(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !rt.confirmCalled {
		t.Error("ConfirmConfig was not called")
	}
}

func TestHandleConfigConfirm_RuntimeRejects(t *testing.T) {
	srv, _ := newTestServer(t)
	rt := srv.runtime.(*mockRuntime)
	rt.confirmConfigErr = fmt.Errorf("no pending config change")

	req := httptest.NewRequest("POST", "/v1/config/confirm", nil)
	rec := httptest.NewRecorder()

	srv.handleConfigConfirm(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// TestAuthAdd_PromotesPeer covers the enrollment-mode path: adding a peer
// to authorized_keys should also free its probation slot immediately.
func TestAuthAdd_PromotesPeer(t *testing.T) {
	dir := t.TempDir()
	authKeysPath := filepath.Join(dir, "authorized_keys")
	os.WriteFile(authKeysPath, nil, 0600)

	rt := &mockRuntime{
		h:             newTestHost(t),
		version:       "test-0.1.0",
		authKeysPath:  authKeysPath,
		gatingEnabled: true,
	}
	srv, _ := newTestServer(t)
	srv.runtime = rt

	pid := genDaemonTestPeerID(t)
	body := strings.NewReader(fmt.Sprintf(`{"peer_id":%q}`, pid.String()))
	req := httptest.NewRequest("POST", "/v1/auth", body)
	rec := httptest.NewRecorder()

	srv.handleAuthAdd(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rt.promotedPeer != pid.String() {
		t.Errorf("promotedPeer = %q, want %q", rt.promotedPeer, pid.String())
	}
}
