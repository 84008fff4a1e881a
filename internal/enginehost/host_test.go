package enginehost

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/engine/remote"
	"github.com/taigalab/taigactl/internal/engine/stub"
	"github.com/taigalab/taigactl/internal/protocol/session"
	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

func testRegistry(t *testing.T, script stub.Script) *engine.Registry {
	t.Helper()
	registry := engine.NewRegistry()
	if err := registry.Register(stub.Factory{Script: script}); err != nil {
		t.Fatalf("register stub: %v", err)
	}
	return registry
}

func testClientSession() session.Config {
	return session.Config{
		ConnectTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      2 * time.Second,
		WriteTimeout:     2 * time.Second,
		SessionDeadAfter: 5 * time.Second,
		Backoff:          session.DefaultConfig().Backoff,
	}
}

func startTestService(t *testing.T, registry *engine.Registry) (*Service, string, context.CancelFunc, chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := DefaultServiceConfig()
	cfg.Session.ReadTimeout = 2 * time.Second
	cfg.Session.WriteTimeout = 2 * time.Second
	cfg.Session.HandshakeTimeout = 2 * time.Second
	svc, err := NewServiceWithConfig(cfg, registry)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	return svc, ln.Addr().String(), cancel, done
}

func TestServiceRunLifecycle(t *testing.T) {
	testlog.Start(t)

	svc, addr, cancel, done := startTestService(t, testRegistry(t, stub.Script{}))
	defer cancel()

	eng := remote.New(remote.Config{
		Address:    addr,
		ClientID:   "taigactl.alpha",
		EngineKind: stub.KindID,
		RunID:      "run-2041",
		Session:    testClientSession(),
	})

	eng.Configure(engine.Source{
		Project: "projects/boreal.toml",
		Overrides: []engine.Override{
			{Key: "climate.warming", Value: "2.4"},
		},
	})
	if eng.HasError() {
		t.Fatalf("configure flagged error: %s", eng.LastError())
	}
	if got := svc.ActiveSessions(); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}

	eng.Create()
	if eng.HasError() {
		t.Fatalf("create flagged error: %s", eng.LastError())
	}

	var years []int
	eng.SetProgress(func(year int) {
		years = append(years, year)
	})
	eng.Advance(3)
	if eng.HasError() {
		t.Fatalf("advance flagged error: %s", eng.LastError())
	}
	if len(years) != 3 || years[0] != 1 || years[2] != 3 {
		t.Fatalf("unexpected progress years: %v", years)
	}

	run, ok := svc.Runs().Get("run-2041")
	if !ok {
		t.Fatalf("expected active run entry")
	}
	if run.EngineKind != stub.KindID || run.LastOp != "advance" || run.LastYear != 3 || run.Ops != 3 {
		t.Fatalf("unexpected run entry: %+v", run)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}

func TestServiceIdentityMismatchRejected(t *testing.T) {
	testlog.Start(t)

	_, addr, cancel, done := startTestService(t, testRegistry(t, stub.Script{}))
	defer cancel()

	eng := remote.New(remote.Config{
		Address:            addr,
		ClientID:           "taigactl.alpha",
		PeerIdentity:       "peer.other",
		EngineKind:         stub.KindID,
		RunID:              "run-reject",
		Session:            testClientSession(),
		MaxConnectAttempts: 1,
	})

	eng.Configure(engine.Source{Project: "projects/boreal.toml"})
	if !eng.HasError() {
		t.Fatalf("expected configure error state")
	}
	if msg := eng.LastError(); !strings.Contains(msg, "session rejected") || !strings.Contains(msg, "code=1002") {
		t.Fatalf("unexpected error message: %s", msg)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}

func TestServiceUnknownEngineKindRejected(t *testing.T) {
	testlog.Start(t)

	_, addr, cancel, done := startTestService(t, testRegistry(t, stub.Script{}))
	defer cancel()

	eng := remote.New(remote.Config{
		Address:            addr,
		ClientID:           "taigactl.alpha",
		EngineKind:         "engine.nope",
		RunID:              "run-unknown-kind",
		Session:            testClientSession(),
		MaxConnectAttempts: 1,
	})

	eng.Configure(engine.Source{Project: "projects/boreal.toml"})
	if !eng.HasError() {
		t.Fatalf("expected configure error state")
	}
	if msg := eng.LastError(); !strings.Contains(msg, "code=1005") {
		t.Fatalf("unexpected error message: %s", msg)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}

func TestServiceEngineErrorCrossesWire(t *testing.T) {
	testlog.Start(t)

	_, addr, cancel, done := startTestService(t, testRegistry(t, stub.Script{CreateError: "tree init failed"}))
	defer cancel()

	eng := remote.New(remote.Config{
		Address:    addr,
		ClientID:   "taigactl.alpha",
		EngineKind: stub.KindID,
		RunID:      "run-engine-error",
		Session:    testClientSession(),
	})
	defer eng.Close()

	eng.Configure(engine.Source{Project: "projects/boreal.toml"})
	if eng.HasError() {
		t.Fatalf("configure flagged error: %s", eng.LastError())
	}
	eng.Create()
	if !eng.HasError() {
		t.Fatalf("expected create error state")
	}
	if got := eng.LastError(); got != "tree init failed" {
		t.Fatalf("expected verbatim engine message, got %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}

func TestServicePanickedResultRePanics(t *testing.T) {
	testlog.Start(t)

	_, addr, cancel, done := startTestService(t, testRegistry(t, stub.Script{
		PanicStage: stub.CallAdvance,
		PanicFault: true,
		PanicValue: "root overflow",
	}))
	defer cancel()

	eng := remote.New(remote.Config{
		Address:    addr,
		ClientID:   "taigactl.alpha",
		EngineKind: stub.KindID,
		RunID:      "run-panic",
		Session:    testClientSession(),
	})
	defer eng.Close()

	eng.Configure(engine.Source{Project: "projects/boreal.toml"})
	eng.Create()
	if eng.HasError() {
		t.Fatalf("setup flagged error: %s", eng.LastError())
	}

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		eng.Advance(2)
	}()
	fault, ok := recovered.(*engine.Error)
	if !ok {
		t.Fatalf("expected structured fault, got %#v", recovered)
	}
	if fault.Op != "advance" || fault.Message != "root overflow" {
		t.Fatalf("unexpected fault: %+v", fault)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}

func TestAdminRouterStatusAndAuth(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	cfg.HostID = "host.test"
	cfg.AdminToken = "sekrit"
	svc, err := NewServiceWithConfig(cfg, testRegistry(t, stub.Script{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	router := svc.adminRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status %d body=%s", rr.Code, rr.Body.String())
	}
	var health map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if health["status"] != "ok" || health["host"] != "host.test" {
		t.Fatalf("unexpected healthz body: %#v", health)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status with token %d body=%s", rr.Code, rr.Body.String())
	}
	var status map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["host_id"] != "host.test" {
		t.Fatalf("unexpected status body: %#v", status)
	}
	kinds, _ := status["engine_kinds"].([]any)
	if len(kinds) != 1 || kinds[0] != stub.KindID {
		t.Fatalf("unexpected engine kinds: %#v", status["engine_kinds"])
	}
}
