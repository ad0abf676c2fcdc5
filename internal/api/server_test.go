package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/emberlink/emberlink/internal/dedup"
	"github.com/emberlink/emberlink/internal/dispatch"
	"github.com/emberlink/emberlink/internal/infrastructure/config"
	"github.com/emberlink/emberlink/internal/infrastructure/logging"
	"github.com/emberlink/emberlink/internal/monitoring"
	"github.com/emberlink/emberlink/internal/registry"
)

const (
	testHousehold = "hh-main"
	testSecret    = "0123456789abcdef0123456789abcdef"
)

// memRegistryRepo is an in-memory registry.Repository for handler tests.
type memRegistryRepo struct {
	mu   sync.Mutex
	regs map[string]registry.Registration
}

func newMemRegistryRepo() *memRegistryRepo {
	return &memRegistryRepo{regs: make(map[string]registry.Registration)}
}

func (m *memRegistryRepo) Get(_ context.Context, id string) (*registry.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return reg.Clone(), nil
}

func (m *memRegistryRepo) List(_ context.Context) ([]registry.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]registry.Registration, 0, len(m.regs))
	for _, reg := range m.regs {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRegistryRepo) Upsert(_ context.Context, reg *registry.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg.ID] = *reg
	return nil
}

func (m *memRegistryRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[id]; !ok {
		return registry.ErrNotFound
	}
	delete(m.regs, id)
	return nil
}

func (m *memRegistryRepo) UpdateLastSeen(_ context.Context, id string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return registry.ErrNotFound
	}
	reg.LastSeen = seen
	m.regs[id] = reg
	return nil
}

func (m *memRegistryRepo) SetCriticalEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return registry.ErrNotFound
	}
	reg.CriticalEnabled = enabled
	m.regs[id] = reg
	return nil
}

func (m *memRegistryRepo) DeleteSeenBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for id, reg := range m.regs {
		if reg.LastSeen.Before(cutoff) {
			removed = append(removed, id)
			delete(m.regs, id)
		}
	}
	return removed, nil
}

// memMonitoringRepo is an in-memory monitoring.Repository.
type memMonitoringRepo struct {
	mu      sync.Mutex
	cfg     monitoring.Config
	version int64
	saved   bool
}

func (m *memMonitoringRepo) Load(_ context.Context) (monitoring.Config, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return monitoring.Config{}, 0, monitoring.ErrNotConfigured
	}
	return m.cfg, m.version, nil
}

func (m *memMonitoringRepo) Save(_ context.Context, cfg monitoring.Config, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version != m.version+1 {
		return monitoring.ErrVersionConflict
	}
	m.cfg = cfg
	m.version = version
	m.saved = true
	return nil
}

// testEnv bundles the server under test with its backing fakes.
type testEnv struct {
	server  *Server
	router  http.Handler
	regRepo *memRegistryRepo
	limiter *dedup.Limiter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	regRepo := newMemRegistryRepo()
	reg := registry.New(regRepo, registry.Options{
		StaleAfter: 7 * 24 * time.Hour,
		PurgeAfter: 30 * 24 * time.Hour,
	})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("loading registry: %v", err)
	}

	monStore := monitoring.NewStore(&memMonitoringRepo{})
	if err := monStore.Load(context.Background()); err != nil {
		t.Fatalf("loading monitoring store: %v", err)
	}

	// Never started; the handlers only read its queue and backlog gauges.
	limiter := dedup.NewLimiter(15*time.Minute, 2)
	engine := dispatch.New(dispatch.Options{HouseholdID: testHousehold},
		monStore, nil, limiter, nil, nil)

	srv, err := New(Deps{
		Config:    config.APIConfig{Host: "127.0.0.1", Port: 8093},
		WS:        config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Household: config.Household{ID: testHousehold, Name: "Home"},
		Logger:    logger,
		Registry:  reg,
		Monitor:   monStore,
		Engine:    engine,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	return &testEnv{server: srv, router: srv.buildRouter(), regRepo: regRepo, limiter: limiter}
}

// token issues a household token, optionally bound to a device.
func (e *testEnv) token(t *testing.T, deviceID string) string {
	t.Helper()
	tok, err := GenerateToken(testHousehold, deviceID, testSecret, 60)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return tok
}

// do performs a request against the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestHealthReportsDispatchBacklog(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["queue_depth"] != float64(0) {
		t.Errorf("queue_depth = %v, want 0", body["queue_depth"])
	}
	if body["overflow_backlog"] != float64(0) {
		t.Errorf("overflow_backlog = %v, want 0", body["overflow_backlog"])
	}

	// Suppressed events owed to a capped device show up in the gauge.
	env.limiter.AddOverflow("device-1", "smoke", time.Now())
	env.limiter.AddOverflow("device-1", "gas", time.Now())

	rec = env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	decodeBody(t, rec, &body)
	if body["overflow_backlog"] != float64(1) {
		t.Errorf("overflow_backlog = %v, want 1 (one device with pending overflow)", body["overflow_backlog"])
	}
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}

	otherSecret := "ffffffffffffffffffffffffffffffff"
	forged, err := GenerateToken(testHousehold, "", otherSecret, 60)
	if err != nil {
		t.Fatalf("generating forged token: %v", err)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/devices", forged, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}
}

func TestAuthRejectsForeignHousehold(t *testing.T) {
	env := newTestEnv(t)

	foreign, err := GenerateToken("hh-other", "", testSecret, 60)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices", foreign, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign household: status = %d, want 403", rec.Code)
	}
}

func TestAuthAcceptsTokenQueryParameter(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices?token="+env.token(t, ""), "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("query token: status = %d, want 200", rec.Code)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "")

	// Register
	rec := env.do(t, http.MethodPost, "/api/v1/devices", tok, registerDeviceRequest{
		DeviceID:  "phone-1",
		PushToken: "apns-token-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var reg registry.Registration
	decodeBody(t, rec, &reg)
	if reg.ID != "phone-1" || !reg.CriticalEnabled {
		t.Errorf("registration = %+v, want phone-1 with critical enabled", reg)
	}

	// List
	rec = env.do(t, http.MethodGet, "/api/v1/devices", tok, nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("device count = %d, want 1", list.Count)
	}

	// Heartbeat
	rec = env.do(t, http.MethodPost, "/api/v1/devices/phone-1/heartbeat", tok, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("heartbeat: status = %d, want 200", rec.Code)
	}

	// Opt out of critical delivery
	rec = env.do(t, http.MethodPut, "/api/v1/devices/phone-1/critical", tok, setCriticalRequest{Enabled: false})
	if rec.Code != http.StatusOK {
		t.Errorf("set critical: status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/phone-1", tok, nil)
	decodeBody(t, rec, &reg)
	if reg.CriticalEnabled {
		t.Error("critical flag still enabled after opt-out")
	}

	// Unregister
	rec = env.do(t, http.MethodDelete, "/api/v1/devices/phone-1", tok, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("unregister: status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/phone-1", tok, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after unregister: status = %d, want 404", rec.Code)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "")

	for range 3 {
		rec := env.do(t, http.MethodPost, "/api/v1/devices", tok, registerDeviceRequest{
			DeviceID:  "phone-1",
			PushToken: "apns-token-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("register: status = %d", rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices", tok, nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("device count after re-registration = %d, want 1", list.Count)
	}
}

func TestRegisterRejectsDeviceBoundTokenMismatch(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "phone-1")

	rec := env.do(t, http.MethodPost, "/api/v1/devices", tok, registerDeviceRequest{
		DeviceID:  "phone-2",
		PushToken: "apns-token-2",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("mismatched device: status = %d, want 403", rec.Code)
	}
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "")

	rec := env.do(t, http.MethodPost, "/api/v1/devices", tok, registerDeviceRequest{DeviceID: "phone-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing push token: status = %d, want 400", rec.Code)
	}
}

func TestForeignDeviceIsHidden(t *testing.T) {
	env := newTestEnv(t)

	// Seed a device registered under another household directly.
	seed := &registry.Registration{
		ID:              "phone-x",
		HouseholdID:     "hh-other",
		PushToken:       "tok-x",
		CriticalEnabled: true,
		RegisteredAt:    time.Now().UTC(),
		LastSeen:        time.Now().UTC(),
	}
	if err := env.regRepo.Upsert(context.Background(), seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if err := env.server.registry.Load(context.Background()); err != nil {
		t.Fatalf("reloading registry: %v", err)
	}

	tok := env.token(t, "")
	rec := env.do(t, http.MethodGet, "/api/v1/devices/phone-x", tok, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign device lookup: status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/devices/phone-x", tok, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign device delete: status = %d, want 404", rec.Code)
	}
}

func TestMonitoringRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/monitoring", tok, nil)
	var resp monitoringResponse
	decodeBody(t, rec, &resp)
	if resp.Version != 0 {
		t.Errorf("initial version = %d, want 0", resp.Version)
	}

	req := monitoringRequest{
		Version: resp.Version,
		Config: monitoring.Config{
			SmokeSelectAll:    true,
			IncludedEntityIDs: []string{"sensor.cellar_leak"},
		},
	}
	rec = env.do(t, http.MethodPut, "/api/v1/monitoring", tok, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("put monitoring: status = %d, body %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &resp)
	if resp.Version != 1 {
		t.Errorf("version after update = %d, want 1", resp.Version)
	}
	if !resp.Config.SmokeSelectAll || len(resp.Config.IncludedEntityIDs) != 1 {
		t.Errorf("config after update = %+v", resp.Config)
	}

	// The store serves the new snapshot immediately.
	if !env.server.monitor.Current().Eligible("binary_sensor", "smoke", "binary_sensor.hall_smoke") {
		t.Error("updated config not visible through the store")
	}
}

func TestMonitoringStaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "")

	rec := env.do(t, http.MethodPut, "/api/v1/monitoring", tok, monitoringRequest{
		Version: 0,
		Config:  monitoring.Config{SmokeSelectAll: true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first put: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// A second editor replaying the version it read before the first
	// write must get a conflict, not a silent overwrite.
	rec = env.do(t, http.MethodPut, "/api/v1/monitoring", tok, monitoringRequest{
		Version: 0,
		Config:  monitoring.Config{GasSelectAll: true},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale put: status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}

	var resp monitoringResponse
	rec = env.do(t, http.MethodGet, "/api/v1/monitoring", tok, nil)
	decodeBody(t, rec, &resp)
	if resp.Version != 1 || !resp.Config.SmokeSelectAll || resp.Config.GasSelectAll {
		t.Errorf("after conflict: version = %d, config = %+v, want the first editor's v1", resp.Version, resp.Config)
	}
}

func TestCriticalSensorsWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/sensors/critical", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sensors: status = %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 0 {
		t.Errorf("count = %d, want 0", body.Count)
	}
}
