package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
	"github.com/nerrad567/gray-logic-integration/internal/bridge"
	"github.com/nerrad567/gray-logic-integration/internal/hub"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-integration/internal/platform"
	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

var (
	testLight = config.DeviceConfig{
		ID: "light1", Name: "Hall", Category: "light", Backend: "lumen",
		Link: config.LinkConfig{Type: config.LinkSimulated},
	}
	testThermostat = config.DeviceConfig{
		ID: "thermostat1", Category: "thermostat", Backend: "knx",
		Link:  config.LinkConfig{Type: config.LinkSimulated},
		Range: &config.RangeConfig{Min: 10, Max: 28},
	}
)

// testPlatformConfig returns a config with fast timings and two simulated devices.
func testPlatformConfig() *config.Config {
	cfg := config.Default()
	cfg.Devices = []config.DeviceConfig{testLight, testThermostat}
	cfg.Bridge.MaxRetries = 2
	cfg.Bridge.RetryBackoff = 5 * time.Millisecond
	cfg.Bridge.MaxBackoff = 20 * time.Millisecond
	cfg.Bridge.AckTimeout = 500 * time.Millisecond
	cfg.Bridge.ReceiveTimeout = 20 * time.Millisecond
	cfg.Adapter.PollInterval = 10 * time.Millisecond
	cfg.Adapter.CommandTimeout = 2 * time.Second
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	return cfg
}

// testServer creates a Server over a platform built from cfg. When
// initialize is true every device is initialized and the platform started.
func testServer(t *testing.T, cfg *config.Config, m *metrics.Metrics, initialize bool) (*Server, *platform.Platform) {
	t.Helper()

	p, err := platform.New(platform.Options{Config: cfg, Logger: logging.Discard(), Metrics: m})
	if err != nil {
		t.Fatalf("platform.New() error: %v", err)
	}
	t.Cleanup(p.Stop)

	if initialize {
		if err := p.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize() error: %v", err)
		}
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
	}

	srv, err := New(Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   logging.Discard(),
		Platform: p,
		Metrics:  m,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, p
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without platform should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, p := testServer(t, testPlatformConfig(), nil, false)
	h := srv.buildRouter()

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var before HealthResponse
	decode(t, rec, &before)
	if before.Status != HealthDegraded || before.ByState["disconnected"] != 2 {
		t.Errorf("health before Initialize = %+v", before)
	}

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	var after HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health", ""), &after)
	if after.Status != HealthOK || after.Devices != 2 || after.Version != "test" {
		t.Errorf("health after Initialize = %+v", after)
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, false)
	rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if _, err := uuid.Parse(rec.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("X-Request-ID %q is not a UUID: %v", rec.Header().Get("X-Request-ID"), err)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-abc")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-abc" {
		t.Errorf("X-Request-ID = %q, want client-abc", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, false)
	rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var e Error
	decode(t, rec, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q", e.Code)
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, false)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, true)
	h := srv.buildRouter()

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"all", "", http.StatusOK, 2},
		{"lights", "?category=light", http.StatusOK, 1},
		{"knx", "?backend=knx", http.StatusOK, 1},
		{"hue", "?backend=hue", http.StatusOK, 0},
		{"bad category", "?category=blind", http.StatusBadRequest, 0},
		{"bad backend", "?backend=zwave", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/v1/devices"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp struct {
				Devices []platform.DeviceInfo `json:"devices"`
				Count   int                   `json:"count"`
			}
			decode(t, rec, &resp)
			if resp.Count != tt.wantCount || len(resp.Devices) != tt.wantCount {
				t.Errorf("count = %d (%d devices), want %d", resp.Count, len(resp.Devices), tt.wantCount)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, true)
	h := srv.buildRouter()

	rec := do(t, h, http.MethodGet, "/api/v1/devices/thermostat1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var info platform.DeviceInfo
	decode(t, rec, &info)
	if info.Category != adapter.CategoryThermostat || info.Backend != protocol.KindKNX {
		t.Errorf("info = %+v", info)
	}
	if info.Range == nil || info.Range.Min != 10 || info.Range.Max != 28 {
		t.Errorf("range = %+v", info.Range)
	}
	if info.Binding.State != bridge.StateConnected {
		t.Errorf("binding state = %q", info.Binding.State)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/devices/ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestDeviceCommand_TurnOnUpdatesState(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, true)
	h := srv.buildRouter()

	rec := do(t, h, http.MethodPost, "/api/v1/devices/light1/commands", `{"operation":"turn_on"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp CommandResponse
	decode(t, rec, &resp)
	if resp.Status != "acknowledged" || resp.Operation != protocol.OpTurnOn {
		t.Errorf("response = %+v", resp)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/devices/light1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}
	var snap hub.Snapshot
	decode(t, rec, &snap)
	v, ok := snap.Value(protocol.AttrPower)
	if !ok {
		t.Fatalf("power not in snapshot: %s", rec.Body.String())
	}
	if s, _ := v.AsString(); s != protocol.PowerOn {
		t.Errorf("power = %v, want %s", v, protocol.PowerOn)
	}
}

func TestDeviceCommand_SetTemperature(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, true)
	h := srv.buildRouter()

	rec := do(t, h, http.MethodPost, "/api/v1/devices/thermostat1/commands",
		`{"operation":"set_temperature","value":22.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var snap hub.Snapshot
	decode(t, do(t, h, http.MethodGet, "/api/v1/devices/thermostat1/state", ""), &snap)
	v, ok := snap.Value(protocol.AttrTemperature)
	if !ok {
		t.Fatal("temperature not in snapshot")
	}
	if f, _ := v.Number(); f != 22.5 {
		t.Errorf("temperature = %v, want 22.5", f)
	}
}

func TestDeviceCommand_Errors(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, true)
	h := srv.buildRouter()

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"invalid JSON", "/api/v1/devices/light1/commands", `{not json`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing operation", "/api/v1/devices/light1/commands", `{}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"unknown operation", "/api/v1/devices/light1/commands", `{"operation":"explode"}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"unsupported for category", "/api/v1/devices/thermostat1/commands", `{"operation":"set_brightness","value":10}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"brightness above 100", "/api/v1/devices/light1/commands", `{"operation":"set_brightness","value":101}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"missing value", "/api/v1/devices/light1/commands", `{"operation":"set_brightness"}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"temperature out of range", "/api/v1/devices/thermostat1/commands", `{"operation":"set_temperature","value":35}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"unknown device", "/api/v1/devices/ghost/commands", `{"operation":"turn_on"}`, http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			var e Error
			decode(t, rec, &e)
			if e.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
			}
		})
	}
}

func TestDeviceCommand_NotInitialized(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, false)

	rec := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices/light1/commands", `{"operation":"turn_on"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
}

func TestDeviceCommand_Busy(t *testing.T) {
	cfg := testPlatformConfig()
	cfg.Bridge.AckTimeout = 2 * time.Second
	srv, p := testServer(t, cfg, nil, true)
	h := srv.buildRouter()

	sim, ok := p.Simulator("light1")
	if !ok {
		t.Fatal("light1 is not simulated")
	}
	sim.SetLatency(400 * time.Millisecond)

	first := make(chan int, 1)
	go func() {
		first <- do(t, h, http.MethodPost, "/api/v1/devices/light1/commands", `{"operation":"turn_on"}`).Code
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(sim.Commands()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first command never reached the device")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/light1/commands",
		strings.NewReader(`{"operation":"turn_off"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("second command status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if code := <-first; code != http.StatusOK {
		t.Errorf("first command status = %d, want 200", code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown device", fmt.Errorf("%w: x", platform.ErrUnknownDevice), http.StatusNotFound},
		{"hub not found", hub.ErrDeviceNotFound, http.StatusNotFound},
		{"out of range", fmt.Errorf("%w: 35", adapter.ErrOutOfRange), http.StatusUnprocessableEntity},
		{"malformed", protocol.ErrMalformed, http.StatusUnprocessableEntity},
		{"busy", fmt.Errorf("%w: light1: %w", adapter.ErrBusy, context.DeadlineExceeded), http.StatusConflict},
		{"not initialized", bridge.ErrNotInitialized, http.StatusServiceUnavailable},
		{"exhausted", fmt.Errorf("%w: %w: %w", bridge.ErrConnection, bridge.ErrExhausted, protocol.ErrDisconnected), http.StatusServiceUnavailable},
		{"closed", bridge.ErrClosed, http.StatusServiceUnavailable},
		{"ack timeout", fmt.Errorf("%w: %w", bridge.ErrConnection, protocol.ErrAckTimeout), http.StatusGatewayTimeout},
		{"connection", fmt.Errorf("%w: %w", bridge.ErrConnection, protocol.ErrTransport), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, true)
	h := srv.buildRouter()

	do(t, h, http.MethodPost, "/api/v1/devices/light1/commands", `{"operation":"turn_on"}`)

	rec := do(t, h, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats StatsResponse
	decode(t, rec, &stats)
	if len(stats.Devices) != 2 || stats.Devices[0].ID != "light1" {
		t.Fatalf("devices = %+v", stats.Devices)
	}
	if stats.Devices[0].Bridge.Successes != 1 || stats.Devices[0].Adapter.Commands != 1 {
		t.Errorf("light1 counters = %+v / %+v", stats.Devices[0].Bridge, stats.Devices[0].Adapter)
	}
	if stats.Hub.Devices != 2 || stats.Hub.Updates == 0 {
		t.Errorf("hub stats = %+v", stats.Hub)
	}
	if stats.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines not populated")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("")
	srv, _ := testServer(t, testPlatformConfig(), m, true)
	h := srv.buildRouter()

	do(t, h, http.MethodGet, "/api/v1/devices/light1/state", "")
	do(t, h, http.MethodPost, "/api/v1/devices/light1/commands", `{"operation":"turn_on"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`graylogic_http_requests_total{method="GET",route="/api/v1/devices/{id}/state",status="200"} 1`,
		`graylogic_commands_total{device_id="light1",operation="turn_on",result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, _ := testServer(t, testPlatformConfig(), nil, true)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
