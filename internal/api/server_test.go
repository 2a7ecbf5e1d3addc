package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/coordinator"
	"github.com/nerrad567/smartwater-core/internal/fetch"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/config"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
	"github.com/nerrad567/smartwater-core/internal/store"
)

// mockClient serves one profile with one gateway and one tank.
type mockClient struct {
	mu       sync.Mutex
	loginErr error
}

func (m *mockClient) Login(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginErr
}

func (m *mockClient) setLoginErr(err error) {
	m.mu.Lock()
	m.loginErr = err
	m.mu.Unlock()
}

func (m *mockClient) Logout(context.Context) error { return nil }

func (m *mockClient) FetchProfile(_ context.Context, id string) (map[string]any, error) {
	return map[string]any{"id": id, "name": "Farm"}, nil
}

func (m *mockClient) FetchGateways(context.Context, string) (map[string]map[string]any, error) {
	return map[string]map[string]any{"gw-1": {"name": "Hub"}}, nil
}

func (m *mockClient) FetchDevices(context.Context, string) (map[string]map[string]any, error) {
	return maps.Clone(map[string]map[string]any{
		"dev-1": {"name": "Rain Tank", "type": "tank", "gatewayId": "gw-1", "waterLevel": float64(50)},
	}), nil
}

func (m *mockClient) ProfileID() string { return "p-1" }
func (m *mockClient) UserID() string    { return "u-1" }
func (m *mockClient) Username() string  { return "user@example.com" }

// fakeProfiles serves a fixed set of coordinators.
type fakeProfiles map[string]*coordinator.Coordinator

func (f fakeProfiles) Coordinators() []*coordinator.Coordinator {
	out := make([]*coordinator.Coordinator, 0, len(f))
	for _, c := range f {
		out = append(out, c)
	}
	return out
}

func (f fakeProfiles) Get(id string) (*coordinator.Coordinator, error) {
	c, ok := f[id]
	if !ok {
		return nil, coordinator.ErrUnknownProfile
	}
	return c, nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	client  *mockClient
	coord   *coordinator.Coordinator
	reg     *prometheus.Registry
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// newTestEnv runs one coordinator for profile p-1 and waits for its first
// poll.
func newTestEnv(t *testing.T, validate ValidateFunc) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	client := &mockClient{}
	updated := make(chan struct{}, 16)
	coord := coordinator.New(coordinator.Settings{
		Username:     "user@example.com",
		Password:     "secret-password",
		ProfileID:    "p-1",
		PollSchedule: "@every 1h",
	}, coordinator.Deps{
		Client:  client,
		Cache:   store.NewRegistry(t.TempDir(), nil).Open("cache", 0),
		Metrics: fetch.NewMetrics(reg),
		OnUpdate: func(coordinator.Update) {
			select {
			case updated <- struct{}{}:
			default:
			}
		},
	}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-updated:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not complete its first poll")
	}

	srv, err := New(Deps{
		Logger:   testLogger(),
		Profiles: fakeProfiles{"p-1": coord},
		Validate: validate,
		Gatherer: reg,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{srv: srv, handler: srv.buildRouter(), client: client, coord: coord, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Profiles: fakeProfiles{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without profiles should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" || body["profiles"] != float64(1) {
		t.Errorf("health = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestListProfiles(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/profiles", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Profiles []ProfileSummary `json:"profiles"`
		Count    int              `json:"count"`
	}](t, rec)

	if body.Count != 1 {
		t.Fatalf("count = %d", body.Count)
	}
	p := body.Profiles[0]
	if p.ID != "p-1" || p.Name != "Farm" || p.Devices != 2 || p.LastUpdate.IsZero() || p.LastError != "" {
		t.Errorf("profile = %+v", p)
	}
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name      string
		path      string
		wantIDs   []string
		wantCode  int
		wantCount int
	}{
		{name: "all", path: "/api/v1/profiles/p-1/devices", wantCode: http.StatusOK, wantIDs: []string{"dev-1", "gw-1"}},
		{name: "gateways", path: "/api/v1/profiles/p-1/devices?family=gw", wantCode: http.StatusOK, wantIDs: []string{"gw-1"}},
		{name: "unknown profile", path: "/api/v1/profiles/p-9/devices", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			body := decode[struct {
				Devices []DeviceView `json:"devices"`
			}](t, rec)
			var ids []string
			for _, d := range body.Devices {
				ids = append(ids, d.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("device ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/profiles/p-1/devices/dev-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	dev := decode[DeviceView](t, rec)
	if dev.FamilySub != "d.tank" || dev.GatewayID != "gw-1" || dev.Name != "Rain Tank" {
		t.Errorf("device = %+v", dev)
	}

	found := false
	for _, s := range dev.States {
		if s.Key == "water_level" {
			found = true
			if !s.Available || s.Value != float64(50) || s.Unit != "%" {
				t.Errorf("water_level state = %+v", s)
			}
		}
	}
	if !found {
		t.Error("water_level state missing")
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/profiles/p-1/devices/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestDiagnostics_Redacted(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/profiles/p-1/diagnostics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret-password") {
		t.Error("diagnostics leak the password")
	}
	body := decode[map[string]map[string]any](t, rec)
	if body["config"]["password"] != coordinator.Redacted {
		t.Errorf("config = %v", body["config"])
	}
	for _, key := range []string{"retries", "durations", "fetch", "reload_count"} {
		if _, ok := body["diagnostics"][key]; !ok {
			t.Errorf("diagnostics.%s missing", key)
		}
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/profiles/p-1/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	env.client.setLoginErr(fmt.Errorf("%w: timeout", cloud.ErrConnect))
	rec = env.do(t, http.MethodPost, "/api/v1/profiles/p-1/refresh", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed refresh status = %d, want 502", rec.Code)
	}
	if e := decode[Error](t, rec); e.Code != ErrCodeUpstream {
		t.Errorf("error code = %q", e.Code)
	}

	// The previous data is still served.
	rec = env.do(t, http.MethodGet, "/api/v1/profiles", nil)
	if !strings.Contains(rec.Body.String(), `"devices":2`) || !strings.Contains(rec.Body.String(), "last_error") {
		t.Errorf("profiles after failure = %s", rec.Body)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		err        error
		wantStatus int
		wantFields map[string]string
	}{
		{
			name:       "valid",
			body:       ValidateRequest{Username: "user@example.com", Password: "pw"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "authentication failed",
			body:       ValidateRequest{Username: "user@example.com", Password: "pw"},
			err:        fmt.Errorf("CONFIG fetch: %w", cloud.ErrAuth),
			wantStatus: http.StatusBadRequest,
			wantFields: map[string]string{"password": "Authentication failed"},
		},
		{
			name:       "cannot connect",
			body:       ValidateRequest{Username: "user@example.com", Password: "pw"},
			err:        fmt.Errorf("CONFIG fetch: %w", cloud.ErrConnect),
			wantStatus: http.StatusBadRequest,
			wantFields: map[string]string{"password": "Failed to connect to Smart Water servers"},
		},
		{
			name:       "no profile",
			body:       ValidateRequest{Username: "user@example.com", Password: "pw"},
			err:        fmt.Errorf("CONFIG fetch: %w", fetch.ErrNoProfile),
			wantStatus: http.StatusBadRequest,
			wantFields: map[string]string{"username": "No profile detected"},
		},
		{
			name:       "unknown error",
			body:       ValidateRequest{Username: "user@example.com", Password: "pw"},
			err:        errors.New("boom"),
			wantStatus: http.StatusBadRequest,
			wantFields: map[string]string{"password": "Unknown error: boom"},
		},
		{
			name:       "missing fields",
			body:       ValidateRequest{Username: "  "},
			wantStatus: http.StatusBadRequest,
			wantFields: map[string]string{"username": "required", "password": "required"},
		},
		{
			name:       "invalid json",
			body:       "{",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validate := func(_ context.Context, username, _ string) (smartwater.Record, error) {
				if tt.err != nil {
					return smartwater.Record{}, tt.err
				}
				return smartwater.NewRecord(smartwater.FamilyProfile, "p-1", map[string]any{"name": "Farm"}, nil), nil
			}
			env := newTestEnv(t, validate)

			rec := env.do(t, http.MethodPost, "/api/v1/validate", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus == http.StatusOK {
				resp := decode[ValidateResponse](t, rec)
				if resp.ProfileID != "p-1" || resp.Name != "Farm" || !resp.Configured {
					t.Errorf("response = %+v", resp)
				}
				return
			}
			if tt.wantFields == nil {
				return
			}
			e := decode[Error](t, rec)
			if !maps.Equal(e.Fields, tt.wantFields) {
				t.Errorf("fields = %v, want %v", e.Fields, tt.wantFields)
			}
		})
	}
}

func TestValidate_Unavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{Username: "u", Password: "p"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `smartwater_fetch_attempts_total{order="INIT",result="success"} 1`) {
		t.Errorf("metrics output missing the initial fetch:\n%s", rec.Body)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	handler := env.srv.buildRouter()

	tests := []struct {
		origin string
		want   string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/profiles", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: allow-origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.cfg = config.APIConfig{Host: "127.0.0.1", Port: 0}

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	resp, err := http.Get("http://" + env.srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
