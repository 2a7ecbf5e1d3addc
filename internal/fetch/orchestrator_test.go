package fetch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
	"github.com/nerrad567/smartwater-core/internal/store"
)

// mockClient is a scripted cloud.Client.
type mockClient struct {
	mu sync.Mutex

	// loginErrs are returned by consecutive Login calls; nil entries succeed.
	loginErrs  []error
	profileErr error
	gatewayErr error
	deviceErr  error

	profileID string
	gateways  map[string]map[string]any
	devices   map[string]map[string]map[string]any

	calls []string
}

func newMockClient() *mockClient {
	return &mockClient{
		profileID: "p-1",
		gateways:  map[string]map[string]any{"gw-1": {"name": "Hub"}},
		devices: map[string]map[string]map[string]any{
			"gw-1": {"dev-1": {"name": "Rain Tank", "type": "tank", "gatewayId": "gw-1", "waterLevel": float64(50)}},
		},
	}
}

func (m *mockClient) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockClient) count(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockClient) Login(context.Context) error {
	m.record("login")
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.loginErrs) == 0 {
		return nil
	}
	err := m.loginErrs[0]
	m.loginErrs = m.loginErrs[1:]
	return err
}

func (m *mockClient) Logout(context.Context) error {
	m.record("logout")
	return nil
}

func (m *mockClient) FetchProfile(_ context.Context, profileID string) (map[string]any, error) {
	m.record("profile")
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	return map[string]any{"id": profileID, "name": "Farm"}, nil
}

func (m *mockClient) FetchGateways(context.Context, string) (map[string]map[string]any, error) {
	m.record("gateways")
	if m.gatewayErr != nil {
		return nil, m.gatewayErr
	}
	return m.gateways, nil
}

func (m *mockClient) FetchDevices(_ context.Context, gatewayID string) (map[string]map[string]any, error) {
	m.record("devices")
	if m.deviceErr != nil {
		return nil, m.deviceErr
	}
	return m.devices[gatewayID], nil
}

func (m *mockClient) ProfileID() string { return m.profileID }
func (m *mockClient) UserID() string    { return "u-1" }
func (m *mockClient) Username() string  { return "user@example.com" }

// mockLogger records messages per level.
type mockLogger struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Error(string, ...any) {}
func (l *mockLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}
func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// testClock drives o.now and records o.sleep calls.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func newTestOrchestrator(t *testing.T, client cloud.Client, dir string, opts Options) (*Orchestrator, *testClock) {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	cache := store.NewRegistry(dir, nil).Open("cache", 5*time.Minute)
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}
	o := New(client, cache, "p-1", opts)
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	o.now = clock.Now
	o.sleep = clock.Sleep
	return o, clock
}

func TestOrder_NeedsDelay(t *testing.T) {
	tests := []struct {
		order Order
		want  []bool
	}{
		{OrderConfig, []bool{false}},
		{OrderInit, []bool{false, false, true, true}},
		{OrderNext, []bool{false}},
		{OrderChange, []bool{false, true, true}},
		{Order{Kind: "X", Methods: []Method{MethodWeb, MethodCache, MethodWeb, MethodCache}}, []bool{false, false, true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			for i, want := range tt.want {
				if got := tt.order.needsDelay(i); got != want {
					t.Errorf("needsDelay(%d) = %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestAttempt_InitFallsBackToWeb(t *testing.T) {
	client := newMockClient()
	client.loginErrs = []error{cloud.ErrConnect}
	o, clock := newTestOrchestrator(t, client, "", Options{})

	// Empty cache -> WEB (no delay) fails -> WEB (delay) succeeds.
	if err := o.Attempt(context.Background(), OrderInit); err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}

	if !slices.Equal(clock.sleeps, []time.Duration{5 * time.Second}) {
		t.Errorf("sleeps = %v, want one retry delay", clock.sleeps)
	}
	if got := o.Devices().IDs(); !slices.Equal(got, []string{"dev-1", "gw-1"}) {
		t.Errorf("Devices() = %v", got)
	}
	if o.Profile().Name() != "Farm" {
		t.Errorf("Profile().Name() = %q", o.Profile().Name())
	}
	if client.count("logout") != 2 {
		t.Errorf("logouts = %d, want one per failed position", client.count("logout"))
	}

	rep := o.Statistics().Report()
	if rep.Retries.Counter[2] != 1 {
		t.Errorf("retries counter = %v, want one attempt concluding at position 2", rep.Retries.Counter)
	}
	if rep.Fetch.Counter["WEB"] != 1 || rep.Fetch.Counter["CACHE"] != 0 {
		t.Errorf("fetch counter = %v", rep.Fetch.Counter)
	}
	if rep.Durations.Counter[5] != 1 {
		t.Errorf("durations counter = %v, want the 5s delay", rep.Durations.Counter)
	}
}

func TestAttempt_ConfigWithCacheIsUnsupported(t *testing.T) {
	client := newMockClient()
	o, _ := newTestOrchestrator(t, client, "", Options{})

	order := Order{Kind: KindConfig, Methods: []Method{MethodCache, MethodWeb}}
	err := o.Attempt(context.Background(), order)
	if !errors.Is(err, ErrCacheUnsupported) {
		t.Fatalf("Attempt() error = %v, want ErrCacheUnsupported", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("cloud calls = %v, want none", client.calls)
	}
}

func TestAttempt_Exhausted(t *testing.T) {
	unexpected := errors.New("payload shape")

	tests := []struct {
		name     string
		err      error
		wantWarn bool
	}{
		{name: "connect error logs info", err: cloud.ErrConnect},
		{name: "auth error logs info", err: cloud.ErrAuth},
		{name: "unexpected error logs warning", err: unexpected, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockClient()
			client.loginErrs = []error{tt.err, errors.New("second"), errors.New("third")}
			logger := &mockLogger{}
			o, clock := newTestOrchestrator(t, client, "", Options{Logger: logger})

			err := o.Attempt(context.Background(), OrderChange)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Attempt() error = %v, want first error %v", err, tt.err)
			}
			if client.count("login") != 3 || client.count("logout") != 3 {
				t.Errorf("logins/logouts = %d/%d, want 3/3", client.count("login"), client.count("logout"))
			}
			if len(clock.sleeps) != 2 {
				t.Errorf("sleeps = %v, want 2", clock.sleeps)
			}
			if gotWarn := len(logger.warns) > 0; gotWarn != tt.wantWarn {
				t.Errorf("warnings = %v, want warning %v", logger.warns, tt.wantWarn)
			}

			rep := o.Statistics().Report()
			if rep.Retries.Counter[2] != 1 {
				t.Errorf("retries counter = %v, want final position 2", rep.Retries.Counter)
			}
			if rep.Fetch.Counter["WEB"] != 0 {
				t.Errorf("failed attempt counted as fetch: %v", rep.Fetch.Counter)
			}
		})
	}
}

func TestAttempt_ProfileFailureIgnoredOnlyForNext(t *testing.T) {
	boom := errors.New("profile down")

	tests := []struct {
		order   Order
		wantErr bool
	}{
		{order: OrderNext, wantErr: false},
		{order: OrderChange, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.order.Kind), func(t *testing.T) {
			client := newMockClient()
			client.profileErr = boom
			o, _ := newTestOrchestrator(t, client, "", Options{})

			err := o.Attempt(context.Background(), tt.order)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Attempt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(o.Devices()) != 2 {
				t.Errorf("devices not refreshed: %v", o.Devices().IDs())
			}
		})
	}
}

func TestAttempt_ProfileRefreshExpiry(t *testing.T) {
	client := newMockClient()
	o, clock := newTestOrchestrator(t, client, "", Options{ProfileRefresh: 24 * time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := o.Attempt(ctx, OrderNext); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Hour)
	}
	if client.count("profile") != 1 {
		t.Errorf("profile fetches = %d, want 1 within the refresh period", client.count("profile"))
	}
	if client.count("gateways") != 3 {
		t.Errorf("gateway fetches = %d, want every poll", client.count("gateways"))
	}

	clock.Advance(24 * time.Hour)
	if err := o.Attempt(ctx, OrderNext); err != nil {
		t.Fatal(err)
	}
	if client.count("profile") != 2 {
		t.Errorf("profile fetches = %d, want a refresh after expiry", client.count("profile"))
	}
}

func TestAttempt_FailedRefreshKeepsPreviousSet(t *testing.T) {
	client := newMockClient()
	o, _ := newTestOrchestrator(t, client, "", Options{})
	ctx := context.Background()

	if err := o.Attempt(ctx, OrderNext); err != nil {
		t.Fatal(err)
	}
	before := o.Devices()

	client.gateways = map[string]map[string]any{"gw-2": {}}
	client.deviceErr = cloud.ErrConnect
	if err := o.Attempt(ctx, OrderNext); err == nil {
		t.Fatal("Attempt() should fail")
	}

	after := o.Devices()
	if !slices.Equal(after.IDs(), before.IDs()) {
		t.Errorf("devices after failure = %v, want %v", after.IDs(), before.IDs())
	}
}

func TestAttempt_CacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	web, _ := newTestOrchestrator(t, newMockClient(), dir, Options{})
	if err := web.Attempt(ctx, OrderNext); err != nil {
		t.Fatal(err)
	}
	web.Flush(ctx)

	client := newMockClient()
	cached, _ := newTestOrchestrator(t, client, dir, Options{})
	if err := cached.Attempt(ctx, OrderInit); err != nil {
		t.Fatalf("Attempt(INIT) error = %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("cloud calls = %v, want none when the cache is complete", client.calls)
	}

	want, got := web.Devices(), cached.Devices()
	if !slices.Equal(got.IDs(), want.IDs()) {
		t.Fatalf("ids = %v, want %v", got.IDs(), want.IDs())
	}
	for id, w := range want {
		g := got[id]
		if g.Family() != w.Family() || g.FamilySub() != w.FamilySub() || g.Name() != w.Name() {
			t.Errorf("%s = %s/%s/%s, want %s/%s/%s", id, g.Family(), g.FamilySub(), g.Name(), w.Family(), w.FamilySub(), w.Name())
		}
		if g.Text("water_level") != w.Text("water_level") {
			t.Errorf("%s payload differs", id)
		}
	}
	if cached.Profile().Name() != "Farm" {
		t.Errorf("cached profile = %q", cached.Profile().Name())
	}
	if rep := cached.Statistics().Report(); rep.Fetch.Counter["CACHE"] != 1 {
		t.Errorf("fetch counter = %v, want CACHE", rep.Fetch.Counter)
	}
}

func TestReadCache_Incomplete(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, newMockClient(), "", Options{})

	o.cache.Read(ctx)
	profileKey, _ := CacheKeys("p-1")
	_ = o.cache.Set(profileKey, smartwater.NewRecord(smartwater.FamilyProfile, "p-1", nil, nil).Snapshot())

	if err := o.readCache(ctx); !errors.Is(err, ErrCacheIncomplete) {
		t.Errorf("readCache() error = %v, want ErrCacheIncomplete", err)
	}
}

func TestFlush_BeforeLoadKeepsCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	web, _ := newTestOrchestrator(t, newMockClient(), dir, Options{})
	if err := web.Attempt(ctx, OrderNext); err != nil {
		t.Fatal(err)
	}
	web.Flush(ctx)

	// A second process that never loaded must not overwrite the cache.
	idle, _ := newTestOrchestrator(t, newMockClient(), dir, Options{})
	idle.Flush(ctx)

	reader, _ := newTestOrchestrator(t, newMockClient(), dir, Options{})
	if err := reader.readCache(ctx); err != nil {
		t.Errorf("cache lost after idle flush: %v", err)
	}
}

func TestDetectForConfig(t *testing.T) {
	client := newMockClient()
	cache := store.NewRegistry(t.TempDir(), nil).Open("cache", 0)
	o := New(client, cache, "", Options{})

	profile, err := o.DetectForConfig(context.Background())
	if err != nil {
		t.Fatalf("DetectForConfig() error = %v", err)
	}
	if profile.ID() != "p-1" || profile.Family() != smartwater.FamilyProfile {
		t.Errorf("profile = %s/%s", profile.Family(), profile.ID())
	}
	if got := client.calls; !slices.Equal(got, []string{"logout", "login", "profile"}) {
		t.Errorf("calls = %v, want logout, login, profile", got)
	}
	if o.ProfileID() != "p-1" {
		t.Errorf("ProfileID() = %q", o.ProfileID())
	}
}

func TestDetectForConfig_AuthError(t *testing.T) {
	client := newMockClient()
	client.loginErrs = []error{cloud.ErrAuth}
	o, clock := newTestOrchestrator(t, client, "", Options{})

	if _, err := o.DetectForConfig(context.Background()); !errors.Is(err, cloud.ErrAuth) {
		t.Fatalf("DetectForConfig() error = %v, want ErrAuth", err)
	}
	if len(clock.sleeps) != 0 || client.count("login") != 1 {
		t.Errorf("CONFIG must not retry: sleeps %v, logins %d", clock.sleeps, client.count("login"))
	}
}

func TestChange(t *testing.T) {
	client := newMockClient()
	o, clock := newTestOrchestrator(t, client, "", Options{})

	calls := 0
	err := o.Change(context.Background(), func(ctx context.Context, c cloud.Client) error {
		calls++
		if calls < 3 {
			return cloud.ErrConnect
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Change() error = %v", err)
	}
	if calls != 3 || len(clock.sleeps) != 2 {
		t.Errorf("op calls = %d, sleeps = %v", calls, clock.sleeps)
	}
	if len(o.Devices()) != 2 {
		t.Error("Change() should refresh the data after the write")
	}
}

func TestApplyPush(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, newMockClient(), "", Options{})
	if err := o.Attempt(ctx, OrderNext); err != nil {
		t.Fatal(err)
	}
	before := o.Devices()

	ok := o.ApplyPush(ctx, smartwater.FamilyDevice, "dev-1",
		map[string]any{"name": "Rain Tank", "type": "tank", "waterLevel": float64(75)})
	if !ok {
		t.Fatal("ApplyPush() = false for a known device")
	}
	if v, _ := o.Devices()["dev-1"].Formatted("water_level"); v != int64(75) {
		t.Errorf("water_level = %v, want 75", v)
	}
	if v, _ := before["dev-1"].Formatted("water_level"); v != int64(50) {
		t.Errorf("published snapshot was modified: water_level = %v", v)
	}
	if o.Devices()["dev-1"].GatewayID() != "gw-1" {
		t.Error("push lost the device context")
	}

	if o.ApplyPush(ctx, smartwater.FamilyDevice, "dev-9", map[string]any{}) {
		t.Error("ApplyPush() = true for an unknown device")
	}
	if !o.ApplyPush(ctx, smartwater.FamilyProfile, "p-1", map[string]any{"name": "Renamed"}) {
		t.Fatal("ApplyPush() = false for the profile")
	}
	if o.Profile().Name() != "Renamed" {
		t.Errorf("profile name = %q", o.Profile().Name())
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	client := newMockClient()
	client.loginErrs = []error{cloud.ErrConnect}
	o, _ := newTestOrchestrator(t, client, "", Options{Metrics: m})
	ctx := context.Background()

	if err := o.Attempt(ctx, OrderNext); err == nil {
		t.Fatal("first attempt should fail")
	}
	if err := o.Attempt(ctx, OrderNext); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.attempts.WithLabelValues("NEXT", "failure")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("NEXT", "success")); got != 1 {
		t.Errorf("successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.methods.WithLabelValues("WEB")); got != 1 {
		t.Errorf("WEB successes = %v, want 1", got)
	}

	// A nil *Metrics is a no-op.
	var none *Metrics
	none.observe(OrderNext, 0, time.Second, MethodWeb)
}
