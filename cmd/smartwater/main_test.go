package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/config"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// TestGetConfigPath verifies the environment override and the default.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("SMARTWATER_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SMARTWATER_CONFIG", "/etc/smartwater/config.yaml")
	if got := getConfigPath(); got != "/etc/smartwater/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SMARTWATER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_InvalidDatabasePath verifies run fails when the database cannot be opened.
func TestRun_InvalidDatabasePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, fmt.Sprintf(`
database:
  path: %q
cache:
  dir: %q
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
`, filepath.Join(blocker, "smartwater.db"), filepath.Join(dir, "storage"), freePort(t)))
	t.Setenv("SMARTWATER_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with an unusable database path")
	}
	if !strings.Contains(err.Error(), "opening database") {
		t.Errorf("run() error = %v, want opening database error", err)
	}
}

// TestRun_StartupAndShutdown starts the service without accounts and
// optional backends, then cancels it.
func TestRun_StartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "smartwater.db")
	path := writeConfig(t, fmt.Sprintf(`
database:
  path: %q
cache:
  dir: %q
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
`, dbPath, filepath.Join(dir, "storage"), freePort(t)))
	t.Setenv("SMARTWATER_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestProfileSettings(t *testing.T) {
	cfg := &config.Config{
		Accounts: []config.AccountConfig{
			{
				Username: "listed@example.com",
				Password: "secret",
				Profiles: []config.ProfileConfig{{ID: "p-1", Name: "Farm"}, {ID: "p-2", Name: "Shed"}},
			},
			{Username: "detected@example.com", Password: "secret"},
			{Username: "broken@example.com", Password: "wrong"},
		},
		Fetch:       config.FetchConfig{RetryDelay: 5, PollSchedule: "@every 30s", ProfileRefresh: 60},
		Coordinator: config.CoordinatorConfig{ReloadDelay: 10, ReloadDelayMax: 100, TaskQueue: 4},
	}

	var validated []string
	validate := func(_ context.Context, username, _ string) (smartwater.Record, error) {
		validated = append(validated, username)
		if username == "broken@example.com" {
			return smartwater.Record{}, cloud.ErrAuth
		}
		return smartwater.NewRecord(smartwater.FamilyProfile, "p-9", map[string]any{"name": "Home"}, nil), nil
	}

	got := profileSettings(context.Background(), cfg, validate, logging.Default())

	if len(validated) != 2 {
		t.Errorf("validate called for %v, want only accounts without profiles", validated)
	}
	if len(got) != 3 {
		t.Fatalf("profileSettings() = %d settings, want 3", len(got))
	}

	want := []struct{ id, name, username string }{
		{"p-1", "Farm", "listed@example.com"},
		{"p-2", "Shed", "listed@example.com"},
		{"p-9", "Home", "detected@example.com"},
	}
	for i, w := range want {
		if got[i].ProfileID != w.id || got[i].ProfileName != w.name || got[i].Username != w.username {
			t.Errorf("settings[%d] = %s/%s/%s, want %s/%s/%s", i,
				got[i].ProfileID, got[i].ProfileName, got[i].Username, w.id, w.name, w.username)
		}
	}
	st := got[0]
	if st.RetryDelay != 5*time.Second || st.ProfileRefresh != time.Minute || st.TaskQueue != 4 {
		t.Errorf("timing settings = %+v", st)
	}
	if st.ReloadDelay != 10*time.Second || st.ReloadDelayMax != 100*time.Second {
		t.Errorf("reload settings = %v/%v", st.ReloadDelay, st.ReloadDelayMax)
	}
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

func TestHealthCheck(t *testing.T) {
	errDown := errors.New("down")

	if err := healthCheck(context.Background(), map[string]healthChecker{"a": fakeCheck{}}); err != nil {
		t.Errorf("healthCheck() error = %v, want nil", err)
	}

	err := healthCheck(context.Background(), map[string]healthChecker{
		"a":    fakeCheck{},
		"mqtt": fakeCheck{err: errDown},
	})
	if !errors.Is(err, errDown) {
		t.Fatalf("healthCheck() error = %v, want wrapped errDown", err)
	}
	if !strings.Contains(err.Error(), "mqtt: down") {
		t.Errorf("healthCheck() error = %q, want component name", err)
	}
}
