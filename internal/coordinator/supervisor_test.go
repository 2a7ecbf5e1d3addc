package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/smartwater-core/internal/cloud"
)

func newTestSupervisor(t *testing.T) (*Supervisor, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client := newMockClient()
	s := NewSupervisor(ctx, func(Settings) Deps {
		return Deps{Client: client, Cache: newFakeCache()}
	})
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s, cancel
}

func TestSupervisor_Apply(t *testing.T) {
	s, _ := newTestSupervisor(t)
	st := testSettings()

	s.Apply([]Settings{st})
	first, err := s.Get("p-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	s.Apply([]Settings{st})
	if again, _ := s.Get("p-1"); again != first {
		t.Error("unchanged settings should reuse the coordinator")
	}

	changed := st
	changed.Password = "new-secret"
	s.Apply([]Settings{changed})
	recreated, _ := s.Get("p-1")
	if recreated == first {
		t.Fatal("changed settings should recreate the coordinator")
	}
	if recreated.Settings().Password != "new-secret" {
		t.Error("recreated coordinator has the old settings")
	}

	s.Apply(nil)
	if _, err := s.Get("p-1"); !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("Get() after removal error = %v, want ErrUnknownProfile", err)
	}
}

func TestSupervisor_Coordinators(t *testing.T) {
	s, _ := newTestSupervisor(t)
	a, b := testSettings(), testSettings()
	a.ProfileID, b.ProfileID = "p-2", "p-1"

	s.Apply([]Settings{a, b})
	got := s.Coordinators()
	if len(got) != 2 || got[0].ProfileID() != "p-1" || got[1].ProfileID() != "p-2" {
		t.Errorf("Coordinators() = %v", got)
	}
}

func TestSupervisor_ReloadCarriesCount(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.Apply([]Settings{testSettings()})

	old, _ := s.Get("p-1")
	old.tracker.Trigger()
	old.tracker.Trigger()

	if err := s.Reload("p-1"); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	cur, _ := s.Get("p-1")
	if cur == old {
		t.Fatal("Reload() should recreate the coordinator")
	}
	if cur.ReloadCount() != 2 {
		t.Errorf("ReloadCount() = %d, want 2", cur.ReloadCount())
	}
	if err := s.Reload("p-9"); !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("Reload(unknown) error = %v, want ErrUnknownProfile", err)
	}
}

func TestSupervisor_ReloadAfterShutdown(t *testing.T) {
	s, cancel := newTestSupervisor(t)
	s.Apply([]Settings{testSettings()})

	cancel()
	s.Wait()
	if err := s.Reload("p-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Reload() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		loginErr error
		wantErr  error
	}{
		{name: "valid credentials"},
		{name: "rejected credentials", loginErr: cloud.ErrAuth, wantErr: cloud.ErrAuth},
		{name: "cloud unreachable", loginErr: cloud.ErrConnect, wantErr: cloud.ErrConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockClient()
			client.loginErr = tt.loginErr

			profile, err := Validate(context.Background(), client, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if profile.ID() != "p-1" || profile.Name() != "Farm" {
				t.Errorf("Validate() profile = %s/%s", profile.ID(), profile.Name())
			}
		})
	}
}
