package coordinator

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/fetch"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// DepsFunc supplies the collaborators of a new coordinator. Shared
// resources such as pooled cloud clients and the cache store are handed
// out by the function; OnReload is set by the supervisor.
type DepsFunc func(s Settings) Deps

type instance struct {
	coord  *Coordinator
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs one coordinator per configured profile.
type Supervisor struct {
	ctx      context.Context
	deps     DepsFunc
	logger   Logger
	onUpdate func(Update)

	mu        sync.Mutex
	instances map[string]*instance
}

// NewSupervisor creates a supervisor. Coordinators run until ctx is
// cancelled; call Wait to let them finish.
func NewSupervisor(ctx context.Context, deps DepsFunc) *Supervisor {
	return &Supervisor{
		ctx:       ctx,
		deps:      deps,
		logger:    noopLogger{},
		instances: make(map[string]*instance),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnUpdate sets the update listener given to coordinators whose Deps
// have none.
func (s *Supervisor) SetOnUpdate(fn func(Update)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Apply makes the running coordinators match settings. A coordinator is
// reused while its settings are unchanged and recreated otherwise; the
// reload count carries over. Profiles no longer listed are stopped.
func (s *Supervisor) Apply(settings []Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(settings))
	for _, st := range settings {
		want[st.ProfileID] = true
		s.ensure(st, false)
	}
	for id, inst := range s.instances {
		if !want[id] {
			s.logger.Info("stopping coordinator of removed profile", "profile_id", id)
			s.stop(inst)
			delete(s.instances, id)
		}
	}
}

// Reload recreates the coordinator of a profile, carrying over its reload
// count.
func (s *Supervisor) Reload(profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return ErrClosed
	}
	inst, ok := s.instances[profileID]
	if !ok {
		return ErrUnknownProfile
	}
	s.ensure(inst.coord.Settings(), true)
	return nil
}

// ensure starts or reuses the coordinator for st. Caller holds mu.
func (s *Supervisor) ensure(st Settings, force bool) {
	reloadCount := 0
	if inst, ok := s.instances[st.ProfileID]; ok {
		reloadCount = inst.coord.ReloadCount()
		if !force && inst.coord.Settings() == st {
			s.logger.Debug("reusing coordinator", "profile_id", st.ProfileID, "profile", st.ProfileName)
			return
		}
		if !force {
			s.logger.Debug("settings changed, recreating coordinator", "profile_id", st.ProfileID)
		}
		s.stop(inst)
	}

	deps := s.deps(st)
	deps.OnReload = func(profileID string) {
		// The requesting coordinator is stopped by Reload, so it must not
		// wait for it.
		go func() {
			if err := s.Reload(profileID); err != nil {
				s.logger.Debug("reload skipped", "profile_id", profileID, "error", err)
			}
		}()
	}
	if deps.OnUpdate == nil {
		deps.OnUpdate = s.onUpdate
	}

	s.logger.Info("creating coordinator", "profile_id", st.ProfileID, "profile", st.ProfileName,
		"account", st.Username, "reload_count", reloadCount)
	coord := New(st, deps, reloadCount)
	ctx, cancel := context.WithCancel(s.ctx)
	inst := &instance{coord: coord, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(inst.done)
		if err := coord.Run(ctx); err != nil {
			s.logger.Error("coordinator failed", "profile_id", st.ProfileID, "error", err)
		}
	}()
	s.instances[st.ProfileID] = inst
}

func (s *Supervisor) stop(inst *instance) {
	inst.cancel()
	<-inst.done
}

// Get returns the coordinator of a profile.
func (s *Supervisor) Get(profileID string) (*Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[profileID]
	if !ok {
		return nil, ErrUnknownProfile
	}
	return inst.coord, nil
}

// Coordinators returns the running coordinators ordered by profile id.
func (s *Supervisor) Coordinators() []*Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Coordinator, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst.coord)
	}
	slices.SortFunc(out, func(a, b *Coordinator) int { return strings.Compare(a.ProfileID(), b.ProfileID()) })
	return out
}

// Wait blocks until every coordinator has stopped. It returns once the
// supervisor context is cancelled and all caches are flushed.
func (s *Supervisor) Wait() {
	<-s.ctx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		<-inst.done
	}
}

// Validate logs in with a client that is not shared with any coordinator
// and returns the profile of the account.
func Validate(ctx context.Context, client cloud.Client, logger Logger) (smartwater.Record, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	o := fetch.New(client, nil, "", fetch.Options{Logger: logger})
	return o.DetectForConfig(ctx)
}
