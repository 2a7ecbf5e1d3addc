package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry synchronises the registered devices and entities of profiles
// with their loaded device sets.
type Registry struct {
	repo   Repository
	logger Logger
	mu     sync.Mutex
}

// NewRegistry creates a registry on top of a repository.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SyncResult reports what a Sync changed.
type SyncResult struct {
	// Devices holds the ids registered for the profile. New cloud devices
	// are detected against this set.
	Devices map[string]struct{}

	RemovedDevices  []string
	RemovedEntities []string
}

// Sync registers all records of set with their entities, then removes
// devices and entities of the profile that set no longer contains.
func (r *Registry) Sync(ctx context.Context, profileID string, set smartwater.DeviceSet) (SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SyncResult
	var err error
	if res.Devices, err = r.createDevices(ctx, profileID, set); err != nil {
		return res, err
	}
	entities, err := r.createEntities(ctx, profileID, set)
	if err != nil {
		return res, err
	}
	if res.RemovedDevices, err = r.cleanupDevices(ctx, profileID, res.Devices); err != nil {
		return res, err
	}
	if res.RemovedEntities, err = r.cleanupEntities(ctx, profileID, entities); err != nil {
		return res, err
	}
	return res, nil
}

// CreateDevices registers every record of set and returns the ids that
// were registered.
func (r *Registry) CreateDevices(ctx context.Context, profileID string, set smartwater.DeviceSet) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createDevices(ctx, profileID, set)
}

func (r *Registry) createDevices(ctx context.Context, profileID string, set smartwater.DeviceSet) (map[string]struct{}, error) {
	r.logger.Info("creating devices", "profile_id", profileID, "count", len(set))

	valid := make(map[string]struct{}, len(set))
	for _, id := range set.IDs() {
		d := DeviceFromRecord(profileID, set[id])
		r.logger.Debug("creating device", "profile_id", profileID, "device_id", d.ID, "name", d.Name)
		if err := r.repo.UpsertDevice(ctx, d); err != nil {
			return valid, fmt.Errorf("creating devices: %w", err)
		}
		valid[id] = struct{}{}
	}
	return valid, nil
}

// CreateEntities registers the entities of every record and returns their
// EntityKey values.
func (r *Registry) CreateEntities(ctx context.Context, profileID string, set smartwater.DeviceSet) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createEntities(ctx, profileID, set)
}

func (r *Registry) createEntities(ctx context.Context, profileID string, set smartwater.DeviceSet) (map[string]struct{}, error) {
	valid := make(map[string]struct{})
	for _, id := range set.IDs() {
		for _, e := range smartwater.Entities(set[id]) {
			if err := r.repo.UpsertEntity(ctx, EntityFromDescriptor(profileID, e)); err != nil {
				return valid, fmt.Errorf("creating entities: %w", err)
			}
			valid[EntityKey(e.Platform, e.UniqueID)] = struct{}{}
		}
	}
	return valid, nil
}

// CleanupDevices removes registered devices of the profile whose id is not
// in valid, and returns the removed ids.
func (r *Registry) CleanupDevices(ctx context.Context, profileID string, valid map[string]struct{}) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupDevices(ctx, profileID, valid)
}

func (r *Registry) cleanupDevices(ctx context.Context, profileID string, valid map[string]struct{}) ([]string, error) {
	registered, err := r.repo.ListDevices(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("cleaning up devices: %w", err)
	}

	var removed []string
	for _, d := range registered {
		if _, ok := valid[d.ID]; ok {
			continue
		}
		r.logger.Info("removing obsolete device", "profile_id", profileID, "device_id", d.ID, "name", d.Name)
		if err := r.repo.DeleteDevice(ctx, profileID, d.ID); err != nil {
			return removed, fmt.Errorf("cleaning up devices: %w", err)
		}
		removed = append(removed, d.ID)
	}
	return removed, nil
}

// CleanupEntities removes registered entities of the profile whose
// EntityKey is not in valid, and returns the removed unique ids.
func (r *Registry) CleanupEntities(ctx context.Context, profileID string, valid map[string]struct{}) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupEntities(ctx, profileID, valid)
}

func (r *Registry) cleanupEntities(ctx context.Context, profileID string, valid map[string]struct{}) ([]string, error) {
	registered, err := r.repo.ListEntities(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("cleaning up entities: %w", err)
	}

	var removed []string
	for _, e := range registered {
		if _, ok := valid[EntityKey(e.Platform, e.UniqueID)]; ok {
			continue
		}
		r.logger.Info("removing obsolete entity", "profile_id", profileID, "unique_id", e.UniqueID, "platform", e.Platform)
		if err := r.repo.DeleteEntity(ctx, profileID, e.Platform, e.UniqueID); err != nil {
			return removed, fmt.Errorf("cleaning up entities: %w", err)
		}
		removed = append(removed, e.UniqueID)
	}
	return removed, nil
}

// Devices returns the registered devices of a profile.
func (r *Registry) Devices(ctx context.Context, profileID string) ([]Device, error) {
	return r.repo.ListDevices(ctx, profileID)
}

// Device returns one registered device.
func (r *Registry) Device(ctx context.Context, profileID, id string) (*Device, error) {
	return r.repo.GetDevice(ctx, profileID, id)
}

// Entities returns the registered entities of a profile.
func (r *Registry) Entities(ctx context.Context, profileID string) ([]Entity, error) {
	return r.repo.ListEntities(ctx, profileID)
}
