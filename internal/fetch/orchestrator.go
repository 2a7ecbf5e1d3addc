package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/reconcile"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
	"github.com/nerrad567/smartwater-core/internal/store"
)

// DefaultProfileRefresh is the profile refresh period used when none is set.
const DefaultProfileRefresh = 24 * time.Hour

// fetch timestamp contexts.
const tsProfile = "profile"

// Logger defines the logging interface used by the orchestrator.
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

// Cache is the persisted store used by the orchestrator. *store.Store
// implements it.
type Cache interface {
	Read(ctx context.Context)
	Write(ctx context.Context, force bool)
	Get(key string, dst any) bool
	Set(key string, v any) error
	Diagnostics() store.Diagnostics
}

// Options configures an Orchestrator.
type Options struct {
	// RetryDelay is the pause before a method is repeated within an order.
	RetryDelay time.Duration

	// ProfileRefresh is the minimum age of the profile before it is fetched
	// again; zero selects DefaultProfileRefresh.
	ProfileRefresh time.Duration
	Metrics        *Metrics
	Logger         Logger
}

// ChangeFunc performs a write against the cloud. It runs after login, on
// every position of the CHANGE order until it succeeds.
type ChangeFunc func(ctx context.Context, client cloud.Client) error

// Orchestrator loads and holds the data of one profile.
type Orchestrator struct {
	client         cloud.Client
	cache          Cache
	retryDelay     time.Duration
	profileRefresh time.Duration
	metrics        *Metrics
	logger         Logger
	stats          *Statistics

	// sleep and now are replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// run serializes operations that replace the data.
	run sync.Mutex

	mu        sync.RWMutex
	profileID string
	profile   smartwater.Record
	devices   smartwater.DeviceSet
	loaded    bool
	fetchTS   map[string]time.Time
}

// New creates an orchestrator for a profile.
//
// Parameters:
//   - client: Cloud client, possibly shared with other profiles
//   - cache: Persisted store shared by all profiles
//   - profileID: Profile to load; may be empty for credential validation
//   - opts: Optional settings
func New(client cloud.Client, cache Cache, profileID string, opts Options) *Orchestrator {
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.ProfileRefresh <= 0 {
		opts.ProfileRefresh = DefaultProfileRefresh
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Orchestrator{
		client:         client,
		cache:          cache,
		retryDelay:     opts.RetryDelay,
		profileRefresh: opts.ProfileRefresh,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		stats:          NewStatistics(),
		sleep:          sleepContext,
		now:            time.Now,
		profileID:      profileID,
		devices:        smartwater.DeviceSet{},
		fetchTS:        make(map[string]time.Time),
	}
}

// ProfileID returns the profile this orchestrator loads.
func (o *Orchestrator) ProfileID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.profileID
}

// Profile returns the current profile record. It is zero before the first
// successful load.
func (o *Orchestrator) Profile() smartwater.Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.profile
}

// Devices returns the current set of gateways and devices. The set must
// not be modified by the caller.
func (o *Orchestrator) Devices() smartwater.DeviceSet {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.devices
}

// Statistics returns the attempt counters.
func (o *Orchestrator) Statistics() *Statistics { return o.stats }

// Attempt loads data following the order.
//
// Returns:
//   - error: nil on success, ErrCacheUnsupported for CACHE under CONFIG,
//     otherwise the first error of the exhausted order
func (o *Orchestrator) Attempt(ctx context.Context, order Order) error {
	o.run.Lock()
	defer o.run.Unlock()
	return o.attempt(ctx, order, nil)
}

// DetectForConfig validates the credentials with the CONFIG order and
// returns the profile.
func (o *Orchestrator) DetectForConfig(ctx context.Context) (smartwater.Record, error) {
	o.run.Lock()
	defer o.run.Unlock()
	if err := o.attempt(ctx, OrderConfig, nil); err != nil {
		return smartwater.Record{}, err
	}
	return o.Profile(), nil
}

// Change performs a write with the CHANGE order. After the write succeeds
// the data is refreshed in the same position.
func (o *Orchestrator) Change(ctx context.Context, op ChangeFunc) error {
	o.run.Lock()
	defer o.run.Unlock()
	return o.attempt(ctx, OrderChange, op)
}

func (o *Orchestrator) attempt(ctx context.Context, order Order, op ChangeFunc) error {
	if len(order.Methods) == 0 {
		return fmt.Errorf("%s fetch: empty order", order.Kind)
	}

	start := o.now()
	var first error
	retry := 0

	for retry = 0; retry < len(order.Methods); retry++ {
		method := order.Methods[retry]

		if err := o.handleRetry(ctx, order, retry); err != nil {
			if first == nil {
				first = err
			}
			break
		}

		err := o.runMethod(ctx, order, method, op)
		if err == nil {
			o.conclude(order, retry, start, method)
			return nil
		}
		if errors.Is(err, ErrCacheUnsupported) {
			o.conclude(order, retry, start, "")
			return err
		}

		if first == nil {
			first = err
		}
		o.logger.Debug("fetch failed", "order", order.String(), "retry", retry, "method", method, "error", err)

		// Drop the session so the next position logs in from scratch.
		if lerr := o.client.Logout(ctx); lerr != nil {
			o.logger.Debug("logout after failed fetch", "error", lerr)
		}
	}

	o.conclude(order, min(retry, len(order.Methods)-1), start, "")

	if expected(first) {
		o.logger.Info("fetch failed", "order", order.String(), "profile_id", o.ProfileID(), "error", first)
	} else {
		o.logger.Warn("fetch failed", "order", order.String(), "profile_id", o.ProfileID(), "error", first)
	}
	return fmt.Errorf("%s fetch: %w", order.Kind, first)
}

// expected reports errors that resolve on their own and are not worth a
// warning.
func expected(err error) bool {
	return errors.Is(err, cloud.ErrConnect) ||
		errors.Is(err, cloud.ErrAuth) ||
		errors.Is(err, ErrCacheIncomplete) ||
		errors.Is(err, context.Canceled)
}

// handleRetry waits before repeating a method already used in this order.
func (o *Orchestrator) handleRetry(ctx context.Context, order Order, retry int) error {
	if retry == 0 {
		return nil
	}
	method := order.Methods[retry]
	if !order.needsDelay(retry) {
		o.logger.Info("retrying fetch now", "method", method, "retry", retry)
		return nil
	}
	o.logger.Info("retrying fetch after delay", "method", method, "retry", retry, "delay", o.retryDelay)
	return o.sleep(ctx, o.retryDelay)
}

func (o *Orchestrator) conclude(order Order, retry int, start time.Time, method Method) {
	elapsed := o.now().Sub(start)
	o.stats.Record(retry, elapsed, method)
	o.metrics.observe(order, retry, elapsed, method)
}

func (o *Orchestrator) runMethod(ctx context.Context, order Order, method Method, op ChangeFunc) error {
	switch {
	case method == MethodCache && order.Kind == KindConfig:
		return ErrCacheUnsupported
	case method == MethodCache:
		return o.readCache(ctx)
	case order.Kind == KindConfig:
		return o.webConfig(ctx)
	default:
		return o.webRefresh(ctx, order, op)
	}
}

// webConfig forces a fresh login and reads the profile.
func (o *Orchestrator) webConfig(ctx context.Context) error {
	if err := o.client.Logout(ctx); err != nil {
		o.logger.Debug("logout before validation", "error", err)
	}
	if err := o.client.Login(ctx); err != nil {
		return err
	}
	return o.refreshProfile(ctx, 0)
}

// webRefresh loads everything from the cloud and publishes it.
func (o *Orchestrator) webRefresh(ctx context.Context, order Order, op ChangeFunc) error {
	if err := o.client.Login(ctx); err != nil {
		return err
	}
	if op != nil {
		if err := op(ctx, o.client); err != nil {
			return err
		}
	}

	if err := o.refreshProfile(ctx, o.profileRefresh); err != nil {
		if order.Kind != KindNext {
			return err
		}
		o.logger.Info("profile refresh failed, keeping previous profile", "error", err)
	}

	profileID := o.ProfileID()
	if profileID == "" {
		return ErrNoProfile
	}

	res, err := reconcile.Refresh(ctx, o.client, profileID, o.Devices())
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.devices = res.Devices
	o.loaded = true
	o.mu.Unlock()

	if len(res.Added) > 0 || len(res.Removed) > 0 {
		o.logger.Debug("devices reconciled", "profile_id", profileID, "added", res.Added, "removed", res.Removed)
	}

	o.writeCache(ctx, false)
	return nil
}

// refreshProfile fetches the profile unless it was fetched within expiry.
func (o *Orchestrator) refreshProfile(ctx context.Context, expiry time.Duration) error {
	o.mu.RLock()
	last, ok := o.fetchTS[tsProfile]
	profileID := o.profileID
	o.mu.RUnlock()

	if ok && o.now().Sub(last) < expiry {
		return nil
	}

	if profileID == "" {
		profileID = o.client.ProfileID()
	}
	if profileID == "" {
		return fmt.Errorf("%w: account %s", ErrNoProfile, o.client.Username())
	}

	data, err := o.client.FetchProfile(ctx, profileID)
	if err != nil {
		return err
	}

	profile := smartwater.NewRecord(smartwater.FamilyProfile, profileID, data, map[string]any{
		smartwater.ContextUsername: o.client.Username(),
		smartwater.ContextUserID:   o.client.UserID(),
	})

	o.mu.Lock()
	o.profileID = profileID
	o.profile = profile
	o.fetchTS[tsProfile] = o.now()
	o.mu.Unlock()
	return nil
}

// CacheKeys returns the cache item names of a profile.
func CacheKeys(profileID string) (profileKey, devicesKey string) {
	return "profile " + profileID, "devices " + profileID
}

// readCache loads the profile and devices written by an earlier run.
func (o *Orchestrator) readCache(ctx context.Context) error {
	profileID := o.ProfileID()
	if profileID == "" {
		return ErrNoProfile
	}

	o.cache.Read(ctx)

	profileKey, devicesKey := CacheKeys(profileID)
	var profile smartwater.Snapshot
	var devices map[string]smartwater.Snapshot
	if !o.cache.Get(profileKey, &profile) || profile.ID == "" {
		return fmt.Errorf("%w: missing %q", ErrCacheIncomplete, profileKey)
	}
	if !o.cache.Get(devicesKey, &devices) || len(devices) == 0 {
		return fmt.Errorf("%w: missing %q", ErrCacheIncomplete, devicesKey)
	}

	o.mu.Lock()
	o.profile = profile.Record()
	o.devices = smartwater.DeviceSetFromSnapshots(devices)
	o.loaded = true
	o.mu.Unlock()
	return nil
}

// writeCache stores the current data and lets the store decide whether to
// write it to disk. Nothing is stored before the first successful load.
func (o *Orchestrator) writeCache(ctx context.Context, force bool) {
	o.cache.Read(ctx)

	o.mu.RLock()
	loaded := o.loaded
	profileID := o.profileID
	profile := o.profile
	devices := o.devices
	o.mu.RUnlock()

	if loaded && profileID != "" {
		profileKey, devicesKey := CacheKeys(profileID)
		if err := o.cache.Set(profileKey, profile.Snapshot()); err != nil {
			o.logger.Warn("caching profile failed", "profile_id", profileID, "error", err)
		}
		if err := o.cache.Set(devicesKey, devices.Snapshots()); err != nil {
			o.logger.Warn("caching devices failed", "profile_id", profileID, "error", err)
		}
	}
	o.cache.Write(ctx, force)
}

// ApplyPush replaces one record from a push notification. Pushes for ids
// that are not part of the current data are ignored and reported with
// false. The last applied write wins.
func (o *Orchestrator) ApplyPush(ctx context.Context, family smartwater.Family, id string, payload map[string]any) bool {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	applied := false
	switch family {
	case smartwater.FamilyProfile:
		if id == o.profileID && !o.profile.IsZero() {
			o.profile = smartwater.NewRecord(smartwater.FamilyProfile, id, payload, o.profile.Context())
			applied = true
		}
	default:
		next := o.devices.Clone()
		if reconcile.Replace(next, id, payload) {
			o.devices = next
			applied = true
		}
	}
	o.mu.Unlock()

	if applied {
		o.writeCache(ctx, false)
	}
	return applied
}

// Flush writes the cache regardless of the write period. It is called on
// shutdown; the session is left open because other profiles may share it.
func (o *Orchestrator) Flush(ctx context.Context) {
	o.run.Lock()
	defer o.run.Unlock()
	o.writeCache(ctx, true)
}

// CacheDiagnostics returns the state of the persisted cache.
func (o *Orchestrator) CacheDiagnostics() store.Diagnostics {
	return o.cache.Diagnostics()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
