package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/fetch"
	"github.com/nerrad567/smartwater-core/internal/reconcile"
	"github.com/nerrad567/smartwater-core/internal/registry"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

const (
	defaultTaskQueue    = 16
	defaultPollSchedule = "@every 30s"
	shutdownTimeout     = 10 * time.Second
)

// Logger defines the logging interface used by coordinators.
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

// Settings describe one configured profile. Two coordinators with equal
// Settings are interchangeable.
type Settings struct {
	Username    string
	Password    string
	ProfileID   string
	ProfileName string

	PollSchedule   string
	RetryDelay     time.Duration
	ProfileRefresh time.Duration
	ReloadDelay    time.Duration
	ReloadDelayMax time.Duration
	TaskQueue      int
}

// DeviceRegistry records the devices of a profile.
// *registry.Registry implements it.
type DeviceRegistry interface {
	Sync(ctx context.Context, profileID string, set smartwater.DeviceSet) (registry.SyncResult, error)
}

// PushSource delivers cloud push notifications.
// *cloud.PushSubscriber implements it.
type PushSource interface {
	Sync(profileID string, set smartwater.DeviceSet, cb cloud.PushHandler) error
	Close() error
}

// Update describes a change of the published data.
type Update struct {
	ProfileID string    `json:"profile_id"`
	Reason    string    `json:"reason"`
	Devices   int       `json:"devices"`
	Added     []string  `json:"added,omitempty"`
	Removed   []string  `json:"removed,omitempty"`
	Time      time.Time `json:"time"`
}

// Update reasons.
const (
	ReasonPoll    = "poll"
	ReasonRefresh = "refresh"
	ReasonPush    = "push"
)

// Deps are the collaborators of a coordinator. Client and Cache are
// required; everything else is optional.
type Deps struct {
	Client    cloud.Client
	Cache     fetch.Cache
	Registry  DeviceRegistry
	Push      PushSource
	Publisher Publisher
	Metrics   *fetch.Metrics
	Logger    Logger

	// OnReload is called on the coordinator goroutine when new devices
	// were detected. It must not block.
	OnReload func(profileID string)

	// OnUpdate is called on the coordinator goroutine after every applied
	// update. It must not block.
	OnUpdate func(Update)
}

type taskKind int

const (
	taskPoll taskKind = iota
	taskRefresh
	taskPush
)

type task struct {
	kind    taskKind
	family  smartwater.Family
	id      string
	payload map[string]any
	reply   chan error
}

// Coordinator runs the fetch cycle of one profile.
type Coordinator struct {
	settings  Settings
	orch      *fetch.Orchestrator
	registry  DeviceRegistry
	push      PushSource
	publisher Publisher
	onReload  func(string)
	onUpdate  func(Update)
	logger    Logger
	tracker   *reconcile.ReloadTracker
	now       func() time.Time

	tasks       chan task
	pollPending atomic.Bool
	done        chan struct{}
	running     atomic.Bool

	// order and reloadRequested are only used on the run goroutine.
	order           fetch.Order
	reloadRequested bool

	mu         sync.RWMutex
	baseline   map[string]struct{}
	lastErr    error
	lastUpdate time.Time
}

// New creates a coordinator. reloadCount is carried over from the
// coordinator this one replaces, or 0.
func New(settings Settings, deps Deps, reloadCount int) *Coordinator {
	if settings.TaskQueue <= 0 {
		settings.TaskQueue = defaultTaskQueue
	}
	if settings.PollSchedule == "" {
		settings.PollSchedule = defaultPollSchedule
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	orch := fetch.New(deps.Client, deps.Cache, settings.ProfileID, fetch.Options{
		RetryDelay:     settings.RetryDelay,
		ProfileRefresh: settings.ProfileRefresh,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	})

	return &Coordinator{
		settings:  settings,
		orch:      orch,
		registry:  deps.Registry,
		push:      deps.Push,
		publisher: deps.Publisher,
		onReload:  deps.OnReload,
		onUpdate:  deps.OnUpdate,
		logger:    deps.Logger,
		tracker:   reconcile.NewReloadTracker(settings.ReloadDelay, settings.ReloadDelayMax, reloadCount, time.Now()),
		now:       time.Now,
		tasks:     make(chan task, settings.TaskQueue),
		done:      make(chan struct{}),
		order:     fetch.OrderInit,
	}
}

// ProfileID returns the profile this coordinator runs.
func (c *Coordinator) ProfileID() string { return c.settings.ProfileID }

// Name returns the configured profile name, or the loaded one.
func (c *Coordinator) Name() string {
	if c.settings.ProfileName != "" {
		return c.settings.ProfileName
	}
	if p := c.orch.Profile(); !p.IsZero() {
		return p.Name()
	}
	return c.settings.ProfileID
}

// Settings returns the settings the coordinator was created with.
func (c *Coordinator) Settings() Settings { return c.settings }

// Profile returns the loaded profile record.
func (c *Coordinator) Profile() smartwater.Record { return c.orch.Profile() }

// Devices returns the current gateways and devices.
func (c *Coordinator) Devices() smartwater.DeviceSet { return c.orch.Devices() }

// ReloadCount returns the number of reloads requested so far, including
// those of replaced coordinators.
func (c *Coordinator) ReloadCount() int { return c.tracker.Count() }

// LastError returns the error of the most recent fetch, or nil.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdate returns when data was last applied.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Run executes tasks until ctx is cancelled. It polls once immediately and
// then on the poll schedule. On return the cache has been flushed.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator for profile %s already running", c.settings.ProfileID)
	}
	defer close(c.done)

	sched := cron.New()
	if _, err := sched.AddFunc(c.settings.PollSchedule, func() { c.Poll() }); err != nil {
		return fmt.Errorf("scheduling polls for profile %s: %w", c.settings.ProfileID, err)
	}
	sched.Start()
	defer sched.Stop()

	c.logger.Info("coordinator started", "profile_id", c.settings.ProfileID,
		"schedule", c.settings.PollSchedule, "reload_count", c.tracker.Count())
	c.Poll()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case t := <-c.tasks:
			err := c.handle(ctx, t)
			if t.reply != nil {
				t.reply <- err
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	c.orch.Flush(ctx)
	if c.push != nil {
		if err := c.push.Close(); err != nil {
			c.logger.Debug("closing push subscriptions", "error", err)
		}
	}
	c.logger.Info("coordinator stopped", "profile_id", c.settings.ProfileID)
}

// Poll queues a poll unless one is already queued. It never blocks and
// reports whether a poll was queued.
func (c *Coordinator) Poll() bool {
	if !c.pollPending.CompareAndSwap(false, true) {
		return false
	}
	select {
	case c.tasks <- task{kind: taskPoll}:
		return true
	default:
		c.pollPending.Store(false)
		c.logger.Warn("task queue full, skipping poll", "profile_id", c.settings.ProfileID)
		return false
	}
}

// Refresh fetches from the cloud now and waits for the result.
func (c *Coordinator) Refresh(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.tasks <- task{kind: taskRefresh, reply: reply}:
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandlePush queues a pushed object. It is safe to call from MQTT handlers;
// when the queue is full the push is dropped and the next poll repairs
// the data.
func (c *Coordinator) HandlePush(family smartwater.Family, id string, payload map[string]any) {
	select {
	case c.tasks <- task{kind: taskPush, family: family, id: id, payload: payload}:
	default:
		c.logger.Warn("task queue full, dropping push", "profile_id", c.settings.ProfileID, "family", family, "id", id)
	}
}

func (c *Coordinator) handle(ctx context.Context, t task) error {
	switch t.kind {
	case taskPoll:
		c.pollPending.Store(false)
		return c.fetch(ctx, ReasonPoll)
	case taskRefresh:
		return c.fetch(ctx, ReasonRefresh)
	case taskPush:
		prev := c.orch.Devices()
		if !c.orch.ApplyPush(ctx, t.family, t.id, t.payload) {
			c.logger.Debug("ignoring push for unknown object", "family", t.family, "id", t.id)
			return nil
		}
		c.publish(ctx, ReasonPush, prev)
		return nil
	}
	return nil
}

// fetch runs one attempt. The order switches to NEXT after the first
// attempt whatever its outcome.
func (c *Coordinator) fetch(ctx context.Context, reason string) error {
	prev := c.orch.Devices()
	order := c.order
	err := c.orch.Attempt(ctx, order)
	c.order = fetch.OrderNext

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.syncRegistry(ctx)
	c.detectChanges()
	if c.push != nil {
		if perr := c.push.Sync(c.settings.ProfileID, c.orch.Devices(), c.HandlePush); perr != nil {
			c.logger.Warn("updating push subscriptions failed", "profile_id", c.settings.ProfileID, "error", perr)
		}
	}
	c.publish(ctx, reason, prev)
	return nil
}

// syncRegistry registers the devices once and takes the registered ids as
// the baseline for change detection.
func (c *Coordinator) syncRegistry(ctx context.Context) {
	c.mu.RLock()
	done := c.baseline != nil
	c.mu.RUnlock()
	if done {
		return
	}

	set := c.orch.Devices()
	baseline := reconcile.Baseline(set)
	if c.registry != nil {
		res, err := c.registry.Sync(ctx, c.settings.ProfileID, set)
		if err != nil {
			c.logger.Warn("registering devices failed", "profile_id", c.settings.ProfileID, "error", err)
		} else {
			baseline = res.Devices
		}
	}

	c.mu.Lock()
	c.baseline = baseline
	c.mu.Unlock()
}

// detectChanges asks for a reload when devices appeared that are not in
// the baseline. Checks are spaced by the reload delay, and a coordinator
// asks at most once since it is replaced by the reload.
func (c *Coordinator) detectChanges() {
	if c.reloadRequested || !c.tracker.Due(c.now()) {
		return
	}

	set := c.orch.Devices()
	c.mu.RLock()
	newIDs := reconcile.NewIDs(c.baseline, set)
	c.mu.RUnlock()
	if len(newIDs) == 0 {
		return
	}

	for _, id := range newIDs {
		r := set[id]
		switch r.Family() {
		case smartwater.FamilyGateway:
			c.logger.Info("found new gateway, reloading", "profile_id", c.settings.ProfileID, "id", id, "name", r.Name())
		default:
			typ := r.Type()
			if typ == "" {
				typ = "device"
			}
			c.logger.Info("found new "+typ+", reloading", "profile_id", c.settings.ProfileID, "id", id, "name", r.Name())
		}
	}

	c.reloadRequested = true
	count := c.tracker.Trigger()
	c.logger.Debug("reload requested", "profile_id", c.settings.ProfileID, "reload_count", count)
	if c.onReload != nil {
		c.onReload(c.settings.ProfileID)
	}
}

func (c *Coordinator) publish(ctx context.Context, reason string, prev smartwater.DeviceSet) {
	set := c.orch.Devices()
	now := c.now()

	c.mu.Lock()
	c.lastUpdate = now
	c.mu.Unlock()

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, c.settings.ProfileID, set); err != nil {
			c.logger.Warn("publishing states failed", "profile_id", c.settings.ProfileID, "error", err)
		}
	}
	if c.onUpdate != nil {
		added, removed := reconcile.Diff(prev, set)
		c.onUpdate(Update{
			ProfileID: c.settings.ProfileID,
			Reason:    reason,
			Devices:   len(set),
			Added:     added,
			Removed:   removed,
			Time:      now,
		})
	}
}
