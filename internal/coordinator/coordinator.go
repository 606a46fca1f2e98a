// Package coordinator owns the router snapshot. It polls the device on a
// fixed interval, accepts out-of-band refresh requests, and publishes each
// new snapshot wholesale so readers never see a partial update.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/toggled/internal/clock"
	"grimm.is/toggled/internal/events"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/metrics"
	"grimm.is/toggled/internal/scheduler"
	"grimm.is/toggled/internal/snapshot"
)

// RefreshTaskID is the scheduler task id of the poll.
const RefreshTaskID = "snapshot-refresh"

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 30 * time.Second

// Source fetches the router's current configuration.
type Source interface {
	Fetch(ctx context.Context) (snapshot.Data, error)
}

// Config configures a Coordinator.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Hub          *events.Hub
	Metrics      *metrics.Registry
	Logger       *logging.Logger
	Clock        clock.Clock
}

// Coordinator publishes snapshots fetched from a Source.
type Coordinator struct {
	source  Source
	cfg     Config
	logger  *logging.Logger
	clock   clock.Clock
	sched   *scheduler.Scheduler
	current atomic.Pointer[snapshot.Snapshot]
	seq     atomic.Uint64

	// fetchMu serializes fetches so snapshots install in sequence order.
	fetchMu sync.Mutex

	// pending is set while a requested refresh has not started fetching.
	pending atomic.Bool
}

// New creates a coordinator. It starts with an empty snapshot that grants
// no access, so writes are refused until the first successful refresh.
func New(source Source, cfg Config) (*Coordinator, error) {
	if source == nil {
		return nil, errors.New("coordinator: source is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	c := &Coordinator{
		source: source,
		cfg:    cfg,
		logger: logging.OrDefault(cfg.Logger, "coordinator"),
		clock:  clock.OrReal(cfg.Clock),
	}
	c.current.Store(snapshot.Empty())
	c.sched = scheduler.New(cfg.Logger, scheduler.WithClock(c.clock))
	err := c.sched.AddTask(&scheduler.Task{
		ID:         RefreshTaskID,
		Name:       "Snapshot refresh",
		Schedule:   scheduler.Every(cfg.Interval),
		Enabled:    true,
		RunOnStart: true,
		Timeout:    cfg.FetchTimeout,
		Func:       c.Refresh,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	return c, nil
}

// Scheduler exposes the coordinator's scheduler so other periodic work
// can share its loop.
func (c *Coordinator) Scheduler() *scheduler.Scheduler { return c.sched }

// Start begins polling. The first refresh runs immediately.
func (c *Coordinator) Start() {
	c.sched.Start()
}

// Stop halts polling and waits for an in-flight refresh.
func (c *Coordinator) Stop() {
	c.sched.Stop()
}

// Current returns the installed snapshot. It never returns nil.
func (c *Coordinator) Current() *snapshot.Snapshot {
	return c.current.Load()
}

// Capabilities returns the access list of the installed snapshot.
func (c *Coordinator) Capabilities() []string {
	return c.Current().Access()
}

// RequestRefresh triggers a refresh in the background and returns at once.
// Requests made before a queued refresh starts fetching share it.
func (c *Coordinator) RequestRefresh() {
	if !c.pending.CompareAndSwap(false, true) {
		return
	}
	if err := c.sched.RunTask(RefreshTaskID); err != nil {
		c.pending.Store(false)
		c.logger.Debug("refresh request ignored", "error", err)
	}
}

// Refresh fetches and installs a new snapshot synchronously.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	// Any fetch from here on observes writes made before the request.
	c.pending.Store(false)

	start := c.clock.Now()
	data, err := c.source.Fetch(ctx)
	c.cfg.Metrics.ObserveRefresh(err, c.clock.Since(start))
	if err != nil {
		c.logger.Warn("refresh failed", "error", err)
		c.publish(events.EventRefreshFailed, events.RefreshFailedData{Error: err.Error()})
		return fmt.Errorf("refresh snapshot: %w", err)
	}

	snap := snapshot.New(c.seq.Add(1), start, data.Collections, data.Access)
	c.current.Store(snap)

	counts := make(map[string]int)
	for _, name := range snap.CollectionNames() {
		counts[name] = len(snap.Collection(name))
	}
	c.cfg.Metrics.SetSnapshot(snap.Seq(), snap.Taken(), counts)
	c.logger.Debug("snapshot installed", "seq", snap.Seq(), "collections", len(counts))

	c.publish(events.EventSnapshotUpdated, events.SnapshotData{
		Seq:         snap.Seq(),
		Taken:       snap.Taken(),
		Collections: counts,
	})
	return nil
}

// Age returns how long ago the installed snapshot was taken.
func (c *Coordinator) Age() time.Duration {
	taken := c.Current().Taken()
	if taken.IsZero() {
		return 0
	}
	return c.clock.Since(taken)
}

func (c *Coordinator) publish(t events.EventType, data any) {
	if c.cfg.Hub == nil {
		return
	}
	c.cfg.Hub.Publish(events.Event{Type: t, Source: "coordinator", Data: data})
}
