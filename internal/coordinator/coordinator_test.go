package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/toggled/internal/clock"
	"grimm.is/toggled/internal/events"
	"grimm.is/toggled/internal/metrics"
	"grimm.is/toggled/internal/snapshot"
)

type fakeSource struct {
	mu    sync.Mutex
	data  snapshot.Data
	err   error
	calls int
}

func (f *fakeSource) Fetch(ctx context.Context) (snapshot.Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.data, f.err
}

func (f *fakeSource) set(data snapshot.Data, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data, f.err = data, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gatedSource blocks each fetch until gate is closed and reports entry.
type gatedSource struct {
	fakeSource
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedSource) Fetch(ctx context.Context) (snapshot.Data, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.fakeSource.Fetch(ctx)
}

func mustNew(t *testing.T, src Source, cfg Config) *Coordinator {
	t.Helper()
	c, err := New(src, cfg)
	require.NoError(t, err)
	return c
}

func sampleData(enabled string) snapshot.Data {
	return snapshot.Data{
		Collections: map[string]snapshot.Collection{
			"nat":   {"*1": {".id": "*1", "enabled": enabled}},
			"queue": {"*2": {".id": "*2"}, "*3": {".id": "*3"}},
		},
		Access: []string{"read", "write"},
	}
}

func TestCoordinator_StartsEmpty(t *testing.T) {
	c := mustNew(t, &fakeSource{}, Config{})
	defer c.Stop()

	require.NotNil(t, c.Current())
	assert.Equal(t, uint64(0), c.Current().Seq())
	assert.Empty(t, c.Capabilities())
	assert.Zero(t, c.Age())
}

func TestCoordinator_RefreshInstallsSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg, reg)
	hub := events.NewHub()
	updates := hub.Subscribe(4, events.EventSnapshotUpdated)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mc := clock.NewMockClock(now)

	src := &fakeSource{data: sampleData("true")}
	c := mustNew(t, src, Config{Hub: hub, Metrics: m, Clock: mc})
	defer c.Stop()

	before := c.Current()
	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Current()
	assert.NotSame(t, before, snap)
	assert.Equal(t, uint64(1), snap.Seq())
	assert.Equal(t, now, snap.Taken())
	assert.Equal(t, []string{"read", "write"}, c.Capabilities())

	mc.Advance(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.Age())

	e := <-updates
	data := e.Data.(events.SnapshotData)
	assert.Equal(t, uint64(1), data.Seq)
	assert.Equal(t, map[string]int{"nat": 1, "queue": 2}, data.Collections)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotRecords.WithLabelValues("queue")))
}

func TestCoordinator_SnapshotsAreReplacedNotMutated(t *testing.T) {
	src := &fakeSource{data: sampleData("false")}
	c := mustNew(t, src, Config{})
	defer c.Stop()

	require.NoError(t, c.Refresh(context.Background()))
	first := c.Current()

	src.set(sampleData("true"), nil)
	require.NoError(t, c.Refresh(context.Background()))

	rec, _ := first.Record("nat", "*1")
	assert.Equal(t, "false", rec.Get("enabled"))
	rec, _ = c.Current().Record("nat", "*1")
	assert.Equal(t, "true", rec.Get("enabled"))
	assert.Equal(t, uint64(2), c.Current().Seq())
}

func TestCoordinator_FailedRefreshKeepsSnapshot(t *testing.T) {
	hub := events.NewHub()
	failures := hub.Subscribe(1, events.EventRefreshFailed)

	src := &fakeSource{data: sampleData("true")}
	c := mustNew(t, src, Config{Hub: hub})
	defer c.Stop()

	require.NoError(t, c.Refresh(context.Background()))
	installed := c.Current()

	src.set(snapshot.Data{}, errors.New("401 unauthorized"))
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")
	assert.Same(t, installed, c.Current())

	e := <-failures
	assert.Equal(t, "401 unauthorized", e.Data.(events.RefreshFailedData).Error)
}

func TestCoordinator_RequestRefreshIsAsync(t *testing.T) {
	src := &fakeSource{data: sampleData("true")}
	c := mustNew(t, src, Config{Interval: time.Hour})
	defer c.Stop()

	c.RequestRefresh()

	deadline := time.Now().Add(2 * time.Second)
	for c.Current().Seq() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, uint64(1), c.Current().Seq())
	assert.Equal(t, 1, src.callCount())
}

func TestCoordinator_StartRunsImmediately(t *testing.T) {
	src := &fakeSource{data: sampleData("true")}
	c := mustNew(t, src, Config{Interval: time.Hour})

	c.Start()
	deadline := time.Now().Add(2 * time.Second)
	for c.Current().Seq() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	assert.Equal(t, uint64(1), c.Current().Seq())
	status, ok := c.Scheduler().GetTaskStatus(RefreshTaskID)
	require.True(t, ok)
	assert.Equal(t, int64(1), status.RunCount)

	// Stopped coordinators ignore refresh requests.
	c.RequestRefresh()
	assert.Equal(t, 1, src.callCount())
}

func TestNew_RequiresSource(t *testing.T) {
	c, err := New(nil, Config{})
	require.Error(t, err)
	assert.Nil(t, c)
}

func TestCoordinator_RequestRefreshCoalesces(t *testing.T) {
	src := &gatedSource{
		fakeSource: fakeSource{data: sampleData("true")},
		gate:       make(chan struct{}),
		entered:    make(chan struct{}, 1),
	}
	c := mustNew(t, src, Config{Interval: time.Hour})

	c.RequestRefresh()
	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not start")
	}

	// One refresh is in flight; a burst queues exactly one more.
	for i := 0; i < 20; i++ {
		c.RequestRefresh()
	}
	close(src.gate)

	require.Eventually(t, func() bool { return c.Current().Seq() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Once the queued refresh has fetched, a new request fetches again.
	c.RequestRefresh()
	require.Eventually(t, func() bool { return c.Current().Seq() == 3 }, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	assert.Equal(t, 3, src.callCount())
}
