package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/toggled/internal/clock"
	"grimm.is/toggled/internal/toggle"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10, EventSnapshotUpdated)

	hub.Publish(Event{
		Type:   EventSnapshotUpdated,
		Source: "test",
		Data:   SnapshotData{Seq: 7},
	})

	select {
	case e := <-ch:
		require.Equal(t, EventSnapshotUpdated, e.Type)
		data, ok := e.Data.(SnapshotData)
		require.True(t, ok)
		assert.Equal(t, uint64(7), data.Seq)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_TypeFiltering(t *testing.T) {
	hub := NewHub()
	toggles := hub.Subscribe(10, EventToggleState)
	all := hub.Subscribe(10)

	hub.Publish(Event{Type: EventSnapshotUpdated})
	hub.Publish(Event{Type: EventToggleState})
	hub.Publish(Event{Type: EventRefreshFailed})

	assert.Len(t, toggles, 1)
	assert.Len(t, all, 3)
}

func TestHub_NonBlocking(t *testing.T) {
	hub := NewHub()
	_ = hub.Subscribe(1, EventToggleState)

	for i := 0; i < 10; i++ {
		hub.Publish(Event{Type: EventToggleState})
	}

	published, dropped := hub.Stats()
	assert.Equal(t, uint64(10), published)
	assert.Equal(t, uint64(9), dropped)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10, EventToggleState)
	hub.Unsubscribe(ch)

	hub.Publish(Event{Type: EventToggleState})
	assert.Len(t, ch, 0)
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(Event{Type: EventToggleState})
			}
		}()
	}
	wg.Wait()

	published, dropped := hub.Stats()
	assert.Equal(t, uint64(500), published)
	assert.Zero(t, dropped)
	assert.Len(t, ch, 500)
}

func TestHub_ClockTimestamps(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	hub := NewHubWithClock(clock.NewMockClock(at))
	ch := hub.Subscribe(1)

	hub.Publish(Event{Type: EventToggleState})
	e := <-ch
	assert.Equal(t, at, e.Timestamp)
}

func TestToggleNotifier(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1, EventToggleState)

	NewToggleNotifier(hub).Notify(toggle.Change{Entity: "nat/*3", Outcome: toggle.OutcomeApplied})

	e := <-ch
	assert.Equal(t, "toggle", e.Source)
	change, ok := e.Data.(toggle.Change)
	require.True(t, ok)
	assert.Equal(t, "nat/*3", change.Entity)
	assert.Equal(t, toggle.OutcomeApplied, change.Outcome)
}
