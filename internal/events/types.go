// Package events is the in-process pub/sub bus that carries toggle state
// changes and snapshot refreshes to the API, audit trail and metrics.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// EventToggleState is published on every visible toggle state change.
	EventToggleState EventType = "toggle.state"
	// EventSnapshotUpdated is published after a new snapshot is installed.
	EventSnapshotUpdated EventType = "snapshot.updated"
	// EventRefreshFailed is published when fetching a snapshot fails.
	EventRefreshFailed EventType = "refresh.failed"
)

// Event is the message passed through the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
}

// SnapshotData is the payload for EventSnapshotUpdated.
type SnapshotData struct {
	Seq         uint64         `json:"seq"`
	Taken       time.Time      `json:"taken"`
	Collections map[string]int `json:"collections"`
}

// RefreshFailedData is the payload for EventRefreshFailed.
type RefreshFailedData struct {
	Error string `json:"error"`
}
