package events

import "grimm.is/toggled/internal/toggle"

// ToggleNotifier publishes controller state changes onto the hub.
// It implements toggle.Notifier.
type ToggleNotifier struct {
	hub *Hub
}

// NewToggleNotifier creates a notifier bound to hub.
func NewToggleNotifier(hub *Hub) *ToggleNotifier {
	return &ToggleNotifier{hub: hub}
}

// Notify implements toggle.Notifier.
func (n *ToggleNotifier) Notify(c toggle.Change) {
	n.hub.Publish(Event{
		Type:   EventToggleState,
		Source: "toggle",
		Data:   c,
	})
}

var _ toggle.Notifier = (*ToggleNotifier)(nil)
