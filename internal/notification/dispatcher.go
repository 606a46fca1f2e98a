// Package notification forwards rejected toggles and router outages to
// outbound channels (webhooks, Slack, Discord, ntfy).
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"grimm.is/toggled/internal/clock"
	"grimm.is/toggled/internal/config"
	"grimm.is/toggled/internal/events"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/toggle"
)

// Level constants
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Notification represents a notification event
type Notification struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dispatcher manages notification channels and dispatching
type Dispatcher struct {
	channels   []config.NotifyConfig
	httpClient *http.Client
	logger     *logging.Logger
	clock      clock.Clock

	// routerDown suppresses repeated refresh failures until a refresh
	// succeeds again.
	mu         sync.Mutex
	routerDown bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the client used for delivery.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = hc }
}

// WithClock sets the clock used to timestamp notifications.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(channels []config.NotifyConfig, logger *logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels:   channels,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.OrDefault(logger, "notification"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.clock = clock.OrReal(d.clock)
	return d
}

// Run forwards hub events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, hub *events.Hub) {
	ch := hub.Subscribe(64, events.EventToggleState, events.EventRefreshFailed, events.EventSnapshotUpdated)
	defer hub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if n, send := d.translate(ev); send {
				d.Send(ctx, n)
			}
		}
	}
}

// translate maps a hub event to a notification. Only rejected toggles,
// the first refresh failure and the following recovery are sent.
func (d *Dispatcher) translate(ev events.Event) (Notification, bool) {
	switch ev.Type {
	case events.EventToggleState:
		c, ok := ev.Data.(toggle.Change)
		if !ok || c.Outcome != toggle.OutcomeRejected {
			return Notification{}, false
		}
		msg := fmt.Sprintf("Turning %s %s was rejected by the router and rolled back.", c.Entity, onOff(c.Requested))
		if c.Error != "" {
			msg += " " + c.Error
		}
		return Notification{
			Title:     "Toggle rejected",
			Message:   msg,
			Level:     LevelWarning,
			Timestamp: ev.Timestamp,
			Data:      map[string]any{"entity": c.Entity, "request_id": c.RequestID},
		}, true

	case events.EventRefreshFailed:
		d.mu.Lock()
		first := !d.routerDown
		d.routerDown = true
		d.mu.Unlock()
		if !first {
			return Notification{}, false
		}
		msg := "Reading the router failed."
		if data, ok := ev.Data.(events.RefreshFailedData); ok {
			msg += " " + data.Error
		}
		return Notification{
			Title:     "Router unreachable",
			Message:   msg,
			Level:     LevelCritical,
			Timestamp: ev.Timestamp,
		}, true

	case events.EventSnapshotUpdated:
		d.mu.Lock()
		recovered := d.routerDown
		d.routerDown = false
		d.mu.Unlock()
		if !recovered {
			return Notification{}, false
		}
		return Notification{
			Title:     "Router reachable",
			Message:   "Reading the router succeeded again.",
			Level:     LevelInfo,
			Timestamp: ev.Timestamp,
		}, true
	}
	return Notification{}, false
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Send dispatches a notification to all channels whose level it meets.
func (d *Dispatcher) Send(ctx context.Context, n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = d.clock.Now()
	}

	var wg sync.WaitGroup
	for _, ch := range d.channels {
		if !shouldSend(n.Level, ch.Level) {
			continue
		}

		wg.Add(1)
		go func(channel config.NotifyConfig) {
			defer wg.Done()
			if err := d.sendToChannel(ctx, channel, n); err != nil {
				d.logger.Error("failed to send notification",
					"channel", channel.Name,
					"type", channel.Type,
					"error", err)
			}
		}(ch)
	}
	wg.Wait()
}

// shouldSend checks if a message level meets the channel's minimum level
func shouldSend(msgLevel, chanLevel string) bool {
	if chanLevel == "" {
		return true
	}

	levels := map[string]int{
		LevelInfo:     1,
		LevelWarning:  2,
		LevelCritical: 3,
	}
	return levels[strings.ToLower(msgLevel)] >= levels[strings.ToLower(chanLevel)]
}

func (d *Dispatcher) sendToChannel(ctx context.Context, ch config.NotifyConfig, n Notification) error {
	switch strings.ToLower(ch.Type) {
	case "webhook":
		return d.post(ctx, ch, ch.URL, "application/json", mustJSON(n))
	case "slack":
		payload := map[string]any{
			"text": fmt.Sprintf("*%s*\n%s\n_Level: %s_", n.Title, n.Message, n.Level),
		}
		return d.post(ctx, ch, ch.URL, "application/json", mustJSON(payload))
	case "discord":
		payload := map[string]any{
			"content": fmt.Sprintf("**%s**\n%s", n.Title, n.Message),
		}
		return d.post(ctx, ch, ch.URL, "application/json", mustJSON(payload))
	case "ntfy":
		return d.sendNtfy(ctx, ch, n)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (d *Dispatcher) sendNtfy(ctx context.Context, ch config.NotifyConfig, n Notification) error {
	if ch.Topic == "" {
		return fmt.Errorf("missing topic for ntfy")
	}
	url := strings.TrimRight(ch.URL, "/") + "/" + ch.Topic

	headers := map[string]string{"Title": n.Title}
	switch n.Level {
	case LevelCritical:
		headers["Priority"] = "high"
		headers["Tags"] = "rotating_light"
	case LevelWarning:
		headers["Priority"] = "default"
		headers["Tags"] = "warning"
	case LevelInfo:
		headers["Priority"] = "low"
		headers["Tags"] = "information_source"
	}
	return d.postWith(ctx, ch, url, "text/plain", []byte(n.Message), headers)
}

func (d *Dispatcher) post(ctx context.Context, ch config.NotifyConfig, url, contentType string, body []byte) error {
	return d.postWith(ctx, ch, url, contentType, body, nil)
}

func (d *Dispatcher) postWith(ctx context.Context, ch config.NotifyConfig, url, contentType string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	// Configured headers win, so tokens can be supplied per channel.
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s failed with status: %d", ch.Type, resp.StatusCode)
	}
	return nil
}
