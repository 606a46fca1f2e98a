// Package registry keeps one toggle controller per controllable router
// object and routes toggle requests to them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"grimm.is/toggled/internal/audit"
	"grimm.is/toggled/internal/clock"
	"grimm.is/toggled/internal/events"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/metrics"
	"grimm.is/toggled/internal/snapshot"
	"grimm.is/toggled/internal/toggle"
)

// ErrUnknownEntity is returned for entity names with no controller.
var ErrUnknownEntity = errors.New("unknown entity")

// AuditWriter persists toggle attempts.
type AuditWriter interface {
	Write(audit.Entry) error
}

// Config wires a Registry to its collaborators.
type Config struct {
	// Types lists the enabled entity types. Empty enables all built-ins.
	Types []string

	Writer       toggle.Writer
	Refresher    toggle.Refresher
	Capabilities toggle.Capabilities
	Snapshots    toggle.SnapshotSource
	Notifier     toggle.Notifier

	Hub     *events.Hub
	Metrics *metrics.Registry
	Audit   AuditWriter
	Logger  *logging.Logger
	Clock   clock.Clock
}

// Registry owns the live controllers. Controller state lives only in
// memory and starts empty on every run.
type Registry struct {
	cfg    Config
	types  []toggle.Descriptor
	logger *logging.Logger
	clock  clock.Clock

	mu          sync.RWMutex
	controllers map[string]*toggle.Controller
	syncedSeq   uint64
}

// New validates the configured types and returns an empty registry.
func New(cfg Config) (*Registry, error) {
	names := cfg.Types
	if len(names) == 0 {
		names = toggle.TypeNames()
	}

	r := &Registry{
		cfg:         cfg,
		logger:      logging.OrDefault(cfg.Logger, "registry"),
		clock:       clock.OrReal(cfg.Clock),
		controllers: make(map[string]*toggle.Controller),
	}
	for _, name := range names {
		d, ok := toggle.LookupType(name)
		if !ok {
			return nil, fmt.Errorf("unknown entity type %q", name)
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		r.types = append(r.types, d)
	}
	return r, nil
}

// Types returns the enabled entity type names.
func (r *Registry) Types() []string {
	out := make([]string, len(r.types))
	for i, d := range r.types {
		out[i] = d.Type
	}
	return out
}

// Run syncs against the current snapshot, then again on every snapshot
// update until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	var updates <-chan events.Event
	if r.cfg.Hub != nil {
		updates = r.cfg.Hub.Subscribe(16, events.EventSnapshotUpdated)
		defer r.cfg.Hub.Unsubscribe(updates)
	}

	r.Sync(r.current())
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			r.Sync(r.current())
		}
	}
}

func (r *Registry) current() *snapshot.Snapshot {
	if r.cfg.Snapshots == nil {
		return nil
	}
	return r.cfg.Snapshots.Current()
}

// Sync creates controllers for new records and drops those whose record
// is gone. Existing controllers are kept so in-flight state survives.
func (r *Registry) Sync(snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}

	want := make(map[string]entityRef)
	for _, d := range r.types {
		for name, id := range entityNames(d, snap.Collection(d.Collection)) {
			want[name] = entityRef{desc: d, recordID: id}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if snap.Seq() != 0 && snap.Seq() <= r.syncedSeq {
		return
	}
	r.syncedSeq = snap.Seq()

	added, removed := 0, 0
	for name, ctrl := range r.controllers {
		ref, ok := want[name]
		if ok && ref.recordID == ctrl.RecordID() {
			continue
		}
		delete(r.controllers, name)
		removed++
	}
	for name, ref := range want {
		if _, ok := r.controllers[name]; ok {
			continue
		}
		r.controllers[name] = toggle.New(name, ref.recordID, ref.desc, toggle.Deps{
			Writer:       r.cfg.Writer,
			Refresher:    r.cfg.Refresher,
			Capabilities: r.cfg.Capabilities,
			Snapshots:    r.cfg.Snapshots,
			Notifier:     r.cfg.Notifier,
			Logger:       r.cfg.Logger,
		})
		added++
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Controllers.Set(float64(len(r.controllers)))
	}
	if added > 0 || removed > 0 {
		r.logger.Info("controllers synced", "seq", snap.Seq(), "added", added, "removed", removed, "total", len(r.controllers))
	}
}

type entityRef struct {
	desc     toggle.Descriptor
	recordID string
}

// entityNames names each record "type/name". Records without a name, or
// sharing one, fall back to "type/.id".
func entityNames(d toggle.Descriptor, coll snapshot.Collection) map[string]string {
	seen := make(map[string]int)
	for _, rec := range coll {
		if n := rec.Get(snapshot.FieldName); n != "" {
			seen[n]++
		}
	}

	out := make(map[string]string, len(coll))
	for id, rec := range coll {
		label := rec.Get(snapshot.FieldName)
		if label == "" || seen[label] > 1 {
			label = id
		}
		out[d.Type+"/"+label] = id
	}
	return out
}

// Get returns the controller for entity.
func (r *Registry) Get(entity string) (*toggle.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[entity]
	return c, ok
}

// List returns the state of every controller, sorted by entity.
func (r *Registry) List() []toggle.State {
	r.mu.RLock()
	ctrls := make([]*toggle.Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		ctrls = append(ctrls, c)
	}
	r.mu.RUnlock()

	states := make([]toggle.State, 0, len(ctrls))
	for _, c := range ctrls {
		states = append(states, c.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Entity < states[j].Entity })
	return states
}

// Toggle requests on/off for entity and records the attempt. actor names
// the caller for the audit trail.
func (r *Registry) Toggle(ctx context.Context, entity string, on bool, actor string) (toggle.Result, error) {
	ctrl, ok := r.Get(entity)
	if !ok {
		return toggle.Result{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	start := r.clock.Now()
	res, err := ctrl.Request(ctx, on)
	elapsed := r.clock.Since(start)

	entityType := ctrl.Descriptor().Type
	r.cfg.Metrics.ObserveToggle(entityType, string(res.Outcome), elapsed)

	if r.cfg.Audit != nil {
		entry := audit.Entry{
			Timestamp: start,
			RequestID: res.RequestID,
			Entity:    entity,
			Type:      entityType,
			Requested: on,
			Outcome:   string(res.Outcome),
			Message:   res.Message,
			Duration:  elapsed,
			Actor:     actor,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if werr := r.cfg.Audit.Write(entry); werr != nil {
			r.logger.Warn("audit write failed", "entity", entity, "error", werr)
		}
	}
	return res, err
}
