package toggle

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/match"
	"grimm.is/toggled/internal/snapshot"
)

// Deps are the collaborators a Controller is built with.
type Deps struct {
	Writer       Writer
	Refresher    Refresher
	Capabilities Capabilities
	Snapshots    SnapshotSource
	Notifier     Notifier
	Logger       *logging.Logger

	// NewRequestID overrides request id generation in tests.
	NewRequestID func() string
}

// Controller owns the runtime state of one toggle instance.
type Controller struct {
	entity   string
	recordID string
	desc     Descriptor
	deps     Deps
	logger   *logging.Logger

	mu         sync.Mutex
	optimistic Optimistic
	phase      Phase
}

// New creates a controller for the record recordID in desc.Collection.
// entity is the stable name used in notifications and logs.
func New(entity, recordID string, desc Descriptor, deps Deps) *Controller {
	if deps.NewRequestID == nil {
		deps.NewRequestID = uuid.NewString
	}
	return &Controller{
		entity:   entity,
		recordID: recordID,
		desc:     desc,
		deps:     deps,
		logger:   logging.OrDefault(deps.Logger, "toggle").WithFields(map[string]any{"entity": entity}),
		phase:    PhaseIdle,
	}
}

// Entity returns the controller's entity name.
func (c *Controller) Entity() string { return c.entity }

// RecordID returns the snapshot record id the controller reads.
func (c *Controller) RecordID() string { return c.recordID }

// Descriptor returns the controller's static metadata.
func (c *Controller) Descriptor() Descriptor { return c.desc }

// Record returns the controller's record from the current snapshot.
func (c *Controller) Record() snapshot.Record {
	rec, _ := c.current().Record(c.desc.Collection, c.recordID)
	return rec
}

func (c *Controller) current() *snapshot.Snapshot {
	if c.deps.Snapshots == nil {
		return nil
	}
	return c.deps.Snapshots.Current()
}

// IsOn returns the displayed state.
func (c *Controller) IsOn() bool {
	rec := c.Record()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Display(c.optimistic, rec, c.desc)
}

// State returns a snapshot of the controller's runtime state.
func (c *Controller) State() State {
	rec := c.Record()
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Entity:     c.entity,
		Type:       c.desc.Type,
		RecordID:   c.recordID,
		Display:    Display(c.optimistic, rec, c.desc),
		Optimistic: c.optimistic,
		Phase:      c.phase,
		Record:     rec,
	}
}

// TurnOn requests the on state.
func (c *Controller) TurnOn(ctx context.Context) (Result, error) {
	return c.Request(ctx, true)
}

// TurnOff requests the off state.
func (c *Controller) TurnOff(ctx context.Context) (Result, error) {
	return c.Request(ctx, false)
}

// Request drives one toggle attempt to completion. Permission, ownership
// and re-entrancy refusals return without touching state or the network.
// A transport error is handled like a rejection and also returned.
func (c *Controller) Request(ctx context.Context, on bool) (Result, error) {
	if !hasCapability(c.deps.Capabilities, CapabilityWrite) {
		return Result{Outcome: OutcomeDenied}, nil
	}

	rec := c.Record()
	if c.desc.Port {
		if reason, managed := managedElsewhere(rec); managed {
			c.logger.Error("unable to change port state", "port", rec.Get(c.desc.Reference), "requested", on, "reason", reason)
			return Result{Outcome: OutcomeManagedElsewhere, Message: reason}, nil
		}
	}

	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		c.logger.Debug("request dropped, write in progress", "requested", on)
		return Result{Outcome: OutcomeBusy}, nil
	}
	previous := c.optimistic
	previousDisplay := Display(previous, rec, c.desc)
	c.phase = PhaseWriting
	c.optimistic = Pending(on)
	c.mu.Unlock()

	reqID := c.deps.NewRequestID()
	c.emit(reqID, on, "", nil)

	ok, err := c.write(ctx, rec, on)
	if !ok || err != nil {
		c.mu.Lock()
		c.phase = PhaseRollingBack
		c.optimistic = previous
		c.mu.Unlock()

		c.logger.Warn("write rejected, rolled back", "request_id", reqID, "requested", on, "restored", previousDisplay, "error", err)
		c.emit(reqID, on, OutcomeRejected, err)

		c.mu.Lock()
		c.phase = PhaseIdle
		c.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("toggle %s: %w", c.entity, err)
		}
		return Result{Outcome: OutcomeRejected, RequestID: reqID}, err
	}

	// Refreshers may reconcile synchronously and must observe PhaseIdle.
	c.mu.Lock()
	c.phase = PhaseIdle
	c.mu.Unlock()

	if c.deps.Refresher != nil {
		c.deps.Refresher.RequestRefresh()
	}

	c.mu.Lock()
	c.optimistic = Unset
	c.mu.Unlock()

	c.logger.Info("write applied", "request_id", reqID, "requested", on)
	c.emit(reqID, on, OutcomeApplied, nil)
	return Result{Outcome: OutcomeApplied, RequestID: reqID}, nil
}

// write issues the primary mutation and, for ports, the PoE follow-up.
func (c *Controller) write(ctx context.Context, rec snapshot.Record, on bool) (bool, error) {
	if c.deps.Writer == nil {
		return false, fmt.Errorf("no writer configured")
	}
	refField, refValue := c.resolve(rec)

	if cmd, ok := c.desc.Identity.(CommandBased); ok {
		if err := c.deps.Writer.Execute(ctx, c.desc.Path, cmd.Command(on), refField, refValue); err != nil {
			return false, err
		}
		return true, nil
	}

	// The remote schema stores "disabled", so on writes false.
	ok, err := c.deps.Writer.SetValue(ctx, c.desc.Path, refField, refValue, c.desc.ModField, !on)
	if err != nil || !ok {
		return false, err
	}

	if c.desc.Port {
		c.followPoE(ctx, rec, refField, refValue, on)
	}
	return true, nil
}

// resolve returns the reference field and value addressing the target.
// An unresolved target yields a nil value; the write still goes out.
func (c *Controller) resolve(rec snapshot.Record) (string, any) {
	switch id := c.desc.Identity.(type) {
	case CompositeKey:
		objID, ok := match.Locate(c.current(), c.desc.Collection, id.Signature, rec)
		if !ok {
			c.logger.Warn("no unique match for rule signature", "signature", id.Signature.Key(rec))
			return snapshot.FieldID, nil
		}
		return snapshot.FieldID, objID
	case NameKey:
		objID, ok := match.LocateByName(c.current(), c.desc.Collection, rec)
		if !ok {
			c.logger.Warn("no unique match for name", "name", rec.Get(snapshot.FieldName))
			return snapshot.FieldID, nil
		}
		return snapshot.FieldID, objID
	}

	field := c.desc.Reference
	if c.desc.Port {
		field = portReferenceField(rec, field)
	}
	v, ok := rec.Lookup(field)
	if !ok {
		return field, nil
	}
	return field, v
}

func (c *Controller) emit(reqID string, requested bool, outcome Outcome, err error) {
	if c.deps.Notifier == nil {
		return
	}
	state := c.State()
	change := Change{
		Entity:     c.entity,
		Type:       c.desc.Type,
		RequestID:  reqID,
		Requested:  requested,
		Phase:      state.Phase,
		Display:    state.Display,
		Optimistic: state.Optimistic,
		Outcome:    outcome,
	}
	if err != nil {
		change.Error = err.Error()
	}
	c.deps.Notifier.Notify(change)
}
