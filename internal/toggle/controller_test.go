package toggle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/toggled/internal/match"
	"grimm.is/toggled/internal/snapshot"
)

type fixture struct {
	writer    *mockWriter
	refresher *countingRefresher
	source    *swapSource
	notes     *recorder
	ctrl      *Controller
}

func newFixture(t *testing.T, typeName, recordID string, colls map[string]snapshot.Collection, caps ...string) *fixture {
	t.Helper()
	desc, ok := LookupType(typeName)
	require.True(t, ok, typeName)

	if caps == nil {
		caps = []string{"read", "write"}
	}
	f := &fixture{
		writer:    &mockWriter{},
		refresher: &countingRefresher{},
		source:    newSwapSource(snapshot.New(1, time.Unix(0, 0), colls, caps)),
		notes:     &recorder{},
	}
	f.ctrl = New(typeName+"/"+recordID, recordID, desc, Deps{
		Writer:       f.writer,
		Refresher:    f.refresher,
		Capabilities: staticCaps(caps),
		Snapshots:    f.source,
		Notifier:     f.notes,
		NewRequestID: func() string { return "req-1" },
	})
	return f
}

func natCollections() map[string]snapshot.Collection {
	rec := snapshot.Record{
		".id":           "*3",
		"chain":         "srcnat",
		"action":        "masquerade",
		"protocol":      "tcp",
		"in-interface":  "eth1",
		"dst-port":      "80",
		"out-interface": "eth0",
		"to-addresses":  "192.168.1.1",
		"to-ports":      "8080",
		"enabled":       "false",
	}
	match.NAT.Stamp(rec)
	other := snapshot.Record{".id": "*4", "chain": "dstnat", "action": "dst-nat", "enabled": "true"}
	match.NAT.Stamp(other)
	return map[string]snapshot.Collection{"nat": {"*3": rec, "*4": other}}
}

func portCollections(extra snapshot.Record) map[string]snapshot.Collection {
	rec := snapshot.Record{
		".id":              "*1",
		"name":             "ether2",
		"default-name":     "ether2",
		"port-mac-address": "48:8F:5A:00:00:02",
		"about":            "",
		"enabled":          "false",
	}
	for k, v := range extra {
		rec[k] = v
	}
	return map[string]snapshot.Collection{"interface": {"*1": rec}}
}

func TestRequest_NATCompositeKey(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections())
	f.writer.On("SetValue", mock.Anything, "/ip/firewall/nat", ".id", "*3", "disabled", false).Return(true, nil).Once()

	res, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "req-1", res.RequestID)
	f.writer.AssertExpectations(t)
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestRequest_CompositeKeyNoMatchStillWrites(t *testing.T) {
	colls := natCollections()
	dup := colls["nat"]["*3"].Clone()
	dup[".id"] = "*9"
	colls["nat"]["*9"] = dup

	f := newFixture(t, "nat", "*3", colls)
	f.writer.On("SetValue", mock.Anything, "/ip/firewall/nat", ".id", nil, "disabled", true).Return(true, nil).Once()

	res, err := f.ctrl.TurnOff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	f.writer.AssertExpectations(t)
}

func TestRequest_PortManagedByCAPsMAN(t *testing.T) {
	f := newFixture(t, "interface", "*1", portCollections(snapshot.Record{"about": "managed by CAPsMAN"}))

	res, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeManagedElsewhere, res.Outcome)
	assert.Equal(t, "managed by CAPsMAN", res.Message)
	f.writer.AssertNotCalled(t, "SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notes.all())
	assert.False(t, f.ctrl.State().Optimistic.IsSet())
}

func TestRequest_PortPoEFollowUpOnEnable(t *testing.T) {
	f := newFixture(t, "interface", "*1", portCollections(snapshot.Record{"poe-out": "off"}))
	f.writer.On("SetValue", mock.Anything, "/interface", "default-name", "ether2", "disabled", false).Return(true, nil).Once()
	f.writer.On("SetValue", mock.Anything, "/interface/ethernet", "default-name", "ether2", "poe-out", "auto-on").Return(true, nil).Once()

	res, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	f.writer.AssertExpectations(t)
	f.writer.AssertNumberOfCalls(t, "SetValue", 2)
}

func TestRequest_PortPoEFollowUpOnDisable(t *testing.T) {
	f := newFixture(t, "interface", "*1", portCollections(snapshot.Record{"poe-out": "auto-on", "enabled": "true"}))
	f.writer.On("SetValue", mock.Anything, "/interface", "default-name", "ether2", "disabled", true).Return(true, nil).Once()
	f.writer.On("SetValue", mock.Anything, "/interface/ethernet", "default-name", "ether2", "poe-out", "off").Return(true, nil).Once()

	_, err := f.ctrl.TurnOff(context.Background())
	require.NoError(t, err)
	f.writer.AssertNumberOfCalls(t, "SetValue", 2)
}

func TestRequest_PortPoEAlreadyAdvanced(t *testing.T) {
	f := newFixture(t, "interface", "*1", portCollections(snapshot.Record{"poe-out": "forced-on"}))
	f.writer.On("SetValue", mock.Anything, "/interface", "default-name", "ether2", "disabled", false).Return(true, nil).Once()

	_, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)
	f.writer.AssertNumberOfCalls(t, "SetValue", 1)
}

func TestRequest_PortPoEFailureIsBestEffort(t *testing.T) {
	f := newFixture(t, "interface", "*1", portCollections(snapshot.Record{"poe-out": "off"}))
	f.writer.On("SetValue", mock.Anything, "/interface", "default-name", "ether2", "disabled", false).Return(true, nil).Once()
	f.writer.On("SetValue", mock.Anything, "/interface/ethernet", mock.Anything, mock.Anything, "poe-out", "auto-on").Return(false, nil).Once()

	res, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestRequest_VirtualPortAddressedByName(t *testing.T) {
	f := newFixture(t, "interface", "*1", portCollections(snapshot.Record{
		"port-mac-address": "00:00:00:00:00:00-vlan10",
		"name":             "vlan10",
	}))
	f.writer.On("SetValue", mock.Anything, "/interface", "name", "vlan10", "disabled", false).Return(true, nil).Once()

	_, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)
	f.writer.AssertExpectations(t)
}

func TestRequest_RejectedRollsBack(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections())
	f.writer.On("SetValue", mock.Anything, "/ip/firewall/nat", ".id", "*3", "disabled", false).Return(false, nil).Once()

	before := f.ctrl.State()
	res, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)

	after := f.ctrl.State()
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, before.Optimistic, after.Optimistic)
	assert.Equal(t, before.Display, after.Display)
	assert.Equal(t, PhaseIdle, after.Phase)
	assert.Zero(t, f.refresher.calls.Load())

	notes := f.notes.all()
	require.Len(t, notes, 2)
	assert.True(t, notes[0].Display, "first notification shows the requested state")
	assert.Equal(t, PhaseWriting, notes[0].Phase)
	assert.Equal(t, OutcomeRejected, notes[1].Outcome)
	assert.Equal(t, PhaseRollingBack, notes[1].Phase)
	assert.False(t, notes[1].Display)
}

func TestRequest_RollbackRestoresHeldOptimisticState(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections())
	f.ctrl.optimistic = Pending(true)
	f.writer.On("SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "disabled", true).Return(false, nil).Once()

	_, err := f.ctrl.TurnOff(context.Background())
	require.NoError(t, err)

	state := f.ctrl.State()
	assert.Equal(t, Pending(true), state.Optimistic)
	assert.True(t, state.Display)
}

func TestRequest_TransportErrorRollsBackAndReturns(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections())
	boom := errors.New("connection reset")
	f.writer.On("SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, boom).Once()

	res, err := f.ctrl.TurnOn(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.False(t, f.ctrl.State().Optimistic.IsSet())
	assert.Zero(t, f.refresher.calls.Load())

	notes := f.notes.all()
	require.Len(t, notes, 2)
	assert.Equal(t, "connection reset", notes[1].Error)
}

func TestRequest_ReentrantRequestDropped(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections())
	entered := make(chan struct{})
	release := make(chan struct{})
	f.writer.On("SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(true, nil).Once()

	done := make(chan Result, 1)
	go func() {
		res, _ := f.ctrl.TurnOn(context.Background())
		done <- res
	}()

	<-entered
	assert.Equal(t, PhaseWriting, f.ctrl.State().Phase)

	res, err := f.ctrl.TurnOff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, res.Outcome)

	close(release)
	first := <-done
	assert.Equal(t, OutcomeApplied, first.Outcome)
	f.writer.AssertNumberOfCalls(t, "SetValue", 1)
}

func TestRequest_DeniedWithoutWriteCapability(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections(), "read", "api")

	before := f.ctrl.State()
	res, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.Equal(t, before, f.ctrl.State())
	assert.Empty(t, f.notes.all())
	f.writer.AssertNotCalled(t, "SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.refresher.calls.Load())
}

func TestRequest_OptimisticThenReconcile(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections())
	f.writer.On("SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()

	require.False(t, f.ctrl.IsOn())
	_, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)

	notes := f.notes.all()
	require.Len(t, notes, 2)
	assert.True(t, notes[0].Display)
	assert.Equal(t, Pending(true), notes[0].Optimistic)
	assert.Equal(t, Unset, notes[1].Optimistic)
	assert.Equal(t, OutcomeApplied, notes[1].Outcome)

	// Until the device is re-read the stale snapshot is trusted.
	assert.False(t, f.ctrl.IsOn())

	colls := natCollections()
	colls["nat"]["*3"]["enabled"] = "true"
	f.source.Set(snapshot.New(2, time.Unix(10, 0), colls, []string{"write"}))
	assert.True(t, f.ctrl.IsOn())
}

func TestRequest_IdleBeforeRefreshRequested(t *testing.T) {
	f := newFixture(t, "nat", "*3", natCollections())
	f.writer.On("SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()

	// A refresher that installs the new snapshot before returning.
	var seen State
	f.refresher.hook = func() {
		seen = f.ctrl.State()
		colls := natCollections()
		colls["nat"]["*3"]["enabled"] = "true"
		f.source.Set(snapshot.New(2, time.Unix(10, 0), colls, []string{"write"}))
	}

	res, err := f.ctrl.TurnOn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	assert.Equal(t, PhaseIdle, seen.Phase)
	assert.Equal(t, Pending(true), seen.Optimistic)
	assert.True(t, f.ctrl.IsOn())
	assert.Equal(t, PhaseIdle, f.ctrl.State().Phase)
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestRequest_KidcontrolPauseUsesCommand(t *testing.T) {
	colls := map[string]snapshot.Collection{
		"kid-control": {"*7": {".id": "*7", "name": "kids", "paused": "false"}},
	}
	f := newFixture(t, "kidcontrol_pause", "*7", colls)
	f.writer.On("Execute", mock.Anything, "/ip/kid-control", "pause", "name", "kids").Return(nil).Once()

	require.True(t, f.ctrl.IsOn())
	res, err := f.ctrl.TurnOff(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	f.writer.AssertExpectations(t)
	f.writer.AssertNotCalled(t, "SetValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequest_KidcontrolResumeFailure(t *testing.T) {
	colls := map[string]snapshot.Collection{
		"kid-control": {"*7": {".id": "*7", "name": "kids", "paused": "true"}},
	}
	f := newFixture(t, "kidcontrol_pause", "*7", colls)
	f.writer.On("Execute", mock.Anything, "/ip/kid-control", "resume", "name", "kids").Return(errors.New("no such item")).Once()

	res, err := f.ctrl.TurnOn(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.False(t, f.ctrl.IsOn())
}

func TestRequest_QueueByName(t *testing.T) {
	colls := map[string]snapshot.Collection{
		"queue": {
			"*A": {".id": "*A", "name": "guest", "enabled": "true"},
			"*B": {".id": "*B", "name": "office", "enabled": "true"},
		},
	}
	f := newFixture(t, "queue", "*B", colls)
	f.writer.On("SetValue", mock.Anything, "/queue/simple", ".id", "*B", "disabled", true).Return(true, nil).Once()

	_, err := f.ctrl.TurnOff(context.Background())
	require.NoError(t, err)
	f.writer.AssertExpectations(t)
}

func TestRequest_DirectReferenceMissingValue(t *testing.T) {
	colls := map[string]snapshot.Collection{
		"ppp_secret": {"*2": {".id": "*2", "enabled": "true"}},
	}
	f := newFixture(t, "ppp_secret", "*2", colls)
	f.writer.On("SetValue", mock.Anything, "/ppp/secret", "name", nil, "disabled", true).Return(true, nil).Once()

	_, err := f.ctrl.TurnOff(context.Background())
	require.NoError(t, err)
	f.writer.AssertExpectations(t)
}
