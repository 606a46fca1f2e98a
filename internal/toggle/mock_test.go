package toggle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"grimm.is/toggled/internal/snapshot"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) SetValue(ctx context.Context, path, refField string, refValue any, modField string, modValue any) (bool, error) {
	args := m.Called(ctx, path, refField, refValue, modField, modValue)
	return args.Bool(0), args.Error(1)
}

func (m *mockWriter) Execute(ctx context.Context, path, command, refField string, refValue any) error {
	return m.Called(ctx, path, command, refField, refValue).Error(0)
}

type countingRefresher struct {
	calls atomic.Int32
	hook  func()
}

func (r *countingRefresher) RequestRefresh() {
	r.calls.Add(1)
	if r.hook != nil {
		r.hook()
	}
}

type staticCaps []string

func (c staticCaps) Capabilities() []string { return c }

type swapSource struct {
	p atomic.Pointer[snapshot.Snapshot]
}

func newSwapSource(s *snapshot.Snapshot) *swapSource {
	src := &swapSource{}
	src.p.Store(s)
	return src
}

func (s *swapSource) Current() *snapshot.Snapshot { return s.p.Load() }
func (s *swapSource) Set(snap *snapshot.Snapshot) { s.p.Store(snap) }

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) Notify(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}
