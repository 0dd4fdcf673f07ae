package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/probe"
)

// mockDriver is a mock implementation of the driver interface for testing.
type mockDriver struct {
	mu sync.Mutex

	// Configurable behavior
	defineFunc  func(ctx context.Context, vm *v1alpha1.VirtualMachine) error
	startFunc   func(ctx context.Context, name string) error
	stopFunc    func(ctx context.Context, name string, graceful bool) error
	destroyFunc func(ctx context.Context, name string) error

	// Call tracking
	defineCalls  []string
	startCalls   []string
	stopCalls    []string
	destroyCalls []string
}

// newMockDriver creates a mock driver where every action succeeds.
func newMockDriver() *mockDriver {
	return &mockDriver{
		defineFunc:  func(ctx context.Context, vm *v1alpha1.VirtualMachine) error { return nil },
		startFunc:   func(ctx context.Context, name string) error { return nil },
		stopFunc:    func(ctx context.Context, name string, graceful bool) error { return nil },
		destroyFunc: func(ctx context.Context, name string) error { return nil },
	}
}

func (m *mockDriver) Define(ctx context.Context, vm *v1alpha1.VirtualMachine) error {
	m.mu.Lock()
	m.defineCalls = append(m.defineCalls, vm.Name)
	fn := m.defineFunc
	m.mu.Unlock()
	return fn(ctx, vm)
}

func (m *mockDriver) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	m.startCalls = append(m.startCalls, name)
	fn := m.startFunc
	m.mu.Unlock()
	return fn(ctx, name)
}

func (m *mockDriver) Stop(ctx context.Context, name string, graceful bool) error {
	m.mu.Lock()
	m.stopCalls = append(m.stopCalls, name)
	fn := m.stopFunc
	m.mu.Unlock()
	return fn(ctx, name, graceful)
}

func (m *mockDriver) Destroy(ctx context.Context, name string) error {
	m.mu.Lock()
	m.destroyCalls = append(m.destroyCalls, name)
	fn := m.destroyFunc
	m.mu.Unlock()
	return fn(ctx, name)
}

func (m *mockDriver) callCounts() (define, start, stop, destroy int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.defineCalls), len(m.startCalls), len(m.stopCalls), len(m.destroyCalls)
}

// mockProber is a mock implementation of the prober interface for testing.
// Probe pops observations from a queue, repeating the last one when the
// queue runs dry.
type mockProber struct {
	mu sync.Mutex

	states []probe.RuntimeState

	probeFunc     func(ctx context.Context, name string) (probe.RuntimeState, error)
	resolveIPFunc func(ctx context.Context, name string, timeout time.Duration) (string, error)

	probeCalls     int
	resolveIPCalls int
}

// newMockProber creates a prober that replays the given state sequence.
func newMockProber(states ...probe.RuntimeState) *mockProber {
	m := &mockProber{states: states}

	m.probeFunc = func(ctx context.Context, name string) (probe.RuntimeState, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if len(m.states) == 0 {
			return probe.RuntimeState{}, nil
		}
		rs := m.states[0]
		if len(m.states) > 1 {
			m.states = m.states[1:]
		}
		return rs, nil
	}
	m.resolveIPFunc = func(ctx context.Context, name string, timeout time.Duration) (string, error) {
		return "", nil
	}

	return m
}

func (m *mockProber) Probe(ctx context.Context, name string) (probe.RuntimeState, error) {
	m.mu.Lock()
	m.probeCalls++
	fn := m.probeFunc
	m.mu.Unlock()
	return fn(ctx, name)
}

func (m *mockProber) ResolveIP(ctx context.Context, name string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	m.resolveIPCalls++
	fn := m.resolveIPFunc
	m.mu.Unlock()
	return fn(ctx, name, timeout)
}

// mockImages is a mock implementation of the imageProvisioner interface for testing.
type mockImages struct {
	mu sync.Mutex

	ensureFunc       func(ctx context.Context, spec v1alpha1.DiskSpec) (bool, error)
	writeSeedISOFunc func(path string, data []byte) error

	ensureCalls       []v1alpha1.DiskSpec
	writeSeedISOCalls []string
}

// newMockImages creates an image provisioner where Ensure creates the image.
func newMockImages() *mockImages {
	return &mockImages{
		ensureFunc: func(ctx context.Context, spec v1alpha1.DiskSpec) (bool, error) {
			return true, nil
		},
		writeSeedISOFunc: func(path string, data []byte) error {
			return nil
		},
	}
}

func (m *mockImages) Ensure(ctx context.Context, spec v1alpha1.DiskSpec) (bool, error) {
	m.mu.Lock()
	m.ensureCalls = append(m.ensureCalls, spec)
	fn := m.ensureFunc
	m.mu.Unlock()
	return fn(ctx, spec)
}

func (m *mockImages) WriteSeedISO(path string, data []byte) error {
	m.mu.Lock()
	m.writeSeedISOCalls = append(m.writeSeedISOCalls, path)
	fn := m.writeSeedISOFunc
	m.mu.Unlock()
	return fn(path, data)
}
