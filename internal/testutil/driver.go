package testutil

import (
	"context"
	"os"
	"sync"

	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

// FakeDriver is an in-memory hypervisor.Driver. Errors set on its fields
// are returned by the matching operation.
type FakeDriver struct {
	ValidateErr error
	CreateErr   error
	StoreErr    error
	StartErr    error

	// AutoStop makes RequestStop deliver a guest-stopped event.
	AutoStop bool

	mu        sync.Mutex
	validated []*hypervisor.DevicePlan
	stores    []string
	machines  []*FakeMachine
}

// NewFakeDriver returns a FakeDriver whose machines stop when asked to.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{AutoStop: true}
}

func (d *FakeDriver) Info() hypervisor.Info {
	return hypervisor.Info{Name: "fake", Version: "test", Arch: "none"}
}

func (d *FakeDriver) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{SharedDirs: true, Networking: true, EFIBoot: true, Graphics: true}
}

// CreateVariableStore writes a placeholder file, so it fails like the
// real driver when the parent directory is missing.
func (d *FakeDriver) CreateVariableStore(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.StoreErr != nil {
		return d.StoreErr
	}
	if err := os.WriteFile(path, []byte("efi"), 0o644); err != nil {
		return err
	}
	d.stores = append(d.stores, path)
	return nil
}

func (d *FakeDriver) Validate(ctx context.Context, plan *hypervisor.DevicePlan) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := plan.Validate(); err != nil {
		return err
	}
	if d.ValidateErr != nil {
		return d.ValidateErr
	}
	d.validated = append(d.validated, plan)
	return nil
}

func (d *FakeDriver) Create(ctx context.Context, plan *hypervisor.DevicePlan) (hypervisor.Machine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	m := &FakeMachine{
		Plan:     plan,
		startErr: d.StartErr,
		autoStop: d.AutoStop,
		events:   make(chan hypervisor.Event, 1),
	}
	d.machines = append(d.machines, m)
	return m, nil
}

// Validated returns the plans accepted by Validate.
func (d *FakeDriver) Validated() []*hypervisor.DevicePlan {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*hypervisor.DevicePlan(nil), d.validated...)
}

// Stores returns the variable store paths created so far.
func (d *FakeDriver) Stores() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stores...)
}

// Machines returns every machine created so far.
func (d *FakeDriver) Machines() []*FakeMachine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeMachine(nil), d.machines...)
}

// FakeMachine is a hypervisor.Machine driven by the test.
type FakeMachine struct {
	Plan *hypervisor.DevicePlan

	startErr error
	autoStop bool
	events   chan hypervisor.Event

	mu           sync.Mutex
	started      bool
	finished     bool
	stopRequests int
	kills        int
	displays     []hypervisor.GraphicsDevice
}

func (m *FakeMachine) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.started:
		done <- hypervisor.ErrAlreadyStarted
	case m.startErr != nil:
		m.started = true
		m.finished = true
		done <- m.startErr
	default:
		m.started = true
		done <- nil
	}
	close(done)
	return done
}

func (m *FakeMachine) Events() <-chan hypervisor.Event {
	return m.events
}

func (m *FakeMachine) RequestStop(ctx context.Context) error {
	m.mu.Lock()
	m.stopRequests++
	autoStop := m.autoStop
	m.mu.Unlock()

	if autoStop {
		m.emit(hypervisor.Event{Kind: hypervisor.EventGuestStopped})
	}
	return nil
}

func (m *FakeMachine) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.kills++
	m.mu.Unlock()

	m.emit(hypervisor.Event{Kind: hypervisor.EventGuestStopped})
	return nil
}

// ShowDisplay records the device and returns at once.
func (m *FakeMachine) ShowDisplay(ctx context.Context, g hypervisor.GraphicsDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displays = append(m.displays, g)
	return nil
}

// GuestStop simulates the guest shutting down on its own.
func (m *FakeMachine) GuestStop() {
	m.emit(hypervisor.Event{Kind: hypervisor.EventGuestStopped})
}

// GuestFail simulates the guest entering an error state.
func (m *FakeMachine) GuestFail(err error) {
	m.emit(hypervisor.Event{Kind: hypervisor.EventGuestError, Err: err})
}

// emit delivers the terminal event once; later calls are dropped.
func (m *FakeMachine) emit(ev hypervisor.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished || !m.started {
		return
	}
	m.finished = true
	m.events <- ev
	close(m.events)
}

// StopRequests returns how many times RequestStop was called.
func (m *FakeMachine) StopRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopRequests
}

// Kills returns how many times Stop was called.
func (m *FakeMachine) Kills() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kills
}

// Displays returns the devices passed to ShowDisplay.
func (m *FakeMachine) Displays() []hypervisor.GraphicsDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hypervisor.GraphicsDevice(nil), m.displays...)
}

var (
	_ hypervisor.Driver  = (*FakeDriver)(nil)
	_ hypervisor.Machine = (*FakeMachine)(nil)
	_ hypervisor.Display = (*FakeMachine)(nil)
)
