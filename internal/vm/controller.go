package vm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/javanstorm/vzlinux/internal/plan"
	"github.com/javanstorm/vzlinux/internal/profile"
	"github.com/javanstorm/vzlinux/internal/timing"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

// Option configures a Controller.
type Option func(*Controller)

// WithPlanOptions passes options to the plan builder.
func WithPlanOptions(opts ...plan.Option) Option {
	return func(c *Controller) {
		c.planOpts = append(c.planOpts, opts...)
	}
}

// WithObserver registers fn to receive every transition, in order.
func WithObserver(fn func(Transition)) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, fn)
	}
}

// WithProfileCheck runs check on the loaded profile before its plan is
// built. An error ends the launch as a *plan.ConfigurationError.
func WithProfileCheck(check func(*profile.Profile) error) Option {
	return func(c *Controller) {
		c.checks = append(c.checks, check)
	}
}

// WithDispatcher runs observer callbacks through dispatch, for example to
// move them onto a UI thread. The default calls them directly.
func WithDispatcher(dispatch func(func())) Option {
	return func(c *Controller) {
		c.dispatch = dispatch
	}
}

// Controller orchestrates a single VM launch from profile to termination.
type Controller struct {
	driver    hypervisor.Driver
	planOpts  []plan.Option
	observers []func(Transition)
	checks    []func(*profile.Profile) error
	dispatch  func(func())
	timer     *timing.Timer
	log       zerolog.Logger

	mu      sync.RWMutex
	state   State
	history []Transition
	profile *profile.Profile
	plan    *hypervisor.DevicePlan
	machine hypervisor.Machine
	killed  bool
	err     error
	done    chan struct{}
}

// NewController creates an idle controller for driver.
func NewController(driver hypervisor.Driver, opts ...Option) *Controller {
	c := &Controller{
		driver:   driver,
		dispatch: func(fn func()) { fn() },
		timer:    timing.New(),
		log:      zerolog.Nop(),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Launch loads the profile at path, builds and validates its plan, creates
// the VM and asks the hypervisor to start it. It returns once the start
// request is issued; use Wait or Done for the outcome.
//
// A failure before the start request terminates the controller and is
// returned. A Controller can be launched once.
func (c *Controller) Launch(ctx context.Context, path string) error {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		c.log = *l
	}

	if !c.advance(StateIdle, StateLoading) {
		return ErrAlreadyLaunched
	}

	p, err := profile.Load(path)
	if err != nil {
		return c.fail(err)
	}
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
	c.log.Debug().Str("profile", path).Int("cpus", p.CPUs).Int("memory_mb", p.MemoryMB).
		Bool("uefi", p.UEFIEnabled).Msg("profile loaded")

	c.advance(StateLoading, StateConfiguring)

	for _, check := range c.checks {
		if err := check(p); err != nil {
			return c.fail(&plan.ConfigurationError{Err: err})
		}
	}

	dp, err := plan.NewBuilder(c.driver, c.planOpts...).Build(ctx, p)
	if err != nil {
		return c.fail(err)
	}

	machine, err := c.driver.Create(ctx, dp)
	if err != nil {
		return c.fail(&plan.ConfigurationError{Err: err})
	}
	c.mu.Lock()
	c.plan = dp
	c.machine = machine
	c.mu.Unlock()

	c.advance(StateConfiguring, StateStarting)

	go c.supervise(ctx, machine, machine.Start(ctx))
	return nil
}

// supervise follows the machine from the start request to its final event.
func (c *Controller) supervise(ctx context.Context, machine hypervisor.Machine, started <-chan error) {
	if err := <-started; err != nil {
		c.fail(&StartError{Err: err})
		return
	}
	c.advance(StateStarting, StateRunning)

	ev, ok := <-machine.Events()
	switch {
	case !ok:
		c.fail(&GuestError{Err: ErrEventsClosed})
	case ev.Kind == hypervisor.EventGuestStopped && c.wasKilled():
		c.fail(&GuestError{Err: ErrKilled})
	case ev.Kind == hypervisor.EventGuestStopped:
		c.terminate(nil)
	default:
		err := ev.Err
		if err == nil {
			err = hypervisor.ErrGuestFailed
		}
		c.fail(&GuestError{Err: err})
	}
}

// RequestStop asks the guest to shut down.
func (c *Controller) RequestStop(ctx context.Context) error {
	m, err := c.liveMachine()
	if err != nil {
		return err
	}
	c.log.Info().Msg("requesting guest shutdown")
	return m.RequestStop(ctx)
}

// Kill forcefully stops the VM. The launch then ends with ErrKilled
// rather than as a normal shutdown.
func (c *Controller) Kill(ctx context.Context) error {
	m, err := c.liveMachine()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.killed = true
	c.mu.Unlock()

	c.log.Warn().Msg("forcing virtual machine stop")
	return m.Stop(ctx)
}

func (c *Controller) wasKilled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.killed
}

// ShowDisplay opens a native window on the guest's first graphics device
// and blocks until the window closes. It must run on the main goroutine
// with the OS thread locked.
func (c *Controller) ShowDisplay(ctx context.Context) error {
	m, err := c.liveMachine()
	if err != nil {
		return err
	}
	dp := c.Plan()
	if dp == nil || len(dp.Graphics) == 0 {
		return ErrNoDisplay
	}
	d, ok := m.(hypervisor.Display)
	if !ok {
		return hypervisor.ErrDisplayUnsupported
	}
	c.log.Debug().Int("width", dp.Graphics[0].Width).Int("height", dp.Graphics[0].Height).Msg("opening guest display")
	return d.ShowDisplay(ctx, dp.Graphics[0])
}

func (c *Controller) liveMachine() (hypervisor.Machine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.machine == nil || c.state == StateTerminated {
		return nil, ErrNotRunning
	}
	return c.machine, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// History returns every transition so far.
func (c *Controller) History() []Transition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Transition(nil), c.history...)
}

// Profile returns the loaded profile, or nil before loading finished.
func (c *Controller) Profile() *profile.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

// Plan returns the validated device plan, or nil before it was built.
func (c *Controller) Plan() *hypervisor.DevicePlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plan
}

// Timing returns the per-phase timer.
func (c *Controller) Timing() *timing.Timer {
	return c.timer
}

// Done is closed once the controller is terminated.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the termination cause. It is nil while running and after a
// normal guest shutdown.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Wait blocks until the controller terminates or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance moves from one state to the next. It reports false if the
// controller was not in from.
func (c *Controller) advance(from, to State) bool {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return false
	}
	t := c.record(to, nil)
	c.mu.Unlock()

	c.notify(t)
	return true
}

func (c *Controller) fail(err error) error {
	c.terminate(err)
	return err
}

// terminate moves to StateTerminated. Terminated is final, so only the
// first call has an effect.
func (c *Controller) terminate(err error) {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	t := c.record(StateTerminated, err)
	c.err = err
	c.mu.Unlock()

	c.notify(t)
	close(c.done)
}

// record must be called with c.mu held.
func (c *Controller) record(to State, err error) Transition {
	t := Transition{From: c.state, To: to, At: time.Now(), Err: err}
	c.timer.Mark(c.state.String())
	c.state = to
	c.history = append(c.history, t)
	return t
}

func (c *Controller) notify(t Transition) {
	c.log.Debug().Err(t.Err).Stringer("from", t.From).Stringer("to", t.To).Msg("state changed")

	for _, fn := range c.observers {
		c.dispatch(func() { fn(t) })
	}
}
