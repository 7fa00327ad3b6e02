package vm

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/goleak"

	"github.com/javanstorm/vzlinux/internal/plan"
	"github.com/javanstorm/vzlinux/internal/profile"
	"github.com/javanstorm/vzlinux/internal/testutil"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func states(history []Transition) []State {
	out := make([]State, 0, len(history))
	for _, t := range history {
		out = append(out, t.To)
	}
	return out
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, time.Millisecond,
		"controller never reached %s, stuck in %s", want, c.State())
}

// launchRunning launches a default profile and waits for the guest to run.
func launchRunning(t *testing.T, driver *testutil.FakeDriver, opts ...Option) (*Controller, *testutil.FakeMachine) {
	t.Helper()
	path := testutil.WriteProfile(t, testutil.VMDir(t), nil)

	c := NewController(driver, opts...)
	require.NoError(t, c.Launch(context.Background(), path))
	waitForState(t, c, StateRunning)

	machines := driver.Machines()
	require.Len(t, machines, 1)
	return c, machines[0]
}

func TestControllerGuestShutdown(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())

	m.GuestStop()

	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, StateTerminated, c.State())
	assert.NoError(t, c.Err())
	assert.Equal(t,
		[]State{StateLoading, StateConfiguring, StateStarting, StateRunning, StateTerminated},
		states(c.History()))

	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed after termination")
	}
}

func TestControllerExposesProfileAndPlan(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())
	defer func() {
		m.GuestStop()
		_ = c.Wait(context.Background())
	}()

	require.NotNil(t, c.Profile())
	assert.Equal(t, profile.DefaultCPUs, c.Profile().CPUs)
	assert.Same(t, m.Plan, c.Plan())
}

func TestControllerDecodeError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	testutil.CreateTestFile(t, path) // not JSON
	driver := testutil.NewFakeDriver()

	c := NewController(driver)
	err := c.Launch(context.Background(), path)

	var de *profile.DecodeError
	require.True(t, errors.As(err, &de), "want *profile.DecodeError, got %T: %v", err, err)
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, err, c.Wait(context.Background()))
	assert.Equal(t, []State{StateLoading, StateTerminated}, states(c.History()))
	assert.Empty(t, driver.Machines())
}

func TestControllerMissingKernel(t *testing.T) {
	driver := testutil.NewFakeDriver()
	path := testutil.WriteProfile(t, t.TempDir(), nil)

	c := NewController(driver)
	err := c.Launch(context.Background(), path)

	var ce *plan.ConfigurationError
	require.True(t, errors.As(err, &ce), "want *plan.ConfigurationError, got %T: %v", err, err)
	assert.Equal(t, []State{StateLoading, StateConfiguring, StateTerminated}, states(c.History()))
	assert.Empty(t, driver.Machines())
}

func TestControllerBootStoreError(t *testing.T) {
	driver := testutil.NewFakeDriver()
	driver.StoreErr = errors.New("read-only file system")
	path := testutil.WriteProfile(t, t.TempDir(), map[string]any{"uefi": true})

	c := NewController(driver)
	err := c.Launch(context.Background(), path)

	var bse *plan.BootStoreError
	require.True(t, errors.As(err, &bse), "want *plan.BootStoreError, got %T: %v", err, err)
	assert.ErrorIs(t, err, driver.StoreErr)
	assert.Empty(t, driver.Machines())
}

func TestControllerCreateError(t *testing.T) {
	driver := testutil.NewFakeDriver()
	driver.CreateErr = errors.New("too many VMs")
	path := testutil.WriteProfile(t, testutil.VMDir(t), nil)

	c := NewController(driver)
	err := c.Launch(context.Background(), path)

	var ce *plan.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, driver.CreateErr)
}

func TestControllerStartError(t *testing.T) {
	driver := testutil.NewFakeDriver()
	driver.StartErr = errors.New("entitlement missing")
	path := testutil.WriteProfile(t, testutil.VMDir(t), nil)

	c := NewController(driver)
	require.NoError(t, c.Launch(context.Background(), path))

	err := c.Wait(context.Background())
	var se *StartError
	require.True(t, errors.As(err, &se), "want *StartError, got %T: %v", err, err)
	assert.ErrorIs(t, err, driver.StartErr)
	assert.Equal(t,
		[]State{StateLoading, StateConfiguring, StateStarting, StateTerminated},
		states(c.History()))
}

func TestControllerGuestError(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())

	m.GuestFail(hypervisor.ErrGuestFailed)

	err := c.Wait(context.Background())
	var ge *GuestError
	require.True(t, errors.As(err, &ge), "want *GuestError, got %T: %v", err, err)
	assert.ErrorIs(t, err, hypervisor.ErrGuestFailed)
	assert.Contains(t, err.Error(), "virtual machine entered error state")

	last := c.History()[len(c.History())-1]
	assert.Equal(t, StateRunning, last.From)
	assert.True(t, last.Failed())
}

func TestControllerGuestErrorWithoutDiagnostic(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())

	m.GuestFail(nil)

	err := c.Wait(context.Background())
	assert.ErrorIs(t, err, hypervisor.ErrGuestFailed)
}

func TestControllerRequestStop(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())

	require.NoError(t, c.RequestStop(context.Background()))

	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, 1, m.StopRequests())
	assert.Equal(t, 0, m.Kills())
}

func TestControllerKill(t *testing.T) {
	driver := testutil.NewFakeDriver()
	driver.AutoStop = false
	c, m := launchRunning(t, driver)

	// The guest ignores the polite request.
	require.NoError(t, c.RequestStop(context.Background()))
	assert.Equal(t, StateRunning, c.State())

	require.NoError(t, c.Kill(context.Background()))
	err := c.Wait(context.Background())

	// A forced stop is not a normal shutdown.
	var guestErr *GuestError
	require.True(t, errors.As(err, &guestErr), "want *GuestError, got %T", err)
	assert.ErrorIs(t, err, ErrKilled)
	assert.Equal(t, "The virtual machine was forced off.", Describe(err))
	assert.Equal(t, 1, m.Kills())
}

func TestControllerProfileCheckStopsLaunch(t *testing.T) {
	unsupported := errors.New("networking is not supported")
	driver := testutil.NewFakeDriver()
	path := testutil.WriteProfile(t, testutil.VMDir(t), map[string]any{"network": true})

	var checked *profile.Profile
	c := NewController(driver, WithProfileCheck(func(p *profile.Profile) error {
		checked = p
		if p.NetworkEnabled {
			return unsupported
		}
		return nil
	}))

	err := c.Launch(context.Background(), path)

	var cfgErr *plan.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "want *plan.ConfigurationError, got %T", err)
	assert.ErrorIs(t, err, unsupported)
	require.NotNil(t, checked)
	assert.True(t, checked.NetworkEnabled)
	assert.Empty(t, driver.Machines(), "no VM is created after a failed check")
	assert.Equal(t, []State{StateLoading, StateConfiguring, StateTerminated}, states(c.History()))
}

func TestControllerShowDisplay(t *testing.T) {
	c := NewController(testutil.NewFakeDriver())
	assert.ErrorIs(t, c.ShowDisplay(context.Background()), ErrNotRunning)

	c, m := launchRunning(t, testutil.NewFakeDriver())
	require.NoError(t, c.ShowDisplay(context.Background()))
	assert.Equal(t,
		[]hypervisor.GraphicsDevice{{Width: plan.DisplayWidth, Height: plan.DisplayHeight}},
		m.Displays())

	m.GuestStop()
	require.NoError(t, c.Wait(context.Background()))
	assert.ErrorIs(t, c.ShowDisplay(context.Background()), ErrNotRunning)
}

func TestControllerStopBeforeLaunch(t *testing.T) {
	c := NewController(testutil.NewFakeDriver())

	assert.ErrorIs(t, c.RequestStop(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, c.Kill(context.Background()), ErrNotRunning)
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerStopAfterTermination(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())
	m.GuestStop()
	require.NoError(t, c.Wait(context.Background()))

	assert.ErrorIs(t, c.RequestStop(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, c.Kill(context.Background()), ErrNotRunning)
}

func TestControllerLaunchOnce(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())

	err := c.Launch(context.Background(), "other.json")
	assert.ErrorIs(t, err, ErrAlreadyLaunched)
	assert.Equal(t, StateRunning, c.State())

	m.GuestStop()
	require.NoError(t, c.Wait(context.Background()))

	// Terminated is final.
	assert.ErrorIs(t, c.Launch(context.Background(), "other.json"), ErrAlreadyLaunched)
	assert.Equal(t, StateTerminated, c.State())
}

func TestControllerTerminatedIsFinal(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())
	m.GuestStop()
	require.NoError(t, c.Wait(context.Background()))

	// Events after the end do not change the outcome.
	m.GuestFail(errors.New("late failure"))
	assert.NoError(t, c.Err())
	assert.Len(t, c.History(), 5)
}

func TestControllerObserverOrder(t *testing.T) {
	var (
		mu         sync.Mutex
		seen       []Transition
		dispatched int
	)
	observer := func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	}
	dispatcher := func(fn func()) {
		mu.Lock()
		dispatched++
		mu.Unlock()
		fn()
	}

	c, m := launchRunning(t, testutil.NewFakeDriver(), WithObserver(observer), WithDispatcher(dispatcher))
	m.GuestStop()
	require.NoError(t, c.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, c.History(), seen)
	assert.Equal(t, 5, dispatched)
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, seen[i-1].To, seen[i].From, "transition %d does not continue from %d", i, i-1)
		assert.False(t, seen[i].At.Before(seen[i-1].At))
	}
}

func TestControllerWaitContextCanceled(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.Canceled)
	assert.Equal(t, StateRunning, c.State())

	m.GuestStop()
	require.NoError(t, c.Wait(context.Background()))
}

func TestControllerTiming(t *testing.T) {
	c, m := launchRunning(t, testutil.NewFakeDriver())
	m.GuestStop()
	require.NoError(t, c.Wait(context.Background()))

	var names []string
	for _, p := range c.Timing().Phases() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"idle", "loading", "configuring", "starting", "running"}, names)
}

func TestControllerPlanOptions(t *testing.T) {
	dir := t.TempDir()
	driver := testutil.NewFakeDriver()
	path := testutil.WriteProfile(t, dir, map[string]any{"uefi": true, "storage": []string{}})

	c := NewController(driver, WithPlanOptions(plan.WithVariableStore("nvram")))
	require.NoError(t, c.Launch(context.Background(), path))
	waitForState(t, c, StateRunning)

	assert.Equal(t, []string{filepath.Join(dir, "nvram")}, driver.Stores())

	require.NoError(t, c.RequestStop(context.Background()))
	require.NoError(t, c.Wait(context.Background()))
}
