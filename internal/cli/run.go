package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/javanstorm/vzlinux/internal/config"
	"github.com/javanstorm/vzlinux/internal/plan"
	"github.com/javanstorm/vzlinux/internal/profile"
	"github.com/javanstorm/vzlinux/internal/terminal"
	"github.com/javanstorm/vzlinux/internal/vm"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

var (
	showTiming  bool
	showDisplay bool
)

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := zerolog.Ctx(ctx)

	driver, err := hypervisor.NewDriver()
	if err != nil {
		return err
	}

	planOpts := []plan.Option{plan.WithVariableStore(config.Global.EFIStore)}

	// The display window owns the main thread, so the console is not
	// attached alongside it.
	var pipe *hypervisor.ConsolePipe
	attach := config.Global.Console && !showDisplay && terminal.IsTTY()
	if attach {
		pipe, err = hypervisor.NewConsolePipe()
		if err != nil {
			return err
		}
		defer pipe.Close()
		planOpts = append(planOpts, plan.WithConsole(pipe.Guest))
	} else if config.Global.Console && !showDisplay {
		log.Debug().Msg("stdin is not a terminal, serial console disabled")
	}

	running := make(chan struct{})
	ctrl := vm.NewController(driver,
		vm.WithPlanOptions(planOpts...),
		vm.WithProfileCheck(checkProfile(log, driver.Capabilities())),
		vm.WithObserver(func(t vm.Transition) {
			switch t.To {
			case vm.StateStarting:
				log.Info().Msg("Starting virtual machine")
			case vm.StateRunning:
				close(running)
			}
		}),
	)

	if err := ctrl.Launch(ctx, args[0]); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go handleSignals(ctx, ctrl, sigCh)

	// Log before the console switches the terminal to raw mode.
	select {
	case <-running:
		log.Info().Msg("Virtual machine started")
	case <-ctrl.Done():
	}

	switch {
	case showDisplay:
		if err := ctrl.ShowDisplay(ctx); err != nil && !errors.Is(err, vm.ErrNotRunning) {
			log.Warn().Err(err).Msg("guest display unavailable")
		}
	case attach:
		if err := attachConsole(ctx, ctrl, pipe); err != nil {
			log.Warn().Err(err).Msg("serial console detached")
		}
	}

	err = ctrl.Wait(context.WithoutCancel(ctx))

	if showTiming {
		ctrl.Timing().Report(os.Stderr)
	}
	ctrl.Timing().Log(log)

	if err == nil {
		log.Info().Msg("The guest shut down. Exiting.")
	}
	return err
}

// attachConsole connects the terminal to the guest until the controller
// terminates. Pressing the escape sequence asks the guest to shut down.
func attachConsole(ctx context.Context, ctrl *vm.Controller, pipe *hypervisor.ConsolePipe) error {
	attachCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(attachCtx)
	g.Go(func() error {
		select {
		case <-ctrl.Done():
		case <-gctx.Done():
		}
		cancel()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		err := terminal.Current().Attach(gctx, pipe.HostIn, pipe.HostOut)
		switch {
		case errors.Is(err, terminal.ErrEscapeSequence):
			if err := ctrl.RequestStop(ctx); err != nil && !errors.Is(err, vm.ErrNotRunning) {
				return err
			}
			return nil
		case err == nil, errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	})
	return g.Wait()
}

// handleSignals asks the guest to stop on the first signal and forces it
// off on the second. It returns when the controller terminates.
func handleSignals(ctx context.Context, ctrl *vm.Controller, sigCh <-chan os.Signal) {
	log := zerolog.Ctx(ctx)
	requested := false
	for {
		select {
		case <-ctrl.Done():
			return
		case sig := <-sigCh:
			if !requested {
				requested = true
				log.Info().Stringer("signal", sig).Msg("Shutting down the guest, repeat to force")
				if err := ctrl.RequestStop(ctx); err != nil && !errors.Is(err, vm.ErrNotRunning) {
					log.Warn().Err(err).Msg("guest did not accept the stop request")
				}
				continue
			}
			log.Warn().Stringer("signal", sig).Msg("Forcing the virtual machine off")
			if err := ctrl.Kill(ctx); err != nil && !errors.Is(err, vm.ErrNotRunning) {
				log.Error().Err(err).Msg("force stop failed")
			}
			return
		}
	}
}

// checkProfile logs capability issues for the loaded profile and fails
// the launch on the first fatal one.
func checkProfile(log *zerolog.Logger, caps hypervisor.Capabilities) func(*profile.Profile) error {
	return func(p *profile.Profile) error {
		issues := config.ValidateProfile(p, caps)
		for _, issue := range issues {
			if issue.Fatal {
				continue
			}
			log.Warn().Str("field", issue.Field).Msg(issue.Message)
		}
		return config.Fatal(issues)
	}
}
