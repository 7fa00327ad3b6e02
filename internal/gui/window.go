// Package gui provides the desktop front-end: a window to pick a profile,
// start the virtual machine and watch its serial console.
package gui

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	fyneterm "github.com/fyne-io/terminal"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/javanstorm/vzlinux/internal/plan"
	"github.com/javanstorm/vzlinux/internal/vm"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

const appID = "io.github.javanstorm.vzlinux"

// Options configures the window.
type Options struct {
	Driver hypervisor.Driver

	// VariableStore is passed to the plan builder.
	VariableStore string

	// ProfilePath preselects a profile. The user still presses Start.
	ProfilePath string
}

// nopWriteCloser wraps an io.Writer with a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// window holds the widgets and the launch it controls. All fields are
// touched only on the fyne main goroutine.
type window struct {
	ctx  context.Context
	opts Options
	app  fyne.App
	win  fyne.Window
	log  *zerolog.Logger

	status  *widget.Label
	choose  *widget.Button
	start   *widget.Button
	console *fyneterm.Terminal

	profilePath string
	pipe        *hypervisor.ConsolePipe
	ctrl        *vm.Controller

	// dispatch runs controller callbacks on the UI goroutine.
	dispatch func(func())
}

// Run opens the window and blocks until the application quits. It returns
// the launch outcome, or nil if nothing was launched.
func Run(ctx context.Context, opts Options) error {
	a := app.NewWithID(appID)
	w := newWindow(ctx, a, opts)
	w.dispatch = fyne.Do

	// First SIGINT/SIGTERM closes like the window button, second forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fyne.Do(w.close)

		<-sigCh
		os.Exit(1)
	}()

	w.win.ShowAndRun()

	if w.pipe != nil {
		_ = w.pipe.Close()
	}
	if w.ctrl == nil {
		return nil
	}
	return w.outcome()
}

// outcome is the launch result once the window is gone. A VM forced off
// because the user closed the window is not a failure.
func (w *window) outcome() error {
	select {
	case <-w.ctrl.Done():
	default:
		return nil
	}
	if err := w.ctrl.Err(); err != nil && !errors.Is(err, vm.ErrKilled) {
		return err
	}
	return nil
}

func newWindow(ctx context.Context, a fyne.App, opts Options) *window {
	w := &window{
		ctx:      ctx,
		opts:     opts,
		app:      a,
		win:      a.NewWindow("Linux Virtual Machine"),
		log:      zerolog.Ctx(ctx),
		status:   widget.NewLabel(vm.Status(vm.StateIdle)),
		console:  fyneterm.New(),
		dispatch: func(fn func()) { fn() },
	}
	w.choose = widget.NewButton("Choose Profile…", w.chooseProfile)
	w.start = widget.NewButton("Start", w.launch)
	w.start.Disable()

	toolbar := container.NewHBox(w.choose, w.start, w.status)
	w.win.SetContent(container.NewBorder(toolbar, nil, nil, nil, w.console))
	w.win.SetPadded(false)
	w.win.Resize(fyne.NewSize(plan.DisplayWidth, plan.DisplayHeight))
	w.win.SetCloseIntercept(w.close)

	if opts.ProfilePath != "" {
		w.selectProfile(opts.ProfilePath)
	}
	return w
}

func (w *window) chooseProfile() {
	d := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			w.status.SetText("Could not open the profile: " + err.Error())
			return
		}
		if r == nil {
			return // cancelled
		}
		defer r.Close()
		w.selectProfile(r.URI().Path())
	}, w.win)
	d.SetFilter(storage.NewExtensionFileFilter([]string{".json"}))
	d.Show()
}

func (w *window) selectProfile(path string) {
	w.profilePath = path
	w.status.SetText("Selected profile: " + filepath.Base(path))
	w.start.Enable()
}

// launch starts the selected profile. Each window launches at most once.
func (w *window) launch() {
	if w.profilePath == "" || w.ctrl != nil {
		return
	}
	w.start.Disable()
	w.choose.Disable()

	pipe, err := hypervisor.NewConsolePipe()
	if err != nil {
		w.status.SetText(vm.Describe(err))
		return
	}
	w.pipe = pipe

	ctrl := vm.NewController(w.opts.Driver,
		vm.WithPlanOptions(
			plan.WithVariableStore(w.opts.VariableStore),
			plan.WithConsole(pipe.Guest),
		),
		vm.WithDispatcher(w.dispatch),
		vm.WithObserver(w.onTransition),
	)
	w.ctrl = ctrl

	path := w.profilePath
	go func() {
		if err := ctrl.Launch(w.ctx, path); err != nil {
			return // reported through onTransition
		}
		_ = w.console.RunWithConnection(nopWriteCloser{pipe.HostIn}, pipe.HostOut)
	}()
}

// onTransition mirrors controller progress in the status label. A normal
// guest shutdown quits the application; failures stay on screen.
func (w *window) onTransition(t vm.Transition) {
	switch {
	case t.Failed():
		w.status.SetText(vm.Describe(t.Err))
	case t.To == vm.StateTerminated:
		w.log.Info().Msg("The guest shut down. Exiting.")
		w.app.Quit()
	default:
		w.status.SetText(vm.Status(t.To))
		if t.To == vm.StateRunning {
			w.win.Canvas().Focus(w.console)
		}
	}
}

// close stops a live VM and quits.
func (w *window) close() {
	if w.ctrl == nil || w.ctrl.State() == vm.StateTerminated {
		w.app.Quit()
		return
	}
	w.status.SetText("Stopping virtual machine")
	ctrl := w.ctrl
	go func() {
		if err := ctrl.Kill(w.ctx); err != nil {
			w.log.Warn().Err(err).Msg("force stop failed")
		}
		w.dispatch(w.app.Quit)
	}()
}
