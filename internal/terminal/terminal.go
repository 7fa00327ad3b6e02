// Package terminal connects the host terminal to the guest serial console.
package terminal

import (
	"context"
	"fmt"
	"io"
	"os"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/term"
)

// ErrEscapeSequence is returned when the user triggers the escape sequence.
var ErrEscapeSequence = errors.New("escape sequence detected")

// Console wraps terminal operations for console attachment.
type Console struct {
	stdin  *os.File
	stdout *os.File
	fd     int
}

// Current returns the current console.
func Current() *Console {
	return &Console{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		fd:     int(os.Stdin.Fd()),
	}
}

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// SetRaw puts the terminal into raw mode and returns restore function.
func (c *Console) SetRaw() (func(), error) {
	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, errors.Errorf("terminal: enter raw mode: %w", err)
	}
	return func() {
		_ = term.Restore(c.fd, oldState)
	}, nil
}

// Attach puts the terminal in raw mode and copies keystrokes to guestIn and
// guest output to the terminal until ctx is done, guestOut closes, or the
// user presses Ctrl+] twice. In the last case it returns ErrEscapeSequence.
// The terminal is restored before Attach returns.
func (c *Console) Attach(ctx context.Context, guestIn io.Writer, guestOut io.Reader) error {
	restore, err := c.SetRaw()
	if err != nil {
		return err
	}
	defer restore()

	fmt.Fprintf(c.stdout, "Press Ctrl+] twice to shut down the guest.\r\n")

	escapeReader := NewEscapeReader(c.stdin)

	// stdin -> guest. This goroutine stays blocked in Read until the
	// process exits; stdin cannot be interrupted portably.
	go func() {
		_, _ = io.Copy(guestIn, escapeReader)
	}()

	// guest -> stdout
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		_, _ = io.Copy(c.stdout, guestOut)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-escapeReader.Escaped():
		fmt.Fprintf(c.stdout, "\r\nEscape sequence detected, shutting down...\r\n")
		return ErrEscapeSequence
	case <-outputDone:
		return nil
	}
}
