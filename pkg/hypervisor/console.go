package hypervisor

import (
	"os"

	"gitlab.com/tozd/go/errors"
)

// ConsolePipe connects a host front-end to the guest serial console.
type ConsolePipe struct {
	// Guest is handed to the plan as its Console.
	Guest *Console

	// HostIn is written by the host to send input to the guest.
	HostIn *os.File

	// HostOut is read by the host to receive guest output.
	HostOut *os.File
}

// NewConsolePipe creates the two pipes backing a serial console.
func NewConsolePipe() (*ConsolePipe, error) {
	// inputReader is read by the VM (we write to inputWriter)
	// outputWriter is written by the VM (we read from outputReader)
	inputReader, inputWriter, err := os.Pipe()
	if err != nil {
		return nil, errors.Errorf("console: create input pipe: %w", err)
	}
	outputReader, outputWriter, err := os.Pipe()
	if err != nil {
		inputReader.Close()
		inputWriter.Close()
		return nil, errors.Errorf("console: create output pipe: %w", err)
	}

	return &ConsolePipe{
		Guest:   &Console{Read: inputReader, Write: outputWriter},
		HostIn:  inputWriter,
		HostOut: outputReader,
	}, nil
}

// Close closes all four pipe ends.
func (p *ConsolePipe) Close() error {
	var errs []error
	for _, f := range []*os.File{p.HostIn, p.HostOut, p.Guest.Read, p.Guest.Write} {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("console: close: %w", errors.Join(errs...))
	}
	return nil
}
