// Package main is the entry point for vzlinux.
package main

import (
	"os"
	"runtime"

	"github.com/javanstorm/vzlinux/internal/cli"
)

func init() {
	// The guest display window runs AppKit, which needs the main thread.
	runtime.LockOSThread()
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
