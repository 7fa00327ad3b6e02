// Package vm drives one virtual machine through its lifecycle.
// It loads a profile, builds and validates the device plan, starts the
// machine and reports how it ended. A Controller runs at most one launch.
package vm
