// Package timing provides simple phase timing for launch performance measurement.
package timing

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Timer tracks durations of named phases. It is safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	start  time.Time
	last   time.Time
	phases []Phase
}

// Phase represents a timed phase with name and duration.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a new Timer starting from now.
func New() *Timer {
	now := time.Now()
	return &Timer{start: now, last: now}
}

// Mark records a named phase ending now.
// Duration is time since the previous mark, or since start for the first.
func (t *Timer) Mark(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.phases = append(t.phases, Phase{Name: name, Duration: now.Sub(t.last)})
	t.last = now
}

// Total returns the total elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Phases returns a copy of all recorded phases.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Phase(nil), t.phases...)
}

// Report prints a timing report to the given writer.
func (t *Timer) Report(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "=== Launch Timing ===")
	for _, p := range t.Phases() {
		fmt.Fprintf(w, "  %-20s %s\n", p.Name+":", formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-20s %s\n", "TOTAL:", formatDuration(t.Total()))
	fmt.Fprintln(w, "=====================")
}

// Log writes one debug event per phase.
func (t *Timer) Log(log *zerolog.Logger) {
	for _, p := range t.Phases() {
		log.Debug().Str("phase", p.Name).Dur("duration", p.Duration).Msg("phase finished")
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
