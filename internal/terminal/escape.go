package terminal

import (
	"io"
	"sync"
	"time"
)

const (
	// EscapeChar is Ctrl+] (0x1D).
	EscapeChar = 0x1D

	// EscapeCount is the number of consecutive escape chars needed.
	EscapeCount = 2

	// EscapeTimeout is the maximum time between escape key presses.
	EscapeTimeout = 500 * time.Millisecond
)

// EscapeReader passes input through while watching for EscapeCount
// EscapeChar bytes pressed within EscapeTimeout of each other. Once seen it
// closes Escaped and reports io.EOF. Escape chars that turn out not to be
// part of the sequence are forwarded with the next ordinary byte.
type EscapeReader struct {
	r       io.Reader
	now     func() time.Time
	escaped chan struct{}
	once    sync.Once

	mu      sync.Mutex
	pending int
	last    time.Time
	done    bool
	carry   []byte
}

// NewEscapeReader creates an EscapeReader wrapping the given reader.
func NewEscapeReader(r io.Reader) *EscapeReader {
	return &EscapeReader{
		r:       r,
		now:     time.Now,
		escaped: make(chan struct{}),
	}
}

// Escaped returns a channel that is closed when the escape sequence is detected.
func (e *EscapeReader) Escaped() <-chan struct{} {
	return e.escaped
}

func (e *EscapeReader) Read(p []byte) (int, error) {
	e.mu.Lock()
	if len(e.carry) > 0 {
		n := copy(p, e.carry)
		e.carry = e.carry[n:]
		e.mu.Unlock()
		return n, nil
	}
	done := e.done
	e.mu.Unlock()
	if done {
		return 0, io.EOF
	}

	n, err := e.r.Read(p)
	if n == 0 {
		return 0, err
	}

	in := make([]byte, n)
	copy(in, p[:n])

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]byte, 0, n+e.pending)
	for _, b := range in {
		if b != EscapeChar {
			out = e.flush(out)
			out = append(out, b)
			continue
		}

		now := e.now()
		if e.pending > 0 && now.Sub(e.last) > EscapeTimeout {
			// Too slow: the earlier presses were ordinary input.
			out = e.flush(out)
		}
		e.pending++
		e.last = now

		if e.pending >= EscapeCount {
			e.pending = 0
			e.done = true
			e.once.Do(func() { close(e.escaped) })
			break
		}
	}

	if len(out) == 0 {
		if e.done {
			return 0, io.EOF
		}
		// Everything read was a held escape char; the caller retries.
		return 0, err
	}

	// Held escape chars can make out longer than p. The rest is
	// returned by the next Read.
	c := copy(p, out)
	if c < len(out) {
		e.carry = out[c:]
		return c, nil
	}
	if e.done {
		return c, nil
	}
	return c, err
}

// flush forwards held escape chars. Caller holds e.mu.
func (e *EscapeReader) flush(out []byte) []byte {
	for ; e.pending > 0; e.pending-- {
		out = append(out, EscapeChar)
	}
	return out
}
