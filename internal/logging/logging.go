// Package logging configures the zerolog console output used by every
// front-end: one line per event, prefixed "[I|2006-01-02 15:04:05.000]".
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gitlab.com/tozd/go/errors"
)

// TimeFormat is the timestamp layout inside the line prefix.
const TimeFormat = "2006-01-02 15:04:05.000"

const prefixField = "prefix"

// New returns a logger writing prefixed console lines to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(NewConsoleWriter(w)).Level(level)
}

// NewConsoleWriter returns a zerolog.ConsoleWriter producing the
// "[L|time] message key=value" layout. Colour is used only on terminals.
func NewConsoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return newConsoleWriter(w, isTerminal(w))
}

func newConsoleWriter(w io.Writer, tty bool) zerolog.ConsoleWriter {
	out := w
	if tty {
		// The guest console puts the terminal in raw mode, where a bare
		// \n does not return the cursor.
		out = crlfWriter{w}
	}
	return zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       !tty,
		PartsOrder:    []string{prefixField, zerolog.MessageFieldName},
		FieldsExclude: []string{prefixField},
		FormatPrepare: func(evt map[string]interface{}) error {
			lvl, _ := evt[zerolog.LevelFieldName].(string)
			evt[prefixField] = fmt.Sprintf("[%s|%s]", levelLetter(lvl), time.Now().Format(TimeFormat))
			return nil
		},
	}
}

// Setup parses level, installs a console logger on w as the global
// logger and returns it.
func Setup(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	logger := New(w, lvl)
	log.Logger = logger
	return logger, nil
}

// ParseLevel accepts zerolog level names, case-insensitively.
// The empty string means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, errors.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

func levelLetter(level string) string {
	switch level {
	case zerolog.LevelTraceValue:
		return "T"
	case zerolog.LevelDebugValue:
		return "D"
	case zerolog.LevelInfoValue:
		return "I"
	case zerolog.LevelWarnValue:
		return "W"
	case zerolog.LevelErrorValue:
		return "E"
	case zerolog.LevelFatalValue:
		return "F"
	case zerolog.LevelPanicValue:
		return "P"
	default:
		return "-"
	}
}

type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
