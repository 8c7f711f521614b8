// Package logging provides kelp's ambient Logger, shaped after rivine's
// persist.Logger (Println/Printf/Debugln/Severe/Critical/Close) but backed
// by logrus instead of a bare *log.Logger, so level filtering comes for
// free instead of being hand-rolled.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultFilter is the filter string used when KELP_LOG is unset, matching
// the "kelp=info" default from the CLI contract.
const DefaultFilter = "kelp=info"

// Logger wraps a logrus.Logger scoped with a component prefix.
type Logger struct {
	entry *logrus.Entry
	out   io.Closer
}

// New creates a Logger that writes to w, filtered by the given "name=level"
// string (only the level half is consulted; the name half exists so the
// filter string stays compatible with RUST_LOG-style configuration).
func New(w io.Writer, filter string) *Logger {
	level := parseFilter(filter)
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	closer, _ := w.(io.Closer)
	return &Logger{entry: logrus.NewEntry(base), out: closer}
}

// NewFromEnv builds a Logger from the KELP_LOG environment variable,
// falling back to DefaultFilter, writing to stderr per the CLI contract.
func NewFromEnv() *Logger {
	filter := os.Getenv("KELP_LOG")
	if filter == "" {
		filter = DefaultFilter
	}
	return New(os.Stderr, filter)
}

func parseFilter(filter string) logrus.Level {
	spec := filter
	if idx := strings.LastIndexByte(filter, '='); idx >= 0 {
		spec = filter[idx+1:]
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(spec))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// WithComponent returns a Logger tagged with a component name, the way
// rivine's datastore tags its logger with ds.log.SetPrefix("[DataStore]:").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{entry: l.entry.WithField("component", name), out: l.out}
}

// Println logs msg at info level.
func (l *Logger) Println(args ...interface{}) {
	l.entry.Infoln(args...)
}

// Printf logs a formatted message at info level.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Debugln logs msg at debug level.
func (l *Logger) Debugln(args ...interface{}) {
	l.entry.Debugln(args...)
}

// Severe logs msg at warn level; it indicates a recoverable bug.
func (l *Logger) Severe(args ...interface{}) {
	l.entry.Warnln(args...)
}

// Critical logs msg at error level, then panics. The caller's process-wide
// panic hook is responsible for the fatal exit code.
func (l *Logger) Critical(args ...interface{}) {
	l.entry.Errorln(args...)
	panic(fmt.Sprint(args...))
}

// Close releases the underlying writer, if it is closable.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}
