// Package logger provides the leveled logger shared by the group transports,
// the field serving loop and the metfield driver.
package logger

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

const rfc3339UsecTz0 = "2006-01-02T15:04:05.000000Z07:00"

// Ensure nopLogger implements interface.
var _ Logger = &nopLogger{}

// Logger represents an interface for a shared logger.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	// WithPrefix returns a new Logger with the same configuration as
	// this one, but all logs will have the given prefix.
	WithPrefix(prefix string) Logger
}

const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func levelPrefix(level int) string {
	return [...]string{"ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}[level]
}

// NopLogger represents a Logger that doesn't do anything.
var NopLogger Logger = &nopLogger{}

type nopLogger struct{}

func (n *nopLogger) Printf(format string, v ...interface{}) {}
func (n *nopLogger) Debugf(format string, v ...interface{}) {}
func (n *nopLogger) Infof(format string, v ...interface{})  {}
func (n *nopLogger) Warnf(format string, v ...interface{})  {}
func (n *nopLogger) Errorf(format string, v ...interface{}) {}

func (n *nopLogger) WithPrefix(prefix string) Logger {
	return n
}

// standardLogger is a basic implementation of Logger based on log.Logger.
type standardLogger struct {
	logger    *log.Logger
	verbosity int
	prefix    string
	w         io.Writer
}

// formatLog writes in UTC with constant width and microsecond resolution.
type formatLog struct {
	w io.Writer
}

func (fl formatLog) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(fl.w, "%v %v", time.Now().UTC().Format(rfc3339UsecTz0), string(bytes))
}

func newStandardLogger(w io.Writer, verbosity int, prefix string) *standardLogger {
	logger := log.New(formatLog{w: w}, prefix, 0)
	return &standardLogger{
		logger:    logger,
		verbosity: verbosity,
		prefix:    prefix,
		w:         w,
	}
}

// NewStandardLogger returns a Logger writing info and above to w.
func NewStandardLogger(w io.Writer) Logger {
	return newStandardLogger(w, LevelInfo, "")
}

// NewVerboseLogger returns a Logger that also writes debug messages.
func NewVerboseLogger(w io.Writer) Logger {
	return newStandardLogger(w, LevelDebug, "")
}

func (s *standardLogger) printf(level int, format string, v ...interface{}) {
	if level > s.verbosity {
		return
	}
	s.logger.Printf(levelPrefix(level)+format, v...)
}

func (s *standardLogger) Printf(format string, v ...interface{}) {
	s.printf(LevelInfo, format, v...)
}

func (s *standardLogger) Debugf(format string, v ...interface{}) {
	s.printf(LevelDebug, format, v...)
}

func (s *standardLogger) Infof(format string, v ...interface{}) {
	s.printf(LevelInfo, format, v...)
}

func (s *standardLogger) Warnf(format string, v ...interface{}) {
	s.printf(LevelWarn, format, v...)
}

func (s *standardLogger) Errorf(format string, v ...interface{}) {
	s.printf(LevelError, format, v...)
}

func (s *standardLogger) WithPrefix(prefix string) Logger {
	return newStandardLogger(s.w, s.verbosity, s.prefix+prefix)
}

// Logfer is a thing that has only a Logf() method, like testing.T.
type Logfer interface {
	Logf(format string, v ...interface{})
}

// LogfLogger wraps something with a Logf method and makes it act like a
// Logger. Tests use it to route rank logs into t.Logf.
type LogfLogger struct {
	wrapped Logfer
	prefix  string
}

func NewLogfLogger(l Logfer) *LogfLogger {
	return &LogfLogger{wrapped: l}
}

func (ll *LogfLogger) Printf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+format, v...)
}

func (ll *LogfLogger) Debugf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+format, v...)
}

func (ll *LogfLogger) Infof(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+format, v...)
}

func (ll *LogfLogger) Warnf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+format, v...)
}

func (ll *LogfLogger) Errorf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+format, v...)
}

func (ll *LogfLogger) WithPrefix(prefix string) Logger {
	return &LogfLogger{wrapped: ll.wrapped, prefix: ll.prefix + prefix}
}

// BufferLogger keeps every formatted message in memory.
type BufferLogger struct {
	mu   sync.Mutex
	msgs []string
}

func NewBufferLogger() *BufferLogger {
	return &BufferLogger{}
}

func (b *BufferLogger) add(level int, format string, v ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, levelPrefix(level)+fmt.Sprintf(format, v...))
}

func (b *BufferLogger) Printf(format string, v ...interface{}) { b.add(LevelInfo, format, v...) }
func (b *BufferLogger) Debugf(format string, v ...interface{}) { b.add(LevelDebug, format, v...) }
func (b *BufferLogger) Infof(format string, v ...interface{})  { b.add(LevelInfo, format, v...) }
func (b *BufferLogger) Warnf(format string, v ...interface{})  { b.add(LevelWarn, format, v...) }
func (b *BufferLogger) Errorf(format string, v ...interface{}) { b.add(LevelError, format, v...) }

// WithPrefix returns the receiver; prefixes are not recorded.
func (b *BufferLogger) WithPrefix(prefix string) Logger {
	return b
}

// Messages returns a copy of everything logged so far.
func (b *BufferLogger) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	copy(out, b.msgs)
	return out
}
