// Package dclog provides the leveled, prefix-forking logger used across the
// connection engine. Every Connection, Port and name-server instance forks
// its own Logger off a parent so log lines can be traced back to the
// component that emitted them.
package dclog

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// LogLevel specifies the level of spew that should go to the log.
type LogLevel int

const (
	// LogLevelUnknown is the zero value; behavior is undefined.
	LogLevelUnknown LogLevel = iota
	// LogLevelPanic logs then panics.
	LogLevelPanic
	// LogLevelFatal logs then os.Exit(1)s.
	LogLevelFatal
	// LogLevelError is for unexpected errors.
	LogLevelError
	// LogLevelWarning is for warnings.
	LogLevelWarning
	// LogLevelInfo is for informational messages.
	LogLevelInfo
	// LogLevelDebug is for debug messages.
	LogLevelDebug
	// LogLevelTrace is for wire-level trace messages.
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

// StringToLogLevel converts a string to a LogLevel, returning LogLevelUnknown
// if the string does not match a known level.
func StringToLogLevel(s string) LogLevel {
	for i, name := range logLevelNames {
		if strings.EqualFold(name, s) {
			return LogLevel(i)
		}
	}
	return LogLevelUnknown
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		return logLevelNames[LogLevelUnknown]
	}
	return logLevelNames[x]
}

// Logger is a leveled, prefix-forking logging component. Every exported
// method that returns an error bakes the logger's prefix into the message,
// so errors surfaced through a Logger are self-describing without extra
// context at the call site.
type Logger interface {
	// Prefix returns the logger's prefix string (without the trailing ": ").
	Prefix() string

	// GetLogLevel returns the currently enabled log level.
	GetLogLevel() LogLevel
	// SetLogLevel changes the currently enabled log level.
	SetLogLevel(logLevel LogLevel)

	// Log emits args at logLevel if that level is enabled.
	Log(logLevel LogLevel, args ...interface{})
	// Logf emits a formatted message at logLevel if that level is enabled.
	Logf(logLevel LogLevel, f string, args ...interface{})

	// Panic logs at LogLevelPanic then panics.
	Panic(args ...interface{})
	// PanicOnError does nothing if err is nil; otherwise logs and panics.
	PanicOnError(err error)
	// Fatalf logs at LogLevelFatal then exits the process.
	Fatalf(f string, args ...interface{})

	// ELogf logs at LogLevelError.
	ELogf(f string, args ...interface{})
	// WLogf logs at LogLevelWarning.
	WLogf(f string, args ...interface{})
	// ILogf logs at LogLevelInfo.
	ILogf(f string, args ...interface{})
	// DLogf logs at LogLevelDebug.
	DLogf(f string, args ...interface{})
	// TLogf logs at LogLevelTrace.
	TLogf(f string, args ...interface{})

	// Error returns an error with the logger's prefix baked in.
	Error(args ...interface{}) error
	// Errorf returns a formatted error with the logger's prefix baked in.
	Errorf(f string, args ...interface{}) error
	// DLogErrorf logs the formatted message at LogLevelDebug and returns it as an error.
	DLogErrorf(f string, args ...interface{}) error
	// ELogErrorf logs the formatted message at LogLevelError and returns it as an error.
	ELogErrorf(f string, args ...interface{}) error

	// Sprintf returns a string with the logger's prefix baked in.
	Sprintf(f string, args ...interface{}) string
	// Sprint returns a string with the logger's prefix baked in.
	Sprint(args ...interface{}) string

	// Fork returns a new Logger whose prefix is this logger's prefix plus
	// the given formatted suffix, inheriting the current log level.
	Fork(prefix string, args ...interface{}) Logger
}

// basicLogger is the default Logger implementation, writing to os.Stderr.
type basicLogger struct {
	prefix   string
	prefixC  string
	out      *log.Logger
	logLevel LogLevel
}

const defaultLogFlags = log.Ldate | log.Ltime

// New creates a new Logger with the given prefix and level, writing to stderr.
func New(prefix string, logLevel LogLevel) Logger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &basicLogger{
		prefix:   prefix,
		prefixC:  prefixC,
		out:      log.New(os.Stderr, "", defaultLogFlags),
		logLevel: logLevel,
	}
}

func (l *basicLogger) Prefix() string          { return l.prefix }
func (l *basicLogger) GetLogLevel() LogLevel   { return l.logLevel }
func (l *basicLogger) SetLogLevel(lv LogLevel) { l.logLevel = lv }

func (l *basicLogger) Sprint(args ...interface{}) string {
	return l.prefixC + fmt.Sprint(args...)
}

func (l *basicLogger) Sprintf(f string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(f, args...)
}

func (l *basicLogger) Log(logLevel LogLevel, args ...interface{}) {
	l.Logf(logLevel, "%s", fmt.Sprint(args...))
}

func (l *basicLogger) Logf(logLevel LogLevel, f string, args ...interface{}) {
	if logLevel > l.logLevel && logLevel > LogLevelFatal {
		return
	}
	msg := l.Sprintf(f, args...)
	l.out.Print(msg)
	switch logLevel {
	case LogLevelFatal:
		os.Exit(1)
	case LogLevelPanic:
		panic(msg)
	}
}

func (l *basicLogger) Panic(args ...interface{}) { l.Log(LogLevelPanic, args...) }

func (l *basicLogger) PanicOnError(err error) {
	if err != nil {
		l.Panic(err)
	}
}

func (l *basicLogger) Fatalf(f string, args ...interface{}) { l.Logf(LogLevelFatal, f, args...) }
func (l *basicLogger) ELogf(f string, args ...interface{})  { l.Logf(LogLevelError, f, args...) }
func (l *basicLogger) WLogf(f string, args ...interface{})  { l.Logf(LogLevelWarning, f, args...) }
func (l *basicLogger) ILogf(f string, args ...interface{})  { l.Logf(LogLevelInfo, f, args...) }
func (l *basicLogger) DLogf(f string, args ...interface{})  { l.Logf(LogLevelDebug, f, args...) }
func (l *basicLogger) TLogf(f string, args ...interface{})  { l.Logf(LogLevelTrace, f, args...) }

func (l *basicLogger) Error(args ...interface{}) error {
	return errors.New(l.Sprint(args...))
}

func (l *basicLogger) Errorf(f string, args ...interface{}) error {
	return errors.New(l.Sprintf(f, args...))
}

func (l *basicLogger) DLogErrorf(f string, args ...interface{}) error {
	err := l.Errorf(f, args...)
	l.Logf(LogLevelDebug, "%s", err.Error())
	return err
}

func (l *basicLogger) ELogErrorf(f string, args ...interface{}) error {
	err := l.Errorf(f, args...)
	l.Logf(LogLevelError, "%s", err.Error())
	return err
}

// Fork creates a new Logger that appends a formatted suffix onto this
// logger's prefix (with ": " joining the two).
func (l *basicLogger) Fork(prefix string, args ...interface{}) Logger {
	suffix := fmt.Sprintf(prefix, args...)
	newPrefix := l.prefix
	if newPrefix != "" {
		newPrefix += ": "
	}
	newPrefix += suffix
	return New(newPrefix, l.logLevel)
}
