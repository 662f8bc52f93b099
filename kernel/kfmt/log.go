package kfmt

import "io"

// Level describes the severity of a log line.
type Level uint8

// The supported log levels. LevelDefault defers to the threshold set via
// SetLevel.
const (
	LevelDefault Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	// threshold is the minimum level emitted by loggers that use
	// LevelDefault.
	threshold = LevelInfo

	levelTags = [...]string{
		LevelDebug: "debug: ",
		LevelInfo:  "",
		LevelWarn:  "warning: ",
		LevelError: "error: ",
	}
)

// SetLevel changes the minimum level emitted by loggers that do not specify
// their own.
func SetLevel(l Level) {
	if l == LevelDefault {
		l = LevelInfo
	}
	threshold = l
}

// Logger emits module-prefixed lines through Fprintf, for example
// "[vmm] debug: allocated table ...". A zero Logger writes to the active
// output sink using the global level.
type Logger struct {
	// Module is printed in square brackets at the start of each line.
	Module string

	// Level is the minimum level emitted by this logger.
	Level Level

	// Sink overrides the active output sink when set.
	Sink io.Writer
}

// Enabled returns true if lines at level l are emitted.
func (l Logger) Enabled(level Level) bool {
	min := l.Level
	if min == LevelDefault {
		min = threshold
	}
	return level >= min
}

// Debugf logs a debug line.
func (l Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

// Infof logs an informational line.
func (l Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Warnf logs a warning.
func (l Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Errorf logs an error.
func (l Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

func (l Logger) logf(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	w := l.Sink
	if w == nil {
		w = outputSink
	}

	writeByte(w, '[')
	writeString(w, l.Module)
	writeString(w, "] ")
	writeString(w, levelTags[level])
	Fprintf(w, format, args...)
}
