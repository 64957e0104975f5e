// Package proglog wraps a standard *log.Logger with a numeric verbosity
// gate. The original C tool kept its verbosity level in a process-wide
// global; this threads a *Logger through every constructor instead (the
// same discipline the teacher applies to *log.Logger and *Arduino in
// exer/cex), so two sessions never fight over global state.
package proglog

import "log"

// Level matches the CLI's --verbose 0..6 range: 0 is silent, 6 is the
// full wire-level trace.
type Level int

const (
	Silent Level = iota
	Error
	Warn
	Info
	Debug
	Trace
	Wire
)

// Logger gates *log.Logger output by level.
type Logger struct {
	out   *log.Logger
	level Level
}

// New returns a Logger that writes through out at or below level.
func New(out *log.Logger, level Level) *Logger {
	return &Logger{out: out, level: level}
}

// Level reports the logger's current gate.
func (l *Logger) Level() Level { return l.level }

func (l *Logger) logf(at Level, format string, args ...any) {
	if l == nil || l.out == nil || at > l.level {
		return
	}
	l.out.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) { l.logf(Error, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(Warn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(Info, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(Debug, format, args...) }
func (l *Logger) Tracef(format string, args ...any) { l.logf(Trace, format, args...) }
func (l *Logger) Wiref(format string, args ...any)  { l.logf(Wire, format, args...) }
