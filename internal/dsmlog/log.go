// Package dsmlog provides the level-gated logging helpers used across the
// coherence engine. It deliberately wraps the standard library's log
// package rather than adopting a structured-logging library: the teacher
// repository this project is built from never imports one either, and
// introducing one here would be ambient stack the corpus doesn't show.
package dsmlog

import (
	"log"
	"os"
)

// Level mirrors the config.log_level knob from the application API: 0 off,
// 1 error, 2 warn, 3 info, 4 debug.
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel converts the numeric log_level config value into a Level,
// clamping out-of-range values instead of erroring — logging verbosity is
// never worth a fatal configuration error.
func ParseLevel(n int) Level {
	switch {
	case n <= 0:
		return LevelOff
	case n >= int(LevelDebug):
		return LevelDebug
	default:
		return Level(n)
	}
}

// Logger is a small per-component logger carrying a prefix (e.g. "node[n1]"
// or "manager") and a verbosity level, matching the prefix style of the
// teacher's log.Printf("node[%s] ...", id) call sites.
type Logger struct {
	std    *log.Logger
	prefix string
	level  Level
}

// New creates a Logger writing to stderr with the given prefix and level.
func New(prefix string, level Level) *Logger {
	return &Logger{
		std:    log.New(os.Stderr, "", log.LstdFlags),
		prefix: prefix,
		level:  level,
	}
}

func (l *Logger) logf(lvl Level, format string, args ...any) {
	if l == nil || lvl > l.level {
		return
	}
	l.std.Printf("%s: "+format, append([]any{l.prefix}, args...)...)
}

func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
