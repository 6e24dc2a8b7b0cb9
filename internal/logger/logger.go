// Package logger is the structured logging surface of the firmware.
// Subsystems (driver, irq, engine, stager) log through component-tagged
// children of one process-wide zerolog root, so a firmware log can be
// filtered per subsystem. User-visible generation output never goes
// through here; it belongs to the console sink.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide root logger. Subsystems derive tagged
// children via Component rather than logging through the root.
var Log *Logger

// Logger wraps a zerolog.Logger with variadic key-value helpers.
type Logger struct {
	zl zerolog.Logger
}

func init() {
	Log = &Logger{zl: newZerolog("console")}
}

// Setup reconfigures the root logger. level is any zerolog level name,
// case-insensitive (DEBUG, INFO, WARN, ERROR, and also TRACE, FATAL,
// PANIC or DISABLED); an empty or unparseable level falls back to INFO.
// format is console or json.
func Setup(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	Log = &Logger{zl: newZerolog(format)}
}

func newZerolog(format string) zerolog.Logger {
	if strings.EqualFold(format, "json") {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a subsystem name, so
// driver, irq and engine lines can be told apart in the firmware log.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.emit(l.zl.Debug(), msg, kv) }

func (l *Logger) Info(msg string, kv ...interface{}) { l.emit(l.zl.Info(), msg, kv) }

func (l *Logger) Warn(msg string, kv ...interface{}) { l.emit(l.zl.Warn(), msg, kv) }

func (l *Logger) Error(msg string, kv ...interface{}) { l.emit(l.zl.Error(), msg, kv) }

// Fatal logs and exits with status 1. Reserved for initialization
// failures before the engine thread starts.
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.emit(l.zl.Fatal(), msg, kv) }

// emit attaches alternating key-value pairs to the event. A trailing
// key without a value is dropped; non-string keys are stringified.
func (l *Logger) emit(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
