// Package logging provides the named, leveled loggers used throughout
// clusterlib, in the style of GetLogger(module).With(key, value, ...).
package logging

import (
	"os"
	"sync"

	kitlog "github.com/go-kit/kit/log"
)

// Level is a logging threshold with four values, 0 (error) through 3
// (debug). The CLI's -d flag accepts 0..5 and maps 4 and 5 to LevelDebug.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	baseMu    sync.Mutex
	baseLog   kitlog.Logger
	threshold = LevelInfo
)

func init() {
	baseLog = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	baseLog = kitlog.With(baseLog, "ts", kitlog.DefaultTimestampUTC)
}

// SetLevel sets the process-wide logging threshold. The factory does not
// call it; cmd/clusterlib-cli calls it once from its -d flag, before
// building a factory.
func SetLevel(l Level) {
	baseMu.Lock()
	defer baseMu.Unlock()
	threshold = l
}

// Logger is a named logger handle that can carry extra key/value context.
type Logger struct {
	module string
	base   kitlog.Logger
}

// GetLogger returns a Logger scoped to the given module name, e.g.
// "lock", "eventbus", "factory".
func GetLogger(module string) *Logger {
	baseMu.Lock()
	l := baseLog
	baseMu.Unlock()
	return &Logger{
		module: module,
		base:   kitlog.With(l, "module", module),
	}
}

// With returns a derived Logger carrying additional key/value context,
// e.g. logging.GetLogger("lock").With("key", lockKey).
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{module: l.module, base: kitlog.With(l.base, kv...)}
}

func (l *Logger) log(lvl Level, lvlName, msg string, kv []interface{}) {
	baseMu.Lock()
	t := threshold
	baseMu.Unlock()
	if t < lvl {
		return
	}
	args := append([]interface{}{"level", lvlName, "msg", msg}, kv...)
	_ = l.base.Log(args...)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, "debug", msg, kv) }

// Info logs at info level.
func (l *Logger) Info(msg string, kv ...interface{}) { l.log(LevelInfo, "info", msg, kv) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, kv ...interface{}) { l.log(LevelWarn, "warn", msg, kv) }

// Error logs at error level.
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LevelError, "error", msg, kv) }
