// Package logging provides named zap loggers with per-package levels.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root = zap.New(zapcore.NewCore(
	zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	os.Stderr,
	zap.DebugLevel,
))

var (
	levelsLock sync.Mutex
	levels     = map[string]zap.AtomicLevel{}
)

// New creates the logger of a package. Its initial level comes from the
// BIFROST_LOG_<pkg> or BIFROST_LOG environment variable (debug, info, warn,
// error; default info).
//
// By codebase convention, this appears in the same .go file as the package
// docstring:
//
//	var logger = logging.New("Foo")
func New(pkg string) *zap.Logger {
	return root.Named(pkg).WithOptions(zap.IncreaseLevel(level(pkg)))
}

// SetLevel adjusts a package's log level at runtime.
// Unknown level names fall back to info.
func SetLevel(pkg, name string) {
	level(pkg).SetLevel(parseLevel(name))
}

func level(pkg string) zap.AtomicLevel {
	levelsLock.Lock()
	defer levelsLock.Unlock()
	al, ok := levels[pkg]
	if !ok {
		al = zap.NewAtomicLevelAt(parseLevel(envLevel(pkg)))
		levels[pkg] = al
	}
	return al
}

func envLevel(pkg string) string {
	if v, ok := os.LookupEnv("BIFROST_LOG_" + pkg); ok {
		return v
	}
	return os.Getenv("BIFROST_LOG")
}

func parseLevel(name string) zapcore.Level {
	lvl, e := zapcore.ParseLevel(strings.ToLower(name))
	if e != nil || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}
