// Package logger is the process-wide leveled logger. It wraps slog with
// printf helpers so call sites stay one line.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level  slog.LevelVar
	active atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	active.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput rebuilds the logger on a new writer, typically a
// stdout-plus-file tee installed by main.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	active.Store(build(w))
}

// SetLevel accepts debug/info/warn/error; anything else keeps info.
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debugf(format string, args ...any) { active.Load().Debug(fmt.Sprintf(format, args...)) }

func Infof(format string, args ...any) { active.Load().Info(fmt.Sprintf(format, args...)) }

func Warnf(format string, args ...any) { active.Load().Warn(fmt.Sprintf(format, args...)) }

func Errorf(format string, args ...any) { active.Load().Error(fmt.Sprintf(format, args...)) }
