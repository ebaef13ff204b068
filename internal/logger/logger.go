package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// teeWriter forwards writes to a primary writer (stderr) and optionally to a
// secondary writer such as a logbuf.LogBuf feeding the monitoring server.
type teeWriter struct {
	mu      sync.RWMutex
	primary io.Writer
	second  io.Writer
}

func (tw *teeWriter) Write(p []byte) (int, error) {
	tw.mu.RLock()
	primary, second := tw.primary, tw.second
	tw.mu.RUnlock()
	n, err := primary.Write(p)
	if second != nil {
		second.Write(p) //nolint:errcheck
	}
	return n, err
}

var gw = &teeWriter{primary: os.Stderr}

// Init installs the process-wide slog logger. LOG_LEVEL selects the level
// (debug/info/warn/error, default info). On a terminal the PrettyHandler is
// used, otherwise the standard key=value text handler so run logs stay
// machine-parsable. Call once early in main.
func Init() {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}
	var h slog.Handler
	if isTerminal(os.Stderr) {
		h = NewPrettyHandler(gw, opts, os.Getenv("NO_COLOR") == "")
	} else {
		h = slog.NewTextHandler(gw, opts)
	}
	slog.SetDefault(slog.New(h))
}

// SetOutput replaces the primary writer. Used by tests and by the CLI when
// stderr is redirected to a run log.
func SetOutput(w io.Writer) {
	gw.mu.Lock()
	gw.primary = w
	gw.mu.Unlock()
}

// SetLogBuf adds a secondary write target so that log output is also sent to w
// (typically a *logbuf.LogBuf). Pass nil to clear the secondary target.
func SetLogBuf(w io.Writer) {
	gw.mu.Lock()
	gw.second = w
	gw.mu.Unlock()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
