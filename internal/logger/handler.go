package logger

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Attribute keys shared by every package that logs about the fleet.
const (
	KeyRunID   = "run_id"
	KeyWorker  = "worker"
	KeyPID     = "pid"
	KeyElapsed = "elapsed"
	KeyTool    = "tool"
)

// workerColumn is the width of the worker:pid column.
const workerColumn = 20

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiPurple = "\033[35m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

var workerPalette = []string{ansiCyan, ansiPurple, ansiGreen, ansiBlue, ansiYellow}

// PrettyHandler is a slog.Handler for watching a campaign on a terminal.
// Top-level worker and pid attributes, whether attached with With or per
// record, are pulled out into a fixed-width column so the output of a fleet
// lines up:
//
//	15:04:05.000 WARN  vm-node:4242         worker still alive  run_id=r-1
//
// With color, each worker name keeps the same color for the whole run.
type PrettyHandler struct {
	opts  slog.HandlerOptions
	w     io.Writer
	color bool
	mu    *sync.Mutex

	worker string
	pid    string
	// attrs already carry their group prefix.
	attrs []slog.Attr
	group string
}

// NewPrettyHandler returns a PrettyHandler writing to w. A nil opts uses the
// info level.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *PrettyHandler {
	h := &PrettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	worker, pid := h.worker, h.pid
	attrs := slices.Clip(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if !h.lift(&worker, &pid, a) {
			attrs = append(attrs, h.qualify(a))
		}
		return true
	})

	var buf bytes.Buffer
	h.paint(&buf, ansiDim, r.Time.Format("15:04:05.000"))
	buf.WriteByte(' ')
	h.paint(&buf, levelColor(r.Level), fmt.Sprintf("%-5s", r.Level.String()))
	buf.WriteByte(' ')
	h.writeWorker(&buf, worker, pid)
	buf.WriteByte(' ')
	h.paint(&buf, ansiBold, r.Message)

	if len(attrs) > 0 {
		buf.WriteByte(' ')
	}
	for _, a := range attrs {
		buf.WriteByte(' ')
		h.paint(&buf, ansiGray, a.Key+"=")
		buf.WriteString(formatValue(a.Value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = slices.Clip(h.attrs)
	for _, a := range attrs {
		if !nh.lift(&nh.worker, &nh.pid, a) {
			nh.attrs = append(nh.attrs, nh.qualify(a))
		}
	}
	return &nh
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.group = h.qualifyKey(name)
	return &nh
}

// lift moves a top-level worker or pid attribute into the worker column.
func (h *PrettyHandler) lift(worker, pid *string, a slog.Attr) bool {
	if h.group != "" {
		return false
	}
	switch a.Key {
	case KeyWorker:
		*worker = a.Value.Resolve().String()
	case KeyPID:
		*pid = formatValue(a.Value)
	default:
		return false
	}
	return true
}

func (h *PrettyHandler) qualify(a slog.Attr) slog.Attr {
	return slog.Attr{Key: h.qualifyKey(a.Key), Value: a.Value}
}

func (h *PrettyHandler) qualifyKey(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *PrettyHandler) writeWorker(buf *bytes.Buffer, worker, pid string) {
	label := worker
	if pid != "" {
		label += ":" + pid
	}
	pad := workerColumn - len(label)
	if pad < 1 {
		pad = 1
	}
	if worker != "" {
		h.paint(buf, workerColor(worker), worker)
		if pid != "" {
			h.paint(buf, ansiGray, ":"+pid)
		}
	} else if pid != "" {
		h.paint(buf, ansiGray, label)
	}
	buf.WriteString(strings.Repeat(" ", pad-1))
}

func (h *PrettyHandler) paint(buf *bytes.Buffer, code, s string) {
	if !h.color {
		buf.WriteString(s)
		return
	}
	buf.WriteString(code)
	buf.WriteString(s)
	buf.WriteString(ansiReset)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiCyan
	default:
		return ansiGray
	}
}

func workerColor(name string) string {
	f := fnv.New32a()
	f.Write([]byte(name)) //nolint:errcheck
	return workerPalette[f.Sum32()%uint32(len(workerPalette))]
}

// formatValue renders v, quoting strings that would not survive a
// key=value split.
func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return quote(v.String())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format("15:04:05.000")
	case slog.KindGroup:
		parts := make([]string, 0, len(v.Group()))
		for _, a := range v.Group() {
			parts = append(parts, a.Key+"="+formatValue(a.Value))
		}
		return "{" + strings.Join(parts, " ") + "}"
	case slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindBool:
		return v.String()
	default:
		return quote(fmt.Sprint(v.Any()))
	}
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \"=\n\t") {
		return strconv.Quote(s)
	}
	return s
}
