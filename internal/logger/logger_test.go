package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestInit_SetsGlobalDefault(t *testing.T) {
	Init()
	if slog.Default() == nil {
		t.Fatal("slog.Default() is nil after Init()")
	}
}

func TestSetLogBuf_WritesToSecondary(t *testing.T) {
	t.Setenv("TERM", "dumb")
	var primary, second bytes.Buffer
	SetOutput(&primary)
	defer SetOutput(nopWriter{})
	Init()

	SetLogBuf(&second)
	defer SetLogBuf(nil)

	slog.Info("fleet spawned", slog.String(KeyWorker, "dispatch"))

	for name, buf := range map[string]*bytes.Buffer{"primary": &primary, "secondary": &second} {
		got := buf.String()
		if !strings.Contains(got, "fleet spawned") {
			t.Errorf("%s writer did not receive log output; got: %q", name, got)
		}
		if !strings.Contains(got, "worker=dispatch") {
			t.Errorf("%s writer missing structured field; got: %q", name, got)
		}
	}
}

func TestSetLogBuf_NilClearsSecondary(t *testing.T) {
	SetOutput(nopWriter{})
	Init()

	var buf bytes.Buffer
	SetLogBuf(&buf)
	SetLogBuf(nil)

	slog.Info("after clear")

	if buf.Len() != 0 {
		t.Errorf("expected empty secondary buffer after SetLogBuf(nil), got: %q", buf.String())
	}
}

func TestPrettyHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, nil, false)).With(slog.String(KeyRunID, "r-1"))
	l.Warn("worker still alive", slog.String(KeyWorker, "vm-node"), slog.Int(KeyPID, 4242), slog.String("note", "two words"))

	got := buf.String()
	for _, want := range []string{"WARN", "vm-node:4242", "worker still alive", "run_id=r-1", `note="two words"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
	for _, unwanted := range []string{"worker=", "pid="} {
		if strings.Contains(got, unwanted) {
			t.Errorf("output %q still has %q as an attribute", got, unwanted)
		}
	}
}

func TestPrettyHandlerWorkerColumnAligned(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil, false)
	slog.New(h).With(slog.String(KeyWorker, "crete-dispatch")).Info("spawned", slog.Int(KeyPID, 7))
	slog.New(h).Info("spawned", slog.String(KeyWorker, "svm-node"), slog.Int(KeyPID, 123456))
	slog.New(h).Info("spawned")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	col := strings.Index(lines[0], "spawned")
	for _, line := range lines[1:] {
		if got := strings.Index(line, "spawned"); got != col {
			t.Errorf("message at column %d, want %d:\n%s", got, col, buf.String())
		}
	}
	if !strings.Contains(lines[0], "crete-dispatch:7") {
		t.Errorf("worker from With not in column: %q", lines[0])
	}
}

func TestPrettyHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, nil, false))
	l.With("a", 1).WithGroup("g").Info("m", "b", 2, KeyWorker, "nested")

	got := buf.String()
	for _, want := range []string{"a=1", "g.b=2", "g.worker=nested"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "g.a=1") {
		t.Errorf("attr added before WithGroup was qualified: %q", got)
	}
}

func TestPrettyHandlerWorkerColorStable(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, nil, true))
	l.Info("one", slog.String(KeyWorker, "vm-node"))
	l.Info("two", slog.String(KeyWorker, "vm-node"))

	want := workerColor("vm-node") + "vm-node" + ansiReset
	if n := strings.Count(buf.String(), want); n != 2 {
		t.Errorf("colored worker name found %d times, want 2: %q", n, buf.String())
	}
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		got := parseLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
