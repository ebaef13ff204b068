package toolrun

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// writeTool creates an executable shell script named name in dir.
func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
	return path
}

type recordingObserver struct {
	tools []string
	errs  []error
}

func (o *recordingObserver) ObserveTool(tool string, err error) {
	o.tools = append(o.tools, tool)
	o.errs = append(o.errs, err)
}

func TestRunSuccessStreamsOutput(t *testing.T) {
	t.Parallel()
	bin := t.TempDir()
	work := t.TempDir()
	writeTool(t, bin, "fake-zip", `echo "adding: $2"; pwd > cwd.txt`)

	var out bytes.Buffer
	obs := &recordingObserver{}
	r := Runner{Env: []string{"PATH=" + bin + ":/bin:/usr/bin"}, Output: &out, Observer: obs}
	if err := r.Run(context.Background(), work, "fake-zip", "-r", "test.zip", "test"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "adding: test.zip") {
		t.Errorf("output = %q", out.String())
	}
	cwd, err := os.ReadFile(filepath.Join(work, "cwd.txt"))
	if err != nil {
		t.Fatalf("tool did not run in dir: %v", err)
	}
	if got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(cwd))); got != mustEval(t, work) {
		t.Errorf("tool cwd = %s, want %s", got, work)
	}
	if len(obs.tools) != 1 || obs.errs[0] != nil {
		t.Errorf("observer saw %v / %v", obs.tools, obs.errs)
	}
}

func TestRunNonZeroExitIsTypedError(t *testing.T) {
	t.Parallel()
	bin := t.TempDir()
	writeTool(t, bin, "lcov", `echo "geninfo: no .gcda files" >&2; exit 3`)

	var out bytes.Buffer
	r := Runner{Env: []string{"PATH=" + bin}, Output: &out}
	err := r.Run(context.Background(), t.TempDir(), "lcov", "-c")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *toolrun.Error", err)
	}
	if te.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", te.ExitCode)
	}
	if !strings.Contains(te.Stderr, "no .gcda files") {
		t.Errorf("Stderr = %q", te.Stderr)
	}
	if !IsToolError(err) {
		t.Error("IsToolError = false")
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRunInterleavedStreams(t *testing.T) {
	t.Parallel()
	bin := t.TempDir()
	writeTool(t, bin, "crete-tc-compare", `i=0
while [ $i -lt 200 ]; do
	i=$((i+1))
	echo "out $i"
	echo "err $i" >&2
done`)

	var out bytes.Buffer
	r := Runner{Env: []string{"PATH=" + bin}, Output: &out}
	if err := r.Run(context.Background(), t.TempDir(), "crete-tc-compare"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 400 {
		t.Fatalf("got %d output lines, want 400", len(lines))
	}
	for _, want := range []string{"out 200", "err 200"} {
		if !strings.Contains(out.String(), want+"\n") {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRunMissingTool(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	r := Runner{Env: []string{"PATH=" + t.TempDir()}, Observer: obs}
	err := r.Run(context.Background(), t.TempDir(), "genhtml")
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *toolrun.Error", err)
	}
	if te.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", te.ExitCode)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("error does not wrap exec.ErrNotFound: %v", err)
	}
	if len(obs.errs) != 1 || obs.errs[0] == nil {
		t.Error("observer not told about the failure")
	}
}

func TestLookPath(t *testing.T) {
	t.Parallel()
	first := t.TempDir()
	second := t.TempDir()
	writeTool(t, second, "crete-tc-replay", "true")
	if err := os.WriteFile(filepath.Join(first, "crete-tc-replay"), []byte("not executable"), 0644); err != nil {
		t.Fatal(err)
	}

	env := []string{"PATH=/nowhere", "PATH=" + first + string(os.PathListSeparator) + second}
	got, err := LookPath("crete-tc-replay", env)
	if err != nil {
		t.Fatalf("LookPath: %v", err)
	}
	if want := filepath.Join(second, "crete-tc-replay"); got != want {
		t.Errorf("LookPath = %s, want %s (last PATH entry wins, non-executables skipped)", got, want)
	}

	if got, _ := LookPath("/abs/tool", env); got != "/abs/tool" {
		t.Errorf("absolute path rewritten to %s", got)
	}
}

func TestTailWriterKeepsLastBytes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := &tailWriter{buf: &buf, max: 4}
	w.Write([]byte("abc"))   //nolint:errcheck
	w.Write([]byte("defgh")) //nolint:errcheck
	if buf.String() != "efgh" {
		t.Errorf("tail = %q, want efgh", buf.String())
	}
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
