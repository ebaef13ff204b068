// Package toolrun invokes the external helper tools of a campaign (zip, the
// test-case converters, lcov, genhtml, the compiler) and turns every non-zero
// exit into a typed *Error.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ilocn/creterun/internal/logger"
)

// maxStderr bounds how much of a failing tool's stderr is kept in Error.
const maxStderr = 4096

// Error reports an external tool that could not be started or exited
// non-zero. ExitCode is -1 when the tool never ran.
type Error struct {
	Tool     string
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Tool, strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsToolError reports whether err is or wraps an *Error.
func IsToolError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// Observer is told about each finished invocation. metrics.Registry
// implements it.
type Observer interface {
	ObserveTool(tool string, err error)
}

// Runner runs tools with a fixed environment. The zero value inherits the
// harness environment and streams tool output to stdout.
type Runner struct {
	// Env is the child environment. nil inherits os.Environ(). Its PATH is
	// also used to resolve bare tool names.
	Env []string
	// Output receives the tool's stdout and stderr. nil means os.Stdout.
	// Writes to it are serialised by Run.
	Output   io.Writer
	Observer Observer
}

// Run executes name with args in dir and waits for it.
func (r Runner) Run(ctx context.Context, dir, name string, args ...string) error {
	path, err := r.LookPath(name)
	if err != nil {
		e := &Error{Tool: name, Args: args, Dir: dir, ExitCode: -1, Err: err}
		r.observe(name, e)
		return e
	}

	var out io.Writer = os.Stdout
	if r.Output != nil {
		out = r.Output
	}
	// os/exec copies stdout and stderr from separate goroutines.
	out = &lockedWriter{w: out}
	var errBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Env = r.Env
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(out, &tailWriter{buf: &errBuf, max: maxStderr})

	slog.Info("running tool", slog.String(logger.KeyTool, name), slog.String("args", strings.Join(args, " ")), slog.String("dir", dir))
	err = cmd.Run()
	if err != nil {
		e := &Error{Tool: name, Args: args, Dir: dir, ExitCode: -1, Stderr: errBuf.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.ExitCode = exitErr.ExitCode()
		}
		r.observe(name, e)
		return e
	}
	r.observe(name, nil)
	return nil
}

func (r Runner) observe(tool string, err error) {
	if r.Observer != nil {
		r.Observer.ObserveTool(tool, err)
	}
}

// LookPath resolves name against the PATH of r.Env (falling back to the
// harness PATH). Names containing a separator are returned unchanged.
func (r Runner) LookPath(name string) (string, error) {
	return LookPath(name, r.Env)
}

// LookPath resolves a bare executable name against the PATH entry of env.
// exec.LookPath only consults the harness's own PATH, which does not yet
// contain the CRETE binary directory.
func LookPath(name string, env []string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	if pathVar, ok := lookupEnv(env, "PATH"); ok {
		for _, dir := range filepath.SplitList(pathVar) {
			if dir == "" {
				dir = "."
			}
			candidate := filepath.Join(dir, name)
			if IsExecutable(candidate) {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	return exec.LookPath(name)
}

func lookupEnv(env []string, key string) (string, bool) {
	if env == nil {
		return os.LookupEnv(key)
	}
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// IsExecutable reports whether path is a regular file with an execute bit.
func IsExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0111 != 0
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if over := w.buf.Len() - w.max; over > 0 {
		w.buf.Next(over)
	}
	return len(p), nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
