package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ilocn/creterun/internal/fleet"
	"github.com/ilocn/creterun/internal/logbuf"
	"github.com/ilocn/creterun/internal/logger"
	"github.com/ilocn/creterun/internal/toolrun"
)

// waitDelay bounds how long Wait keeps copying output after a worker exits.
// A QEMU child that inherited the pipe would otherwise block the reap.
var waitDelay = 2 * time.Second

// workerLogLines is the number of output lines buffered per worker.
const workerLogLines = 200

// Handle is a running fleet member. It is owned by the Supervisor from spawn
// until reap.
//
// An exited worker stays a zombie until Wait is called. While it does, its
// PID, and with it the process group ID, cannot be handed to another
// process, so signalling the group stays safe.
type Handle struct {
	spec    fleet.WorkerSpec
	cmd     *exec.Cmd
	pid     int
	started time.Time
	out     *logbuf.LogBuf

	exited   chan struct{}
	reap     chan struct{}
	reapOnce sync.Once
	done     chan struct{}
	exitCode int
	waitErr  error
}

// startWorker launches spec in its own process group. Output goes to out
// and to logFile when non-nil. Exactly one goroutine waits on the process.
func startWorker(spec fleet.WorkerSpec, env []string, logFile io.WriteCloser, mirror io.Writer) (*Handle, error) {
	path, err := toolrun.LookPath(spec.Path(), env)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		spec:     spec,
		out:      logbuf.New(workerLogLines),
		exited:   make(chan struct{}),
		reap:     make(chan struct{}),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	writers := []io.Writer{h.out}
	if logFile != nil {
		writers = append(writers, logFile)
	}
	if mirror != nil {
		writers = append(writers, mirror)
	}
	w := io.MultiWriter(writers...)

	cmd := exec.Command(path, spec.Args()...)
	cmd.Dir = spec.Dir()
	cmd.Env = env
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.started = time.Now()

	go func() {
		awaitExit(h.pid)
		close(h.exited)
		<-h.reap
		err := cmd.Wait()
		h.waitErr = err
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		h.out.Flush()
		if logFile != nil {
			logFile.Close()
		}
		close(h.done)
	}()
	return h, nil
}

func openWorkerLog(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func (h *Handle) Spec() fleet.WorkerSpec { return h.spec }
func (h *Handle) Name() string           { return h.spec.Name() }
func (h *Handle) PID() int               { return h.pid }

// Alive reports whether the process has not yet exited. It never blocks.
func (h *Handle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the process has exited, before it is reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// reaped reports whether Wait has completed.
func (h *Handle) reaped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait reaps the process, blocking until it has exited, and returns its
// exit code, -1 if it was killed by a signal. After Wait the group may no
// longer be signalled.
func (h *Handle) Wait() int {
	h.reapOnce.Do(func() { close(h.reap) })
	<-h.done
	return h.exitCode
}

// waitFor waits at most d for the process to exit, without reaping it.
// d <= 0 waits indefinitely.
func (h *Handle) waitFor(d time.Duration) bool {
	if d <= 0 {
		<-h.exited
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.exited:
		return true
	case <-t.C:
		return false
	}
}

// Terminate sends SIGTERM to the worker's process group. A group that is
// already gone is not an error.
func (h *Handle) Terminate() error { return signalGroup(h.pid, unix.SIGTERM) }

// Kill sends SIGKILL to the worker's process group.
func (h *Handle) Kill() error { return signalGroup(h.pid, unix.SIGKILL) }

// Tail returns the last n lines the worker printed.
func (h *Handle) Tail(n int) []string { return h.out.Tail(n) }

// Output is the worker's buffered output stream.
func (h *Handle) Output() *logbuf.LogBuf { return h.out }

func (h *Handle) logAttrs() []any {
	return []any{slog.String(logger.KeyWorker, h.Name()), slog.Int(logger.KeyPID, h.pid)}
}

// awaitExit blocks until pid has exited, leaving it unreaped.
func awaitExit(pid int) {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return
		}
	}
}

func signalGroup(pgid int, sig unix.Signal) error {
	if pgid <= 0 {
		return fmt.Errorf("signal %v: invalid process group %d", sig, pgid)
	}
	err := unix.Kill(-pgid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
