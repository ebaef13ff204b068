// Package supervisor runs a campaign fleet: it spawns the workers in order,
// waits for the first of them to exit or for the deadline, and then makes
// sure every worker and everything it started is gone before returning.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ilocn/creterun/internal/fleet"
	"github.com/ilocn/creterun/internal/idgen"
	"github.com/ilocn/creterun/internal/logger"
	"github.com/ilocn/creterun/internal/workspace"
)

// Defaults used when the corresponding Supervisor field is zero.
var (
	DefaultStagger   = 2 * time.Second
	DefaultPoll      = 1 * time.Second
	DefaultGrace     = 5 * time.Second
	DefaultKillAfter = 10 * time.Second
)

// killTailLines is how much output of a force-killed worker gets logged.
const killTailLines = 20

// Run outcomes reported to the Observer.
const (
	OutcomeExited      = "exited"
	OutcomeTimedOut    = "timed_out"
	OutcomeCancelled   = "cancelled"
	OutcomeSpawnFailed = "spawn_failed"
)

// Phases reported by Snapshot.
const (
	PhaseIdle        = "idle"
	PhaseSpawning    = "spawning"
	PhaseRunning     = "running"
	PhaseGrace       = "grace"
	PhaseTerminating = "terminating"
	PhaseDone        = "done"
)

// SpawnError reports a fleet member that could not be started. The partial
// fleet has already been terminated and reaped when it is returned.
type SpawnError struct {
	Worker string
	Path   string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Worker, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is or wraps a *SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// KilledWorker names a worker that was still alive after the grace period.
type KilledWorker struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
	// Escalated is set when SIGTERM was not enough and SIGKILL was sent.
	Escalated bool `json:"escalated,omitempty"`
}

// WorkerExit is the final state of one fleet member.
type WorkerExit struct {
	Name     string `json:"name"`
	PID      int    `json:"pid"`
	ExitCode int    `json:"exit_code"`
}

// Result describes one supervised run. It is not modified after Run
// returns.
type Result struct {
	RunID       string         `json:"run_id"`
	Elapsed     time.Duration  `json:"elapsed"`
	FirstExited []string       `json:"first_exited,omitempty"`
	TimedOut    bool           `json:"timed_out"`
	Cancelled   bool           `json:"cancelled"`
	Forced      bool           `json:"forced"`
	Killed      []KilledWorker `json:"killed,omitempty"`
	Exits       []WorkerExit   `json:"exits"`
}

// Outcome classifies the result for metrics and reports.
func (r *Result) Outcome() string {
	switch {
	case r.Cancelled:
		return OutcomeCancelled
	case r.TimedOut:
		return OutcomeTimedOut
	default:
		return OutcomeExited
	}
}

// Observer receives supervision events. metrics.Registry implements it.
type Observer interface {
	ObserveSpawn(worker string)
	ObserveKill(worker string, escalated bool)
	ObserveRun(outcome string, elapsed time.Duration)
}

// Supervisor owns the lifecycle of one fleet at a time. Zero durations take
// the package defaults. Run must not be called concurrently.
type Supervisor struct {
	Stagger time.Duration
	Poll    time.Duration
	Grace   time.Duration
	// KillAfter is how long terminated workers get before SIGKILL. Negative
	// waits indefinitely.
	KillAfter time.Duration

	// Env is the worker environment; nil inherits the harness environment.
	Env []string
	// WS, when set, receives per-worker logs and worker records.
	WS *workspace.Workspace
	// Mirror, when set, also receives all worker output. Workers write to it
	// concurrently.
	Mirror   io.Writer
	Observer Observer
	// RunID tags the run; empty generates one.
	RunID string

	mu      sync.Mutex
	phase   string
	runID   string
	handles []*Handle
}

// Run spawns fleet in order, waits for the first exit, the deadline or ctx,
// sleeps the grace period and then terminates and reaps every worker.
// deadline == 0 means no timeout.
func (s *Supervisor) Run(ctx context.Context, specs []fleet.WorkerSpec, deadline time.Duration) (*Result, error) {
	if len(specs) == 0 {
		return nil, errors.New("supervisor: empty fleet")
	}
	if deadline < 0 {
		return nil, fmt.Errorf("supervisor: negative deadline %v", deadline)
	}

	runID := s.RunID
	if runID == "" {
		runID = idgen.NewRunID()
	}
	log := slog.With(slog.String(logger.KeyRunID, runID))
	start := time.Now()
	res := &Result{RunID: runID}

	s.mu.Lock()
	s.runID = runID
	s.handles = nil
	s.mu.Unlock()
	s.setPhase(PhaseSpawning)

	var recordIDs []string
	defer func() {
		for _, id := range recordIDs {
			if err := fleet.Delete(s.WS, id); err != nil {
				log.Warn("delete worker record failed", slog.String("id", id), slog.Any("error", err))
			}
		}
	}()

	var handles []*Handle
	spawned := true
	for i, spec := range specs {
		h, err := s.spawn(spec)
		if err != nil {
			log.Error("worker spawn failed", slog.String(logger.KeyWorker, spec.Name()), slog.Any("error", err))
			s.setPhase(PhaseTerminating)
			s.finalize(log, handles)
			s.setPhase(PhaseDone)
			s.observeRun(OutcomeSpawnFailed, time.Since(start))
			return nil, &SpawnError{Worker: spec.Name(), Path: spec.Path(), Err: err}
		}
		handles = append(handles, h)
		s.track(h)
		if id := s.register(log, runID, h); id != "" {
			recordIDs = append(recordIDs, id)
		}
		log.Info("worker spawned", append(h.logAttrs(), slog.String("cmd", spec.String()))...)

		if i < len(specs)-1 && !sleepCtx(ctx, s.stagger()) {
			spawned = false
			break
		}
	}

	if spawned {
		s.setPhase(PhaseRunning)
		res.FirstExited, res.TimedOut, res.Cancelled = s.wait(ctx, handles, deadline)
	} else {
		res.Cancelled = true
	}
	switch {
	case res.Cancelled:
		log.Warn("run cancelled")
	case res.TimedOut:
		log.Warn("deadline reached", slog.Duration("deadline", deadline))
	default:
		log.Info("worker exited", slog.String(logger.KeyWorker, strings.Join(res.FirstExited, ",")))
	}

	s.setPhase(PhaseGrace)
	time.Sleep(s.grace())

	s.setPhase(PhaseTerminating)
	res.Killed = s.finalize(log, handles)
	res.Forced = len(res.Killed) > 0
	for _, h := range handles {
		res.Exits = append(res.Exits, WorkerExit{Name: h.Name(), PID: h.PID(), ExitCode: h.Wait()})
	}
	res.Elapsed = time.Since(start)
	s.setPhase(PhaseDone)

	log.Info("fleet finished", slog.Duration(logger.KeyElapsed, res.Elapsed), slog.Bool("forced", res.Forced))
	s.observeRun(res.Outcome(), res.Elapsed)
	return res, nil
}

// wait is the poll loop. It returns the names of all workers found exited
// on the first tick that saw any, or which of deadline/ctx ended it.
func (s *Supervisor) wait(ctx context.Context, handles []*Handle, deadline time.Duration) (exited []string, timedOut, cancelled bool) {
	var timeout <-chan time.Time
	if deadline > 0 {
		t := time.NewTimer(deadline)
		defer t.Stop()
		timeout = t.C
	}
	tick := time.NewTicker(s.poll())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, true
		case <-timeout:
			return nil, true, false
		case <-tick.C:
			for _, h := range handles {
				if !h.Alive() {
					exited = append(exited, h.Name())
				}
			}
			if len(exited) > 0 {
				return exited, false, false
			}
		}
	}
}

// finalize terminates every live worker, escalates to SIGKILL after
// KillAfter, reaps all of them and sweeps their process groups for
// stragglers.
func (s *Supervisor) finalize(log *slog.Logger, handles []*Handle) []KilledWorker {
	var killed []KilledWorker
	var live []*Handle
	for _, h := range handles {
		if !h.Alive() {
			continue
		}
		log.Warn("worker still alive, terminating", h.logAttrs()...)
		if err := h.Terminate(); err != nil {
			log.Warn("terminate failed", append(h.logAttrs(), slog.Any("error", err))...)
		}
		live = append(live, h)
	}

	killBy := time.Now().Add(s.killAfter())
	for _, h := range live {
		kw := KilledWorker{Name: h.Name(), PID: h.PID()}
		remaining := time.Until(killBy)
		if s.killAfter() < 0 {
			remaining = 0
		} else if remaining <= 0 {
			remaining = time.Millisecond
		}
		if !h.waitFor(remaining) {
			log.Warn("worker ignored SIGTERM, killing", h.logAttrs()...)
			if err := h.Kill(); err != nil {
				log.Warn("kill failed", append(h.logAttrs(), slog.Any("error", err))...)
			}
			kw.Escalated = true
			<-h.Exited()
		}
		if tail := h.Tail(killTailLines); len(tail) > 0 {
			log.Warn("last output of killed worker", append(h.logAttrs(), slog.String("output", strings.Join(tail, "\n")))...)
		}
		killed = append(killed, kw)
		if s.Observer != nil {
			s.Observer.ObserveKill(kw.Name, kw.Escalated)
		}
	}

	// A worker can exit on its own and leave children (QEMU instances)
	// behind in its group. Leaders are still unreaped here, so every group
	// ID still belongs to its worker.
	for _, h := range handles {
		if h.reaped() {
			continue
		}
		if err := h.Kill(); err != nil {
			log.Debug("group sweep failed", append(h.logAttrs(), slog.Any("error", err))...)
		}
		h.Wait()
	}
	return killed
}

func (s *Supervisor) spawn(spec fleet.WorkerSpec) (*Handle, error) {
	var logFile io.WriteCloser
	if s.WS != nil {
		f, err := openWorkerLog(s.WS.LogsDir(), spec.Name())
		if err != nil {
			return nil, fmt.Errorf("open worker log: %w", err)
		}
		logFile = f
	}
	h, err := startWorker(spec, s.Env, logFile, s.Mirror)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}
	if s.Observer != nil {
		s.Observer.ObserveSpawn(spec.Name())
	}
	return h, nil
}

// register writes the worker record. Failure is logged, not fatal: the
// record only matters for crash recovery.
func (s *Supervisor) register(log *slog.Logger, runID string, h *Handle) string {
	if s.WS == nil {
		return ""
	}
	r := &fleet.Record{
		ID:        idgen.NewWorkerID(),
		RunID:     runID,
		Name:      h.Name(),
		PID:       h.PID(),
		StartedAt: h.started.Unix(),
	}
	if err := fleet.Register(s.WS, r); err != nil {
		log.Warn("register worker failed", append(h.logAttrs(), slog.Any("error", err))...)
		return ""
	}
	return r.ID
}

func (s *Supervisor) observeRun(outcome string, elapsed time.Duration) {
	if s.Observer != nil {
		s.Observer.ObserveRun(outcome, elapsed)
	}
}

func (s *Supervisor) stagger() time.Duration { return orDefault(s.Stagger, DefaultStagger) }
func (s *Supervisor) poll() time.Duration    { return orDefault(s.Poll, DefaultPoll) }
func (s *Supervisor) grace() time.Duration   { return orDefault(s.Grace, DefaultGrace) }
func (s *Supervisor) killAfter() time.Duration {
	return orDefault(s.KillAfter, DefaultKillAfter)
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// sleepCtx sleeps for d and reports false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
