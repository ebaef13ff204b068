// Package campaign is the harness control flow: check preconditions,
// prepare the archive, supervise the fleet, verify and report, and
// optionally replay the generated test cases and measure coverage.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ilocn/creterun/internal/archive"
	"github.com/ilocn/creterun/internal/config"
	"github.com/ilocn/creterun/internal/coverage"
	"github.com/ilocn/creterun/internal/fleet"
	"github.com/ilocn/creterun/internal/logger"
	"github.com/ilocn/creterun/internal/metrics"
	"github.com/ilocn/creterun/internal/recovery"
	"github.com/ilocn/creterun/internal/replay"
	"github.com/ilocn/creterun/internal/results"
	"github.com/ilocn/creterun/internal/supervisor"
	"github.com/ilocn/creterun/internal/toolrun"
	"github.com/ilocn/creterun/internal/workspace"
)

// Run modes recorded in the report.
const (
	ModeTest   = "test"
	ModeSanity = "sanity"
)

// Report is written to run.json after every supervised run.
type Report struct {
	RunID          string                    `json:"run_id"`
	Mode           string                    `json:"mode"`
	StartedAt      time.Time                 `json:"started_at"`
	ElapsedSeconds float64                   `json:"elapsed_seconds"`
	TimedOut       bool                      `json:"timed_out"`
	Cancelled      bool                      `json:"cancelled"`
	Forced         bool                      `json:"forced"`
	FirstExited    []string                  `json:"first_exited,omitempty"`
	Killed         []supervisor.KilledWorker `json:"killed,omitempty"`
	Exits          []supervisor.WorkerExit   `json:"exits"`
	// TestCases is -1 when the dispatcher left no test-case directory.
	TestCases int `json:"test_cases"`
}

// Campaign runs campaigns in one working root.
type Campaign struct {
	cfg     config.Config
	ws      *workspace.Workspace
	out     io.Writer
	metrics *metrics.Registry
	sup     *supervisor.Supervisor

	envOnce sync.Once
	env     []string
}

// New builds a Campaign. out receives user-facing output and worker
// output; reg may be nil.
func New(cfg config.Config, ws *workspace.Workspace, out io.Writer, reg *metrics.Registry) *Campaign {
	if out == nil {
		out = io.Discard
	}
	out = &syncWriter{w: out}
	sup := &supervisor.Supervisor{
		Stagger:   cfg.Stagger,
		Poll:      cfg.Poll,
		Grace:     cfg.Grace,
		KillAfter: cfg.KillAfter,
		WS:        ws,
		Mirror:    out,
	}
	if reg != nil {
		sup.Observer = reg
	}
	return &Campaign{cfg: cfg, ws: ws, out: out, metrics: reg, sup: sup}
}

// Supervisor exposes the fleet supervisor, e.g. to the monitoring server.
func (c *Campaign) Supervisor() *supervisor.Supervisor { return c.sup }

// Env is the environment for every child process: the harness environment
// with the binary directory added. It is computed once.
func (c *Campaign) Env() []string {
	c.envOnce.Do(func() {
		c.env = ExtendEnv(os.Environ(), c.cfg.BinDir)
		if c.cfg.BinDir != "" {
			slog.Info("binary directory added to environment", slog.String("bin_dir", c.cfg.BinDir))
		}
	})
	return c.env
}

func (c *Campaign) tools() toolrun.Runner {
	r := toolrun.Runner{Env: c.Env(), Output: c.out}
	if c.metrics != nil {
		r.Observer = c.metrics
	}
	return r
}

// binaries are the resolved fleet executables.
type binaries struct {
	dispatch string
	vmNode   string
	svmNode  string
}

// CheckPreconditions resolves the fleet binaries and makes sure the
// dispatcher config exists. Nothing is spawned.
func (c *Campaign) CheckPreconditions() (binaries, error) {
	if c.cfg.BinDir != "" {
		p := filepath.Join(c.cfg.BinDir, c.cfg.Tools.Dispatch)
		if !toolrun.IsExecutable(p) {
			return binaries{}, &PreconditionError{What: "failed to find " + c.cfg.Tools.Dispatch, Path: p}
		}
	}
	var bins binaries
	for _, b := range []struct {
		name string
		dst  *string
	}{
		{c.cfg.Tools.Dispatch, &bins.dispatch},
		{c.cfg.Tools.VMNode, &bins.vmNode},
		{c.cfg.Tools.SVMNode, &bins.svmNode},
	} {
		p, err := c.resolve(b.name)
		if err != nil {
			return binaries{}, &PreconditionError{What: "failed to find " + b.name, Err: err}
		}
		*b.dst = p
	}
	if err := c.ensureDispatchConfig(); err != nil {
		return binaries{}, err
	}
	return bins, nil
}

// resolve prefers the binary directory over anything earlier on PATH.
func (c *Campaign) resolve(name string) (string, error) {
	if c.cfg.BinDir != "" && filepath.Base(name) == name {
		if p := filepath.Join(c.cfg.BinDir, name); toolrun.IsExecutable(p) {
			return p, nil
		}
	}
	p, err := toolrun.LookPath(name, c.Env())
	if err != nil {
		return "", err
	}
	if !toolrun.IsExecutable(p) {
		return "", fmt.Errorf("%s is not executable", p)
	}
	return p, nil
}

func (c *Campaign) ensureDispatchConfig() error {
	path := c.ws.DispatchConfigPath()
	if workspace.Exists(path) {
		return nil
	}
	slog.Info("writing default dispatcher config", slog.String("path", path))
	if err := workspace.AtomicWrite(path, []byte(dispatchConfigTemplate)); err != nil {
		return fmt.Errorf("write dispatcher config: %w", err)
	}
	return nil
}

func (c *Campaign) preparer() *archive.Preparer {
	return &archive.Preparer{WS: c.ws, Tools: c.tools(), ZipTool: c.cfg.Tools.Zip}
}

// Test runs a campaign against the harness and guest config in targetDir.
func (c *Campaign) Test(ctx context.Context, targetDir string) (*Report, error) {
	bins, err := c.CheckPreconditions()
	if err != nil {
		return nil, err
	}
	guest := filepath.Join(targetDir, workspace.GuestConfigName)
	if fi, err := os.Stat(guest); err != nil || fi.IsDir() {
		return nil, &PreconditionError{What: "test archive config not found", Path: guest}
	}

	fmt.Fprintf(c.out, "Testing:\n\tTarget dir: %s\n", targetDir)
	if _, err := c.preparer().Prepare(ctx, targetDir); err != nil {
		return nil, err
	}
	return c.supervise(ctx, ModeTest, bins)
}

// Sanity builds a trivial one-byte harness, runs a campaign on it and
// checks the expected number of test cases came out.
func (c *Campaign) Sanity(ctx context.Context) (*Report, error) {
	bins, err := c.CheckPreconditions()
	if err != nil {
		return nil, err
	}
	p := c.preparer()
	if err := p.Reset(); err != nil {
		return nil, err
	}
	dir := c.ws.ArchiveDir()
	for name, content := range map[string]string{
		sanitySourceName:          sanitySource,
		workspace.GuestConfigName: sanityGuestConfig,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := c.tools().Run(ctx, dir, c.cfg.Tools.Compiler, sanitySourceName, "-o", sanityBinaryName); err != nil {
		return nil, fmt.Errorf("compile sanity harness: %w", err)
	}
	if _, err := p.Zip(ctx); err != nil {
		return nil, err
	}

	rep, err := c.supervise(ctx, ModeSanity, bins)
	if err != nil {
		return rep, err
	}
	ok, err := results.Collector{WS: c.ws}.Verify(c.cfg.ExpectedTestCases)
	if err != nil {
		return rep, &VerificationFailure{Expected: c.cfg.ExpectedTestCases, Err: err}
	}
	if !ok {
		return rep, &VerificationFailure{Expected: c.cfg.ExpectedTestCases, Got: rep.TestCases}
	}
	return rep, nil
}

// Replay replays the last campaign's test cases against exe.
func (c *Campaign) Replay(ctx context.Context, exe string) error {
	libDir := ""
	if c.cfg.BinDir != "" {
		abs, err := filepath.Abs(c.cfg.BinDir)
		if err != nil {
			return err
		}
		libDir = abs
	}
	r := replay.Runner{
		WS:          c.ws,
		Tools:       c.tools(),
		CompareTool: c.cfg.Tools.Compare,
		ReplayTool:  c.cfg.Tools.Replay,
	}
	return r.Replay(ctx, replay.NewConfig(exe, map[string]string{"LD_LIBRARY_PATH": libDir}))
}

// Coverage generates a coverage report for sourceDir from the last replay.
func (c *Campaign) Coverage(ctx context.Context, sourceDir string) error {
	r := coverage.Runner{
		WS:          c.ws,
		Tools:       c.tools(),
		LcovTool:    c.cfg.Tools.Lcov,
		GenhtmlTool: c.cfg.Tools.Genhtml,
	}
	return r.Generate(ctx, sourceDir)
}

// supervise runs the fleet on the prepared archive and reports on it.
func (c *Campaign) supervise(ctx context.Context, mode string, bins binaries) (*Report, error) {
	if err := recovery.Recover(c.ws); err != nil {
		slog.Warn("cleanup of previous run incomplete", slog.Any("error", err))
	}

	specs, err := fleet.Build(fleet.Params{
		DispatchPath:   bins.dispatch,
		VMNodePath:     bins.vmNode,
		SVMNodePath:    bins.svmNode,
		DispatchConfig: workspace.DispatchConfigName,
		Archive:        workspace.ArchiveZipName,
		Item:           c.ws.ItemArg(),
		IP:             c.cfg.MasterIP,
		Port:           c.cfg.MasterPort,
		TimeoutSeconds: c.cfg.Timeout,
		VMInstances:    c.cfg.VMInstances,
		SVMInstances:   c.cfg.SVMInstances,
		Dir:            c.ws.Root,
	})
	if err != nil {
		return nil, err
	}

	c.sup.Env = c.Env()
	started := time.Now()
	res, err := c.sup.Run(ctx, specs, c.cfg.Deadline())
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:          res.RunID,
		Mode:           mode,
		StartedAt:      started.UTC(),
		ElapsedSeconds: res.Elapsed.Seconds(),
		TimedOut:       res.TimedOut,
		Cancelled:      res.Cancelled,
		Forced:         res.Forced,
		FirstExited:    res.FirstExited,
		Killed:         res.Killed,
		Exits:          res.Exits,
		TestCases:      -1,
	}
	collector := results.Collector{WS: c.ws}
	if n, err := collector.Count(); err == nil {
		rep.TestCases = n
		if c.metrics != nil {
			c.metrics.SetTestCases(n)
		}
	}
	if finish, err := collector.FinishLog(); err == nil {
		fmt.Fprintf(c.out, "Final status:\n %s\n", finish)
	} else {
		slog.Warn("no final status from dispatcher", slog.String(logger.KeyRunID, rep.RunID), slog.Any("error", err))
	}
	if err := c.writeReport(rep); err != nil {
		slog.Warn("write run report failed", slog.Any("error", err))
	}

	if rep.Cancelled {
		return rep, fmt.Errorf("campaign interrupted: %w", ctx.Err())
	}
	return rep, nil
}

func (c *Campaign) writeReport(rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return workspace.AtomicWrite(c.ws.ReportPath(), append(data, '\n'))
}

// ReadReport loads the report of the last supervised run.
func ReadReport(ws *workspace.Workspace) (*Report, error) {
	data, err := os.ReadFile(ws.ReportPath())
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ws.ReportPath(), err)
	}
	return &rep, nil
}

// syncWriter serialises writes from concurrent worker output streams.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
