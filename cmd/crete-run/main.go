package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ilocn/creterun/internal/campaign"
	"github.com/ilocn/creterun/internal/config"
	"github.com/ilocn/creterun/internal/coverage"
	"github.com/ilocn/creterun/internal/logbuf"
	"github.com/ilocn/creterun/internal/logger"
	"github.com/ilocn/creterun/internal/metrics"
	"github.com/ilocn/creterun/internal/recovery"
	"github.com/ilocn/creterun/internal/web"
	"github.com/ilocn/creterun/internal/workspace"
)

var version = "dev" // injected via ldflags at build time

const description = "crete-run: drive a CRETE symbolic-execution campaign\n\n" +
	"Prepares the test archive, runs crete-dispatch, crete-vm-node and crete-svm-node,\n" +
	"and optionally replays the generated test cases and measures coverage."

// Globals holds the flags shared by every command.
type Globals struct {
	Root   string `name:"root" default:"." env:"CRETE_RUN_ROOT" help:"Working root for the archive, results and logs."`
	Config string `name:"config" env:"CRETE_RUN_CONFIG" help:"YAML configuration file."`

	out io.Writer
}

// Out is where user-facing output goes.
func (g *Globals) Out() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// LoadConfig returns the defaults overlaid with --config.
func (g *Globals) LoadConfig() (config.Config, error) {
	return config.Load(g.Config)
}

// ─── Top-level CLI struct ────────────────────────────────────────────────────

type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" default:"withargs" help:"Run a campaign (default command)."`
	Recover RecoverCmd `cmd:"" help:"Kill fleet processes left behind by a crashed run."`
	Status  StatusCmd  `cmd:"" help:"Print the report of the last run."`
	Version VersionCmd `cmd:"" help:"Print version and platform info."`
}

// ─── run ─────────────────────────────────────────────────────────────────────

type RunCmd struct {
	SanityCheck    bool   `short:"s" name:"sanity-check" help:"Run the sanity check and exit."`
	CreteDir       string `short:"d" name:"crete-dir" help:"CRETE binary build directory. Defaults to the one on PATH."`
	TestArchiveDir string `short:"a" name:"test-archive-dir" help:"Directory with the harness and crete.guest.xml to test."`
	Timeout        int    `short:"t" name:"timeout" default:"-1" help:"Seconds to test each entry point; 0 = no limit (default from config)."`
	Replay         string `short:"r" name:"replay" placeholder:"EXE" help:"Replay all test cases on the host against EXE after testing."`
	GenCoverage    string `short:"g" name:"gen-coverage" placeholder:"DIR" help:"Generate code coverage for the sources in DIR."`
	Port           int    `name:"port" default:"0" help:"Serve fleet status, logs and metrics on this port (0 = disabled)."`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := c.config(g)
	if err != nil {
		return err
	}
	ws, err := workspace.Init(g.Root)
	if err != nil {
		return fmt.Errorf("working root: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.Get()
	camp := campaign.New(cfg, ws, g.Out(), reg)

	if c.Port > 0 {
		lb := logbuf.New(500)
		logger.SetLogBuf(lb)
		defer logger.SetLogBuf(nil)
		go func() {
			addr := fmt.Sprintf(":%d", c.Port)
			if err := web.Serve(ctx, addr, camp.Supervisor(), lb, reg.Handler()); err != nil {
				slog.Error("monitor server error", slog.Any("error", err))
			}
		}()
		fmt.Fprintf(g.Out(), "Monitor: http://localhost:%d/api/fleet\n", c.Port)
	}

	return c.execute(ctx, camp, g.Out())
}

// config applies the command-line overrides to the loaded configuration.
func (c *RunCmd) config(g *Globals) (config.Config, error) {
	cfg, err := g.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if c.CreteDir != "" {
		dir, err := resolveDir(c.CreteDir)
		if err != nil {
			return config.Config{}, fmt.Errorf("--crete-dir: %w", err)
		}
		cfg.BinDir = dir
	}
	if c.Timeout >= 0 {
		cfg.Timeout = c.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (c *RunCmd) execute(ctx context.Context, camp *campaign.Campaign, out io.Writer) error {
	if c.SanityCheck {
		if _, err := camp.Sanity(ctx); err != nil {
			fmt.Fprintln(out, "Sanity check failed!")
			fmt.Fprintln(out, "Aborting!!!")
			return err
		}
		fmt.Fprintln(out, "Sanity check passed")
		return nil
	}

	if c.TestArchiveDir != "" {
		if _, err := camp.Test(ctx, c.TestArchiveDir); err != nil {
			fmt.Fprintln(out, "Aborting!!!")
			return err
		}
	}
	if c.Replay != "" {
		if err := camp.Replay(ctx, c.Replay); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	if c.GenCoverage != "" {
		err := camp.Coverage(ctx, c.GenCoverage)
		switch {
		case errors.Is(err, coverage.ErrNoReplay):
			fmt.Fprintln(out, "Failed to generate coverage: no replay found.")
		case err != nil:
			return fmt.Errorf("coverage: %w", err)
		}
	}
	return nil
}

// ─── recover ─────────────────────────────────────────────────────────────────

type RecoverCmd struct{}

func (c *RecoverCmd) Run(g *Globals) error {
	ws, err := workspace.Open(g.Root)
	if err != nil {
		return err
	}
	if err := recovery.Recover(ws); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	fmt.Fprintln(g.Out(), "recovery complete")
	return nil
}

// ─── status ──────────────────────────────────────────────────────────────────

type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error {
	ws, err := workspace.Open(g.Root)
	if err != nil {
		return err
	}
	rep, err := campaign.ReadReport(ws)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no run recorded in %s", ws.Root)
		}
		return err
	}
	out := g.Out()
	fmt.Fprintf(out, "run:        %s (%s)\n", rep.RunID, rep.Mode)
	fmt.Fprintf(out, "started:    %s\n", rep.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "elapsed:    %.1fs\n", rep.ElapsedSeconds)
	fmt.Fprintf(out, "outcome:    %s\n", outcome(rep))
	if len(rep.Killed) > 0 {
		names := make([]string, len(rep.Killed))
		for i, k := range rep.Killed {
			names[i] = fmt.Sprintf("%s(%d)", k.Name, k.PID)
		}
		fmt.Fprintf(out, "killed:     %s\n", strings.Join(names, ", "))
	}
	if rep.TestCases >= 0 {
		fmt.Fprintf(out, "test cases: %d\n", rep.TestCases)
	} else {
		fmt.Fprintln(out, "test cases: none")
	}
	return nil
}

func outcome(rep *campaign.Report) string {
	switch {
	case rep.Cancelled:
		return "cancelled"
	case rep.TimedOut:
		return "timed out"
	case len(rep.FirstExited) > 0:
		return "exited: " + strings.Join(rep.FirstExited, ", ")
	default:
		return "unknown"
	}
}

// ─── version ─────────────────────────────────────────────────────────────────

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.Out(), "crete-run %s %s/%s %s\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	return nil
}

// ─── main ────────────────────────────────────────────────────────────────────

func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	opts := append([]kong.Option{
		kong.Name("crete-run"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	}, options...)
	return kong.New(cli, opts...)
}

func main() {
	logger.Init()

	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run())
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// resolveDir expands ~ and returns the absolute, symlink-free directory.
func resolveDir(dir string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return resolved, nil
}
