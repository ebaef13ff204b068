// Package replay re-executes the generated test cases against the target
// program with crete-tc-replay.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ilocn/creterun/internal/toolrun"
	"github.com/ilocn/creterun/internal/workspace"
)

// Default locations handed to the replay tool, relative to the replay
// directory.
const (
	DefaultTestCaseDir = "../test-case-parsed"
	DefaultGuestConfig = "../guest-data/crete-guest-config.serialized"
)

// Config describes one replay invocation.
type Config struct {
	// Exec is the target executable. Relative paths are made absolute
	// against the harness working directory before use.
	Exec        string
	TestCaseDir string
	GuestConfig string
	// Env is written to env.txt and loaded by the replayed program.
	Env map[string]string
}

// NewConfig returns a Config with the standard test-case and guest config
// locations.
func NewConfig(exec string, env map[string]string) Config {
	return Config{
		Exec:        exec,
		TestCaseDir: DefaultTestCaseDir,
		GuestConfig: DefaultGuestConfig,
		Env:         env,
	}
}

// Runner replays test cases in a working root.
type Runner struct {
	WS          *workspace.Workspace
	Tools       toolrun.Runner
	CompareTool string
	ReplayTool  string
}

// Replay converts raw test cases if that has not been done yet, recreates
// the replay directory and runs the replay tool in it.
func (r Runner) Replay(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.Exec) == "" {
		return errors.New("replay: no executable given")
	}
	exe, err := filepath.Abs(cfg.Exec)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if cfg.TestCaseDir == "" {
		cfg.TestCaseDir = DefaultTestCaseDir
	}
	if cfg.GuestConfig == "" {
		cfg.GuestConfig = DefaultGuestConfig
	}

	if !workspace.Exists(r.WS.ParsedDir()) {
		rel, err := filepath.Rel(r.WS.Root, r.WS.LastDir())
		if err != nil {
			return err
		}
		if err := r.Tools.Run(ctx, r.WS.Root, r.compareTool(), "--batch-patch", rel); err != nil {
			return fmt.Errorf("convert test cases: %w", err)
		}
	}

	dir := r.WS.ReplayDir()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("reset replay dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create replay dir: %w", err)
	}
	if err := WriteEnvFile(filepath.Join(dir, workspace.EnvFileName), cfg.Env); err != nil {
		return err
	}

	return r.Tools.Run(ctx, dir, r.replayTool(),
		"--exec", exe,
		"--tc-dir", cfg.TestCaseDir,
		"--config", cfg.GuestConfig,
		"-v", workspace.EnvFileName,
		"--log",
	)
}

func (r Runner) compareTool() string {
	if r.CompareTool == "" {
		return "crete-tc-compare"
	}
	return r.CompareTool
}

func (r Runner) replayTool() string {
	if r.ReplayTool == "" {
		return "crete-tc-replay"
	}
	return r.ReplayTool
}

// WriteEnvFile writes env as "KEY VALUE" lines in key order.
func WriteEnvFile(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		if k == "" || strings.ContainsAny(k, " \t\n") {
			return fmt.Errorf("env file: invalid variable name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if strings.ContainsRune(env[k], '\n') {
			return fmt.Errorf("env file: value of %s contains a newline", k)
		}
		fmt.Fprintf(&b, "%s %s\n", k, env[k])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}
