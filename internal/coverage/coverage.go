// Package coverage turns the gcov data left by a replay into an lcov
// tracefile and an HTML report.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilocn/creterun/internal/toolrun"
	"github.com/ilocn/creterun/internal/workspace"
)

// ErrNoReplay is returned when there is no replay directory to read
// coverage data from.
var ErrNoReplay = errors.New("no replay found")

// Output names inside the replay directory.
const (
	TraceFile = "test.info"
	HTMLDir   = "html"
	Title     = "Test Coverage"
)

// Runner generates coverage reports in a working root.
type Runner struct {
	WS          *workspace.Workspace
	Tools       toolrun.Runner
	LcovTool    string
	GenhtmlTool string
}

// Generate runs lcov and then genhtml in the replay directory. sourceDir is
// made absolute since both tools run elsewhere.
func (r Runner) Generate(ctx context.Context, sourceDir string) error {
	dir := r.WS.ReplayDir()
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return ErrNoReplay
	}
	src, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("coverage: %w", err)
	}

	if err := r.Tools.Run(ctx, dir, r.lcov(),
		"--base-directory", src,
		"--directory", src,
		"-c",
		"-o", TraceFile,
	); err != nil {
		return fmt.Errorf("capture coverage: %w", err)
	}
	if err := r.Tools.Run(ctx, dir, r.genhtml(),
		"-o", HTMLDir,
		"-t", Title,
		TraceFile,
	); err != nil {
		return fmt.Errorf("render coverage: %w", err)
	}
	return nil
}

func (r Runner) lcov() string {
	if r.LcovTool == "" {
		return "lcov"
	}
	return r.LcovTool
}

func (r Runner) genhtml() string {
	if r.GenhtmlTool == "" {
		return "genhtml"
	}
	return r.GenhtmlTool
}
