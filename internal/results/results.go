// Package results reads what a finished campaign left under dispatch/last.
package results

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilocn/creterun/internal/workspace"
)

// ErrNotFound is returned when the dispatcher produced no result directory.
var ErrNotFound = errors.New("results not found")

// Collector inspects the results of the last campaign in a working root.
type Collector struct {
	WS *workspace.Workspace
}

// Count returns the number of entries in the test-case directory.
func (c Collector) Count() (int, error) {
	dir := c.WS.TestCaseDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", dir, ErrNotFound)
		}
		return 0, err
	}
	return len(entries), nil
}

// Verify reports whether exactly expected test cases were generated. It does
// not look inside them.
func (c Collector) Verify(expected int) (bool, error) {
	n, err := c.Count()
	if err != nil {
		return false, err
	}
	return n == expected, nil
}

// FinishLog returns the dispatcher's final status report verbatim.
func (c Collector) FinishLog() (string, error) {
	path := c.WS.FinishLogPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return "", err
	}
	return string(data), nil
}
