package workspace

import (
	"fmt"
	"os"
)

// Init opens root and creates the harness bookkeeping directories (.crete/
// and logs/). It leaves the dispatcher's own output tree alone: dispatch/last
// belongs to crete-dispatch and is only read by the harness.
func Init(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", root, err)
	}
	ws, err := Open(root)
	if err != nil {
		return nil, err
	}
	for _, d := range []string{ws.StateDir(), ws.WorkersDir(), ws.LogsDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return ws, nil
}
