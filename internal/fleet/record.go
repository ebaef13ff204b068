package fleet

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ilocn/creterun/internal/workspace"
)

// Record is the on-disk trace of a spawned fleet member. It exists from
// spawn until the member is reaped, so a record that survives a harness
// crash points at a process that may still be running.
type Record struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	StartedAt int64  `json:"started_at"`
}

// Register writes a worker record to disk.
func Register(ws *workspace.Workspace, r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return workspace.AtomicWrite(ws.WorkerPath(r.ID), data)
}

// Delete removes a worker record. A missing record is not an error.
func Delete(ws *workspace.Workspace, id string) error {
	err := os.Remove(ws.WorkerPath(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Get reads a worker record by ID.
func Get(ws *workspace.Workspace, id string) (*Record, error) {
	data, err := os.ReadFile(ws.WorkerPath(id))
	if err != nil {
		return nil, fmt.Errorf("read worker %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse worker %s: %w", id, err)
	}
	return &r, nil
}

// List returns all worker records. Unreadable entries are logged and
// skipped; a missing directory yields no records.
func List(ws *workspace.Workspace) ([]*Record, error) {
	entries, err := os.ReadDir(ws.WorkersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []*Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		r, err := Get(ws, id)
		if err != nil {
			slog.Warn("skipping unreadable worker record", slog.String("id", id), slog.Any("error", err))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}
