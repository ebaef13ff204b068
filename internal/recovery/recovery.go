// Package recovery cleans up after a harness run that died without reaping
// its fleet.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ilocn/creterun/internal/fleet"
	"github.com/ilocn/creterun/internal/logger"
	"github.com/ilocn/creterun/internal/workspace"
)

// termWait is how long a leftover process group gets between SIGTERM and
// SIGKILL. A variable so tests can shorten it.
var termWait = 3 * time.Second

// startSlack is how far a live process's start time may be from the
// recorded one. Records hold whole seconds and boot time is rounded too.
const startSlack = 2 * time.Second

// Recover kills the process group of every worker record left on disk and
// deletes the records. Workers are started as group leaders, so the group
// also takes any QEMU instances they spawned.
func Recover(ws *workspace.Workspace) error {
	records, err := fleet.List(ws)
	if err != nil {
		return fmt.Errorf("listing workers: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	slog.Info("starting recovery pass", slog.Int("records", len(records)))
	var errs []error
	for _, r := range records {
		attrs := []any{
			slog.String(logger.KeyRunID, r.RunID),
			slog.String(logger.KeyWorker, r.Name),
			slog.Int(logger.KeyPID, r.PID),
		}
		switch {
		case !fleet.GroupAlive(r.PID):
			slog.Info("deleting dead worker record", attrs...)
		case !sameProcess(r):
			slog.Warn("worker pid now belongs to another process, not killing", attrs...)
		default:
			slog.Warn("leftover worker still running, killing", append(attrs, slog.Bool("leader_alive", fleet.IsAlive(r.PID)))...)
			if err := killGroup(r.PID); err != nil {
				errs = append(errs, fmt.Errorf("kill %s (pid %d): %w", r.Name, r.PID, err))
				continue
			}
		}
		if err := fleet.Delete(ws, r.ID); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("recovery completed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	slog.Info("recovery pass complete")
	return nil
}

// sameProcess reports whether r.PID still names the process the record was
// written for. A leader that is gone cannot have had its PID reused while
// its group survives, so only a live leader's start time is checked.
func sameProcess(r *fleet.Record) bool {
	started, err := fleet.StartTime(r.PID)
	if err != nil {
		return !fleet.IsAlive(r.PID)
	}
	d := started.Sub(time.Unix(r.StartedAt, 0))
	return d > -startSlack && d < startSlack
}

func killGroup(pgid int) error {
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	deadline := time.Now().Add(termWait)
	for time.Now().Before(deadline) {
		if !fleet.GroupAlive(pgid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
