package fleet

import (
	"errors"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// IsAlive reports whether a process with the given PID exists. kill(pid, 0)
// with EPERM still means the process exists, just not ours to signal.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// GroupAlive reports whether any member of process group pgid remains.
func GroupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := unix.Kill(-pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// StartTime returns when process pid started, read from /proc.
func StartTime(pid int) (time.Time, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return time.Time{}, err
	}
	st, err := p.Stat()
	if err != nil {
		return time.Time{}, err
	}
	secs, err := st.StartTime()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(secs*float64(time.Second))), nil
}
