package idgen

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// epochMs is the custom epoch (2024-01-01T00:00:00Z) in milliseconds.
const epochMs int64 = 1704067200000

// Prefixes for the identifiers handed out by the harness.
const (
	PrefixRun    = "run"
	PrefixWorker = "w"
)

// nowMs returns the current time as milliseconds since epochMs.
// It is a variable so tests can override it.
var nowMs = func() int64 {
	return time.Now().UnixMilli() - epochMs
}

var (
	mu         sync.Mutex
	lastMs     int64 = -1
	seqCounter int64
)

// NewRunID returns the identifier of one supervised campaign run, e.g.
// "run-00a1b2c3000". Run IDs tag log lines, worker records and run.json.
func NewRunID() string { return NewTimeSortableID(PrefixRun) }

// NewWorkerID returns the identifier of one spawned fleet member.
func NewWorkerID() string { return NewTimeSortableID(PrefixWorker) }

// NewTimeSortableID returns prefix + "-" + 8 base36 chars of milliseconds since
// 2024-01-01 + 3 base36 chars of a per-millisecond sequence. Lexicographic
// order of the suffix equals creation order until roughly 2113.
func NewTimeSortableID(prefix string) string {
	mu.Lock()
	ms := nowMs()
	// A clock behind the epoch would produce a "-" and break sort order.
	if ms < 0 {
		ms = 0
	}
	if ms == lastMs {
		seqCounter++
	} else {
		lastMs = ms
		seqCounter = 0
	}
	seq := seqCounter % 46656 // 36^3
	mu.Unlock()

	return prefix + "-" + pad36(ms, 8) + pad36(seq, 3)
}

func pad36(v int64, width int) string {
	s := strconv.FormatInt(v, 36)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
