package idgen

import (
	"strings"
	"testing"
	"time"
)

func isBase36(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return true
}

func TestNewTimeSortableID_Format(t *testing.T) {
	t.Parallel()
	for _, id := range []string{NewRunID(), NewWorkerID(), NewTimeSortableID("x")} {
		idx := strings.IndexByte(id, '-')
		if idx <= 0 {
			t.Fatalf("ID %q has no prefix separator", id)
		}
		suffix := id[idx+1:]
		if len(suffix) != 11 {
			t.Errorf("suffix of %q has len=%d, want 11", id, len(suffix))
		}
		if !isBase36(suffix) {
			t.Errorf("ID %q contains non-base36 chars", id)
		}
	}
	if !strings.HasPrefix(NewRunID(), "run-") {
		t.Error("NewRunID missing run- prefix")
	}
	if !strings.HasPrefix(NewWorkerID(), "w-") {
		t.Error("NewWorkerID missing w- prefix")
	}
}

func TestNewTimeSortableID_TimeSortable(t *testing.T) {
	t.Parallel()
	id1 := NewRunID()
	time.Sleep(2 * time.Millisecond)
	id2 := NewRunID()
	if id1 >= id2 {
		t.Errorf("temporal ordering violated: earlier ID %q >= later ID %q", id1, id2)
	}
}

func TestNewTimeSortableID_Unique(t *testing.T) {
	t.Parallel()
	const n = 200
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := NewWorkerID()
		if seen[id] {
			t.Fatalf("duplicate ID %q after %d iterations", id, i)
		}
		seen[id] = true
	}
}

// Not parallel: overrides package state.
func TestNegativeMsClamp(t *testing.T) {
	orig := nowMs
	nowMs = func() int64 { return -100 }
	defer func() { nowMs = orig }()

	mu.Lock()
	lastMs = -999
	seqCounter = 0
	mu.Unlock()

	id := NewTimeSortableID("g")
	if id != "g-00000000000" {
		t.Errorf("ID = %q, want g-00000000000", id)
	}
}

func TestPad36(t *testing.T) {
	tests := []struct {
		v     int64
		width int
		want  string
	}{
		{0, 3, "000"},
		{35, 3, "00z"},
		{36, 3, "010"},
		{46655, 3, "zzz"},
		{46656, 3, "1000"},
	}
	for _, tt := range tests {
		if got := pad36(tt.v, tt.width); got != tt.want {
			t.Errorf("pad36(%d, %d) = %q, want %q", tt.v, tt.width, got, tt.want)
		}
	}
}
