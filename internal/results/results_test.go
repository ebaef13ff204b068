package results

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilocn/creterun/internal/workspace"
)

func newCollector(t *testing.T, testCases int) Collector {
	t.Helper()
	ws, err := workspace.Open(t.TempDir())
	require.NoError(t, err)
	if testCases >= 0 {
		require.NoError(t, os.MkdirAll(ws.TestCaseDir(), 0o755))
		for i := 0; i < testCases; i++ {
			name := filepath.Join(ws.TestCaseDir(), fmt.Sprintf("%d.bin", i+1))
			require.NoError(t, os.WriteFile(name, []byte{byte(i)}, 0o644))
		}
	}
	return Collector{WS: ws}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		cases    int
		expected int
		want     bool
	}{
		{"exact", 4, 4, true},
		{"fewer", 3, 4, false},
		{"more", 5, 4, false},
		{"empty dir", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, err := newCollector(t, tt.cases).Verify(tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestVerifyMissingDirectory(t *testing.T) {
	t.Parallel()
	ok, err := newCollector(t, -1).Verify(4)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNotFound), "err = %v", err)
}

func TestCountIncludesDirectories(t *testing.T) {
	t.Parallel()
	c := newCollector(t, 2)
	require.NoError(t, os.Mkdir(filepath.Join(c.WS.TestCaseDir(), "sub"), 0o755))
	n, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFinishLog(t *testing.T) {
	t.Parallel()
	c := newCollector(t, 0)
	_, err := c.FinishLog()
	assert.ErrorIs(t, err, ErrNotFound)

	want := "Total test cases: 4\nElapsed: 12s\n"
	require.NoError(t, os.MkdirAll(filepath.Dir(c.WS.FinishLogPath()), 0o755))
	require.NoError(t, os.WriteFile(c.WS.FinishLogPath(), []byte(want), 0o644))
	got, err := c.FinishLog()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
