package coverage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilocn/creterun/internal/toolrun"
	"github.com/ilocn/creterun/internal/workspace"
)

func newRunner(t *testing.T, lcovExit string) (Runner, string) {
	t.Helper()
	bin := t.TempDir()
	calls := filepath.Join(t.TempDir(), "calls")
	for name, exit := range map[string]string{"lcov": lcovExit, "genhtml": "0"} {
		body := "#!/bin/sh\necho \"" + name + " $PWD $*\" >> " + calls + "\nexit " + exit + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte(body), 0o755))
	}
	ws, err := workspace.Init(t.TempDir())
	require.NoError(t, err)
	return Runner{
		WS:    ws,
		Tools: toolrun.Runner{Env: []string{"PATH=" + bin + ":/bin:/usr/bin"}, Output: io.Discard},
	}, calls
}

func readCalls(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestGenerateNoReplay(t *testing.T) {
	t.Parallel()
	r, calls := newRunner(t, "0")
	err := r.Generate(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoReplay)
	assert.Nil(t, readCalls(t, calls))
}

func TestGenerateRunsLcovThenGenhtml(t *testing.T) {
	t.Parallel()
	r, calls := newRunner(t, "0")
	require.NoError(t, os.MkdirAll(r.WS.ReplayDir(), 0o755))
	src := t.TempDir()

	require.NoError(t, r.Generate(context.Background(), src))

	got := readCalls(t, calls)
	require.Len(t, got, 2)
	dir := r.WS.ReplayDir()
	assert.Equal(t, "lcov "+dir+" --base-directory "+src+" --directory "+src+" -c -o test.info", got[0])
	assert.Equal(t, "genhtml "+dir+" -o html -t Test Coverage test.info", got[1])
}

func TestGenerateStopsOnLcovFailure(t *testing.T) {
	t.Parallel()
	r, calls := newRunner(t, "1")
	require.NoError(t, os.MkdirAll(r.WS.ReplayDir(), 0o755))

	err := r.Generate(context.Background(), t.TempDir())
	assert.True(t, toolrun.IsToolError(err), "err = %v", err)
	got := readCalls(t, calls)
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "lcov "))
}
