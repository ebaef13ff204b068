package campaign

import (
	"os"
	"path/filepath"
	"strings"
)

// ExtendEnv returns a copy of base with binDir appended to PATH and the
// library search path set to binDir and binDir/boost. An empty binDir
// returns base unchanged.
func ExtendEnv(base []string, binDir string) []string {
	env := make([]string, len(base))
	copy(env, base)
	if binDir == "" {
		return env
	}
	path, ok := lookup(env, "PATH")
	if ok && path != "" {
		path += string(os.PathListSeparator) + binDir
	} else {
		path = binDir
	}
	env = set(env, "PATH", path)
	env = set(env, "LD_LIBRARY_PATH", binDir+string(os.PathListSeparator)+filepath.Join(binDir, "boost"))
	return env
}

func lookup(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// set replaces every entry for key with a single key=value.
func set(env []string, key, value string) []string {
	out := env[:0]
	for _, e := range env {
		if k, _, ok := strings.Cut(e, "="); ok && k == key {
			continue
		}
		out = append(out, e)
	}
	return append(out, key+"="+value)
}
