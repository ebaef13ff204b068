package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Fixed names inside the working root. The dispatcher and the replay tools
// derive their own output paths from these, so they are not configurable.
const (
	DispatchConfigName = "crete.dispatch.xml"
	GuestConfigName    = "crete.guest.xml"
	ArchiveDirName     = "test"
	ArchiveZipName     = "test.zip"
	EnvFileName        = "env.txt"
	ReportName         = "run.json"
)

// Workspace is the working root of a campaign: the directory the fleet is
// started in and where the dispatcher writes dispatch/last/.
type Workspace struct {
	Root string
}

// Open returns the Workspace rooted at root, which must be an existing
// directory.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("open workspace: %s is not a directory", abs)
	}
	return &Workspace{Root: abs}, nil
}

// Harness inputs.

func (ws *Workspace) DispatchConfigPath() string { return filepath.Join(ws.Root, DispatchConfigName) }
func (ws *Workspace) ArchiveDir() string         { return filepath.Join(ws.Root, ArchiveDirName) }
func (ws *Workspace) ArchiveZip() string         { return filepath.Join(ws.Root, ArchiveZipName) }
func (ws *Workspace) GuestConfigPath() string {
	return filepath.Join(ws.ArchiveDir(), GuestConfigName)
}

// ItemArg is the --item value handed to the dispatcher, relative to Root.
func (ws *Workspace) ItemArg() string { return filepath.Join(ArchiveDirName, GuestConfigName) }

// Dispatcher outputs, all under dispatch/last/crete.guest.xml/.

func (ws *Workspace) LastDir() string     { return filepath.Join(ws.Root, "dispatch", "last") }
func (ws *Workspace) GuestDir() string    { return filepath.Join(ws.LastDir(), GuestConfigName) }
func (ws *Workspace) TestCaseDir() string { return filepath.Join(ws.GuestDir(), "test-case") }
func (ws *Workspace) ParsedDir() string   { return filepath.Join(ws.GuestDir(), "test-case-parsed") }
func (ws *Workspace) ReplayDir() string   { return filepath.Join(ws.GuestDir(), "replay") }
func (ws *Workspace) FinishLogPath() string {
	return filepath.Join(ws.GuestDir(), "log", "finish.log")
}
func (ws *Workspace) SerializedGuestConfigPath() string {
	return filepath.Join(ws.GuestDir(), "guest-data", "crete-guest-config.serialized")
}

// Harness bookkeeping.

func (ws *Workspace) StateDir() string   { return filepath.Join(ws.Root, ".crete") }
func (ws *Workspace) WorkersDir() string { return filepath.Join(ws.StateDir(), "workers") }
func (ws *Workspace) LogsDir() string    { return filepath.Join(ws.Root, "logs") }
func (ws *Workspace) ReportPath() string { return filepath.Join(ws.Root, ReportName) }

func (ws *Workspace) WorkerPath(id string) string { return filepath.Join(ws.WorkersDir(), id+".json") }
func (ws *Workspace) WorkerLogPath(name string) string {
	return filepath.Join(ws.LogsDir(), name+".log")
}

// Exists reports whether path exists. Errors other than not-exist count as
// existing so callers do not silently overwrite something they cannot stat.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// AtomicWrite writes data to path atomically via temp file + rename.
func AtomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
