package fleet

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ilocn/creterun/internal/workspace"
)

func newWS(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Init(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.Init: %v", err)
	}
	return ws
}

func TestRegisterGetDelete(t *testing.T) {
	t.Parallel()
	ws := newWS(t)
	r := &Record{ID: "w-1", RunID: "run-1", Name: NameDispatch, PID: 4242, StartedAt: 100}
	if err := Register(ws, r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := Get(ws, "w-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *got != *r {
		t.Errorf("Get = %+v, want %+v", got, r)
	}
	if err := Delete(ws, "w-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Get(ws, "w-1"); err == nil {
		t.Error("Get after Delete should fail")
	}
	if err := Delete(ws, "w-1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestListSkipsJunk(t *testing.T) {
	t.Parallel()
	ws := newWS(t)
	for _, id := range []string{"w-a", "w-b"} {
		if err := Register(ws, &Record{ID: id, Name: id, PID: 1}); err != nil {
			t.Fatal(err)
		}
	}
	dir := ws.WorkersDir()
	os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.json"), 0o755)

	records, err := List(ws)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List returned %d records, want 2", len(records))
	}
}

func TestListMissingDir(t *testing.T) {
	t.Parallel()
	ws, err := workspace.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	records, err := List(ws)
	if err != nil || records != nil {
		t.Errorf("List on missing dir = %v, %v", records, err)
	}
}

func TestIsAlive(t *testing.T) {
	t.Parallel()
	if !IsAlive(os.Getpid()) {
		t.Error("own process reported dead")
	}
	if IsAlive(999999999) {
		t.Error("nonexistent pid reported alive")
	}
	if IsAlive(0) || IsAlive(-1) {
		t.Error("non-positive pid reported alive")
	}
	if GroupAlive(0) {
		t.Error("pgid 0 reported alive")
	}
}

func TestStartTime(t *testing.T) {
	t.Parallel()
	before := time.Now().Add(-2 * time.Second)
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	started, err := StartTime(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	if started.Before(before) || started.After(time.Now().Add(2*time.Second)) {
		t.Errorf("start time %v not around now", started)
	}
	if _, err := StartTime(999999999); err == nil {
		t.Error("expected error for nonexistent pid")
	}
}
