// Package archive prepares the test archive shipped to the dispatcher: a
// working copy of the target directory and its zip.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilocn/creterun/internal/toolrun"
	"github.com/ilocn/creterun/internal/workspace"
)

// ErrTargetMissing is returned when the directory to archive does not exist.
var ErrTargetMissing = errors.New("target directory not found")

// TestArchive is the prepared working directory and its zip.
type TestArchive struct {
	Dir string
	Zip string
}

// Preparer owns the workspace's test/ directory and test.zip. Every
// preparation deletes and recreates both, so a run never sees files left by
// an earlier one.
type Preparer struct {
	WS      *workspace.Workspace
	Tools   toolrun.Runner
	ZipTool string
}

// Prepare copies targetDir into a fresh working directory and zips it.
func (p *Preparer) Prepare(ctx context.Context, targetDir string) (TestArchive, error) {
	fi, err := os.Stat(targetDir)
	if err != nil {
		if os.IsNotExist(err) {
			return TestArchive{}, fmt.Errorf("%w: %s", ErrTargetMissing, targetDir)
		}
		return TestArchive{}, err
	}
	if !fi.IsDir() {
		return TestArchive{}, fmt.Errorf("%w: %s is not a directory", ErrTargetMissing, targetDir)
	}
	src, err := realPath(targetDir)
	if err != nil {
		return TestArchive{}, err
	}
	work, err := realPath(p.WS.ArchiveDir())
	if err != nil {
		return TestArchive{}, err
	}
	switch {
	case within(src, work):
		return TestArchive{}, fmt.Errorf("target %s contains the archive working directory", targetDir)
	case within(work, src):
		return TestArchive{}, fmt.Errorf("target %s is inside the archive working directory", targetDir)
	}

	if err := os.RemoveAll(p.WS.ArchiveDir()); err != nil {
		return TestArchive{}, fmt.Errorf("removing old working directory: %w", err)
	}
	if err := copyDir(src, p.WS.ArchiveDir()); err != nil {
		return TestArchive{}, fmt.Errorf("copying %s: %w", targetDir, err)
	}
	slog.Info("test directory copied", slog.String("from", src), slog.String("to", p.WS.ArchiveDir()))
	return p.Zip(ctx)
}

// Reset replaces the working directory with an empty one. Used when the
// archive contents are generated in place, as the sanity check does.
func (p *Preparer) Reset() error {
	if err := os.RemoveAll(p.WS.ArchiveDir()); err != nil {
		return fmt.Errorf("removing old working directory: %w", err)
	}
	return os.MkdirAll(p.WS.ArchiveDir(), 0755)
}

// Zip (re)creates test.zip from the current working directory. zip is run
// from the workspace root so entries are stored as test/...
func (p *Preparer) Zip(ctx context.Context) (TestArchive, error) {
	if err := os.Remove(p.WS.ArchiveZip()); err != nil && !os.IsNotExist(err) {
		return TestArchive{}, fmt.Errorf("removing old archive: %w", err)
	}
	tool := p.ZipTool
	if tool == "" {
		tool = "zip"
	}
	if err := p.Tools.Run(ctx, p.WS.Root, tool, "-r", workspace.ArchiveZipName, workspace.ArchiveDirName); err != nil {
		return TestArchive{}, fmt.Errorf("zipping test archive: %w", err)
	}
	return TestArchive{Dir: p.WS.ArchiveDir(), Zip: p.WS.ArchiveZip()}, nil
}

// realPath is the absolute, symlink-free form of path. Missing trailing
// components are kept as given.
func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	dir, err := realPath(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// copyDir copies the src tree into dst. Symlinks are followed, so the copy
// holds real files the dispatcher can pack.
func copyDir(src, dst string) error {
	src, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		switch {
		case info.IsDir() && d.Type()&fs.ModeSymlink != 0:
			return copyDir(path, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			slog.Warn("skipping special file", slog.String("path", path))
			return nil
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
