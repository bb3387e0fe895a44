// Package atomicfile implements crash-safe writes (spec.md §4.G): write to a
// sibling temp file, fsync the file, rename into place, fsync the parent
// directory. Every temp file is created in the same directory as its target
// so the rename is guaranteed atomic on POSIX filesystems.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bpbradley/locket/pkg/errs"
)

const (
	DefaultDirMode  os.FileMode = 0o700
	DefaultFileMode os.FileMode = 0o600
)

// Write atomically writes data to path, creating parent directories with
// dirMode if needed and the file with fileMode.
func Write(path string, data []byte, fileMode, dirMode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return errs.NewSecret(errs.SecretIo, dir, fmt.Errorf("creating parent dir: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".tmp.*")
	if err != nil {
		return errs.NewSecret(errs.SecretIo, path, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return errs.NewSecret(errs.SecretIo, tmpPath, fmt.Errorf("chmod temp file: %w", err))
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errs.NewSecret(errs.SecretWrite, path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.NewSecret(errs.SecretIo, tmpPath, fmt.Errorf("fsync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errs.NewSecret(errs.SecretIo, tmpPath, fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errs.NewSecret(errs.SecretWrite, path, fmt.Errorf("rename into place: %w", err))
	}
	cleanup = false

	if err := fsyncDir(dir); err != nil {
		return errs.NewSecret(errs.SecretIo, dir, fmt.Errorf("fsync parent dir: %w", err))
	}
	return nil
}

// Copy streams src's contents to dst atomically, using Write's same
// temp-then-rename sequence.
func Copy(src, dst string, fileMode, dirMode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.NewSecret(errs.SecretIo, src, err)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return errs.NewSecret(errs.SecretIo, dir, fmt.Errorf("creating parent dir: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".tmp.*")
	if err != nil {
		return errs.NewSecret(errs.SecretIo, dst, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return errs.NewSecret(errs.SecretIo, tmpPath, err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return errs.NewSecret(errs.SecretWrite, dst, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.NewSecret(errs.SecretIo, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.NewSecret(errs.SecretIo, tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return errs.NewSecret(errs.SecretWrite, dst, err)
	}
	cleanup = false

	return fsyncDir(dir)
}

// Move renames from to to and fsyncs the destination parent directory.
func Move(from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return errs.NewSecret(errs.SecretWrite, to, err)
	}
	return fsyncDir(filepath.Dir(to))
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
