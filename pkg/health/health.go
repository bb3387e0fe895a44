// Package health implements the status-file protocol `inject` and
// `healthcheck` share (spec.md §6): a file's mere existence signals
// readiness, grounded on original_source/src/health.rs.
package health

import (
	"os"
	"path/filepath"

	"github.com/bpbradley/locket/pkg/errs"
)

// IsReady reports whether the status file at path exists.
func IsReady(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// MarkReady creates path (and its parent directories), writing a fixed
// "ready" marker.
func MarkReady(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.NewSecret(errs.SecretIo, path, err)
	}
	if err := os.WriteFile(path, []byte("ready"), 0o644); err != nil {
		return errs.NewSecret(errs.SecretIo, path, err)
	}
	return nil
}

// Clear removes path if present; a missing file is not an error (spec.md
// §4, inject's startup step "clearing existing status file").
func Clear(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.NewSecret(errs.SecretIo, path, err)
	}
	return nil
}
