package main

import (
	"fmt"

	"github.com/bpbradley/locket/pkg/manager"
)

// parsePolicy maps a CLI/config policy string onto manager.Policy, shared by
// inject and volume (spec.md §6: "error copy-unmodified ignore").
func parsePolicy(s string) (manager.Policy, error) {
	switch s {
	case "", "copy-unmodified", "passthrough":
		return manager.PolicyCopyUnmodified, nil
	case "error":
		return manager.PolicyError, nil
	case "ignore":
		return manager.PolicyIgnore, nil
	default:
		return manager.PolicyCopyUnmodified, fmt.Errorf("unknown inject policy %q", s)
	}
}
