// Package exitcode maps locket's error families onto BSD sysexits-style
// process exit codes (spec.md §6). A provider transport failure
// (EX_UNAVAILABLE) is distinguished from a registry invariant violation
// (EX_SOFTWARE), and a provider's invalid configuration maps to EX_CONFIG.
// Errors from CLI flag parsing and config-file loading carry no error
// family and map to EX_SOFTWARE; ForError never returns Usage.
package exitcode

import (
	"errors"
	"os/exec"

	"github.com/bpbradley/locket/pkg/errs"
)

const (
	OK           = 0
	Usage        = 64 // EX_USAGE: bad CLI flags/arguments
	DataErr      = 65 // EX_DATAERR: template oversize, malformed reference
	NoInput      = 66 // EX_NOINPUT: missing template/source file
	NoPerm       = 77 // EX_NOPERM: unauthorized provider
	Unavailable  = 69 // EX_UNAVAILABLE: network or backend down
	Software     = 70 // EX_SOFTWARE: internal invariant violated
	IoErr        = 74 // EX_IOERR
	ConfigErr    = 78 // EX_CONFIG: malformed config file/flags
)

// For exits due to a supervised child process (exec mode), propagation is:
// child exit code 0-255 passes through unchanged; a signal-terminated child
// maps to 128+signum.
func ForChildExit(code int, signaled bool, signum int) int {
	if signaled {
		return 128 + signum
	}
	return code
}

// ForError inspects err's family and returns the matching exit code. Unknown
// errors map to Software, since an un-categorized error reaching this far is
// itself an invariant the caller failed to uphold.
func ForError(err error) int {
	if err == nil {
		return OK
	}

	var secretErr *errs.SecretError
	if errors.As(err, &secretErr) {
		switch secretErr.Kind {
		case errs.SecretSourceTooLarge, errs.SecretParse:
			return DataErr
		case errs.SecretSourceMissing:
			return NoInput
		case errs.SecretCollision, errs.SecretStructureConflict, errs.SecretLoop, errs.SecretDestructive:
			return Software
		case errs.SecretIo, errs.SecretWrite, errs.SecretNoParent:
			return IoErr
		default:
			return Software
		}
	}

	var providerErr *errs.ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.Kind {
		case errs.ProviderUnauthorized:
			return NoPerm
		case errs.ProviderInvalidConfig:
			return ConfigErr
		case errs.ProviderNetwork, errs.ProviderRateLimit:
			return Unavailable
		case errs.ProviderIo:
			return IoErr
		default:
			return Software
		}
	}

	var watchErr *errs.WatchError
	if errors.As(err, &watchErr) {
		switch watchErr.Kind {
		case errs.WatchSourceMissing:
			return NoInput
		case errs.WatchIo:
			return IoErr
		default:
			return Software
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(interface{ Signaled() bool }); ok && ws.Signaled() {
			return Software
		}
		return exitErr.ExitCode()
	}

	return Software
}
