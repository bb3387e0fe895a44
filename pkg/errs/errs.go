// Package errs defines the error families used across locket.
//
// Each family is a concrete type so callers can branch on kind with errors.As
// instead of string matching, while still composing with fmt.Errorf("%w", ...)
// and errors.Is/errors.As the way the rest of the codebase wraps errors.
package errs

import (
	"errors"
	"fmt"
)

// SecretError is the error family produced by the path, registry, and manager
// layers (spec.md §7).
type SecretError struct {
	Kind SecretKind
	Path string
	Dst  string
	Err  error
}

type SecretKind string

const (
	SecretIo               SecretKind = "io"
	SecretProvider         SecretKind = "provider"
	SecretTask             SecretKind = "task"
	SecretSourceTooLarge   SecretKind = "source_too_large"
	SecretCollision        SecretKind = "collision"
	SecretStructureConflict SecretKind = "structure_conflict"
	SecretSourceMissing    SecretKind = "source_missing"
	SecretLoop             SecretKind = "loop"
	SecretDestructive      SecretKind = "destructive"
	SecretNoParent         SecretKind = "no_parent"
	SecretParse            SecretKind = "parse"
	SecretWrite            SecretKind = "write"
)

func (e *SecretError) Error() string {
	msg := string(e.Kind)
	if e.Path != "" {
		msg += " path=" + e.Path
	}
	if e.Dst != "" {
		msg += " dst=" + e.Dst
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SecretError) Unwrap() error { return e.Err }

// NewSecret builds a SecretError of the given kind.
func NewSecret(kind SecretKind, path string, err error) *SecretError {
	return &SecretError{Kind: kind, Path: path, Err: err}
}

// NewCollision builds the Collision variant, which carries two paths.
func NewCollision(first, second, dst string) *SecretError {
	return &SecretError{Kind: SecretCollision, Path: first, Dst: dst, Err: fmt.Errorf("also produced by %s", second)}
}

// NewStructureConflict builds the StructureConflict variant.
func NewStructureConflict(blocker, blocked string) *SecretError {
	return &SecretError{Kind: SecretStructureConflict, Path: blocked, Dst: blocker, Err: fmt.Errorf("%s is a parent of %s", blocker, blocked)}
}

// NewLoop builds the Loop (feedback) variant.
func NewLoop(src, dst string) *SecretError {
	return &SecretError{Kind: SecretLoop, Path: src, Dst: dst, Err: fmt.Errorf("destination feeds back into source")}
}

// NewDestructive builds the Destructive (self-overwrite) variant.
func NewDestructive(src, dst string) *SecretError {
	return &SecretError{Kind: SecretDestructive, Path: src, Dst: dst, Err: fmt.Errorf("source lies under destination")}
}

// ProviderError is the error family produced by secret-store backends
// (spec.md §7).
type ProviderError struct {
	Kind    ProviderKind
	Key     string
	Program string
	Status  int
	Stderr  string
	Err     error
}

type ProviderKind string

const (
	ProviderNetwork       ProviderKind = "network"
	ProviderNotFound      ProviderKind = "not_found"
	ProviderUnauthorized  ProviderKind = "unauthorized"
	ProviderRateLimit     ProviderKind = "rate_limit"
	ProviderInvalidConfig ProviderKind = "invalid_config"
	ProviderIo            ProviderKind = "io"
	ProviderExec          ProviderKind = "exec"
	ProviderURL           ProviderKind = "url"
	ProviderOther         ProviderKind = "other"
)

func (e *ProviderError) Error() string {
	switch e.Kind {
	case ProviderNotFound:
		return fmt.Sprintf("secret not found: %s", e.Key)
	case ProviderUnauthorized:
		return fmt.Sprintf("unauthorized: %s", e.Err)
	case ProviderExec:
		return fmt.Sprintf("%s exited %d: %s", e.Program, e.Status, e.Stderr)
	default:
		if e.Err != nil {
			return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Err)
		}
		return fmt.Sprintf("provider error (%s)", e.Kind)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a ProviderError{Kind: ProviderNotFound}.
func IsNotFound(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ProviderNotFound
	}
	return false
}

// WatchError is the error family produced by the filesystem watcher
// (spec.md §7).
type WatchError struct {
	Kind WatchKind
	Path string
	Err  error
}

type WatchKind string

const (
	WatchIo            WatchKind = "io"
	WatchNotify        WatchKind = "notify"
	WatchSourceMissing WatchKind = "source_missing"
	WatchDisconnected  WatchKind = "disconnected"
	WatchHandler       WatchKind = "handler"
)

func (e *WatchError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("watch %s (%s): %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("watch (%s): %v", e.Kind, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

// HandlerError is produced by the process supervisor's event handler
// (spec.md §7).
type HandlerError struct {
	Kind HandlerKind
	Err  error
}

type HandlerKind string

const (
	HandlerIo          HandlerKind = "io"
	HandlerSecret      HandlerKind = "secret"
	HandlerProvider    HandlerKind = "provider"
	HandlerExited      HandlerKind = "exited"
	HandlerSignaled    HandlerKind = "signaled"
	HandlerInterrupted HandlerKind = "interrupted"
	HandlerProcess     HandlerKind = "process"
	HandlerEnv         HandlerKind = "env"
)

func (e *HandlerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handler (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("handler (%s)", e.Kind)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PluginError is produced by the Docker volume plugin endpoints
// (spec.md §7). Endpoints always surface it as HTTP 200 with {"Err": ...}.
type PluginError struct {
	Kind PluginKind
	Err  error
}

type PluginKind string

const (
	PluginLocket     PluginKind = "locket"
	PluginJSON       PluginKind = "json"
	PluginValidation PluginKind = "validation"
	PluginNotFound   PluginKind = "not_found"
	PluginInUse      PluginKind = "in_use"
	PluginInternal   PluginKind = "internal"
)

func (e *PluginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *PluginError) Unwrap() error { return e.Err }

func NewPlugin(kind PluginKind, err error) *PluginError {
	return &PluginError{Kind: kind, Err: err}
}
