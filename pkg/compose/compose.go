// Package compose implements the Docker Compose secrets-plugin protocol
// used by the `compose {up,down,metadata}` subcommand (spec.md §6): one
// JSON object per line on stdout, discriminated by a "type" field of
// info|error|debug|setenv. Grounded on original_source/src/compose.rs; a
// thin protocol adapter, not a Compose file parser (see SPEC_FULL.md's
// REDESIGN note).
package compose

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MessageType discriminates a Msg's meaning to the Compose CLI.
type MessageType string

const (
	Info   MessageType = "info"
	Error  MessageType = "error"
	Debug  MessageType = "debug"
	SetEnv MessageType = "setenv"
)

type wireMsg struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Emitter writes the Compose plugin protocol to an underlying writer,
// serializing concurrent writes (spec.md §6: "each line is a JSON
// object").
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter wraps w (typically os.Stdout).
func NewEmitter(w io.Writer) *Emitter { return &Emitter{w: w} }

func (e *Emitter) emit(msgType MessageType, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line, err := json.Marshal(wireMsg{Type: msgType, Message: message})
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = e.w.Write(line)
}

// Info emits an informational message.
func (e *Emitter) Info(message string) { e.emit(Info, message) }

// Error emits an error message.
func (e *Emitter) Error(message string) { e.emit(Error, message) }

// Debug emits a debug message.
func (e *Emitter) Debug(message string) { e.emit(Debug, message) }

// SetEnv emits a "KEY=VALUE" environment assignment for Compose to apply.
func (e *Emitter) SetEnv(key, value string) {
	e.emit(SetEnv, fmt.Sprintf("%s=%s", key, value))
}
