// SPDX-License-Identifier: MIT

package session

import (
	"errors"
	"fmt"
)

// ErrResourceExhausted is returned by StartSession when the concurrency gate
// is saturated. Terminal for this admission attempt only; the trigger source
// may retry the whole session later.
var ErrResourceExhausted = errors.New("resource exhausted: concurrency limit reached")

// ProtocolError reports a source URL scheme outside the allow-list.
// Always terminal; no process is spawned.
type ProtocolError struct {
	Scheme string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol: %q", e.Scheme)
}

// ConnectionError reports a capture connection failure or an unexpected
// process exit before the duration limit. Always retryable.
type ConnectionError struct {
	Detail   string
	ExitCode int // -1 when no process exit is involved
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("connection error: %s (exit code %d)", e.Detail, e.ExitCode)
	}
	return fmt.Sprintf("connection error: %s", e.Detail)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProcessingError reports a post-processing failure. Retryable unless the
// input is structurally invalid (e.g. a zero-byte capture).
type ProcessingError struct {
	Detail   string
	Terminal bool
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error: %s", e.Detail)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// TransferError reports a delivery failure. Network and timeout failures are
// retryable; authentication and destination rejections are terminal.
type TransferError struct {
	Detail   string
	Terminal bool
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer error: %s", e.Detail)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator may retry the failed stage.
// Components only classify; the orchestrator is the sole retry decider.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return true
	}
	var proc *ProcessingError
	if errors.As(err, &proc) {
		return !proc.Terminal
	}
	var te *TransferError
	if errors.As(err, &te) {
		return !te.Terminal
	}
	return false
}
