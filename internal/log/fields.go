// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldStream    = "stream"

	// Process / pipeline fields
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldAttempt   = "attempt"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// State fields
	FieldOldStage = "old_stage"
	FieldNewStage = "new_stage"

	// Path / destination fields
	FieldPath        = "path"
	FieldDestination = "destination"
)
