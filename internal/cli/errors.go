// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, display and exit codes for CLI commands.
//
// Commands always return errors; main decides how to display them.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/config"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitSecurityError = 6
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command failure with context.
type CommandError struct {
	Command string
	Action  string
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed (%s): %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s", e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	msg += ": " + e.Reason
	if e.Example != "" {
		msg += fmt.Sprintf(" (example: %s)", e.Example)
	}
	return msg
}

// NotFoundError represents a missing input file.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewCommandError creates a CommandError.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewValidationErrorWithExample creates a ValidationError with a usage hint.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Example: example}
}

// ErrMissingArgument reports a required positional argument.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(argName, "", "is required", usage)
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to stderr, or as JSON to stdout in JSON mode.
func DisplayError(err error, jsonMode bool) {
	var rep *reportedError
	if err == nil || errors.As(err, &rep) {
		return
	}
	if jsonMode {
		DisplayErrorJSON(err)
		return
	}
	fmt.Fprintf(stderr, "%s %s\n", GetStyleForTTY(ErrorStyle).Render("[ERROR]"), err.Error())
}

// DisplayErrorJSON writes a structured error object.
func DisplayErrorJSON(err error) {
	output := map[string]any{
		"success": false,
		"error":   err.Error(),
	}

	var (
		cmdErr *CommandError
		valErr *ValidationError
		nfErr  *NotFoundError
		rej    *security.Rejection
	)
	switch {
	case errors.As(err, &rej):
		output["error_type"] = "rejection"
		output["error"] = rej.Message
		output["reason"] = rej.Reason
		if rej.Details != nil {
			output["details"] = rej.Details
		}
	case errors.As(err, &valErr):
		output["error_type"] = "validation_error"
		output["field"] = valErr.Field
		output["reason"] = valErr.Reason
	case errors.As(err, &nfErr):
		output["error_type"] = "not_found_error"
		output["resource"] = nfErr.Resource
	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}

// HandleError displays err and returns it.
func HandleError(err error, jsonMode bool) error {
	if err == nil {
		return nil
	}
	DisplayError(err, jsonMode)
	return err
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return ExitNotFoundError
	}

	var (
		cfgErrs config.ValidateErrors
		cfgErr  config.ValidationError
		cmdErr  *CommandError
	)
	switch {
	case errors.As(err, &cfgErrs), errors.As(err, &cfgErr), errors.Is(err, security.ErrConfiguration):
		return ExitConfigError
	case errors.As(err, &cmdErr) && cmdErr.Command == "config":
		return ExitConfigError
	case errors.Is(err, security.ErrSecurityRejection), errors.Is(err, security.ErrFormat):
		return ExitSecurityError
	}
	return ExitGeneralError
}

// reportedError marks an error whose result the command already printed.
// DisplayError stays quiet for it; the exit code still reflects it.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}
