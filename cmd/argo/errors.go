// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jllopis/argo/pkg/errors"
)

// CLIError wraps ArgoError with a hint for the terminal.
type CLIError struct {
	*errors.ArgoError
	Hint string
}

// NewCLIError wraps err, picking a hint from its code when hint is empty.
func NewCLIError(err error, hint string) *CLIError {
	ae := errors.AsArgoError(err)
	if hint == "" {
		hint = hintFor(ae.Code)
	}
	return &CLIError{ArgoError: ae, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.ArgoError == nil {
		return "unknown error"
	}
	msg := e.ArgoError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the wrapped ArgoError.
func (e *CLIError) Unwrap() error { return e.ArgoError }

// PrintError writes the error to w, as a JSON object when asJSON is set.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]map[string]string{"error": {
			"code":    string(e.Code),
			"message": e.Message,
			"hint":    e.Hint,
		}}
		if e.Err != nil {
			payload["error"]["cause"] = e.Err.Error()
		}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s [%s] %s", red("Error"), FormatErrorCode(e.Code), e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, ": %v", e.Err)
	}
	fmt.Fprintln(w)
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(err error, configPath string) *CLIError {
	ae := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)
	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return &CLIError{ArgoError: ae, Hint: hint}
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeLLMError:
		return "check that the model provider is reachable and the model is available"
	case errors.CodeSelection, errors.CodeNoSkill:
		return "run 'argo skills' to see the registered skills"
	case errors.CodeToolFailure:
		return "the tool may be temporarily unavailable; try again later"
	case errors.CodeParameter:
		return "rephrase the request so the tool gets the input it needs"
	case errors.CodeTimeout, errors.CodeContextLost:
		return "the turn was interrupted; nothing was added to the history"
	default:
		return ""
	}
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeDecode:
		return "Decode Error"
	case errors.CodeParameter:
		return "Parameter Error"
	case errors.CodeSelection:
		return "Selection Error"
	case errors.CodeNoSkill:
		return "No Skill"
	case errors.CodeRequiresChain:
		return "Requirement Failed"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeToolFailure:
		return "Tool Failure"
	case errors.CodeLLMError:
		return "LLM Error"
	case errors.CodeContextLost:
		return "Context Lost"
	case errors.CodeConflict:
		return "Conflict"
	case errors.CodeSequenceConsumed:
		return "Sequence Consumed"
	default:
		return string(code)
	}
}
