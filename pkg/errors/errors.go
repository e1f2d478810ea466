// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Argo.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Argo errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeDecode indicates message content does not match the requested shape.
	CodeDecode ErrorCode = "DECODE_ERROR"

	// CodeParameter indicates a tool was invoked with a missing or invalid parameter.
	CodeParameter ErrorCode = "PARAMETER_ERROR"

	// CodeSelection indicates the selection procedure did not resolve to a registered skill.
	CodeSelection ErrorCode = "SELECTION_ERROR"

	// CodeNoSkill indicates no skills were registered at selection time.
	CodeNoSkill ErrorCode = "NO_SKILL_AVAILABLE"

	// CodeRequiresChain indicates a prerequisite skill failed.
	CodeRequiresChain ErrorCode = "REQUIRES_CHAIN_ERROR"

	// CodeToolFailure indicates a tool execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeLLMError indicates a language model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeContextLost indicates the turn context was canceled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates an operation conflicts with work already in progress.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeSequenceConsumed indicates a single-pass sequence was ranged again.
	CodeSequenceConsumed ErrorCode = "SEQUENCE_CONSUMED"
)

// ArgoError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type ArgoError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *ArgoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *ArgoError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an ArgoError with the same code.
// This lets package-level sentinels match any error of their kind.
func (e *ArgoError) Is(target error) bool {
	t, ok := target.(*ArgoError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *ArgoError) MarshalJSON() ([]byte, error) {
	type Alias ArgoError
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new ArgoError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *ArgoError {
	return &ArgoError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *ArgoError) WithContext(key string, value interface{}) *ArgoError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *ArgoError) WithAttribute(key, value string) *ArgoError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *ArgoError) WithRecoverable(recoverable bool) *ArgoError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *ArgoError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsArgoError attempts to convert an error to an ArgoError.
// Returns the first ArgoError in the chain, or wraps err as internal.
func AsArgoError(err error) *ArgoError {
	if err == nil {
		return nil
	}
	var ae *ArgoError
	if stderrors.As(err, &ae) {
		return ae
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether any ArgoError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if ae, ok := err.(*ArgoError); ok && ae.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// CodeOf returns the code of the outermost ArgoError in err's chain,
// or CodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var ae *ArgoError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
