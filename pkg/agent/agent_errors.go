// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/jllopis/argo/pkg/errors"
	"github.com/jllopis/argo/pkg/telemetry"
)

// Sentinels for errors.Is. Matching is by code, so any error of the same
// kind matches regardless of message or context.
var (
	ErrNoSkillAvailable = errors.New(errors.CodeNoSkill, "no skill available", nil)
	ErrSelection        = errors.New(errors.CodeSelection, "skill selection failed", nil)
	ErrRequiresChain    = errors.New(errors.CodeRequiresChain, "required skill failed", nil)
	ErrConflict         = errors.New(errors.CodeConflict, "a turn is already in progress", nil)
	ErrContextLost      = errors.New(errors.CodeContextLost, "turn context ended", nil)
	// ErrSequenceConsumed is yielded when a single-pass sequence is ranged twice.
	ErrSequenceConsumed = errors.New(errors.CodeSequenceConsumed, "sequence already consumed", nil)
)

// ErrorMetricsIntegration provides error metrics integration for agents.
// It wraps the telemetry.ErrorMetrics and provides agent-specific helpers.
type ErrorMetricsIntegration struct {
	metrics *telemetry.ErrorMetrics
	enabled bool
}

var (
	globalErrorMetrics     *ErrorMetricsIntegration
	globalErrorMetricsOnce sync.Once
)

// InitErrorMetrics initializes the global error metrics for agents.
// It degrades to a disabled integration if the meters cannot be created.
func InitErrorMetrics(ctx context.Context) *ErrorMetricsIntegration {
	globalErrorMetricsOnce.Do(func() {
		metrics, err := telemetry.NewErrorMetrics(ctx)
		if err != nil {
			globalErrorMetrics = &ErrorMetricsIntegration{enabled: false}
			return
		}
		globalErrorMetrics = &ErrorMetricsIntegration{
			metrics: metrics,
			enabled: true,
		}
	})
	return globalErrorMetrics
}

// GetErrorMetrics returns the global error metrics integration.
// Returns nil if not initialized.
func GetErrorMetrics() *ErrorMetricsIntegration {
	return globalErrorMetrics
}

// RecordError records an error metric with the appropriate error code and component.
func (e *ErrorMetricsIntegration) RecordError(ctx context.Context, err error, component string) {
	if e == nil || !e.enabled || e.metrics == nil {
		return
	}
	e.metrics.RecordErrorMetric(ctx, err, component)
}

// RecordRecovery records a successful recovery for the given error code.
func (e *ErrorMetricsIntegration) RecordRecovery(ctx context.Context, code errors.ErrorCode) {
	if e == nil || !e.enabled || e.metrics == nil {
		return
	}
	e.metrics.RecordRecovery(ctx, code)
}

// WrapModelError wraps a language-model failure with the model name.
func WrapModelError(err error, model string) *errors.ArgoError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*errors.ArgoError); ok && ae.Code == errors.CodeLLMError {
		return ae
	}
	return errors.New(errors.CodeLLMError, "model call failed", err).
		WithContext("model", model).
		WithAttribute("gen_ai.request.model", model).
		WithRecoverable(true)
}

// WrapToolError wraps a tool failure. Parameter errors and errors that
// already carry TOOL_FAILURE pass through unchanged.
func WrapToolError(err error, toolName string) *errors.ArgoError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*errors.ArgoError); ok && (ae.Code == errors.CodeParameter || ae.Code == errors.CodeToolFailure) {
		return ae
	}
	return errors.New(errors.CodeToolFailure, fmt.Sprintf("tool %q failed", toolName), err).
		WithContext("tool", toolName).
		WithAttribute("tool.name", toolName).
		WithRecoverable(true)
}

// WrapRequiresError reports the failure of requirement while preparing skill.
func WrapRequiresError(err error, skill, requirement string) *errors.ArgoError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeRequiresChain,
		fmt.Sprintf("requirement %q of skill %q failed", requirement, skill), err).
		WithContext("skill", skill).
		WithContext("requirement", requirement).
		WithAttribute("argo.skill.name", skill).
		WithRecoverable(false)
}

// WrapContextError reports a cancelled or expired turn context.
func WrapContextError(err error, state State) *errors.ArgoError {
	if err == nil {
		return nil
	}
	code := errors.CodeContextLost
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeTimeout
	}
	return errors.New(code, "turn interrupted", err).
		WithContext("state", state.String()).
		WithRecoverable(false)
}

// NewSelectionError reports a selector answer that is not a registered skill.
func NewSelectionError(answer string, cause error) *errors.ArgoError {
	msg := fmt.Sprintf("selector chose unknown skill %q", answer)
	if cause != nil {
		msg = "selector failed"
	}
	return errors.New(errors.CodeSelection, msg, cause).
		WithContext("answer", answer).
		WithRecoverable(true)
}

// NewNoSkillError reports an agent with an empty skill registry.
func NewNoSkillError(agent string) *errors.ArgoError {
	return errors.New(errors.CodeNoSkill, "agent has no registered skills", nil).
		WithContext("agent", agent).
		WithRecoverable(false)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.ArgoError {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, name string) *errors.ArgoError {
	return errors.New(errors.CodeNotFound, resource+" not found", nil).
		WithContext("resource", resource).
		WithContext("name", name).
		WithRecoverable(false)
}

// NewDuplicateError reports a second registration under the same name.
func NewDuplicateError(resource, name string) *errors.ArgoError {
	return errors.New(errors.CodeConflict, fmt.Sprintf("%s %q already registered", resource, name), nil).
		WithContext("resource", resource).
		WithContext("name", name).
		WithRecoverable(false)
}
