// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/argo/pkg/errors"
)

// Metric names.
const (
	MetricErrorsTotal     = "argo.errors.total"
	MetricErrorsRecovered = "argo.errors.recovered"
	MetricTurnsTotal      = "argo.turns.total"
	MetricTurnDuration    = "argo.turn.duration_ms"
	MetricToolCalls       = "argo.tool.calls"
)

// Turn statuses reported on MetricTurnsTotal.
const (
	TurnSucceeded = "succeeded"
	TurnFailed    = "failed"
	TurnAbandoned = "abandoned"
)

// ErrorMetrics tracks errors by code and component.
type ErrorMetrics struct {
	errorCounter    metric.Int64Counter
	recoveryCounter metric.Int64Counter
}

// NewErrorMetrics creates a new error metrics tracker with OTEL meters.
func NewErrorMetrics(ctx context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("argo/errors")

	errorCounter, err := meter.Int64Counter(
		MetricErrorsTotal,
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		MetricErrorsRecovered,
		metric.WithDescription("Successful error recoveries by code"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:    errorCounter,
		recoveryCounter: recoveryCounter,
	}, nil
}

// RecordErrorMetric increments the error counter for the error's code and component.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	code, recoverable := "UNKNOWN", "unknown"
	var ae *errors.ArgoError
	if stderrors.As(err, &ae) {
		code, recoverable = string(ae.Code), ae.RecoverableString()
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", code),
			attribute.String("component", component),
			attribute.String("recoverable", recoverable),
		),
	)
}

// RecordRecovery increments the recovery counter for the given error code.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, errorCode errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errorCode)),
		),
	)
}

// TurnMetrics records agent turn outcomes and latencies.
type TurnMetrics struct {
	turns    metric.Int64Counter
	duration metric.Float64Histogram
	tools    metric.Int64Counter
}

// NewTurnMetrics creates turn instruments on the global meter provider.
func NewTurnMetrics() (*TurnMetrics, error) {
	meter := otel.Meter("argo/agent")

	turns, err := meter.Int64Counter(
		MetricTurnsTotal,
		metric.WithDescription("Agent turns by status"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		MetricTurnDuration,
		metric.WithDescription("Agent turn duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	tools, err := meter.Int64Counter(
		MetricToolCalls,
		metric.WithDescription("Tool invocations by tool and outcome"),
	)
	if err != nil {
		return nil, err
	}
	return &TurnMetrics{turns: turns, duration: duration, tools: tools}, nil
}

// RecordTurn records one finished turn.
func (tm *TurnMetrics) RecordTurn(ctx context.Context, agent, skill, status string, elapsed time.Duration) {
	if tm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrSkillName, skill),
		attribute.String(AttrTurnStatus, status),
	)
	tm.turns.Add(ctx, 1, attrs)
	tm.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordTool records one tool invocation.
func (tm *TurnMetrics) RecordTool(ctx context.Context, tool string, success bool) {
	if tm == nil {
		return
	}
	tm.tools.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.Bool(AttrToolSuccess, success),
	))
}
