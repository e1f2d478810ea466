// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/argo/pkg/errors"
)

func TestNewErrorMetrics(t *testing.T) {
	em, err := NewErrorMetrics(context.Background())
	if err != nil {
		t.Fatalf("failed to create error metrics: %v", err)
	}
	if em == nil {
		t.Fatal("expected non-nil ErrorMetrics")
	}
}

func TestRecordErrorMetric(t *testing.T) {
	em, _ := NewErrorMetrics(context.Background())
	ctx := context.Background()

	ae := errors.New(errors.CodeToolFailure, "tool failed", nil)
	em.RecordErrorMetric(ctx, ae, "tool")
	em.RecordErrorMetric(ctx, fmt.Errorf("wrapped: %w", ae), "agent")
	em.RecordErrorMetric(ctx, fmt.Errorf("plain"), "agent")

	// Should not panic with nil error or metrics
	em.RecordErrorMetric(ctx, nil, "service")
	em.RecordErrorMetric(ctx, ae, "")

	var nilMetrics *ErrorMetrics
	nilMetrics.RecordErrorMetric(ctx, ae, "service")
}

func TestRecordRecovery(t *testing.T) {
	em, _ := NewErrorMetrics(context.Background())
	ctx := context.Background()

	em.RecordRecovery(ctx, errors.CodeToolFailure)
	em.RecordRecovery(ctx, errors.CodeLLMError)

	var nilMetrics *ErrorMetrics
	nilMetrics.RecordRecovery(ctx, errors.CodeToolFailure)
}

func TestTurnMetrics(t *testing.T) {
	tm, err := NewTurnMetrics()
	if err != nil {
		t.Fatalf("failed to create turn metrics: %v", err)
	}
	ctx := context.Background()
	tm.RecordTurn(ctx, "assistant", "chat", TurnSucceeded, 15*time.Millisecond)
	tm.RecordTurn(ctx, "assistant", "", TurnFailed, time.Millisecond)
	tm.RecordTool(ctx, "web_search", true)

	var nilMetrics *TurnMetrics
	nilMetrics.RecordTurn(ctx, "assistant", "chat", TurnAbandoned, 0)
	nilMetrics.RecordTool(ctx, "web_search", false)
}

func TestConcurrentMetrics(t *testing.T) {
	em, _ := NewErrorMetrics(context.Background())
	tm, _ := NewTurnMetrics()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			em.RecordErrorMetric(ctx, errors.New(errors.CodeDecode, "bad", nil), fmt.Sprintf("c%d", n))
			tm.RecordTurn(ctx, "a", "s", TurnSucceeded, time.Duration(n)*time.Millisecond)
		}(i)
	}
	wg.Wait()
}
