package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	argoerrors "github.com/jllopis/argo/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(2 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	var retried []int
	config := fastRetry().WithOnRetry(func(attempt int, err error, _ time.Duration) {
		retried = append(retried, attempt)
	})
	err := config.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("unexpected retry callbacks %v", retried)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("attempt %d failed", attempts)
	})

	if err == nil || err.Error() != "attempt 2 failed" {
		t.Errorf("expected the last error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	tests := []struct {
		name   string
		config RetryConfig
		err    error
	}{
		{"custom predicate", fastRetry().WithIsRecoverable(func(error) bool { return false }), errors.New("x")},
		{"argo error", fastRetry(), argoerrors.New(argoerrors.CodeParameter, "bad", nil).WithRecoverable(false)},
		{"context error", fastRetry(), context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := tt.config.Do(context.Background(), func() error {
				attempts++
				return tt.err
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if attempts != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(time.Hour).WithMaxDelay(time.Hour)

	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient error")
	})

	if !argoerrors.HasCode(err, argoerrors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryGeneric(t *testing.T) {
	attempts := 0
	result, err := Retry(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", argoerrors.New(argoerrors.CodeTimeout, "timed out", nil).WithRecoverable(true)
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestCalculateBackoff(t *testing.T) {
	rc := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, rc); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}

	rc.Jitter = 0.1
	for i := 0; i < 20; i++ {
		got := calculateBackoff(1, rc)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%%", got)
		}
	}
}

func TestRecoverableStatus(t *testing.T) {
	for code, want := range map[int]bool{200: false, 404: false, 408: true, 429: true, 500: true, 503: true} {
		if RecoverableStatus(code) != want {
			t.Errorf("RecoverableStatus(%d) = %v, want %v", code, !want, want)
		}
	}
}

func TestCircuitBreakerClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Name: "test"})
	if cb.State() != StateClosed {
		t.Errorf("expected initial state Closed")
	}
	for i := 0; i < 5; i++ {
		if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
			t.Errorf("call %d failed: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("expected state to remain Closed after success")
	}
}

func TestCircuitBreakerOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Name: "search"})

	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func() error { return errors.New("failure") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected state Open after 2 failures")
	}

	err := cb.Call(context.Background(), func() error {
		t.Fatalf("should not execute in open state")
		return nil
	})
	ae := argoerrors.AsArgoError(err)
	if ae == nil || ae.Code != argoerrors.CodeToolFailure || !ae.Recoverable {
		t.Fatalf("expected a recoverable TOOL_FAILURE, got %v", err)
	}
	if ae.Context["breaker"] != "search" {
		t.Errorf("expected breaker name in context, got %v", ae.Context)
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	})
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	now = now.Add(2 * time.Minute)
	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateHalfOpen {
		t.Errorf("expected state HalfOpen after timeout, got %s", cb.State())
	}
	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after successes in half-open, got %s", cb.State())
	}

	cb.Open()
	now = now.Add(2 * time.Minute)
	_ = cb.Call(context.Background(), func() error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Errorf("a half-open failure should reopen, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after reset")
	}
	if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("call failed after reset: %v", err)
	}
}
