// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	eerrors "github.com/jllopis/ergon/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(2 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func() error {
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
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverableErgonError(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func() error {
		attempts++
		return eerrors.New(eerrors.CodeInvalidInput, "bad request", nil)
	})
	if err == nil || attempts != 1 {
		t.Fatalf("expected a single attempt, got %d (%v)", attempts, err)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig().WithInitialDelay(time.Hour).WithMaxDelay(time.Hour)
	attempts := 0
	err := cfg.Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})
	if !eerrors.HasCode(err, eerrors.CodeContextLost) {
		t.Fatalf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastRetry(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first")
		}
		return "value", nil
	})
	if err != nil || got != "value" {
		t.Fatalf("expected value, got %q (%v)", got, err)
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, Multiplier: 2}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 25 * time.Millisecond},
	}
	for _, c := range cases {
		if got := cfg.Backoff(c.attempt); got != c.want {
			t.Errorf("attempt %d: expected %v, got %v", c.attempt, c.want, got)
		}
	}
	if (RetryConfig{}).Backoff(3) != 0 {
		t.Errorf("expected zero delay without InitialDelay")
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []CircuitBreakerState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		OnStateChange: func(_ string, _, to CircuitBreakerState) {
			transitions = append(transitions, to)
		},
	})
	now := time.Now()
	cb.now = func() time.Time { return now }
	fail := func() error { return errors.New("down") }

	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after one failure")
	}
	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open after threshold")
	}

	called := false
	err := cb.Call(context.Background(), func() error { called = true; return nil })
	if err == nil || called {
		t.Fatalf("expected call to be rejected while open")
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected trial call to pass: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", cb.State())
	}
	want := []CircuitBreakerState{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("unexpected transitions %v", transitions)
		}
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Call(context.Background(), func() error { return errors.New("x") })
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset")
	}
}

func TestWithTimeout(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !eerrors.HasCode(err, eerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}

	v, err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d (%v)", v, err)
	}

	v, err = WithTimeout(context.Background(), 0, func(ctx context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("expected passthrough, got %d (%v)", v, err)
	}
}
