package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errProviderUnavailable = errors.New("provider: connection refused")

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb := New(&Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          1 * time.Second,
	})

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error {
			return nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be closed, got: %v", cb.GetState())
	}

	// Some failures, but below threshold
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return errProviderUnavailable
		})
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to remain closed, got: %v", cb.GetState())
	}

	// A success resets the consecutive-failure count, so the circuit
	// should stay closed through a second short burst of failures too.
	_ = cb.Execute(ctx, func(ctx context.Context) error {
		return nil
	})
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return errProviderUnavailable
		})
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to remain closed after reset, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_OpenState(t *testing.T) {
	var stateChanges []string
	cb := New(&Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
		OnStateChange: func(from, to State) {
			stateChanges = append(stateChanges, fmt.Sprintf("%s->%s", from, to))
		},
	})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return errProviderUnavailable
		})
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be open, got: %v", cb.GetState())
	}

	// A request against a provider that never got attempted should fail
	// fast with ErrCircuitOpen instead of invoking fn.
	err := cb.Execute(ctx, func(ctx context.Context) error {
		t.Error("fn must not run while the circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got: %v", err)
	}

	if len(stateChanges) != 1 || stateChanges[0] != "closed->open" {
		t.Errorf("Expected state change closed->open, got: %v", stateChanges)
	}

	time.Sleep(150 * time.Millisecond)

	err = cb.Execute(ctx, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error in half-open state, got: %v", err)
	}

	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenState(t *testing.T) {
	cb := New(&Config{
		FailureThreshold:      3,
		SuccessThreshold:      2,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return errProviderUnavailable
		})
	}

	time.Sleep(100 * time.Millisecond)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got: %v", cb.GetState())
	}

	err = cb.Execute(ctx, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be closed after successes, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb := New(&Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return errProviderUnavailable
		})
	}

	time.Sleep(100 * time.Millisecond)

	// A probe that still fails reopens the circuit rather than letting
	// a flaky provider dribble requests through one at a time.
	_ = cb.Execute(ctx, func(ctx context.Context) error {
		return errProviderUnavailable
	})

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be open after half-open failure, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_Fallback(t *testing.T) {
	cb := New(&Config{
		FailureThreshold: 1,
		Timeout:          1 * time.Second,
	})

	ctx := context.Background()
	fallbackCalled := false

	_ = cb.Execute(ctx, func(ctx context.Context) error {
		return errProviderUnavailable
	})

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected circuit to be open, got: %v", cb.GetState())
	}

	// Mirrors capability.Client falling back to a cached/hashing
	// embedding when the live provider call is short-circuited.
	err := cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			t.Error("fn should not run when the circuit is open")
			return errors.New("should not be called")
		},
		func(ctx context.Context, originalErr error) error {
			fallbackCalled = true
			if !errors.Is(originalErr, ErrCircuitOpen) {
				t.Errorf("Expected ErrCircuitOpen in fallback, got: %v", originalErr)
			}
			return nil
		},
	)

	if err != nil {
		t.Errorf("Expected no error with fallback, got: %v", err)
	}
	if !fallbackCalled {
		t.Error("Expected fallback to be called")
	}
}

func TestCircuitBreaker_ConcurrentRequests(t *testing.T) {
	cb := New(&Config{
		FailureThreshold:      3,
		SuccessThreshold:      2,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 2,
	})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return errProviderUnavailable
		})
	}

	time.Sleep(100 * time.Millisecond)

	var wg sync.WaitGroup
	var successCount int32
	var rejectCount int32

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Execute(ctx, func(ctx context.Context) error {
				time.Sleep(20 * time.Millisecond)
				return nil
			})
			switch {
			case err == nil:
				atomic.AddInt32(&successCount, 1)
			case errors.Is(err, ErrTooManyConcurrentRequests):
				atomic.AddInt32(&rejectCount, 1)
			default:
				t.Logf("Unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	t.Logf("Success count: %d, Reject count: %d", successCount, rejectCount)
	if successCount == 0 {
		t.Error("Expected at least some successful requests")
	}
	if rejectCount == 0 && successCount < 5 {
		t.Error("Expected some requests to be rejected when exceeding concurrent limit")
	}
	if successCount+rejectCount != 5 {
		t.Errorf("Expected total of 5 requests, got: %d", successCount+rejectCount)
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := New(&Config{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return nil })
	}
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return errProviderUnavailable })
	}

	stats := cb.GetStats()
	if stats.TotalRequests != 5 {
		t.Errorf("Expected 5 total requests, got: %d", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 3 {
		t.Errorf("Expected 3 total successes, got: %d", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 2 {
		t.Errorf("Expected 2 total failures, got: %d", stats.TotalFailures)
	}
	if stats.FailureRate != 0.4 {
		t.Errorf("Expected failure rate 0.4, got: %f", stats.FailureRate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(&Config{FailureThreshold: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, func(ctx context.Context) error { return errProviderUnavailable })
	if cb.GetState() != StateOpen {
		t.Error("Expected circuit to be open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Error("Expected circuit to be closed after reset")
	}

	err := cb.Execute(ctx, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Errorf("Expected no error after reset, got: %v", err)
	}
}

func TestCircuitBreaker_RaceConditions(t *testing.T) {
	cb := New(&Config{
		FailureThreshold: 10,
		SuccessThreshold: 5,
		Timeout:          10 * time.Millisecond,
	})

	ctx := context.Background()
	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			_ = cb.Execute(ctx, func(ctx context.Context) error {
				if i%3 == 0 {
					return errProviderUnavailable
				}
				return nil
			})
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = cb.GetStats()
			_ = cb.GetState()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 10; i++ {
			time.Sleep(15 * time.Millisecond)
			if cb.GetState() == StateOpen {
				time.Sleep(15 * time.Millisecond)
			}
		}
		done <- true
	}()

	for i := 0; i < 3; i++ {
		<-done
	}

	state := cb.GetState()
	if state != StateClosed && state != StateOpen && state != StateHalfOpen {
		t.Errorf("Invalid state after race test: %v", state)
	}
}

// fakeProviderCall counts attempts the way capability.Client's breaker
// wraps a provider's HTTP round trip: every attempt increments a
// counter, and the call fails until a provider "recovers" after
// recoverAfter attempts.
type fakeProviderCall struct {
	attempts     int32
	recoverAfter int32
}

func (f *fakeProviderCall) do(ctx context.Context) error {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.recoverAfter {
		return errProviderUnavailable
	}
	return nil
}

// TestCircuitBreaker_DefaultConfigTripsOnProviderOutage exercises the
// breaker with the exact tuning internal/capability.Client wraps its
// provider calls in (DefaultConfig): FailureThreshold consecutive
// outage responses trip the circuit, fast-failing later calls instead
// of letting each one pay the provider's own timeout, then the
// provider recovering lets a half-open probe close it again.
func TestCircuitBreaker_DefaultConfigTripsOnProviderOutage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond // shrink the real 30s for the test
	cb := New(cfg)
	ctx := context.Background()

	call := &fakeProviderCall{recoverAfter: int32(cfg.FailureThreshold)}

	var lastErr error
	for i := 0; i < cfg.FailureThreshold; i++ {
		lastErr = cb.Execute(ctx, call.do)
	}
	if lastErr == nil {
		t.Fatal("expected the provider's own error on the tripping attempt")
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected circuit open after %d consecutive failures, got %v", cfg.FailureThreshold, cb.GetState())
	}

	// Further calls must not even reach the provider.
	attemptsBeforeFastFail := atomic.LoadInt32(&call.attempts)
	err := cb.Execute(ctx, call.do)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while tripped, got: %v", err)
	}
	if atomic.LoadInt32(&call.attempts) != attemptsBeforeFastFail {
		t.Error("provider call should not run while the circuit is open")
	}

	time.Sleep(cfg.Timeout + 20*time.Millisecond)

	// The provider has recovered by now; the half-open probe succeeds
	// SuccessThreshold times and the circuit closes.
	for i := 0; i < cfg.SuccessThreshold; i++ {
		if err := cb.Execute(ctx, call.do); err != nil {
			t.Fatalf("expected recovered provider call to succeed, got: %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected circuit closed after recovery, got: %v", cb.GetState())
	}
}
