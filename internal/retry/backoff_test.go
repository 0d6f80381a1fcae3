package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	bridgeerr "wearbridge/internal/errors"
)

func fastBackoff(attempts int) *Backoff {
	return &Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   1.5,
		MaxAttempts:  attempts,
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := fastBackoff(10).Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestBackoff_PermanentError(t *testing.T) {
	calls := 0
	err := fastBackoff(10).Do(context.Background(), func(_ int) error {
		calls++
		return Permanent(fmt.Errorf("fatal"))
	})
	if err == nil || err.Error() != "fatal" {
		t.Fatalf("expected 'fatal', got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should stop after 1 call, got %d", calls)
	}
}

func TestBackoff_MaxAttempts(t *testing.T) {
	calls := 0
	err := fastBackoff(3).Do(context.Background(), func(_ int) error {
		calls++
		return fmt.Errorf("always fails")
	})
	if err == nil {
		t.Fatal("expected error after max attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestBackoff_SingleAttemptReturnsCause(t *testing.T) {
	cause := fmt.Errorf("busy")
	err := fastBackoff(1).Do(context.Background(), func(_ int) error { return cause })
	if err != cause {
		t.Errorf("single attempt should return the cause unwrapped, got %v", err)
	}
}

func TestBackoff_ContextCancelled(t *testing.T) {
	b := &Backoff{InitialDelay: 5 * time.Second, MaxAttempts: 100}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Do(ctx, func(_ int) error { return fmt.Errorf("fail") })
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not interrupt the wait")
	}
}

func TestBackoff_RetryableHook(t *testing.T) {
	b := ForConnect(5, time.Millisecond, 5*time.Millisecond, bridgeerr.IsRetryable)
	calls := 0

	err := b.Do(context.Background(), func(_ int) error {
		calls++
		return bridgeerr.Unavailable("select", "", fmt.Errorf("no serial ports found"))
	})
	if !bridgeerr.Is(err, bridgeerr.ErrTransportUnavailable) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("unavailable transport must not be retried, got %d calls", calls)
	}

	calls = 0
	err = b.Do(context.Background(), func(_ int) error {
		calls++
		return &bridgeerr.HandshakeError{Cause: fmt.Errorf("timeout")}
	})
	if calls != 6 {
		t.Errorf("handshake failures should use the whole budget, got %d calls", calls)
	}
	var he *bridgeerr.HandshakeError
	if !bridgeerr.As(err, &he) {
		t.Errorf("final error should still be a HandshakeError: %v", err)
	}
}

func TestBackoff_OnRetry(t *testing.T) {
	var attempts []int
	b := fastBackoff(3)
	b.OnRetry = func(attempt int, _ error, wait time.Duration) {
		if wait <= 0 {
			t.Errorf("wait = %v", wait)
		}
		attempts = append(attempts, attempt)
	}
	_ = b.Do(context.Background(), func(_ int) error { return fmt.Errorf("fail") })
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestJitter_Range(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		j := addJitter(d)
		lower := time.Duration(float64(d) * 0.74)
		upper := time.Duration(float64(d) * 1.26)
		if j < lower || j > upper {
			t.Errorf("jitter %v out of expected range [%v, %v]", j, lower, upper)
		}
	}
}
