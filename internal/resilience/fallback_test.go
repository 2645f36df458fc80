package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(cfg CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: cfg})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroupPrefersPrimary(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	if err := fg.Execute(func(v string) error { served = v; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "primary" {
		t.Fatalf("served by %q, want primary", served)
	}
}

func TestFallbackGroupFailsOverToNext(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	err := fg.Execute(func(v string) error {
		if v == "primary" {
			return errBackendDown
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "secondary" {
		t.Fatalf("served by %q, want secondary", served)
	}
}

func TestFallbackGroupWholeChainFails(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := fg.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsTrippedPrimary(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	// Trip the primary's breaker; the chain still answers via the fallback.
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errBackendDown
			}
			return nil
		})
	}

	primaryCalled := false
	var served string
	err := fg.Execute(func(v string) error {
		if v == "primary" {
			primaryCalled = true
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primaryCalled {
		t.Error("tripped primary was still called")
	}
	if served != "secondary" {
		t.Fatalf("served by %q, want secondary", served)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	t.Run("primary answers", func(t *testing.T) {
		t.Parallel()
		got, err := ExecuteWithResult(fg, func(v int) (string, error) {
			if v == 10 {
				return "from-ten", nil
			}
			return "from-twenty", nil
		})
		if err != nil {
			t.Fatalf("ExecuteWithResult: %v", err)
		}
		if got != "from-ten" {
			t.Fatalf("result = %q, want from-ten", got)
		}
	})

	t.Run("failover carries the fallback's value", func(t *testing.T) {
		t.Parallel()
		got, err := ExecuteWithResult(fg, func(v int) (string, error) {
			if v == 10 {
				return "", errBackendDown
			}
			return "from-twenty", nil
		})
		if err != nil {
			t.Fatalf("ExecuteWithResult: %v", err)
		}
		if got != "from-twenty" {
			t.Fatalf("result = %q, want from-twenty", got)
		}
	})
}

func TestExecuteWithResultAllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
