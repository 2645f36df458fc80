package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker stamped onto each backend in a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// member pairs one backend with its dedicated breaker.
type member[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and an ordered chain of fallbacks of
// the same type. Calls go to the first member whose breaker admits them and
// that does not fail. Safe for concurrent use once assembly via
// [FallbackGroup.AddFallback] is done.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as its first
// member.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.members = append(g.members, g.newMember(primaryName, primary))
	return g
}

// AddFallback appends a backend to the chain. Fallbacks are tried in
// insertion order, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, backend T) {
	fg.members = append(fg.members, fg.newMember(name, backend))
}

func (fg *FallbackGroup[T]) newMember(name string, backend T) member[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	return member[T]{name: name, backend: backend, breaker: NewCircuitBreaker(cbCfg)}
}

// Execute runs fn against members in chain order until one succeeds. Members
// with an open breaker are skipped. When the whole chain fails, the returned
// error wraps [ErrAllFailed] together with the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(backend T) (struct{}, error) {
		return struct{}{}, fn(backend)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package-level function because Go methods cannot introduce
// type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.members {
		m := &fg.members[i]
		var result R
		err := m.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(m.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend skipped, breaker open", "backend", m.name)
		} else {
			slog.Warn("backend failed, trying next in chain",
				"backend", m.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
