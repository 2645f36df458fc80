package resilience

import (
	"context"

	"github.com/valet-labs/valet/pkg/completion"
)

// CompletionFallback implements [completion.Service] with automatic failover
// across multiple completion backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type CompletionFallback struct {
	group *FallbackGroup[completion.Service]
}

// Compile-time interface assertion.
var _ completion.Service = (*CompletionFallback)(nil)

// NewCompletionFallback creates a [CompletionFallback] with primary as the
// preferred backend.
func NewCompletionFallback(primary completion.Service, primaryName string, cfg FallbackConfig) *CompletionFallback {
	return &CompletionFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional completion service as a fallback.
func (f *CompletionFallback) AddFallback(name string, svc completion.Service) {
	f.group.AddFallback(name, svc)
}

// Complete sends the request to the first healthy backend and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *CompletionFallback) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	return ExecuteWithResult(f.group, func(svc completion.Service) (*completion.Response, error) {
		return svc.Complete(ctx, req)
	})
}
