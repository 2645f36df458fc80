// Package mock provides a test double for the completion.Service interface.
//
// Use Service in unit tests to verify that callers send correct Requests and
// to feed controlled responses without a live backend. All fields are safe to
// set before calling any method; mutating them during a concurrent call is the
// caller's responsibility.
//
// Example:
//
//	svc := &mock.Service{
//	    Response: &completion.Response{Text: `{"type":"search"}`},
//	}
//	resp, err := svc.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/valet-labs/valet/pkg/completion"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req completion.Request
}

// Service is a mock implementation of completion.Service.
// Zero values for response fields cause Complete to return nil, nil.
// Set Err to inject errors.
type Service struct {
	mu sync.Mutex

	// Response is returned by Complete. May be nil.
	Response *completion.Response

	// Responses, when non-empty, is consumed one entry per Complete call
	// before falling back to Response. Useful for multi-call sequences.
	Responses []*completion.Response

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// CompleteFunc, if non-nil, overrides all other response fields and is
	// invoked directly.
	CompleteFunc func(ctx context.Context, req completion.Request) (*completion.Response, error)

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the configured response.
func (s *Service) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	s.mu.Lock()
	s.CompleteCalls = append(s.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := s.CompleteFunc
	var resp *completion.Response
	if len(s.Responses) > 0 {
		resp = s.Responses[0]
		s.Responses = s.Responses[1:]
	} else {
		resp = s.Response
	}
	err := s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// Reset clears all recorded calls. Thread-safe.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompleteCalls = nil
}

// Ensure Service implements completion.Service at compile time.
var _ completion.Service = (*Service)(nil)
