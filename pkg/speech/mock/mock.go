// Package mock provides test doubles for the speech package interfaces.
//
// Use Platform to script permission answers and hand out Recognizer/Meter
// doubles. Use Recognizer to feed controlled events and inspect teardown.
//
// Example:
//
//	rec := mock.NewRecognizer()
//	p := &mock.Platform{PermissionState: speech.PermissionGranted, Recognizers: []*mock.Recognizer{rec}}
//	// ... start a capture session against p, then:
//	rec.Emit(speech.Event{Type: speech.EventResult, Result: speech.Result{Transcript: "hi", IsFinal: true}})
package mock

import (
	"context"
	"sync"

	"github.com/valet-labs/valet/pkg/speech"
)

// OpenRecognizerCall records a single invocation of Platform.OpenRecognizer.
type OpenRecognizerCall struct {
	// Ctx is the context passed to OpenRecognizer.
	Ctx context.Context
	// Cfg is the Config passed to OpenRecognizer.
	Cfg speech.Config
}

// Platform is a mock implementation of speech.Platform.
type Platform struct {
	mu sync.Mutex

	// PermissionState is returned by Permission.
	PermissionState speech.Permission

	// PermissionErr, if non-nil, is returned as the error from Permission.
	PermissionErr error

	// RequestResult is returned by RequestPermission.
	RequestResult speech.Permission

	// RequestErr, if non-nil, is returned as the error from RequestPermission.
	RequestErr error

	// Recognizers are handed out by OpenRecognizer in order. When exhausted,
	// OpenRecognizer returns a fresh default Recognizer.
	Recognizers []*Recognizer

	// OpenRecognizerErr, if non-nil, is returned as the error from OpenRecognizer.
	OpenRecognizerErr error

	// Meter is returned by OpenMeter. If nil, a fresh default Meter is returned.
	Meter *Meter

	// OpenMeterErr, if non-nil, is returned as the error from OpenMeter.
	OpenMeterErr error

	// --- Call records (read after test) ---

	// OpenRecognizerCalls records every invocation of OpenRecognizer in order.
	OpenRecognizerCalls []OpenRecognizerCall

	// RequestPermissionCount is the number of times RequestPermission was called.
	RequestPermissionCount int
}

// OpenCount reports how many times OpenRecognizer has been called. Safe to
// call while a session is running.
func (p *Platform) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.OpenRecognizerCalls)
}

// Permission returns PermissionState, PermissionErr.
func (p *Platform) Permission(_ context.Context) (speech.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PermissionState, p.PermissionErr
}

// RequestPermission records the call and returns RequestResult, RequestErr.
func (p *Platform) RequestPermission(_ context.Context) (speech.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RequestPermissionCount++
	return p.RequestResult, p.RequestErr
}

// OpenRecognizer records the call and hands out the next scripted Recognizer.
func (p *Platform) OpenRecognizer(ctx context.Context, cfg speech.Config) (speech.Recognizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenRecognizerCalls = append(p.OpenRecognizerCalls, OpenRecognizerCall{Ctx: ctx, Cfg: cfg})
	if p.OpenRecognizerErr != nil {
		return nil, p.OpenRecognizerErr
	}
	if len(p.Recognizers) > 0 {
		r := p.Recognizers[0]
		p.Recognizers = p.Recognizers[1:]
		return r, nil
	}
	return NewRecognizer(), nil
}

// OpenMeter returns Meter (or a fresh default), OpenMeterErr.
func (p *Platform) OpenMeter(_ context.Context) (speech.MeterStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenMeterErr != nil {
		return nil, p.OpenMeterErr
	}
	if p.Meter != nil {
		return p.Meter, nil
	}
	return NewMeter(), nil
}

// Ensure Platform implements speech.Platform at compile time.
var _ speech.Platform = (*Platform)(nil)

// Recognizer is a mock implementation of speech.Recognizer. Feed events to
// consumers via Emit; the events channel is closed on Close or EmitEnd.
type Recognizer struct {
	mu       sync.Mutex
	events   chan speech.Event
	closed   bool
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewRecognizer creates a Recognizer with a buffered event channel.
func NewRecognizer() *Recognizer {
	return &Recognizer{events: make(chan speech.Event, 16)}
}

// Emit delivers ev to the consumer. Emitting after Close is a no-op.
func (r *Recognizer) Emit(ev speech.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events <- ev
}

// Events implements speech.Recognizer.
func (r *Recognizer) Events() <-chan speech.Event { return r.events }

// Close implements speech.Recognizer. Safe to call more than once.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return r.CloseErr
}

// Closed reports whether Close has been called.
func (r *Recognizer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Ensure Recognizer implements speech.Recognizer at compile time.
var _ speech.Recognizer = (*Recognizer)(nil)

// Meter is a mock implementation of speech.MeterStream. Push PCM frames via
// Push; the frames channel is closed on Close.
type Meter struct {
	mu     sync.Mutex
	frames chan []int16
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewMeter creates a Meter with a buffered frame channel.
func NewMeter() *Meter {
	return &Meter{frames: make(chan []int16, 64)}
}

// Push delivers a PCM frame to the consumer. Pushing after Close is a no-op.
func (m *Meter) Push(frame []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.frames <- frame
}

// Frames implements speech.MeterStream.
func (m *Meter) Frames() <-chan []int16 { return m.frames }

// Close implements speech.MeterStream. Safe to call more than once.
func (m *Meter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	if !m.closed {
		m.closed = true
		close(m.frames)
	}
	return nil
}

// Closed reports whether Close has been called.
func (m *Meter) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Ensure Meter implements speech.MeterStream at compile time.
var _ speech.MeterStream = (*Meter)(nil)
