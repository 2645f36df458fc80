// Package capture manages one speech recognition attempt end-to-end: the
// session state machine, permission handling, bounded retry on spurious
// platform aborts, and a live volume level for visualization.
//
// A session owns at most one platform recognizer and one metering stream at a
// time. Both are released on every exit path — success, error, or manual
// Stop. A session produces at most one finalized utterance; success is only
// asserted by a final result event, never by the platform's end signal.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valet-labs/valet/pkg/speech"
)

// Default session parameters.
const (
	defaultMaxRetries    = 3
	defaultRetryDelay    = 300 * time.Millisecond
	defaultMeterInterval = 33 * time.Millisecond
)

var (
	// ErrSessionActive is returned by Start when a session is already running.
	// Callers must serialize session starts per controller.
	ErrSessionActive = errors.New("capture: session already active")

	// ErrPermissionDenied is returned by Start when microphone permission is
	// denied. Terminal until the user re-grants via RequestPermission.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrRetriesExhausted is surfaced via OnError when the platform keeps
	// aborting past the retry budget.
	ErrRetriesExhausted = errors.New("capture: recognition aborted too many times")

	// ErrSessionTimeout is surfaced via OnError when the optional overall
	// session timeout elapses before a final result.
	ErrSessionTimeout = errors.New("capture: session timed out")
)

// State is the lifecycle state of a recognition session.
type State int

const (
	StateIdle State = iota
	StateAwaitingPermission
	StateListening
	StateFinalizing
	StateAborted
	StateErrored
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPermission:
		return "awaiting-permission"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Utterance is the finalized output of a successful session.
type Utterance struct {
	// Text is the finalized transcript.
	Text string

	// Confidence is the platform's confidence in [0,1].
	Confidence float64
}

// Config configures a [Controller].
type Config struct {
	// Platform is the speech capability the session runs against. Required.
	Platform speech.Platform

	// Recognition carries language and interim-result hints for the platform.
	Recognition speech.Config

	// MaxRetries bounds how often an aborted recognizer is reopened within
	// one session. Defaults to 3 if zero.
	MaxRetries int

	// RetryDelay is the pause before reopening an aborted recognizer.
	// Defaults to 300ms if zero.
	RetryDelay time.Duration

	// SessionTimeout bounds the total wall-clock time of one session across
	// all retries. Zero disables the bound.
	SessionTimeout time.Duration

	// MeterInterval is the cadence at which OnLevel is invoked while
	// listening. Defaults to 33ms if zero.
	MeterInterval time.Duration

	// OnUtterance is invoked exactly once per successful session with the
	// finalized transcript. May be nil.
	OnUtterance func(Utterance)

	// OnNotice is invoked for non-terminal conditions (no speech detected).
	// The session keeps listening. May be nil.
	OnNotice func(speech.Kind)

	// OnError is invoked once when the session ends in error. May be nil.
	OnError func(speech.Kind, error)

	// OnRetry is invoked each time the session reopens the recognizer after
	// a spurious abort, with the 1-based attempt number. May be nil.
	OnRetry func(attempt int)

	// OnLevel receives the normalized [0,1] input level while listening.
	// May be nil.
	OnLevel func(float64)
}

// Controller runs recognition sessions against a speech platform. One
// controller runs at most one session at a time; Start while a session is
// active returns [ErrSessionActive].
//
// All exported methods are safe for concurrent use.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	state      State
	retryCount int
	cancel     context.CancelFunc
	recognizer speech.Recognizer
	meter      speech.MeterStream

	// wg tracks the session and meter goroutines so Stop can guarantee that
	// no callback fires after it returns.
	wg sync.WaitGroup

	// sleep is the retry pause, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a Controller with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewController(cfg Config) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = defaultMeterInterval
	}
	return &Controller{
		cfg:   cfg,
		state: StateIdle,
		sleep: sleepCtx,
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestPermission explicitly prompts the user for microphone access. This
// is the only way back after a denied permission.
func (c *Controller) RequestPermission(ctx context.Context) (speech.Permission, error) {
	return c.cfg.Platform.RequestPermission(ctx)
}

// Start begins a recognition session. It resolves microphone permission,
// opens the metering stream and a platform recognizer, and spawns the event
// loop. Start returns once the session is listening; the utterance or error
// is delivered via the configured callbacks.
//
// Returns ErrSessionActive if a session is running, ErrPermissionDenied if
// the user refuses access, speech.ErrUnsupported if the platform lacks the
// capability, or an init error when resources cannot be opened.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateErrored {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateAwaitingPermission
	c.retryCount = 0
	c.mu.Unlock()

	if err := c.resolvePermission(ctx); err != nil {
		c.setState(StateIdle)
		return err
	}

	var sessionCtx context.Context
	var cancel context.CancelFunc
	if c.cfg.SessionTimeout > 0 {
		sessionCtx, cancel = context.WithTimeout(context.Background(), c.cfg.SessionTimeout)
	} else {
		sessionCtx, cancel = context.WithCancel(context.Background())
	}

	meter, err := c.cfg.Platform.OpenMeter(ctx)
	if err != nil {
		cancel()
		c.setState(StateIdle)
		return fmt.Errorf("capture: open meter: %w", err)
	}

	rec, err := c.cfg.Platform.OpenRecognizer(ctx, c.cfg.Recognition)
	if err != nil {
		_ = meter.Close()
		cancel()
		c.setState(StateIdle)
		if errors.Is(err, speech.ErrUnsupported) {
			return err
		}
		return fmt.Errorf("capture: open recognizer: %w", err)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.meter = meter
	c.recognizer = rec
	c.state = StateListening
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.meterLoop(sessionCtx, meter)
	}()
	go func() {
		defer c.wg.Done()
		c.run(sessionCtx, rec)
	}()

	return nil
}

// Stop tears the session down: recognizer and metering resources are released
// before Stop returns, and no callback fires afterwards. Idempotent; always
// callable regardless of state.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	rec := c.recognizer
	meter := c.meter
	c.cancel = nil
	c.recognizer = nil
	c.meter = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rec != nil {
		_ = rec.Close()
	}
	if meter != nil {
		_ = meter.Close()
	}

	// Wait for the event and meter loops so no callback outlives Stop.
	c.wg.Wait()
	c.setState(StateIdle)
}

// resolvePermission checks the permission state, prompting once when unknown.
func (c *Controller) resolvePermission(ctx context.Context) error {
	perm, err := c.cfg.Platform.Permission(ctx)
	if err != nil {
		return fmt.Errorf("capture: query permission: %w", err)
	}
	if perm == speech.PermissionUnknown {
		perm, err = c.cfg.Platform.RequestPermission(ctx)
		if err != nil {
			return fmt.Errorf("capture: request permission: %w", err)
		}
	}
	if perm != speech.PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

// run is the session event loop. It consumes recognizer events, retrying
// with a fresh recognizer on spurious aborts while keeping the meter stream
// open, until a final result, a terminal error, retry exhaustion, or
// cancellation.
func (c *Controller) run(ctx context.Context, rec speech.Recognizer) {
	for {
		ev, ok, alive := c.nextEvent(ctx, rec)
		if !alive {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.fail(speech.KindOther, ErrSessionTimeout)
			}
			return
		}
		if !ok {
			// Channel closed or end event without a final result. The
			// platform stopped on its own; treat it like an abort so flaky
			// platforms get their retry budget.
			next, retried := c.retry(ctx)
			if !retried {
				return
			}
			rec = next
			continue
		}

		switch ev.Type {
		case speech.EventResult:
			if !ev.Result.IsFinal {
				continue
			}
			c.finalize(ev.Result)
			return

		case speech.EventError:
			switch kind := ev.Code.Kind(); kind {
			case speech.KindNoSpeech:
				// Notify only; the session remains listening.
				if c.cfg.OnNotice != nil {
					c.cfg.OnNotice(kind)
				}

			case speech.KindAborted:
				next, retried := c.retry(ctx)
				if !retried {
					return
				}
				rec = next

			default:
				// Permission, network, or unclassified: terminal.
				c.fail(kind, fmt.Errorf("capture: platform error %q", ev.Code))
				return
			}

		case speech.EventEnd:
			next, retried := c.retry(ctx)
			if !retried {
				return
			}
			rec = next
		}
	}
}

// nextEvent waits for the next recognizer event. The third return value is
// false when the session context ended.
func (c *Controller) nextEvent(ctx context.Context, rec speech.Recognizer) (speech.Event, bool, bool) {
	select {
	case <-ctx.Done():
		return speech.Event{}, false, false
	case ev, ok := <-rec.Events():
		return ev, ok, true
	}
}

// finalize releases the session's resources, returns the controller to idle,
// and then delivers the utterance. The meter stops the moment the session
// leaves Listening.
func (c *Controller) finalize(res speech.Result) {
	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.state = StateFinalizing
	cancel := c.cancel
	rec := c.recognizer
	meter := c.meter
	c.cancel = nil
	c.recognizer = nil
	c.meter = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rec != nil {
		_ = rec.Close()
	}
	if meter != nil {
		_ = meter.Close()
	}

	// Go idle before delivering so the callback may immediately start the
	// next session. The Listening check above already returned if Stop won
	// the race, so at most one utterance is ever delivered per session.
	c.setState(StateIdle)
	if c.cfg.OnUtterance != nil {
		c.cfg.OnUtterance(Utterance{Text: res.Transcript, Confidence: res.Confidence})
	}
}

// retry reopens the recognizer after an abort if budget remains, keeping the
// meter stream untouched. Returns the new recognizer and true on success.
func (c *Controller) retry(ctx context.Context) (speech.Recognizer, bool) {
	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return nil, false
	}
	if c.retryCount >= c.cfg.MaxRetries {
		c.mu.Unlock()
		c.fail(speech.KindAborted, ErrRetriesExhausted)
		return nil, false
	}
	c.retryCount++
	attempt := c.retryCount
	c.state = StateAborted
	old := c.recognizer
	c.recognizer = nil
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	slog.Debug("recognition aborted, retrying",
		"attempt", attempt, "max_retries", c.cfg.MaxRetries)
	if c.cfg.OnRetry != nil {
		c.cfg.OnRetry(attempt)
	}

	if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
		return nil, false
	}

	rec, err := c.cfg.Platform.OpenRecognizer(ctx, c.cfg.Recognition)
	if err != nil {
		c.fail(speech.KindOther, fmt.Errorf("capture: reopen recognizer: %w", err))
		return nil, false
	}

	c.mu.Lock()
	if c.state != StateAborted || ctx.Err() != nil {
		// Stop landed during the pause.
		c.mu.Unlock()
		_ = rec.Close()
		return nil, false
	}
	c.recognizer = rec
	c.state = StateListening
	c.mu.Unlock()

	return rec, true
}

// fail tears the session down and reports a terminal error.
func (c *Controller) fail(kind speech.Kind, err error) {
	c.mu.Lock()
	if c.state != StateListening && c.state != StateAborted {
		c.mu.Unlock()
		return
	}
	c.state = StateErrored
	cancel := c.cancel
	rec := c.recognizer
	meter := c.meter
	c.cancel = nil
	c.recognizer = nil
	c.meter = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rec != nil {
		_ = rec.Close()
	}
	if meter != nil {
		_ = meter.Close()
	}

	slog.Warn("recognition session failed", "kind", kind.String(), "err", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(kind, err)
	}
}

// setState sets the session state under the lock.
func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// sleepCtx pauses for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
