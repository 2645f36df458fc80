// Package speech defines the platform surface for live speech recognition.
//
// Valet does not decode audio itself: recognition happens on the client
// platform (a browser speech API, an on-device recognizer, or a cloud STT
// session owned by the client). The server consumes that capability through
// the [Platform] interface — permission state, a [Recognizer] event stream,
// and a raw PCM [MeterStream] used only for level visualization.
//
// A recognition session is successful only when a result event arrives with
// IsFinal set. An end event signals lifecycle termination and must never be
// interpreted as success on its own.
//
// Implementations must be safe for concurrent use.
package speech

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Platform methods when the underlying platform
// lacks the speech recognition capability entirely.
var ErrUnsupported = errors.New("speech: recognition not supported on this platform")

// Permission is the microphone permission state reported by the platform.
type Permission int

const (
	// PermissionUnknown means the user has not been asked yet.
	PermissionUnknown Permission = iota

	// PermissionGranted means the microphone may be opened.
	PermissionGranted

	// PermissionDenied means the user refused access. The platform will not
	// grant access again without an explicit RequestPermission round trip.
	PermissionDenied
)

// String returns the human-readable name of the permission state.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Code is a platform error code carried by error events. The values mirror
// the wire strings emitted by browser speech implementations.
type Code string

const (
	CodeNotAllowed        Code = "not-allowed"
	CodeServiceNotAllowed Code = "service-not-allowed"
	CodeNoSpeech          Code = "no-speech"
	CodeNetwork           Code = "network"
	CodeAborted           Code = "aborted"
	CodeAudioCapture      Code = "audio-capture"
)

// Kind is the coarse error classification used by the capture controller to
// decide how a session reacts to a platform error.
type Kind int

const (
	// KindOther covers unrecognized codes. Terminal.
	KindOther Kind = iota

	// KindPermissionDenied is terminal and requires an explicit user re-grant.
	KindPermissionDenied

	// KindNoSpeech is non-terminal: the session stays listening and the user
	// is merely notified.
	KindNoSpeech

	// KindNetwork is terminal for the session.
	KindNetwork

	// KindAborted is retryable: the platform can spuriously abort a session
	// that is otherwise healthy.
	KindAborted
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission-denied"
	case KindNoSpeech:
		return "no-speech"
	case KindNetwork:
		return "network"
	case KindAborted:
		return "aborted"
	default:
		return "other"
	}
}

// Kind maps the platform code to its classification.
func (c Code) Kind() Kind {
	switch c {
	case CodeNotAllowed, CodeServiceNotAllowed:
		return KindPermissionDenied
	case CodeNoSpeech:
		return KindNoSpeech
	case CodeNetwork:
		return KindNetwork
	case CodeAborted:
		return KindAborted
	default:
		return KindOther
	}
}

// EventType discriminates the three event shapes a recognizer emits.
type EventType int

const (
	// EventResult carries a transcript. Only IsFinal results terminate the
	// session successfully.
	EventResult EventType = iota

	// EventError carries a platform error code.
	EventError

	// EventEnd signals that the platform recognizer instance stopped, for any
	// reason. Not a success indicator.
	EventEnd
)

// Result is a recognition hypothesis from the platform.
type Result struct {
	// Transcript is the recognized text.
	Transcript string

	// Confidence is the platform's confidence in [0,1]. Zero when the
	// platform does not report confidence.
	Confidence float64

	// IsFinal marks the authoritative end-of-utterance result.
	IsFinal bool
}

// Event is one item on a recognizer's event stream.
type Event struct {
	// Type selects which of the remaining fields is meaningful.
	Type EventType

	// Result is set for EventResult events.
	Result Result

	// Code is set for EventError events.
	Code Code
}

// Config carries recognition hints for a new recognizer instance.
type Config struct {
	// Language is the BCP-47 language tag (e.g., "en-US"). Empty lets the
	// platform pick.
	Language string

	// InterimResults requests non-final hypotheses in addition to finals.
	InterimResults bool
}

// Recognizer is one platform recognition instance. The capture controller may
// open several recognizers over the life of a session (one per retry) while
// keeping a single meter stream open.
//
// Callers must call Close when done; Close is idempotent. The Events channel
// is closed by the implementation when the instance ends or Close is called.
type Recognizer interface {
	// Events returns the recognizer's event stream. The channel is closed
	// when the instance terminates.
	Events() <-chan Event

	// Close tears the instance down and releases its resources. Safe to call
	// more than once.
	Close() error
}

// MeterStream delivers raw 16-bit PCM frames from the platform microphone for
// level metering. It carries no recognition semantics.
type MeterStream interface {
	// Frames returns the PCM frame stream. The channel is closed when the
	// stream ends or Close is called.
	Frames() <-chan []int16

	// Close releases the microphone metering resources. Safe to call more
	// than once.
	Close() error
}

// Platform is the speech capability surface the capture controller consumes.
//
// Implementations must be safe for concurrent use. At most one recognizer and
// one meter stream are open per capture session, but multiple sessions may
// exist against one Platform (e.g., several connected clients).
type Platform interface {
	// Permission reports the current microphone permission state without
	// prompting the user.
	Permission(ctx context.Context) (Permission, error)

	// RequestPermission prompts the user for microphone access and returns
	// the resulting state. Blocks until the user answers or ctx is cancelled.
	RequestPermission(ctx context.Context) (Permission, error)

	// OpenRecognizer starts a platform recognition instance.
	OpenRecognizer(ctx context.Context, cfg Config) (Recognizer, error)

	// OpenMeter opens the raw audio stream used for level metering.
	OpenMeter(ctx context.Context) (MeterStream, error)
}
