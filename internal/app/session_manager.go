package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valet-labs/valet/internal/capture"
	"github.com/valet-labs/valet/internal/observe"
	"github.com/valet-labs/valet/internal/pipeline"
	"github.com/valet-labs/valet/pkg/speech"
)

// SessionInfo holds metadata about an active speech session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// UserID is the user the session's utterances are attributed to.
	UserID string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManager manages the lifecycle of live speech capture sessions, one
// per connected client. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]SessionInfo

	// Dependencies injected at construction.
	pipeline *pipeline.Orchestrator
	base     capture.Config
	metrics  *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Pipeline receives each finalized utterance.
	Pipeline *pipeline.Orchestrator

	// Capture carries the retry, timeout, and recognition settings shared by
	// all sessions. Platform and callbacks are set per session.
	Capture capture.Config

	// Metrics is the bundle active-session and retry counts are recorded on.
	// Defaults to the process bundle when nil.
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := &SessionManager{
		sessions: make(map[string]SessionInfo),
		pipeline: cfg.Pipeline,
		base:     cfg.Capture,
		metrics:  cfg.Metrics,
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Run drives capture sessions against platform until ctx is cancelled or the
// platform fails terminally. After each finalized utterance the session is
// re-armed, so one connection can carry any number of commands.
//
// onLevel, when non-nil, receives audio level updates for the client's
// visualization. Run blocks for the life of the connection.
func (m *SessionManager) Run(ctx context.Context, userID string, platform speech.Platform, onLevel func(float64)) error {
	info := SessionInfo{
		SessionID: uuid.NewString(),
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.sessions[info.SessionID] = info
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		m.mu.Lock()
		delete(m.sessions, info.SessionID)
		m.mu.Unlock()
		m.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}()

	slog.Info("speech session started", "session_id", info.SessionID, "user_id", userID)

	// outcome carries the terminal callback of one capture attempt: nil for
	// a delivered utterance, the session error otherwise.
	outcome := make(chan error, 1)

	m.mu.Lock()
	cfg := m.base
	m.mu.Unlock()
	cfg.Platform = platform
	cfg.OnLevel = onLevel
	cfg.OnRetry = func(int) {
		m.metrics.CaptureRetries.Add(ctx, 1)
	}
	cfg.OnNotice = func(kind speech.Kind) {
		slog.Debug("speech session notice", "session_id", info.SessionID, "kind", kind.String())
	}
	cfg.OnError = func(kind speech.Kind, err error) {
		select {
		case outcome <- fmt.Errorf("%s: %w", kind.String(), err):
		default:
		}
	}
	cfg = m.pipeline.Attach(ctx, cfg, userID)
	utter := cfg.OnUtterance
	cfg.OnUtterance = func(u capture.Utterance) {
		if utter != nil {
			utter(u)
		}
		select {
		case outcome <- nil:
		default:
		}
	}

	ctrl := capture.NewController(cfg)
	defer ctrl.Stop()

	for {
		if err := ctrl.Start(ctx); err != nil {
			m.endSession(info, err)
			return err
		}

		select {
		case err := <-outcome:
			if err != nil {
				// Session timeouts end one capture attempt, not the
				// connection: the client is still there, so re-arm.
				if errors.Is(err, capture.ErrSessionTimeout) {
					continue
				}
				m.endSession(info, err)
				return err
			}
			// Utterance delivered; re-arm for the next command.
		case <-ctx.Done():
			m.endSession(info, ctx.Err())
			return ctx.Err()
		}
	}
}

// endSession logs the terminal state of a session.
func (m *SessionManager) endSession(info SessionInfo, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		slog.Info("speech session ended", "session_id", info.SessionID, "user_id", info.UserID)
		return
	}
	slog.Warn("speech session ended with error",
		"session_id", info.SessionID, "user_id", info.UserID, "err", err)
}

// UpdateCapture replaces the capture tuning used by sessions started after
// the call. Running sessions keep the tuning they started with.
func (m *SessionManager) UpdateCapture(cfg capture.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = cfg
}

// Active returns a snapshot of the currently running sessions.
func (m *SessionManager) Active() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, info := range m.sessions {
		out = append(out, info)
	}
	return out
}

// Count reports the number of currently running sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
