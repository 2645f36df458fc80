// Package command provides the Command model and its lifecycle store.
//
// A Command pairs a resolved intent with its execution status and result,
// scoped to exactly one user. The store is the sole writer of status and
// result fields; the pipeline orchestrator is the sole creator.
package command

import (
	"errors"
	"time"

	"github.com/valet-labs/valet/internal/intent"
)

// ErrTerminalStatus is returned by SetStatus when the target command is
// already completed or failed. The record is left untouched.
var ErrTerminalStatus = errors.New("command: status is terminal")

// Status is the lifecycle state of a Command.
type Status string

const (
	// StatusPending is assigned at creation, before execution starts.
	StatusPending Status = "pending"

	// StatusRunning means downstream execution has started.
	StatusRunning Status = "running"

	// StatusCompleted is terminal; the Result field carries the outcome.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal; the Result field carries the error payload.
	StatusFailed Status = "failed"
)

// IsValid reports whether s is one of the four recognised statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a state that must not be revisited.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Command is one persisted command record.
type Command struct {
	// ID is assigned by the store on creation.
	ID string `json:"id"`

	// Intent is the resolved classification of the command text.
	Intent intent.CommandIntent `json:"intent"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// Timestamp is server-assigned at creation.
	Timestamp time.Time `json:"timestamp"`

	// Response is the natural-language explanation shown to the user.
	Response string `json:"response,omitempty"`

	// Result is the execution outcome payload, set on completion or failure.
	Result any `json:"result,omitempty"`

	// UserID is the owning user. Required; commands are never shared.
	UserID string `json:"userId"`
}
