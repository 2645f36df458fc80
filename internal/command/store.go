package command

import (
	"context"

	"github.com/valet-labs/valet/internal/intent"
)

// Store is the durable record-keeper for command lifecycles.
//
// Absence is data, not an error: Create without a user and Get on a missing
// id both return (nil, nil). Callers treat a nil command as "couldn't
// record" or "not found" respectively.
//
// Implementations must be safe for concurrent use. SetStatus calls on
// different commands are independent and unordered with respect to each other.
type Store interface {
	// Create persists a new Command in StatusPending with a server-assigned
	// id and timestamp. Returns (nil, nil) when userID is empty.
	Create(ctx context.Context, userID string, in intent.CommandIntent, initialResponse string) (*Command, error)

	// SetStatus transitions the command's status and optionally attaches a
	// result payload. A transition on an already-terminal command leaves the
	// record untouched and returns ErrTerminalStatus.
	SetStatus(ctx context.Context, id string, status Status, result any) error

	// Get returns the command with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id string) (*Command, error)

	// List returns the user's most recent commands, newest first, capped at
	// limit (a non-positive limit applies a default).
	List(ctx context.Context, userID string, limit int) ([]*Command, error)
}
