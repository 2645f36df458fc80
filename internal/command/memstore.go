package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valet-labs/valet/internal/intent"
)

// defaultListLimit is applied when List is called with a non-positive limit.
const defaultListLimit = 20

// MemStore is an in-memory Store used in tests and when no database is
// configured. Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	commands map[string]*Command

	// now is the clock used for server-assigned timestamps. Overridable in
	// tests.
	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		commands: make(map[string]*Command),
		now:      time.Now,
	}
}

// Create implements Store.
func (s *MemStore) Create(_ context.Context, userID string, in intent.CommandIntent, initialResponse string) (*Command, error) {
	if userID == "" {
		slog.Warn("command create without user context; not recorded")
		return nil, nil
	}

	cmd := &Command{
		ID:        uuid.NewString(),
		Intent:    in,
		Status:    StatusPending,
		Timestamp: s.now(),
		Response:  initialResponse,
		UserID:    userID,
	}

	s.mu.Lock()
	s.commands[cmd.ID] = cmd
	s.mu.Unlock()

	return cloneCommand(cmd), nil
}

// SetStatus implements Store.
func (s *MemStore) SetStatus(_ context.Context, id string, status Status, result any) error {
	if !status.IsValid() {
		return fmt.Errorf("command: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok {
		return nil
	}
	if cmd.Status.IsTerminal() {
		slog.Warn("ignoring status change on terminal command",
			"command_id", id, "current", cmd.Status, "requested", status)
		return ErrTerminalStatus
	}

	cmd.Status = status
	if result != nil {
		cmd.Result = result
		// A string result on the completing transition is the user-facing
		// explanation; surface it in the response field too.
		if text, ok := result.(string); ok && status == StatusCompleted && cmd.Response == "" {
			cmd.Response = text
		}
	}
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.commands[id]
	if !ok {
		return nil, nil
	}
	return cloneCommand(cmd), nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context, userID string, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	var out []*Command
	for _, cmd := range s.commands {
		if cmd.UserID == userID {
			out = append(out, cloneCommand(cmd))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cloneCommand copies cmd so callers cannot mutate stored state. The intent
// parameter map is shared; callers treat intents as read-only.
func cloneCommand(cmd *Command) *Command {
	c := *cmd
	return &c
}
