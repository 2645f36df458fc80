package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/valet-labs/valet/internal/intent"
)

// Schema is the SQL DDL for the commands table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS commands (
    id        TEXT PRIMARY KEY,
    user_id   TEXT NOT NULL,
    intent    JSONB NOT NULL,
    status    TEXT NOT NULL DEFAULT 'pending'
              CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    response  TEXT NOT NULL DEFAULT '',
    result    JSONB,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_commands_user ON commands(user_id);
CREATE INDEX IF NOT EXISTS idx_commands_user_timestamp ON commands(user_id, timestamp DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The intent and
// result payloads are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// commands table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("command store: migrate: %w", err)
	}
	return nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, userID string, in intent.CommandIntent, initialResponse string) (*Command, error) {
	if userID == "" {
		slog.Warn("command create without user context; not recorded")
		return nil, nil
	}

	intentJSON, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("command store: marshal intent: %w", err)
	}

	cmd := &Command{
		ID:       uuid.NewString(),
		Intent:   in,
		Status:   StatusPending,
		Response: initialResponse,
		UserID:   userID,
	}

	const q = `
		INSERT INTO commands (id, user_id, intent, status, response)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp`

	err = s.db.QueryRow(ctx, q, cmd.ID, userID, intentJSON, cmd.Status, initialResponse).
		Scan(&cmd.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("command store: create: %w", err)
	}
	return cmd, nil
}

// SetStatus implements Store. The terminal-state guard runs inside the UPDATE
// so concurrent transitions on the same command cannot both land.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status, result any) error {
	if !status.IsValid() {
		return fmt.Errorf("command store: invalid status %q", status)
	}

	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("command store: marshal result: %w", err)
		}
		resultJSON = b
	}

	// A string result on the completing transition is the user-facing
	// explanation; surface it in the response column too.
	responseText := ""
	if text, ok := result.(string); ok && status == StatusCompleted {
		responseText = text
	}

	const q = `
		UPDATE commands
		SET    status = $2,
		       result = COALESCE($3, result),
		       response = CASE WHEN response = '' AND $4 <> '' THEN $4 ELSE response END
		WHERE  id = $1
		  AND  status NOT IN ('completed', 'failed')`

	tag, err := s.db.Exec(ctx, q, id, status, resultJSON, responseText)
	if err != nil {
		return fmt.Errorf("command store: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the command is missing or already terminal; look it up to
		// distinguish, matching MemStore behaviour.
		existing, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status.IsTerminal() {
			slog.Warn("ignoring status change on terminal command",
				"command_id", id, "current", existing.Status, "requested", status)
			return ErrTerminalStatus
		}
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Command, error) {
	const q = `
		SELECT id, user_id, intent, status, response, result, timestamp
		FROM   commands
		WHERE  id = $1`

	cmd, err := scanCommand(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("command store: get: %w", err)
	}
	return cmd, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const q = `
		SELECT id, user_id, intent, status, response, result, timestamp
		FROM   commands
		WHERE  user_id = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	rows, err := s.db.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("command store: list: %w", err)
	}
	defer rows.Close()

	var out []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("command store: list scan: %w", err)
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("command store: list rows: %w", err)
	}
	return out, nil
}

// scanCommand reads one command row, decoding the JSONB columns.
func scanCommand(row pgx.Row) (*Command, error) {
	var (
		cmd        Command
		intentJSON []byte
		resultJSON []byte
	)
	err := row.Scan(&cmd.ID, &cmd.UserID, &intentJSON, &cmd.Status, &cmd.Response, &resultJSON, &cmd.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(intentJSON, &cmd.Intent); err != nil {
		return nil, fmt.Errorf("unmarshal intent: %w", err)
	}
	if len(resultJSON) > 0 {
		var result any
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		cmd.Result = result
	}
	return &cmd, nil
}
