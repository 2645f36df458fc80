package health

import (
	"context"
	"errors"

	"github.com/valet-labs/valet/internal/command"
)

// Pinger is the subset of a database pool used by [DatabaseCheck].
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck returns a Checker that pings the command store's database.
func DatabaseCheck(db Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			return db.Ping(ctx)
		},
	}
}

// StoreCheck returns a Checker that exercises a read against the command
// store. A missing record is fine; only transport errors fail the check.
func StoreCheck(store command.Store) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := store.Get(ctx, "readyz-probe")
			return err
		},
	}
}

// CompletionCheck returns a Checker that verifies a completion service is
// wired. It does not call the provider; a misconfigured key surfaces on
// first use, not in the readiness probe.
func CompletionCheck(configured bool) Checker {
	return Checker{
		Name: "completion",
		Check: func(context.Context) error {
			if !configured {
				return errors.New("no completion provider configured")
			}
			return nil
		},
	}
}
