package persistence

import (
	"context"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
)

// ContinuationRepository stores the remainder of executions suspended by a step delay.
// It is the durable queue behind delayed steps, so pending work survives restarts.
type ContinuationRepository interface {
	// Schedule persists a continuation to be resumed at its DueAt time.
	Schedule(ctx context.Context, continuation *models.Continuation) error

	// ClaimDue leases and returns up to limit continuations due at or before now,
	// earliest first. A leased continuation is not returned again, even across
	// processes, until Release is called or the lease has run out.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Continuation, error)

	// Complete removes a claimed continuation once it has been resumed.
	// Removing an unknown id is not an error.
	Complete(ctx context.Context, id string) error

	// Release ends the lease on a claimed continuation so the next claim returns it.
	Release(ctx context.Context, id string) error
}

// FireLedger records which scheduled trigger windows have already fired.
type FireLedger interface {
	// Claim atomically records key and reports whether this call was the first
	// to do so. Entries may be forgotten once ttl has elapsed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
