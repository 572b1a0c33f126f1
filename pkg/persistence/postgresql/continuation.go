package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
)

// ContinuationRepository is the durable queue of suspended executions.
type ContinuationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContinuationRepository creates a new continuation repository.
func NewContinuationRepository(db *sql.DB, logger *slog.Logger) *ContinuationRepository {
	return &ContinuationRepository{db: db, logger: logger}
}

func (cr *ContinuationRepository) Schedule(ctx context.Context, continuation *models.Continuation) error {
	stepsJSON, err := json.Marshal(continuation.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal continuation steps: %w", err)
	}

	contextJSON, err := json.Marshal(continuation.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal continuation context: %w", err)
	}

	if continuation.CreatedAt.IsZero() {
		continuation.CreatedAt = time.Now().UTC()
	}

	_, err = cr.db.ExecContext(ctx, `
		INSERT INTO continuations (id, execution_id, workflow_id, trigger_type, steps, step_offset, context, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		continuation.ID,
		continuation.ExecutionID,
		continuation.WorkflowID,
		continuation.TriggerType,
		stepsJSON,
		continuation.StepOffset,
		contextJSON,
		continuation.DueAt,
		continuation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule continuation %s: %w", continuation.ID, err)
	}

	return nil
}

// ClaimDue leases and returns due rows that are not held by another poller.
// SKIP LOCKED lets concurrent pollers claim disjoint sets.
func (cr *ContinuationRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Continuation, error) {
	rows, err := cr.db.QueryContext(ctx, `
		UPDATE continuations SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM continuations
			WHERE due_at <= $1 AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY due_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, execution_id, workflow_id, trigger_type, steps, step_offset, context, due_at, created_at, claimed_until
	`, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim continuations: %w", err)
	}

	defer closeRows(ctx, cr.logger, rows)

	continuations := make([]*models.Continuation, 0)

	for rows.Next() {
		var (
			continuation models.Continuation
			stepsJSON    []byte
			contextJSON  []byte
			claimedUntil sql.NullTime
		)

		err := rows.Scan(
			&continuation.ID,
			&continuation.ExecutionID,
			&continuation.WorkflowID,
			&continuation.TriggerType,
			&stepsJSON,
			&continuation.StepOffset,
			&contextJSON,
			&continuation.DueAt,
			&continuation.CreatedAt,
			&claimedUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan continuation: %w", err)
		}

		err = json.Unmarshal(stepsJSON, &continuation.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal continuation steps: %w", err)
		}

		err = json.Unmarshal(contextJSON, &continuation.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal continuation context: %w", err)
		}

		if claimedUntil.Valid {
			continuation.ClaimedUntil = &claimedUntil.Time
		}

		continuations = append(continuations, &continuation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating continuations: %w", err)
	}

	return continuations, nil
}

func (cr *ContinuationRepository) Complete(ctx context.Context, id string) error {
	_, err := cr.db.ExecContext(ctx, `DELETE FROM continuations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to complete continuation %s: %w", id, err)
	}

	return nil
}

func (cr *ContinuationRepository) Release(ctx context.Context, id string) error {
	_, err := cr.db.ExecContext(ctx, `UPDATE continuations SET claimed_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to release continuation %s: %w", id, err)
	}

	return nil
}

// FireLedger deduplicates scheduled trigger windows with a unique key insert.
type FireLedger struct {
	db *sql.DB
}

func NewFireLedger(db *sql.DB) *FireLedger {
	return &FireLedger{db: db}
}

// Claim inserts key; an existing unexpired key leaves the insert without effect.
func (fl *FireLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	result, err := fl.db.ExecContext(ctx, `
		INSERT INTO scheduled_fires (fire_key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (fire_key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE scheduled_fires.expires_at < $3
	`, key, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected == 1, nil
}
