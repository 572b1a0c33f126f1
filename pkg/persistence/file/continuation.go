package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
)

const (
	continuationsCollection = "continuations"
	firesCollection         = "scheduled_fires"
)

// ContinuationRepository stores suspended executions as JSON documents.
// Claims are serialized by the store mutex, so it is safe within one process only.
type ContinuationRepository struct {
	store *Persistence
}

func (cr *ContinuationRepository) Schedule(_ context.Context, continuation *models.Continuation) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	return cr.store.write(continuationsCollection, continuation.ID, continuation)
}

// ClaimDue leases and returns the unleased continuations due at or before now, earliest first.
func (cr *ContinuationRepository) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Continuation, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	ids, err := cr.store.ids(continuationsCollection)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Continuation, 0)

	for _, id := range ids {
		var continuation models.Continuation

		err := cr.store.read(continuationsCollection, id, &continuation)
		if err != nil {
			continue
		}

		if continuation.DueAt.After(now) {
			continue
		}

		if continuation.ClaimedUntil != nil && continuation.ClaimedUntil.After(now) {
			continue
		}

		due = append(due, &continuation)
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].DueAt.Before(due[j].DueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimedUntil := now.Add(lease).UTC()

	for _, continuation := range due {
		continuation.ClaimedUntil = &claimedUntil

		err := cr.store.write(continuationsCollection, continuation.ID, continuation)
		if err != nil {
			return nil, fmt.Errorf("failed to claim continuation %s: %w", continuation.ID, err)
		}
	}

	return due, nil
}

func (cr *ContinuationRepository) Complete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	err := os.Remove(cr.store.path(continuationsCollection, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to complete continuation %s: %w", id, err)
	}

	return nil
}

func (cr *ContinuationRepository) Release(_ context.Context, id string) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	var continuation models.Continuation

	err := cr.store.read(continuationsCollection, id, &continuation)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to release continuation %s: %w", id, err)
	}

	continuation.ClaimedUntil = nil

	return cr.store.write(continuationsCollection, id, &continuation)
}

// FireLedger records fired windows as marker files created exclusively.
type FireLedger struct {
	store *Persistence
}

type fireEntry struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claim creates the marker for key with O_EXCL. An expired marker is replaced.
func (fl *FireLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	fl.store.mu.Lock()
	defer fl.store.mu.Unlock()

	id := markerID(key)

	err := os.MkdirAll(fl.store.dir(firesCollection), 0750)
	if err != nil {
		return false, fmt.Errorf("failed to create %s directory: %w", firesCollection, err)
	}

	var existing fireEntry

	// A marker that cannot be decoded was left by an interrupted claim and counts as expired.
	err = fl.store.read(firesCollection, id, &existing)
	if (err == nil && nowUTC().After(existing.ExpiresAt)) || (err != nil && !errors.Is(err, os.ErrNotExist)) {
		_ = os.Remove(fl.store.path(firesCollection, id))
	}

	marker, err := os.OpenFile(filepath.Clean(fl.store.path(firesCollection, id)), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	_ = marker.Close()

	return true, fl.store.write(firesCollection, id, fireEntry{Key: key, ExpiresAt: nowUTC().Add(ttl)})
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// markerID maps a ledger key to a file name free of path separators.
func markerID(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}
