// Package redis provides Redis-backed continuation queue and fire ledger implementations.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
	rd "github.com/redis/go-redis/v9"
)

const (
	defaultNamespace = "fieldflow"
	continuationsKey = "continuations"
	payloadsKey      = "continuations:payloads"
	firesKey         = "fires"
)

// claimScript leases up to ARGV[3] ids scored at or below ARGV[1] by moving their
// score to the lease end ARGV[2], and returns their payloads. Ids without a payload
// are dropped from the queue.
var claimScript = rd.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local payloads = {}
for _, id in ipairs(due) do
	local payload = redis.call('HGET', KEYS[2], id)
	if payload then
		redis.call('ZADD', KEYS[1], 'XX', ARGV[2], id)
		table.insert(payloads, payload)
	else
		redis.call('ZREM', KEYS[1], id)
	end
end
return payloads
`)

// Store keeps continuation ids in a sorted set scored by the time they become
// claimable, their payloads in a hash, and fire keys as expiring strings.
// A claim pushes the score to the end of the lease.
type Store struct {
	client    *rd.Client
	logger    *slog.Logger
	namespace string
}

// NewStore connects to the Redis server at url (redis://[:password@]host:port/db).
func NewStore(ctx context.Context, logger *slog.Logger, url string) (*Store, error) {
	options, err := rd.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := rd.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &Store{client: client, logger: logger, namespace: defaultNamespace}, nil
}

func (s *Store) key(name string) string {
	return s.namespace + ":" + name
}

// Schedule adds the continuation to the queue with its due time in milliseconds as score.
func (s *Store) Schedule(ctx context.Context, continuation *models.Continuation) error {
	if continuation.CreatedAt.IsZero() {
		continuation.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(continuation)
	if err != nil {
		return fmt.Errorf("failed to marshal continuation %s: %w", continuation.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, s.key(payloadsKey), continuation.ID, payload)
		pipe.ZAdd(ctx, s.key(continuationsKey), rd.Z{
			Score:  float64(continuation.DueAt.UnixMilli()),
			Member: continuation.ID,
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule continuation %s: %w", continuation.ID, err)
	}

	return nil
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Continuation, error) {
	if limit <= 0 {
		limit = 100
	}

	claimedUntil := now.Add(lease).UTC()

	members, err := claimScript.Run(ctx, s.client,
		[]string{s.key(continuationsKey), s.key(payloadsKey)},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(claimedUntil.UnixMilli(), 10),
		limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim continuations: %w", err)
	}

	continuations := make([]*models.Continuation, 0, len(members))

	for _, member := range members {
		var continuation models.Continuation

		err := json.Unmarshal([]byte(member), &continuation)
		if err != nil {
			s.logger.ErrorContext(ctx, "Skipping undecodable continuation", "error", err)

			continue
		}

		continuation.ClaimedUntil = &claimedUntil
		continuations = append(continuations, &continuation)
	}

	return continuations, nil
}

func (s *Store) Complete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.ZRem(ctx, s.key(continuationsKey), id)
		pipe.HDel(ctx, s.key(payloadsKey), id)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete continuation %s: %w", id, err)
	}

	return nil
}

// Release puts the continuation back at its due time. A completed continuation stays gone.
func (s *Store) Release(ctx context.Context, id string) error {
	payload, err := s.client.HGet(ctx, s.key(payloadsKey), id).Result()
	if errors.Is(err, rd.Nil) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to release continuation %s: %w", id, err)
	}

	var continuation models.Continuation

	err = json.Unmarshal([]byte(payload), &continuation)
	if err != nil {
		return fmt.Errorf("failed to decode continuation %s: %w", id, err)
	}

	err = s.client.ZAddXX(ctx, s.key(continuationsKey), rd.Z{
		Score:  float64(continuation.DueAt.UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to release continuation %s: %w", id, err)
	}

	return nil
}

// Claim sets the fire key only if absent, expiring it after ttl.
func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(firesKey)+":"+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	return ok, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}
