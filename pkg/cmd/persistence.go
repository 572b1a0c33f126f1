package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/dukex/fieldflow/pkg/persistence/file"
	"github.com/dukex/fieldflow/pkg/persistence/postgresql"
	"github.com/dukex/fieldflow/pkg/persistence/redis"
)

// NewPersistence opens the store named by databaseURL. When redisURL is set,
// continuations and the fire ledger live in Redis instead.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, redisURL string) (persistence.Persistence, error) {
	var (
		base persistence.Persistence
		err  error
	)

	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		base, err = postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}
	default:
		base = file.NewPersistence(databaseURL)
	}

	if redisURL == "" {
		return base, nil
	}

	store, err := redis.NewStore(ctx, logger, redisURL)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to redis: %w", err), base.Close(ctx))
	}

	return &withRedis{Persistence: base, redis: store}, nil
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}

// withRedis serves continuations and the fire ledger from Redis.
type withRedis struct {
	persistence.Persistence

	redis *redis.Store
}

func (p *withRedis) ContinuationRepository() persistence.ContinuationRepository {
	return p.redis
}

func (p *withRedis) FireLedger() persistence.FireLedger {
	return p.redis
}

func (p *withRedis) HealthCheck(ctx context.Context) error {
	err := p.Persistence.HealthCheck(ctx)
	if err != nil {
		return err
	}

	return p.redis.HealthCheck(ctx)
}

func (p *withRedis) Close(ctx context.Context) error {
	return errors.Join(p.redis.Close(ctx), p.Persistence.Close(ctx))
}
