package redis_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/dukex/fieldflow/pkg/persistence/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	_ persistence.ContinuationRepository = (*redis.Store)(nil)
	_ persistence.FireLedger             = (*redis.Store)(nil)
)

func setupStore(t *testing.T) (*redis.Store, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := redis.NewStore(ctx, logger, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(ctx)
		_ = container.Terminate(ctx)

		cancel()
	})

	return store, ctx
}

func TestStore_ContinuationQueue(t *testing.T) {
	store, ctx := setupStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.Schedule(ctx, &models.Continuation{
		ID: "due", ExecutionID: "exec-1", WorkflowID: "wf-1", DueAt: now.Add(-time.Second),
		Steps:   []*models.Step{{Type: models.StepTypeSendEmail}},
		Context: map[string]any{"client": map[string]any{"name": "C1"}},
	}))
	require.NoError(t, store.Schedule(ctx, &models.Continuation{
		ID: "later", ExecutionID: "exec-2", WorkflowID: "wf-1", DueAt: now.Add(time.Hour),
	}))

	claimed, err := store.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "exec-1", claimed[0].ExecutionID)
	assert.Equal(t, models.StepTypeSendEmail, claimed[0].Steps[0].Type)

	again, err := store.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, store.Release(ctx, "due"))

	released, err := store.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, "due", released[0].ID)

	require.NoError(t, store.Complete(ctx, "due"))
	require.NoError(t, store.Release(ctx, "due"))

	later, err := store.ClaimDue(ctx, now.Add(2*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "later", later[0].ID)

	expired, err := store.ClaimDue(ctx, now.Add(2*time.Hour+2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1, "an expired lease is claimable again")
	assert.Equal(t, "later", expired[0].ID)
}

func TestStore_FireLedger(t *testing.T) {
	store, ctx := setupStore(t)

	first, err := store.Claim(ctx, "wf-1:0:2025-06-02T09:00:00Z", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Claim(ctx, "wf-1:0:2025-06-02T09:00:00Z", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}
