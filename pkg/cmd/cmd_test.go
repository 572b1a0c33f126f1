package cmd

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/fieldflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"postgres://user@localhost/fieldflow":   "postgresql",
		"postgresql://user@localhost/fieldflow": "postgresql",
		"file:///var/lib/fieldflow":             "file",
		"./data":                                "file",
		"mysql://localhost":                     "file",
	}

	for url, expected := range tests {
		assert.Equal(t, expected, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	store, err := NewPersistence(ctx, logger, "file://"+t.TempDir(), "")
	require.NoError(t, err)

	assert.IsType(t, &file.Persistence{}, store)
	require.NoError(t, store.HealthCheck(ctx))
}

func TestNewEventBus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	bus, err := NewEventBus("gochannel", logger, "")
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("rabbitmq", logger, "")
	require.Error(t, err)

	_, err = NewEventBus("kafka", logger, " , ")
	require.Error(t, err)
}
