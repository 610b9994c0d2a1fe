//go:build integration

package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/persistence/postgres"
)

func TestRunnerMaterialisesSuccessor(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)

	tasks := postgres.NewTaskStore(pool)
	challenges := postgres.NewChallengeRepository(pool)

	completed := domain.Challenge{
		ID:              7,
		Name:            "Monthly 500",
		Goal:            500,
		CurrentProgress: 512,
		Unit:            domain.UnitKilometers,
		StartDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		IsCompleted:     true,
		Recurring:       domain.RecurMonthly,
	}
	payload, err := json.Marshal(completed)
	require.NoError(t, err)
	require.NoError(t, tasks.ScheduleUnique(ctx, "challenge-successor-7", payload))

	runner := NewRunner(tasks, challenges, time.Second, 10, WithLogger(log.New(os.Stderr, "", 0)))
	require.NoError(t, runner.ProcessBatch(ctx))

	list, err := challenges.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	next := list[0]
	require.Equal(t, "Monthly 500", next.Name)
	require.Zero(t, next.CurrentProgress)
	require.False(t, next.IsCompleted)
	require.True(t, next.IsActive)
	require.True(t, next.StartDate.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, next.EndDate.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))

	// The task is gone; a second batch is a no-op.
	require.NoError(t, runner.ProcessBatch(ctx))
	list, err = challenges.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("bikeapp"),
		postgrescontainer.WithUsername("bikeapp"),
		postgrescontainer.WithPassword("bikeapp"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, pingErr := pgxpool.New(ctx, connStr)
		if pingErr == nil {
			pingErr = pool.Ping(ctx)
			pool.Close()
			if pingErr == nil {
				break
			}
		}
		require.False(t, time.Now().After(deadline), "database did not become ready")
		time.Sleep(time.Second)
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	migration := filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/0001_init.up.sql")
	contents, err := os.ReadFile(migration)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)

	return pool
}
