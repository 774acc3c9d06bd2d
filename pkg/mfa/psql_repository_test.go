package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDatabase(t *testing.T) (*pgxpool.Pool, func()) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mfa_db"),
		postgres.WithUsername("mfa"),
		postgres.WithPassword("pwd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func TestPostgresRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pool, cleanup := setupTestDatabase(t)
	defer cleanup()

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))

	testRepository(t, repo)

	t.Run("DeleteExpired", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		require.NoError(t, repo.ReplaceActive(ctx, newTestChallenge("expired-subject", past, MethodPassword)))

		n, err := repo.DeleteExpiredChallenges(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		_, err = repo.GetBySubject(ctx, "expired-subject")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
