// Package testinfra hands tests a throwaway Postgres or Redis. An instance
// named by TEST_POSTGRES_DSN / TEST_REDIS_ADDR is used when set; otherwise a
// container is started, and the test is skipped when Docker is unavailable.
package testinfra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres returns a pool on a database with the catalogue schema applied
// and the products table empty.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:16-alpine",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "app",
					"POSTGRES_PASSWORD": "secret",
					"POSTGRES_DB":       "shop",
				},
				// the server restarts once after init
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Terminate(context.Background()) })

		host, err := c.Host(ctx)
		require.NoError(t, err)
		port, err := c.MappedPort(ctx, "5432")
		require.NoError(t, err)
		dsn = fmt.Sprintf("postgres://app:secret@%s:%s/shop?sslmode=disable", host, port.Port())
	}

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE products`)
	require.NoError(t, err)
	return pool
}

// Redis returns a client on an empty database.
func Redis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	opts := &redis.Options{Addr: os.Getenv("TEST_REDIS_ADDR"), DB: 15}
	if opts.Addr == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Terminate(context.Background()) })

		host, err := c.Host(ctx)
		require.NoError(t, err)
		port, err := c.MappedPort(ctx, "6379")
		require.NoError(t, err)
		opts = &redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())}
	}

	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	require.NoError(t, rdb.FlushDB(ctx).Err())
	return rdb
}
