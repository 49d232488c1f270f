//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/txn2/academy-client/pkg/database/migrate"
)

func TestStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:15",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, migrate.Run(db))

	web := New(db, Config{Namespace: "web"})
	cli := New(db, Config{Namespace: "cli"})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, web.Set(ctx, pgTestKey, []byte(pgTestValue)))
		got, ok, err := web.Get(ctx, pgTestKey)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, pgTestValue, string(got))
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, web.Set(ctx, pgTestKey, []byte(`{"programId":"prog-2"}`)))
		got, _, err := web.Get(ctx, pgTestKey)
		require.NoError(t, err)
		assert.JSONEq(t, `{"programId":"prog-2"}`, string(got))
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		_, ok, err := cli.Get(ctx, pgTestKey)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, cli.Set(ctx, "access_token", []byte("tok")))
		keys, err := web.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{pgTestKey}, keys)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, web.Remove(ctx, pgTestKey))
		require.NoError(t, web.Remove(ctx, pgTestKey))
		_, ok, err := web.Get(ctx, pgTestKey)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
