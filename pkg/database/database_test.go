package database

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString(t *testing.T) {
	cfg := &Config{Host: "db", Port: 5433, User: "u", Password: "p", Database: "alt"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=alt sslmode=disable", cfg.ConnString())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.ConnString(), "sslmode=require")

	cfg.URL = "postgres://u:p@db:5433/alt"
	assert.Equal(t, "postgres://u:p@db:5433/alt", cfg.ConnString())
}

func TestDefaultConfigReadsDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example/alttext")
	assert.Equal(t, "postgres://example/alttext", DefaultConfig().ConnString())
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/00001_init.sql")
	require.NoError(t, err)

	sql := string(data)
	assert.True(t, strings.HasPrefix(sql, "-- +goose Up"))
	for _, table := range []string{"sites", "assets", "asset_sites", "jobs"} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestMigrate(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := New(ctx, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	version, err := db.Version(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, int64(1))

	var handle string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT handle FROM sites WHERE is_primary`).Scan(&handle))
	assert.NotEmpty(t, handle)
}
