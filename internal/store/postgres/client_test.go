package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://a:b@x/y", DSN(ClientConfig{DSN: " postgres://a:b@x/y ", Host: "ignored"}))

	got := DSN(ClientConfig{Host: "db", User: "swap", Password: "p@ss/word", Database: "engine"})
	assert.Equal(t, "postgres://swap:p%40ss%2Fword@db:5432/engine?sslmode=disable", got)

	got = DSN(ClientConfig{Host: "db", Port: 6543, User: "u", Database: "d", SSLMode: "require"})
	assert.Equal(t, "postgres://u:@db:6543/d?sslmode=require", got)
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_orders.sql": {Data: []byte("select 2")},
		"migrations/001_init.sql":   {Data: []byte("select 1")},
		"migrations/003_alerts.sql": {Data: []byte("select 3")},
		"migrations/README.md":      {Data: []byte("notes")},
	}
	pending, err := pendingMigrations(fsys, []string{"002_orders.sql"})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "003_alerts.sql"}, pending)

	pending, err = pendingMigrations(fsys, []string{"001_init.sql", "002_orders.sql", "003_alerts.sql"})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	pending, err := pendingMigrations(migrationsFS, nil)
	require.NoError(t, err)
	assert.Contains(t, pending, "001_init.sql")
}
