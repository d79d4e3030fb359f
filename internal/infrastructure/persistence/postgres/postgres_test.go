package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	assert.Equal(t,
		"host=localhost port=5432 dbname=studyplanner user=postgres password=secret sslmode=disable connect_timeout=10",
		cfg.DSN())

	cfg.URL = "postgres://u:p@db:5432/app"
	assert.Equal(t, "postgres://u:p@db:5432/app", cfg.DSN())
}

func TestConfig_PoolConfigKeepsURLDefaults(t *testing.T) {
	cfg := Config{URL: "postgres://u:p@db:5432/app?pool_max_conns=7"}
	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 7, pc.MaxConns)

	cfg.MaxConns = 3
	pc, err = cfg.PoolConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 3, pc.MaxConns)
}

func TestGetMigrations(t *testing.T) {
	migs := GetMigrations()
	require.Len(t, migs, 3)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}
	assert.Contains(t, migs[0].UpSQL, "ON DELETE CASCADE")
	assert.Contains(t, migs[1].UpSQL, "version BIGINT NOT NULL")
}

func TestMarkApplied(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := markApplied(GetMigrations(), map[int]time.Time{1: at})

	require.Len(t, got, 3)
	assert.True(t, got[0].IsApplied)
	assert.Equal(t, at, got[0].AppliedAt)
	assert.False(t, got[1].IsApplied)
	assert.False(t, got[2].IsApplied)
}
