package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentboard/internal/config"
)

func TestOpenStores_Memory(t *testing.T) {
	st, cleanup, err := openStores(context.Background(), config.StoreConfig{Kind: config.StoreMemory})
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, st.captures)
	assert.NotNil(t, st.samples)
}

func TestOpenStores_Sqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	st, cleanup, err := openStores(context.Background(), config.StoreConfig{Kind: config.StoreSqlite, SqlitePath: path})
	require.NoError(t, err)
	defer cleanup()

	captures, err := st.captures.ListCaptures(context.Background())
	require.NoError(t, err)
	assert.Empty(t, captures)
	assert.Nil(t, st.samples)
}

func TestOpenStores_UnknownKind(t *testing.T) {
	_, _, err := openStores(context.Background(), config.StoreConfig{Kind: "redis"})
	assert.Error(t, err)
}

func TestNewApp(t *testing.T) {
	st, cleanup, err := openStores(context.Background(), config.StoreConfig{Kind: config.StoreMemory})
	require.NoError(t, err)
	defer cleanup()

	c := config.Default()
	_, err = newApp(c, st, zap.NewNop())
	assert.ErrorContains(t, err, "leaderboard_url")

	c.Ranking.LeaderboardURL = "http://127.0.0.1:1/leaderboard"
	a, err := newApp(c, st, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, a.board)
	assert.NotNil(t, a.scheduler)
	assert.False(t, a.scheduler.Status().Running)
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.LogConfig{Level: "warn", Format: "console"}, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))

	l, err = newLogger(config.LogConfig{Level: "warn", Format: "json"}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = newLogger(config.LogConfig{Level: "loud"}, false)
	assert.Error(t, err)
}
