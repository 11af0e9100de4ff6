package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisOptionsCarryClientName(t *testing.T) {
	opts, err := redisOptions("redis://localhost:6379/2", "fundsafe-worker")
	require.NoError(t, err)
	require.Equal(t, "fundsafe-worker", opts.ClientName)
	require.Equal(t, "localhost:6379", opts.Addr)
	require.Equal(t, 2, opts.DB)

	_, err = redisOptions("://nope", "fundsafe-api")
	require.Error(t, err)
}

func TestPoolConfigSetsApplicationName(t *testing.T) {
	cfg, err := poolConfig("postgres://u:p@localhost:5432/fundsafe?sslmode=disable", "fundsafe-api")
	require.NoError(t, err)
	require.Equal(t, "fundsafe-api", cfg.ConnConfig.RuntimeParams["application_name"])
	require.EqualValues(t, 20, cfg.MaxConns)
}
