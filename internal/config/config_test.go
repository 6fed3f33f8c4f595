package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "memory", cfg.Database.Kind)
	require.Equal(t, int64(100), cfg.Limits.DefaultAmount)
	require.Equal(t, int64(500), cfg.Limits.DefaultDailyCap)
	require.Equal(t, int64(0), cfg.Limits.PrivilegedDailyCap)
	require.Equal(t, 128, cfg.Queue.Depth)
	require.Equal(t, 4, cfg.Queue.WorkerCount)
	require.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	require.Equal(t, 30*time.Second, cfg.Queue.SweepInterval)
	require.Equal(t, "mock", cfg.Transfer.Mode)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMergesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  kind: postgres
  postgres:
    dsn: postgres://localhost/faucet
limits:
  default_amount: 42
auth:
  privileged_domains: [partner.example]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "postgres", cfg.Database.Kind)
	require.Equal(t, "postgres://localhost/faucet", cfg.Database.Postgres.DSN)
	require.Equal(t, int64(42), cfg.Limits.DefaultAmount)
	require.Equal(t, []string{"partner.example"}, cfg.Auth.PrivilegedDomains)

	// untouched keys keep their defaults
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, int64(500), cfg.Limits.DefaultDailyCap)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Database.Kind)
}
