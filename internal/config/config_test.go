package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, 6379, cfg.Port)
	require.Equal(t, ".", cfg.Dir)
	require.Equal(t, "dump.rdb", cfg.DBFilename)
	require.Empty(t, cfg.ReplicaOf)
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Parse([]string{"--port", "7000", "--dir", "/tmp/data", "--dbfilename", "snap.rdb"})
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
	require.Equal(t, "/tmp/data", cfg.Dir)
	require.Equal(t, "snap.rdb", cfg.DBFilename)
}

func TestParseInvalidPortFallsBackToDefault(t *testing.T) {
	cfg, err := Parse([]string{"--port", "0"})
	require.NoError(t, err)
	require.Equal(t, 6379, cfg.Port)
}

func TestParseReplicaOf(t *testing.T) {
	cfg, err := Parse([]string{"--replicaof", "localhost 6380"})
	require.NoError(t, err)
	host, port, ok := cfg.ReplicaOfHostPort()
	require.True(t, ok)
	require.Equal(t, "localhost", host)
	require.Equal(t, 6380, port)
}

func TestYAMLOverlayIsOverriddenByExplicitFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7100\ndir: /from/yaml\n"), 0o644))

	cfg, err := Parse([]string{"--config", path, "--dir", "/from/flag"})
	require.NoError(t, err)
	require.Equal(t, 7100, cfg.Port)
	require.Equal(t, "/from/flag", cfg.Dir)
}

func TestConfigGetRecognizedParams(t *testing.T) {
	cfg := Default()
	v, ok := cfg.Get("port")
	require.True(t, ok)
	require.Equal(t, "6379", v)

	_, ok = cfg.Get("maxmemory")
	require.False(t, ok)
}
