package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ndungu/logbroker/internal/config"
	"github.com/ndungu/logbroker/internal/store"
	"github.com/stretchr/testify/require"
)

func TestFilePathHonorsConfigDir(t *testing.T) {
	t.Setenv("CONFIG_DIR", "/etc/logbroker")
	path, err := config.FilePath("prod")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/etc/logbroker", "prod.yaml"), path)
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataDirectory: /var/lib/logbroker
server:
  port: 9090
`), 0644))

	c, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/logbroker", c.DataDirectory)
	require.Equal(t, 9090, c.Server.Port)
	require.Equal(t, 4, c.Server.ThreadPoolSize)
	require.Equal(t, uint64(1024*1024), c.Storage.MaxSegmentSize)
	require.Equal(t, 1000, c.Pipeline.RequestChannelSize)
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0644))

	_, err := config.LoadFile(path)
	require.Error(t, err)
}

func TestToStoreFlushConfigTranslatesStrategy(t *testing.T) {
	f := config.FlushConfig{Strategy: "messageBased", MessageInterval: 10}
	cfg, err := f.ToStoreFlushConfig()
	require.NoError(t, err)
	require.Equal(t, store.MessageBased, cfg.Strategy)
	require.Equal(t, uint64(10), cfg.MessageInterval)
}

func TestToStoreFlushConfigRejectsUnknownStrategy(t *testing.T) {
	f := config.FlushConfig{Strategy: "bogus"}
	_, err := f.ToStoreFlushConfig()
	require.Error(t, err)
}
