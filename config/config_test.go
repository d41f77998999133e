package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	conf := Default()
	assert.Equal(t, 4, conf.Task.Workers)
	assert.Equal(t, int64(10000), conf.Task.AvgTileSize)
	assert.Equal(t, "output", conf.Output.Directory)
	assert.Contains(t, conf.Tm.URL, "{quadkey}")
	assert.Zero(t, conf.Timeout())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[output]
directory = "/data/tiles"
logDir = "logs"

[task]
workers = 8
timedelay = 50
timeout = 30

[tm]
url = "http://localhost/{z}/{x}/{y}.{ext}"
`), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/tiles", conf.Output.Directory)
	assert.Equal(t, "logs", conf.Output.LogDir)
	assert.Equal(t, 8, conf.Task.Workers)
	assert.Equal(t, 50*time.Millisecond, conf.TimeDelay())
	assert.Equal(t, 30*time.Second, conf.Timeout())
	assert.Equal(t, "http://localhost/{z}/{x}/{y}.{ext}", conf.Tm.URL)
	// untouched keys keep defaults
	assert.Equal(t, int64(10000), conf.Task.AvgTileSize)
	assert.Equal(t, ":8080", conf.Server.Addr)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("OFFLINETILER_TASK_WORKERS", "2")
	t.Setenv("OFFLINETILER_SERVER_ADDR", "127.0.0.1:9000")
	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, conf.Task.Workers)
	assert.Equal(t, "127.0.0.1:9000", conf.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[task\nworkers ="), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
