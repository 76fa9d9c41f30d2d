package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Cleanup.AsyncEnabled)
	assert.True(t, cfg.Cleanup.FallbackToSync)
	assert.Equal(t, 50000, cfg.Cleanup.QueueBufferSize)
	assert.Equal(t, 25, cfg.Cleanup.BatchSize)
	assert.Equal(t, 50, cfg.Cleanup.BatchTimeoutMS)
	assert.Equal(t, Auto, cfg.Cleanup.WorkerThreads)
	assert.Equal(t, 2, cfg.Cleanup.MaxRetryAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Cleanup.BatchTimeout())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
log_level: debug
cleanup:
  batch_size: 10
  worker_threads: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Cleanup.BatchSize)
	assert.Equal(t, WorkerCount(3), cfg.Cleanup.WorkerThreads)
	// Untouched fields keep their defaults.
	assert.Equal(t, 50000, cfg.Cleanup.QueueBufferSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
cleanup:
  batch_size: 10
`)
	t.Setenv("SURGE_CLEANUP_BATCH_SIZE", "40")
	t.Setenv("SURGE_CLEANUP_WORKER_THREADS", "auto")
	t.Setenv("SURGE_WEBHOOK_URL", "https://hooks.example.com/surge")
	t.Setenv("SURGE_ADMIN_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Cleanup.BatchSize)
	assert.Equal(t, Auto, cfg.Cleanup.WorkerThreads)
	assert.Equal(t, "https://hooks.example.com/surge", cfg.Webhook.URL)
	assert.Equal(t, "from-env", cfg.Admin.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCleanup_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Cleanup)
		errMsg string
	}{
		{"defaults valid", func(c *Cleanup) {}, ""},
		{"zero queue", func(c *Cleanup) { c.QueueBufferSize = 0 }, "queue_buffer_size"},
		{"zero batch", func(c *Cleanup) { c.BatchSize = 0 }, "batch_size"},
		{"batch exceeds queue", func(c *Cleanup) { c.QueueBufferSize = 10; c.BatchSize = 11 }, "must not exceed"},
		{"negative timeout", func(c *Cleanup) { c.BatchTimeoutMS = -1 }, "batch_timeout_ms"},
		{"negative workers", func(c *Cleanup) { c.WorkerThreads = -1 }, "worker_threads"},
		{"timeout over a minute", func(c *Cleanup) { c.BatchTimeoutMS = 60001 }, "unusually high"},
		{"zero timeout allowed", func(c *Cleanup) { c.BatchTimeoutMS = 0 }, ""},
		{"no cleanup path at all", func(c *Cleanup) { c.AsyncEnabled = false; c.FallbackToSync = false }, "either async_enabled or fallback_to_sync"},
		{"sync only", func(c *Cleanup) { c.AsyncEnabled = false; c.FallbackToSync = true }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default().Cleanup
			tt.mutate(&c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestWorkerCount_Resolve(t *testing.T) {
	assert.Equal(t, 3, WorkerCount(3).Resolve())

	// Auto resolves to a quarter of the CPUs, clamped to [1, 4].
	n := Auto.Resolve()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 4)
}

func TestWorkerCount_Decode(t *testing.T) {
	var w WorkerCount
	require.NoError(t, w.Decode("auto"))
	assert.Equal(t, Auto, w)

	require.NoError(t, w.Decode("2"))
	assert.Equal(t, WorkerCount(2), w)

	assert.Error(t, w.Decode("0"))
	assert.Error(t, w.Decode("-1"))
	assert.Error(t, w.Decode("many"))
}

func TestWorkerCount_JSON(t *testing.T) {
	out, err := json.Marshal(Auto)
	require.NoError(t, err)
	assert.Equal(t, `"auto"`, string(out))

	out, err = json.Marshal(WorkerCount(4))
	require.NoError(t, err)
	assert.Equal(t, `4`, string(out))

	var w WorkerCount
	require.NoError(t, json.Unmarshal([]byte(`"auto"`), &w))
	assert.Equal(t, Auto, w)
	require.NoError(t, json.Unmarshal([]byte(`2`), &w))
	assert.Equal(t, WorkerCount(2), w)
}
