// Package config loads broker configuration from a YAML file with
// environment-variable overrides (environment wins over file, file over
// built-in defaults).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for all environment overrides, e.g.
// SURGE_CLEANUP_BATCH_SIZE.
const envPrefix = "SURGE"

// WorkerCount is a worker-thread count where 0 means "auto": 25% of the
// available CPUs, clamped to [1, 4].
type WorkerCount int

// Auto is the sentinel value for automatic worker sizing.
const Auto WorkerCount = 0

// Resolve returns the concrete worker count.
func (w WorkerCount) Resolve() int {
	if w > 0 {
		return int(w)
	}
	n := runtime.NumCPU() / 4
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

// Decode implements envconfig.Decoder, accepting "auto" or a positive integer.
func (w *WorkerCount) Decode(value string) error {
	return w.set(value)
}

// MarshalJSON emits "auto" for the sentinel, a plain integer otherwise.
func (w WorkerCount) MarshalJSON() ([]byte, error) {
	if w == Auto {
		return []byte(`"auto"`), nil
	}
	return []byte(strconv.Itoa(int(w))), nil
}

// UnmarshalJSON accepts "auto" or a positive integer.
func (w *WorkerCount) UnmarshalJSON(data []byte) error {
	return w.set(strings.Trim(string(data), `"`))
}

// UnmarshalYAML accepts "auto" or a positive integer.
func (w *WorkerCount) UnmarshalYAML(node *yaml.Node) error {
	return w.set(node.Value)
}

func (w *WorkerCount) set(value string) error {
	if strings.EqualFold(strings.TrimSpace(value), "auto") {
		*w = Auto
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("worker_threads: expected \"auto\" or positive integer, got %q", value)
	}
	if n <= 0 {
		return fmt.Errorf("worker_threads must be greater than 0")
	}
	*w = WorkerCount(n)
	return nil
}

// Cleanup configures the asynchronous disconnect-cleanup subsystem.
type Cleanup struct {
	AsyncEnabled     bool        `yaml:"async_enabled" json:"async_enabled" envconfig:"ASYNC_ENABLED"`
	FallbackToSync   bool        `yaml:"fallback_to_sync" json:"fallback_to_sync" envconfig:"FALLBACK_TO_SYNC"`
	QueueBufferSize  int         `yaml:"queue_buffer_size" json:"queue_buffer_size" envconfig:"QUEUE_BUFFER_SIZE"`
	BatchSize        int         `yaml:"batch_size" json:"batch_size" envconfig:"BATCH_SIZE"`
	BatchTimeoutMS   int         `yaml:"batch_timeout_ms" json:"batch_timeout_ms" envconfig:"BATCH_TIMEOUT_MS"`
	WorkerThreads    WorkerCount `yaml:"worker_threads" json:"worker_threads" envconfig:"WORKER_THREADS"`
	MaxRetryAttempts int         `yaml:"max_retry_attempts" json:"max_retry_attempts" envconfig:"MAX_RETRY_ATTEMPTS"`
}

// BatchTimeout returns the batch flush timeout as a duration.
func (c Cleanup) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMS) * time.Millisecond
}

// Validate checks the cleanup block invariants. A violation is fatal at
// startup and rejects a live reload.
func (c Cleanup) Validate() error {
	if c.QueueBufferSize <= 0 {
		return fmt.Errorf("cleanup: queue_buffer_size must be greater than 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("cleanup: batch_size must be greater than 0")
	}
	if c.BatchSize > c.QueueBufferSize {
		return fmt.Errorf("cleanup: batch_size (%d) must not exceed queue_buffer_size (%d)",
			c.BatchSize, c.QueueBufferSize)
	}
	if c.BatchTimeoutMS < 0 {
		return fmt.Errorf("cleanup: batch_timeout_ms must not be negative")
	}
	if c.WorkerThreads < 0 {
		return fmt.Errorf("cleanup: worker_threads must be \"auto\" or greater than 0")
	}
	if c.BatchTimeoutMS > 60000 {
		return fmt.Errorf("cleanup: batch_timeout_ms (%d) is unusually high (> 60 seconds)", c.BatchTimeoutMS)
	}
	if !c.AsyncEnabled && !c.FallbackToSync {
		return fmt.Errorf("cleanup: either async_enabled or fallback_to_sync must be true")
	}
	return nil
}

// Webhook configures lifecycle-event delivery to the external endpoint.
type Webhook struct {
	URL             string `yaml:"url" json:"url" envconfig:"URL"`
	AppKey          string `yaml:"app_key" json:"app_key" envconfig:"APP_KEY"`
	Secret          string `yaml:"secret" json:"secret" envconfig:"SECRET"`
	QueueSize       int    `yaml:"queue_size" json:"queue_size" envconfig:"QUEUE_SIZE"`
	FlushIntervalMS int    `yaml:"flush_interval_ms" json:"flush_interval_ms" envconfig:"FLUSH_INTERVAL_MS"`
	MaxBatch        int    `yaml:"max_batch" json:"max_batch" envconfig:"MAX_BATCH"`
}

// FlushInterval returns the event batch flush interval as a duration.
func (w Webhook) FlushInterval() time.Duration {
	return time.Duration(w.FlushIntervalMS) * time.Millisecond
}

// Admin configures the management API.
type Admin struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" envconfig:"LISTEN_ADDR"`
	APIKey     string `yaml:"api_key" json:"api_key" envconfig:"API_KEY"`
}

// Config holds all broker configuration.
type Config struct {
	Environment string  `yaml:"environment" json:"environment" envconfig:"ENVIRONMENT"`
	LogLevel    string  `yaml:"log_level" json:"log_level" envconfig:"LOG_LEVEL"`
	HTTPPort    int     `yaml:"http_port" json:"http_port" envconfig:"HTTP_PORT"`
	Cleanup     Cleanup `yaml:"cleanup" json:"cleanup"`
	Webhook     Webhook `yaml:"webhook" json:"webhook"`
	Admin       Admin   `yaml:"admin" json:"admin"`
}

// Default returns the built-in configuration. Cleanup defaults are tuned for
// small (2 vCPU) instances: a 50k-slot queue is ~30MB at ~625 bytes per task.
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		HTTPPort:    8080,
		Cleanup: Cleanup{
			AsyncEnabled:     true,
			FallbackToSync:   true,
			QueueBufferSize:  50000,
			BatchSize:        25,
			BatchTimeoutMS:   50,
			WorkerThreads:    Auto,
			MaxRetryAttempts: 2,
		},
		Webhook: Webhook{
			QueueSize:       10000,
			FlushIntervalMS: 100,
			MaxBatch:        10,
		},
		Admin: Admin{
			ListenAddr: ":8090",
		},
	}
}

// Validate checks all config invariants.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	if err := c.Cleanup.Validate(); err != nil {
		return err
	}
	if c.Webhook.QueueSize <= 0 {
		return fmt.Errorf("webhook: queue_size must be greater than 0")
	}
	if c.Webhook.MaxBatch <= 0 {
		return fmt.Errorf("webhook: max_batch must be greater than 0")
	}
	return nil
}

// Load reads configuration: defaults, then the YAML file at path (if path is
// non-empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// envconfig tags carry no defaults, so the environment only overrides
	// fields that are actually set.
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
