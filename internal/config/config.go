package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AudioConfig describes the fixed-quantum audio source.
type AudioConfig struct {
	SampleRate  int `yaml:"sample_rate"`
	QuantumSize int `yaml:"quantum_size"`
}

// PoolConfig stores buffer pool construction parameters. Pool size and
// per-buffer capacity are fixed for the lifetime of the process.
type PoolConfig struct {
	Size             int `yaml:"size"`
	BufferCapacity   int `yaml:"buffer_capacity"`
	ReclaimTimeoutMs int `yaml:"reclaim_timeout_ms"`
}

// ReclaimTimeout returns the reclaim timeout as a duration.
func (p PoolConfig) ReclaimTimeout() time.Duration {
	return time.Duration(p.ReclaimTimeoutMs) * time.Millisecond
}

// BatchConfig stores the initial batching parameters; both can be changed
// at runtime through UpdateBatchConfig messages.
type BatchConfig struct {
	Size           int `yaml:"size"`
	FlushTimeoutMs int `yaml:"flush_timeout_ms"`
}

// FlushTimeout returns the flush timeout as a duration.
func (b BatchConfig) FlushTimeout() time.Duration {
	return time.Duration(b.FlushTimeoutMs) * time.Millisecond
}

// TelemetryConfig configures metrics exposition. An empty ListenAddr
// disables the HTTP listener; the in-process registry is always active.
type TelemetryConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ConsumerConfig tunes the consumer side.
type ConsumerConfig struct {
	// IdleTimeoutMs is how long the consumer waits without a batch before
	// logging idleness and requesting a status update.
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`
}

// IdleTimeout returns the idle timeout as a duration.
func (c ConsumerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// Config stores the application configuration.
type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	Pool      PoolConfig      `yaml:"pool"`
	Batch     BatchConfig     `yaml:"batch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	LogLevel  string          `yaml:"log_level"`
}

// defaults match the platform the bridge was designed around: 128-sample
// quanta at 44.1 kHz, 16 buffers of 4096 samples, 100 ms flush timeout and
// a 5 s reclaim timeout.
func defaults() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:  44100,
			QuantumSize: 128,
		},
		Pool: PoolConfig{
			Size:             16,
			BufferCapacity:   4096,
			ReclaimTimeoutMs: 5000,
		},
		Batch: BatchConfig{
			Size:           4096,
			FlushTimeoutMs: 100,
		},
		Consumer: ConsumerConfig{
			IdleTimeoutMs: 2000,
		},
		LogLevel: "info",
	}
}

// LoadConfig loads the configuration from the given file path, applying
// defaults for omitted fields. A missing file yields pure defaults.
func LoadConfig(filePath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.QuantumSize <= 0 {
		return fmt.Errorf("audio.quantum_size must be positive, got %d", c.Audio.QuantumSize)
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size)
	}
	if c.Pool.BufferCapacity < c.Audio.QuantumSize {
		return fmt.Errorf("pool.buffer_capacity %d is smaller than one quantum (%d)",
			c.Pool.BufferCapacity, c.Audio.QuantumSize)
	}
	if c.Batch.Size <= 0 || c.Batch.Size > c.Pool.BufferCapacity {
		return fmt.Errorf("batch.size must be in 1..%d, got %d", c.Pool.BufferCapacity, c.Batch.Size)
	}
	if c.Batch.FlushTimeoutMs <= 0 {
		return fmt.Errorf("batch.flush_timeout_ms must be positive, got %d", c.Batch.FlushTimeoutMs)
	}
	if c.Pool.ReclaimTimeoutMs <= 0 {
		return fmt.Errorf("pool.reclaim_timeout_ms must be positive, got %d", c.Pool.ReclaimTimeoutMs)
	}
	return nil
}
