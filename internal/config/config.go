// Package config holds the tunable constants for the storage engine
// and server, generalizing the fixed constants package the teacher
// repo used into a loadable configuration (spec.md §9's Open
// Questions, resolved).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// MaxKeySize is the maximum allowed size in bytes for a key.
	MaxKeySize = 64 * 1024

	// MaxValueSize is the maximum allowed size in bytes for a value.
	MaxValueSize = 64 * 1024

	// DefaultSegmentBytes is the default active-segment rollover
	// threshold: low end of spec.md's "low MiB to tens-of-MiB" range.
	DefaultSegmentBytes int64 = 4 * 1024 * 1024

	// DefaultCompactionSegmentThreshold triggers compaction once this
	// many immutable segments have accumulated.
	DefaultCompactionSegmentThreshold = 8

	// DefaultCompactionDeadByteRatio triggers compaction once
	// estimated dead bytes exceed this multiple of live bytes.
	DefaultCompactionDeadByteRatio = 0.5

	// DefaultWorkerPoolSize, when zero, means "use runtime.NumCPU()".
	DefaultWorkerPoolSize = 0

	// DefaultServerAddr is the bind address used by cmd/kvs-server.
	DefaultServerAddr = "127.0.0.1:4000"
)

// EngineConfig bundles the knobs the engine needs at Open time.
type EngineConfig struct {
	SegmentBytes               int64   `yaml:"segment_bytes"`
	CompactionSegmentThreshold int     `yaml:"compaction_segment_threshold"`
	CompactionDeadByteRatio    float64 `yaml:"compaction_dead_byte_ratio"`
	MaxKeySize                 int     `yaml:"max_key_size"`
	MaxValueSize               int     `yaml:"max_value_size"`
}

// DefaultEngineConfig returns the engine's default tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SegmentBytes:               DefaultSegmentBytes,
		CompactionSegmentThreshold: DefaultCompactionSegmentThreshold,
		CompactionDeadByteRatio:    DefaultCompactionDeadByteRatio,
		MaxKeySize:                 MaxKeySize,
		MaxValueSize:               MaxValueSize,
	}
}

// ServerConfig bundles server-level settings loaded from YAML/flags.
type ServerConfig struct {
	Addr           string      `yaml:"addr"`
	Dir            string      `yaml:"dir"`
	WorkerPoolSize int         `yaml:"worker_pool_size"`
	Engine         EngineConfig `yaml:"engine"`
}

// DefaultServerConfig returns the server's default settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           DefaultServerAddr,
		Dir:            "db",
		WorkerPoolSize: DefaultWorkerPoolSize,
		Engine:         DefaultEngineConfig(),
	}
}

// LoadServerConfig reads a YAML config file at path, falling back to
// defaults for any field the file omits. A missing file is not an
// error: the defaults are returned unchanged.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
