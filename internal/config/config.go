// Package config loads the engine's startup configuration: worker pool
// size, per-table capacity, batch sizing, and the durable log path.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TableConfig sizes one version table: its fixed record count and, per
// record, the fixed value size its insert slabs allocate (§3).
type TableConfig struct {
	Name           string `yaml:"name"`
	ID             uint32 `yaml:"id"`
	RecordCount    int    `yaml:"record_count"`
	ValueSize      int    `yaml:"value_size"`
	SlabCapacity   int    `yaml:"slab_capacity"`
	ReadBufferSize int    `yaml:"read_buffer_bytes"`
}

// Config is the engine's full startup configuration. Zero-valued fields
// are replaced by Load's default-filling step (applyDefaults) the same way tinySQL's AdvancedWALConfig
// fills in its own unset fields at open time.
type Config struct {
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	StartEpoch     uint32        `yaml:"start_epoch"`
	LogPath        string        `yaml:"log_path"`
	AllowRestore   bool          `yaml:"allow_restore"`
	DepQueueDepth  int           `yaml:"dep_queue_depth"`
	StageQueueSize int           `yaml:"stage_queue_size"`
	Tables         []TableConfig `yaml:"tables"`
}

// Load reads and parses a YAML config file at path, applying defaults
// and validating it before returning it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.LogPath == "" {
		c.LogPath = "hekastore.log"
	}
	if c.DepQueueDepth == 0 {
		c.DepQueueDepth = 4096
	}
	if c.StageQueueSize == 0 {
		c.StageQueueSize = 1024
	}
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.RecordCount == 0 {
			t.RecordCount = 1 << 20
		}
		if t.ValueSize == 0 {
			t.ValueSize = 64
		}
		if t.SlabCapacity == 0 {
			t.SlabCapacity = 1024
		}
		if t.ReadBufferSize == 0 {
			t.ReadBufferSize = 1 << 16
		}
	}
}

func (c *Config) validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table must be configured")
	}
	seen := make(map[uint32]bool, len(c.Tables))
	for _, t := range c.Tables {
		if seen[t.ID] {
			return fmt.Errorf("duplicate table id %d", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}
