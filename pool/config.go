package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk ambient configuration for a Pool: worker
// count, queue sizing, default policy, and log level, loaded by an
// extension-sniffed YAML/JSON loader into a typed struct.
type FileConfig struct {
	WorkerCount     int    `yaml:"worker_count" json:"worker_count"`
	QueueCapacity   int    `yaml:"queue_capacity" json:"queue_capacity"`
	QueueBounded    bool   `yaml:"queue_bounded" json:"queue_bounded"`
	OffloadEnabled  *bool  `yaml:"offload_enabled" json:"offload_enabled"`
	FailOpenEnabled *bool  `yaml:"fail_open_enabled" json:"fail_open_enabled"`
	LogLevel        string `yaml:"log_level" json:"log_level"`
	StopTimeout     string `yaml:"stop_timeout" json:"stop_timeout"`
}

// LoadConfigFile reads and parses path as YAML or JSON, chosen by
// extension.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("offloadpool: read config file: %w", err)
	}

	var cfg FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("offloadpool: parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("offloadpool: parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("offloadpool: unsupported config extension %q", ext)
	}
	return &cfg, nil
}

// DefaultConfigPath returns ~/.config/offloadpool/config.yaml, resolving
// the home directory via mitchellh/go-homedir rather than os.UserHomeDir
// so cross-compiled/CGO-less targets keep working.
func DefaultConfigPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("offloadpool: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "offloadpool", "config.yaml"), nil
}

// applyFileConfig turns a loaded FileConfig into Pool options.
func applyFileConfig(cfg *FileConfig) []Option {
	var opts []Option
	if cfg.WorkerCount > 0 {
		opts = append(opts, WithWorkerCount(cfg.WorkerCount))
	}
	if cfg.QueueCapacity > 0 {
		opts = append(opts, WithQueueCapacity(cfg.QueueCapacity, cfg.QueueBounded))
	}
	if cfg.OffloadEnabled != nil && !*cfg.OffloadEnabled {
		opts = append(opts, WithOffloadDisabled())
	}
	if cfg.FailOpenEnabled != nil && !*cfg.FailOpenEnabled {
		opts = append(opts, WithFailOpenDisabled())
	}
	if cfg.LogLevel != "" {
		opts = append(opts, WithLogLevel(ParseLogLevel(cfg.LogLevel)))
	}
	if cfg.StopTimeout != "" {
		if d, err := time.ParseDuration(cfg.StopTimeout); err == nil {
			opts = append(opts, WithDefaultStopTimeout(d))
		}
	}
	return opts
}
