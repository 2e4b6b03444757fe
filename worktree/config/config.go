package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	internal "github.com/zed-industries/zed-sub013/worktree"

	"github.com/spf13/viper"
)

// Config stores all configuration of the indexing engine.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Worktree WorktreeConfig `mapstructure:"worktree"`
}

// WorktreeConfig stores worktree engine configuration.
type WorktreeConfig struct {
	Root    string        `mapstructure:"root"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	Watcher WatcherConfig `mapstructure:"watcher"`
}

// ScannerConfig stores background scanner tuning knobs.
type ScannerConfig struct {
	// WorkerCount bounds the scan worker pool; 0 derives it from CPU count
	WorkerCount int `mapstructure:"workerCount"`

	// IncludeIgnored controls whether sync updates carry ignored entries
	IncludeIgnored bool `mapstructure:"includeIgnored"`
}

// WatcherConfig stores filesystem watcher tuning knobs.
type WatcherConfig struct {
	DebounceDelay    time.Duration `mapstructure:"debounceDelay"`
	MaxDebounceDelay time.Duration `mapstructure:"maxDebounceDelay"`
	BatchSize        int           `mapstructure:"batchSize"`
	QueueCapacity    int           `mapstructure:"queueCapacity"`
}

// EffectiveWorkerCount resolves the configured worker count, deriving a
// CPU-bounded default when unset.
func (c ScannerConfig) EffectiveWorkerCount() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	return min(max(runtime.NumCPU(), 2), 32)
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Set default values
	v.SetDefault("worktree.root", ".")
	v.SetDefault("worktree.scanner.workerCount", internal.DefaultWorkerCount)
	v.SetDefault("worktree.scanner.includeIgnored", false)
	v.SetDefault("worktree.watcher.debounceDelay", time.Duration(internal.DefaultDebounceMillis)*time.Millisecond)
	v.SetDefault("worktree.watcher.maxDebounceDelay", time.Duration(internal.DefaultMaxDebounceMill)*time.Millisecond)
	v.SetDefault("worktree.watcher.batchSize", internal.DefaultBatchSize)
	v.SetDefault("worktree.watcher.queueCapacity", internal.DefaultQueueCapacity)

	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // worktree.scanner.workerCount becomes WORKTREE_SCANNER_WORKERCOUNT

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used
	}

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
