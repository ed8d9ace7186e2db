// Package config holds the mirror configuration. A config file lives in the
// replica directory so a replica carries its own settings; command-line flags
// overlay whatever the file provides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/replisync/replisync/pkg/buildinfo"
	"github.com/replisync/replisync/pkg/lockfile"
	"github.com/replisync/replisync/pkg/pathtrash"
	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/util"
)

// ConfigFileName is the name of the configuration file in the replica directory.
const ConfigFileName = "replisync.config.json"

// systemExcludeFilePatterns are always excluded from replica scans so the
// mirror never deletes its own bookkeeping files.
var systemExcludeFilePatterns = []string{lockfile.LockFileName, ConfigFileName}

// systemExcludeDirPatterns are always excluded from replica scans.
var systemExcludeDirPatterns = []string{pathtrash.TrashDirName}

type PerformanceConfig struct {
	CopyWorkers  int `json:"copyWorkers"`
	HashWorkers  int `json:"hashWorkers" comment:"0 means one worker per CPU."`
	BufferSizeKB int `json:"bufferSizeKB"`
}

type TrashConfig struct {
	Enabled bool             `json:"enabled"`
	Format  pathtrash.Format `json:"format"`
}

type SyncConfig struct {
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	UserExcludeFiles []string `json:"userExcludeFiles"`
	UserExcludeDirs  []string `json:"userExcludeDirs"`
}

type RuntimeConfig struct {
	Once   bool
	DryRun bool
}

type Config struct {
	Version         string            `json:"version"`
	Source          string            `json:"source"`
	Replica         string            `json:"-"` // Never added to config file
	Runtime         RuntimeConfig     `json:"-"` // Never added to config file
	LogLevel        string            `json:"logLevel"`
	LogFile         string            `json:"logFile"`
	IntervalSeconds int               `json:"intervalSeconds"`
	Metrics         bool              `json:"metrics"`
	RequireMount    bool              `json:"requireMount"`
	Performance     PerformanceConfig `json:"performance"`
	Sync            SyncConfig        `json:"sync"`
	Trash           TrashConfig       `json:"trash"`
}

// NewDefault returns a Config with sensible defaults: a five minute interval,
// metrics on, trash off.
func NewDefault() Config {
	return Config{
		Version:         buildinfo.Version,
		LogLevel:        "info",
		IntervalSeconds: 300,
		Metrics:         true,
		Performance: PerformanceConfig{
			CopyWorkers:  4,
			HashWorkers:  0,
			BufferSizeKB: 256,
		},
		Sync: SyncConfig{
			UserExcludeFiles: []string{},
			UserExcludeDirs:  []string{},
		},
		Trash: TrashConfig{
			Enabled: false,
			Format:  pathtrash.TarGz,
		},
	}
}

// Interval returns the pass interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SourceExcludeFiles returns the file exclusion patterns for source scans.
func (c *Config) SourceExcludeFiles() []string { return c.Sync.UserExcludeFiles }

// SourceExcludeDirs returns the directory exclusion patterns for source scans.
func (c *Config) SourceExcludeDirs() []string { return c.Sync.UserExcludeDirs }

// ReplicaExcludeFiles returns the file exclusion patterns for replica scans,
// user patterns plus the system files the mirror must never touch.
func (c *Config) ReplicaExcludeFiles() []string {
	return append(append([]string{}, c.Sync.UserExcludeFiles...), systemExcludeFilePatterns...)
}

// ReplicaExcludeDirs returns the directory exclusion patterns for replica scans.
func (c *Config) ReplicaExcludeDirs() []string {
	return append(append([]string{}, c.Sync.UserExcludeDirs...), systemExcludeDirPatterns...)
}

// Load reads the config file from the replica directory. A missing file is
// normal and yields the defaults. A config file that names a different
// replica than the directory it was loaded from is rejected.
func Load(replicaDir string) (Config, error) {
	absReplica, err := filepath.Abs(replicaDir)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for replica directory %s: %w", replicaDir, err)
	}

	configPath := filepath.Join(absReplica, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.Replica = absReplica
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}

	plog.Info("Loading configuration", "path", configPath)
	// Start from defaults so missing fields in the file keep sane values.
	cfg := NewDefault()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	// The replica path is derived from the file's location and never written
	// by Generate, but a file copied in from another replica may still carry
	// one. Decode it separately (Config.Replica itself is excluded from JSON)
	// and reject the mismatch instead of mirroring into the wrong directory.
	var persisted struct {
		Replica string `json:"replica"`
	}
	if err := json.Unmarshal(data, &persisted); err == nil && persisted.Replica != "" {
		absInConfig, err := filepath.Abs(persisted.Replica)
		if err != nil {
			return Config{}, fmt.Errorf("could not determine absolute path for replica in config %s: %w", persisted.Replica, err)
		}
		if absInConfig != absReplica {
			return Config{}, fmt.Errorf("replica in config file (%s) does not match the directory it was loaded from (%s)", absInConfig, absReplica)
		}
	}
	cfg.Replica = absReplica
	cfg.Version = buildinfo.Version
	return cfg, nil
}

// Generate writes the config as formatted JSON into the replica directory.
func Generate(cfg Config) error {
	configPath := filepath.Join(cfg.Replica, ConfigFileName)
	jsonData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}
	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and normalizes the
// root paths.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if c.Replica == "" {
		return fmt.Errorf("replica path cannot be empty")
	}

	var err error
	c.Source, err = util.ExpandPath(c.Source)
	if err != nil {
		return fmt.Errorf("could not expand source path: %w", err)
	}
	c.Source = filepath.Clean(c.Source)

	c.Replica, err = util.ExpandPath(c.Replica)
	if err != nil {
		return fmt.Errorf("could not expand replica path: %w", err)
	}
	c.Replica = filepath.Clean(c.Replica)

	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval must be positive, got %ds", c.IntervalSeconds)
	}
	if c.Performance.CopyWorkers < 0 || c.Performance.HashWorkers < 0 {
		return fmt.Errorf("worker counts cannot be negative")
	}
	if c.Performance.BufferSizeKB <= 0 {
		return fmt.Errorf("bufferSizeKB must be positive, got %d", c.Performance.BufferSizeKB)
	}
	if _, err := pathtrash.ParseFormat(string(c.Trash.Format)); err != nil {
		return err
	}
	return nil
}

// MergeConfigWithFlags overlays explicitly set command-line flags on top of a
// base configuration. setFlags maps flag names to their parsed values; flags
// the user did not pass are absent and leave the base untouched.
func MergeConfigWithFlags(base Config, setFlags map[string]any) Config {
	merged := base
	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "replica":
			merged.Replica = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "log-file":
			merged.LogFile = value.(string)
		case "interval":
			merged.IntervalSeconds = int(value.(time.Duration) / time.Second)
		case "metrics":
			merged.Metrics = value.(bool)
		case "require-mount":
			merged.RequireMount = value.(bool)
		case "once":
			merged.Runtime.Once = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "copy-workers":
			merged.Performance.CopyWorkers = value.(int)
		case "hash-workers":
			merged.Performance.HashWorkers = value.(int)
		case "buffer-size-kb":
			merged.Performance.BufferSizeKB = value.(int)
		case "exclude-files":
			merged.Sync.UserExcludeFiles = value.([]string)
		case "exclude-dirs":
			merged.Sync.UserExcludeDirs = value.([]string)
		case "trash":
			merged.Trash.Enabled = value.(bool)
		case "trash-format":
			merged.Trash.Format = pathtrash.Format(value.(string))
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}

// LogSummary emits the effective configuration at startup.
func (c *Config) LogSummary() {
	plog.Info("Effective configuration",
		"source", c.Source,
		"replica", c.Replica,
		"interval", c.Interval().String(),
		"log_level", c.LogLevel,
		"dry_run", c.Runtime.DryRun,
		"once", c.Runtime.Once,
		"copy_workers", c.Performance.CopyWorkers,
		"hash_workers", c.Performance.HashWorkers,
		"buffer_size_kb", c.Performance.BufferSizeKB,
		"trash", c.Trash.Enabled,
		"trash_format", c.Trash.Format.String(),
	)
}
