package config

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/replisync/replisync/pkg/pathtrash"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	replica := t.TempDir()
	cfg, err := Load(replica)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.IntervalSeconds != 300 {
		t.Errorf("default interval = %d, want 300", cfg.IntervalSeconds)
	}
	if cfg.Replica != replica {
		t.Errorf("replica = %q, want %q", cfg.Replica, replica)
	}
}

func TestGenerateThenLoadRoundTrip(t *testing.T) {
	replica := t.TempDir()
	cfg := NewDefault()
	cfg.Replica = replica
	cfg.Source = "/data/photos"
	cfg.IntervalSeconds = 60
	cfg.Sync.UserExcludeDirs = []string{"node_modules"}
	cfg.Trash.Enabled = true
	cfg.Trash.Format = pathtrash.TarZst

	if err := Generate(cfg); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	loaded, err := Load(replica)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Source != cfg.Source || loaded.IntervalSeconds != 60 {
		t.Errorf("loaded = %+v, want source/interval from file", loaded)
	}
	if !slices.Equal(loaded.Sync.UserExcludeDirs, cfg.Sync.UserExcludeDirs) {
		t.Errorf("exclude dirs = %v", loaded.Sync.UserExcludeDirs)
	}
	if loaded.Trash.Format != pathtrash.TarZst {
		t.Errorf("trash format = %v", loaded.Trash.Format)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	replica := t.TempDir()
	raw := `{"source": "/data", "unknownField": true}`
	path := filepath.Join(replica, ConfigFileName)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	cfg, err := Load(replica)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source != "/data" {
		t.Errorf("source = %q", cfg.Source)
	}
	if cfg.IntervalSeconds != 300 || cfg.Performance.BufferSizeKB != 256 {
		t.Errorf("missing fields did not keep defaults: %+v", cfg)
	}
}

func TestLoadRejectsForeignReplica(t *testing.T) {
	replica := t.TempDir()
	other := t.TempDir()
	write := func(raw string) {
		t.Helper()
		path := filepath.Join(replica, ConfigFileName)
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	// A config file copied in from another replica names the wrong directory.
	write(`{"source": "/data", "replica": ` + strconv.Quote(other) + `}`)
	if _, err := Load(replica); err == nil {
		t.Fatal("Load accepted a config file naming a different replica")
	}

	// Naming the directory it actually lives in is fine.
	write(`{"source": "/data", "replica": ` + strconv.Quote(replica) + `}`)
	cfg, err := Load(replica)
	if err != nil {
		t.Fatalf("Load rejected a matching replica path: %v", err)
	}
	if cfg.Replica != replica {
		t.Errorf("replica = %q, want %q", cfg.Replica, replica)
	}
}

func TestValidate(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	base := func() Config {
		cfg := NewDefault()
		cfg.Source = source
		cfg.Replica = replica
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("empty source", func(t *testing.T) {
		cfg := base()
		cfg.Source = ""
		if err := cfg.Validate(); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("zero interval", func(t *testing.T) {
		cfg := base()
		cfg.IntervalSeconds = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("bad trash format", func(t *testing.T) {
		cfg := base()
		cfg.Trash.Format = "rar"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error")
		}
	})
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	base.Source = "/from/file"

	merged := MergeConfigWithFlags(base, map[string]any{
		"source":       "/from/flag",
		"interval":     90 * time.Second,
		"dry-run":      true,
		"copy-workers": 8,
		"exclude-dirs": []string{".git"},
		"trash":        true,
		"trash-format": "tar.zst",
	})

	if merged.Source != "/from/flag" {
		t.Errorf("source = %q", merged.Source)
	}
	if merged.IntervalSeconds != 90 {
		t.Errorf("interval = %d, want 90", merged.IntervalSeconds)
	}
	if !merged.Runtime.DryRun || merged.Performance.CopyWorkers != 8 {
		t.Errorf("runtime/performance not merged: %+v", merged)
	}
	if merged.Trash.Format != pathtrash.TarZst || !merged.Trash.Enabled {
		t.Errorf("trash not merged: %+v", merged.Trash)
	}
	// Untouched fields keep their base values.
	if merged.LogLevel != base.LogLevel || merged.Performance.BufferSizeKB != base.Performance.BufferSizeKB {
		t.Errorf("merge disturbed unset fields: %+v", merged)
	}
}

func TestReplicaExcludesCoverSystemFiles(t *testing.T) {
	cfg := NewDefault()
	cfg.Sync.UserExcludeFiles = []string{"*.tmp"}

	files := cfg.ReplicaExcludeFiles()
	for _, want := range []string{"*.tmp", ConfigFileName} {
		if !slices.Contains(files, want) {
			t.Errorf("replica file excludes %v missing %q", files, want)
		}
	}
	if !slices.Contains(cfg.ReplicaExcludeDirs(), pathtrash.TrashDirName) {
		t.Errorf("replica dir excludes %v missing trash dir", cfg.ReplicaExcludeDirs())
	}
	if slices.Contains(cfg.SourceExcludeFiles(), ConfigFileName) {
		t.Error("source excludes must not contain system files")
	}
}
