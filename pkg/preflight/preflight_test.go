package preflight

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckSourceAccessible(t *testing.T) {
	t.Run("existing directory passes", func(t *testing.T) {
		if err := CheckSourceAccessible(t.TempDir()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("missing directory fails", func(t *testing.T) {
		if err := CheckSourceAccessible(filepath.Join(t.TempDir(), "nope")); err == nil {
			t.Error("expected error for missing source")
		}
	})
	t.Run("file fails", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "plain")
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if err := CheckSourceAccessible(f); err == nil {
			t.Error("expected error for file source")
		}
	})
}

func TestCheckReplicaAccessible(t *testing.T) {
	t.Run("existing directory passes", func(t *testing.T) {
		if err := CheckReplicaAccessible(t.TempDir(), false); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("missing with existing parent passes", func(t *testing.T) {
		if err := CheckReplicaAccessible(filepath.Join(t.TempDir(), "new-replica"), false); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("file fails", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "plain")
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if err := CheckReplicaAccessible(f, false); err == nil {
			t.Error("expected error for file replica")
		}
	})
}

func TestCheckReplicaWritable(t *testing.T) {
	replica := filepath.Join(t.TempDir(), "deep", "replica")
	if err := CheckReplicaWritable(replica); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(replica)
	if err != nil || !info.IsDir() {
		t.Fatalf("replica not created: %v", err)
	}
	entries, err := os.ReadDir(replica)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("write probe left debris: %v", entries)
	}
}

func TestCheckRootOverlap(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	rep := filepath.Join(base, "rep")
	for _, d := range []string{src, rep} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
	}

	t.Run("siblings pass", func(t *testing.T) {
		if err := CheckRootOverlap(src, rep); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("identical roots fail", func(t *testing.T) {
		if err := CheckRootOverlap(src, src); err == nil {
			t.Error("expected error for identical roots")
		}
	})
	t.Run("replica inside source fails", func(t *testing.T) {
		if err := CheckRootOverlap(src, filepath.Join(src, "inner")); err == nil {
			t.Error("expected error for nested replica")
		}
	})
	t.Run("source inside replica fails", func(t *testing.T) {
		if err := CheckRootOverlap(filepath.Join(rep, "inner"), rep); err == nil {
			t.Error("expected error for nested source")
		}
	})
	t.Run("similar prefix passes", func(t *testing.T) {
		other := filepath.Join(base, "src-backup")
		if err := os.MkdirAll(other, 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := CheckRootOverlap(src, other); err != nil {
			t.Errorf("sibling with shared name prefix rejected: %v", err)
		}
	})
}
