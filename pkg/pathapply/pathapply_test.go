package pathapply

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/replisync/replisync/pkg/event"
	"github.com/replisync/replisync/pkg/pathdiff"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func newTestApplier(t *testing.T, source, replica string, dryRun bool) (*Applier, *event.Recorder, *SyncMetrics) {
	t.Helper()
	rec := &event.Recorder{}
	m := NewSyncMetrics()
	a := New(source, replica, Options{CopyWorkers: 2, DryRun: dryRun, Metrics: m, Sink: rec})
	return a, rec, m
}

func TestApplyExecutesPlan(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()
	writeFile(t, filepath.Join(source, "docs", "a.txt"), "alpha")
	writeFile(t, filepath.Join(source, "top.txt"), "top")
	writeFile(t, filepath.Join(replica, "stale", "old.txt"), "old")

	plan := []pathdiff.Operation{
		{Kind: pathdiff.OpCreateDir, Path: "docs"},
		{Kind: pathdiff.OpCopyFile, Path: "docs/a.txt"},
		{Kind: pathdiff.OpCopyFile, Path: "top.txt"},
		{Kind: pathdiff.OpDeleteFile, Path: "stale/old.txt"},
		{Kind: pathdiff.OpDeleteDir, Path: "stale"},
	}

	a, rec, m := newTestApplier(t, source, replica, false)
	if err := a.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(replica, "docs", "a.txt"))
	if err != nil || string(got) != "alpha" {
		t.Fatalf("docs/a.txt = %q, %v; want %q", got, err, "alpha")
	}
	if _, err := os.Stat(filepath.Join(replica, "stale")); !os.IsNotExist(err) {
		t.Errorf("stale directory survived the pass: %v", err)
	}

	events := rec.Events()
	if len(events) != len(plan) {
		t.Fatalf("got %d events for %d operations: %v", len(events), len(plan), events)
	}
	for _, e := range events {
		if e.Outcome != event.OutcomeSuccess {
			t.Errorf("unexpected failure event: %v", e)
		}
	}
	if m.DirsCreated() != 1 || m.FilesCopied() != 2 || m.FilesDeleted() != 1 || m.DirsDeleted() != 1 || m.Failures() != 0 {
		t.Errorf("metrics = dirs+%d files+%d del %d/%d fail %d",
			m.DirsCreated(), m.FilesCopied(), m.FilesDeleted(), m.DirsDeleted(), m.Failures())
	}
	if m.BytesCopied() != int64(len("alpha")+len("top")) {
		t.Errorf("bytes copied = %d, want %d", m.BytesCopied(), len("alpha")+len("top"))
	}
}

func TestApplyDeletesAlreadyAbsentSucceed(t *testing.T) {
	a, rec, m := newTestApplier(t, t.TempDir(), t.TempDir(), false)
	plan := []pathdiff.Operation{
		{Kind: pathdiff.OpDeleteFile, Path: "ghost.txt"},
		{Kind: pathdiff.OpDeleteDir, Path: "ghost"},
	}
	if err := a.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for _, e := range rec.Events() {
		if e.Outcome != event.OutcomeSuccess {
			t.Errorf("delete of absent path reported failure: %v", e)
		}
	}
	if m.Failures() != 0 {
		t.Errorf("failures = %d, want 0", m.Failures())
	}
}

func TestApplyCopyFailureIsIsolated(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()
	writeFile(t, filepath.Join(source, "good1.txt"), "1")
	writeFile(t, filepath.Join(source, "good2.txt"), "2")

	plan := []pathdiff.Operation{
		{Kind: pathdiff.OpCopyFile, Path: "good1.txt"},
		{Kind: pathdiff.OpCopyFile, Path: "missing.txt"},
		{Kind: pathdiff.OpCopyFile, Path: "good2.txt"},
	}

	a, rec, m := newTestApplier(t, source, replica, false)
	if err := a.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	var failed, succeeded int
	for _, e := range rec.Events() {
		if e.Outcome == event.OutcomeFailed {
			failed++
			if e.Path != "missing.txt" {
				t.Errorf("unexpected failed path %q", e.Path)
			}
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 2 {
		t.Fatalf("failed=%d succeeded=%d, want 1/2", failed, succeeded)
	}
	if m.Failures() != 1 || m.FilesCopied() != 2 {
		t.Errorf("metrics failures=%d copied=%d, want 1/2", m.Failures(), m.FilesCopied())
	}
	if _, err := os.Stat(filepath.Join(replica, "good2.txt")); err != nil {
		t.Errorf("copy after the failure did not land: %v", err)
	}
}

func TestApplyDryRunTouchesNothing(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "a")
	writeFile(t, filepath.Join(replica, "stale.txt"), "s")

	plan := []pathdiff.Operation{
		{Kind: pathdiff.OpCreateDir, Path: "newdir"},
		{Kind: pathdiff.OpCopyFile, Path: "a.txt"},
		{Kind: pathdiff.OpDeleteFile, Path: "stale.txt"},
	}

	a, rec, _ := newTestApplier(t, source, replica, true)
	if err := a.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(rec.Events()) != len(plan) {
		t.Errorf("dry run emitted %d events, want %d", len(rec.Events()), len(plan))
	}
	if _, err := os.Stat(filepath.Join(replica, "newdir")); !os.IsNotExist(err) {
		t.Error("dry run created a directory")
	}
	if _, err := os.Stat(filepath.Join(replica, "a.txt")); !os.IsNotExist(err) {
		t.Error("dry run copied a file")
	}
	if _, err := os.Stat(filepath.Join(replica, "stale.txt")); err != nil {
		t.Error("dry run deleted a file")
	}
}

func TestApplyCopyPreservesModeWithUserWrite(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission semantics")
	}
	source := t.TempDir()
	replica := t.TempDir()
	srcFile := filepath.Join(source, "ro.txt")
	writeFile(t, srcFile, "readonly")
	if err := os.Chmod(srcFile, 0o444); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}

	a, _, _ := newTestApplier(t, source, replica, false)
	plan := []pathdiff.Operation{{Kind: pathdiff.OpCopyFile, Path: "ro.txt"}}
	if err := a.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(replica, "ro.txt"))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o644 {
		t.Errorf("replica mode = %o, want 0644 (0444 with user-write forced)", got)
	}
	srcInfo, _ := os.Stat(srcFile)
	if !info.ModTime().Equal(srcInfo.ModTime()) {
		t.Errorf("mtime not preserved: %v vs %v", info.ModTime(), srcInfo.ModTime())
	}
}

func TestApplyOverwritesChangedFile(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()
	writeFile(t, filepath.Join(source, "f.txt"), "new contents")
	writeFile(t, filepath.Join(replica, "f.txt"), "old")

	a, _, _ := newTestApplier(t, source, replica, false)
	plan := []pathdiff.Operation{{Kind: pathdiff.OpCopyFile, Path: "f.txt"}}
	if err := a.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(replica, "f.txt"))
	if err != nil || string(got) != "new contents" {
		t.Fatalf("f.txt = %q, %v", got, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(replica, ".replisync-tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestApplyKindSwapConverges(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()
	// Source has a directory where the replica has a file, and vice versa.
	writeFile(t, filepath.Join(source, "swap", "inner.txt"), "in")
	writeFile(t, filepath.Join(source, "flat"), "now a file")
	writeFile(t, filepath.Join(replica, "swap"), "was a file")
	writeFile(t, filepath.Join(replica, "flat", "leftover.txt"), "x")

	plan := []pathdiff.Operation{
		{Kind: pathdiff.OpDeleteFile, Path: "swap"},
		{Kind: pathdiff.OpDeleteFile, Path: "flat/leftover.txt"},
		{Kind: pathdiff.OpDeleteDir, Path: "flat"},
		{Kind: pathdiff.OpCreateDir, Path: "swap"},
		{Kind: pathdiff.OpCopyFile, Path: "flat"},
		{Kind: pathdiff.OpCopyFile, Path: "swap/inner.txt"},
	}

	a, _, m := newTestApplier(t, source, replica, false)
	if err := a.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if m.Failures() != 0 {
		t.Fatalf("pass had %d failures", m.Failures())
	}
	if got, err := os.ReadFile(filepath.Join(replica, "flat")); err != nil || string(got) != "now a file" {
		t.Errorf("flat = %q, %v", got, err)
	}
	if got, err := os.ReadFile(filepath.Join(replica, "swap", "inner.txt")); err != nil || string(got) != "in" {
		t.Errorf("swap/inner.txt = %q, %v", got, err)
	}
}

func TestApplyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a, _, _ := newTestApplier(t, t.TempDir(), t.TempDir(), false)
	plan := []pathdiff.Operation{{Kind: pathdiff.OpCreateDir, Path: "d"}}
	if err := a.Apply(ctx, plan); err == nil {
		t.Fatal("Apply with cancelled context returned nil")
	}
}
