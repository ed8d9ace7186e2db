package hasher

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDigestDeterministic(t *testing.T) {
	dir := t.TempDir()
	h := New(64)

	a := writeFile(t, dir, "a.bin", []byte("identical content"))
	b := writeFile(t, dir, "b.bin", []byte("identical content"))
	c := writeFile(t, dir, "c.bin", []byte("different content"))

	da, err := h.Digest(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	db, err := h.Digest(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dc, err := h.Digest(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if da != db {
		t.Errorf("identical content produced different digests: %s vs %s", da, db)
	}
	if da == dc {
		t.Errorf("different content produced identical digests: %s", da)
	}
}

func TestDigestSpansChunkBoundaries(t *testing.T) {
	dir := t.TempDir()

	// Content larger than one chunk forces multiple reads.
	content := bytes.Repeat([]byte{0xAB}, 3*1024+17)
	path := writeFile(t, dir, "big.bin", content)

	small := New(1) // 1 KiB chunks
	large := New(64)

	ds, err := small.Digest(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dl, err := large.Digest(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds != dl {
		t.Errorf("chunk size changed the digest: %s vs %s", ds, dl)
	}
}

func TestDigestEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty", nil)

	h := New(0) // exercise the default chunk size fallback
	if _, err := h.Digest(path); err != nil {
		t.Errorf("digest of empty file failed: %v", err)
	}
}

func TestDigestMissingFile(t *testing.T) {
	h := New(64)
	if _, err := h.Digest(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected an error for a missing file, got nil")
	}
}

func TestPathSentinel(t *testing.T) {
	a := PathSentinel("/src/docs/a.bin")
	b := PathSentinel("/replica/docs/a.bin")

	if a != PathSentinel("/src/docs/a.bin") {
		t.Error("sentinel for the same path is not deterministic")
	}
	if a == b {
		t.Errorf("same relative file under different roots produced identical sentinels: %s", a)
	}
	var zero Digest
	if a == zero {
		t.Error("sentinel equals the zero digest")
	}
}
