package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	hashes := map[string][]byte{"main.go": {1, 2, 3}}
	a := Fingerprint("img:latest", []string{"go", "build"}, hashes, []string{"a.out"}, "")
	b := Fingerprint("img:latest", []string{"go", "build"}, hashes, []string{"a.out"}, "")
	if !bytes.Equal(a, b) {
		t.Fatal("Fingerprint is not deterministic for identical inputs")
	}
}

func TestFingerprintSensitiveToCommand(t *testing.T) {
	hashes := map[string][]byte{"main.go": {1, 2, 3}}
	a := Fingerprint("img:latest", []string{"go", "build"}, hashes, nil, "")
	b := Fingerprint("img:latest", []string{"go", "test"}, hashes, nil, "")
	if bytes.Equal(a, b) {
		t.Fatal("Fingerprint did not change when command changed")
	}
}

func TestArtifactCacheRoundTrip(t *testing.T) {
	c, err := NewArtifactCache(16, time.Hour)
	if err != nil {
		t.Fatalf("NewArtifactCache() error = %v", err)
	}
	c.Set([]byte("key"), []byte("value"))
	time.Sleep(10 * time.Millisecond)
	got, ok := c.Get([]byte("key"))
	if !ok || !bytes.Equal(got, []byte("value")) {
		t.Fatalf("Get() = (%q, %v), want (%q, true)", got, ok, "value")
	}
}

func TestPackUnpackSaves(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "a.out"), []byte("binary-content"), 0o644); err != nil {
		t.Fatalf("writing source file: %v", err)
	}

	archive, err := PackSaves(srcDir, []string{"a.out"})
	if err != nil {
		t.Fatalf("PackSaves() error = %v", err)
	}

	dstDir := t.TempDir()
	if err := UnpackSaves(dstDir, archive); err != nil {
		t.Fatalf("UnpackSaves() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "a.out"))
	if err != nil {
		t.Fatalf("reading unpacked file: %v", err)
	}
	if !bytes.Equal(got, []byte("binary-content")) {
		t.Fatalf("unpacked content = %q, want %q", got, "binary-content")
	}
}
