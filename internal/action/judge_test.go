package action

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmguard/judgeorch/internal/submission"
)

func TestCopySavesCopiesFiles(t *testing.T) {
	mountDir := t.TempDir()
	rootDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(mountDir, "out.bin"), []byte("result"), 0o644); err != nil {
		t.Fatalf("writing mount-dir fixture: %v", err)
	}

	if err := copySaves(mountDir, rootDir, []string{"out.bin"}); err != nil {
		t.Fatalf("copySaves() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(rootDir, "out.bin"))
	if err != nil {
		t.Fatalf("reading copied save: %v", err)
	}
	if string(got) != "result" {
		t.Errorf("content = %q", got)
	}
}

func TestCopySavesMissingFileFails(t *testing.T) {
	mountDir := t.TempDir()
	rootDir := t.TempDir()

	if err := copySaves(mountDir, rootDir, []string{"missing.bin"}); err == nil {
		t.Fatal("expected an error for a missing save item")
	}
}

func TestCopySavesRejectsDirectory(t *testing.T) {
	mountDir := t.TempDir()
	rootDir := t.TempDir()

	if err := os.Mkdir(filepath.Join(mountDir, "adir"), 0o755); err != nil {
		t.Fatalf("creating fixture directory: %v", err)
	}

	if err := copySaves(mountDir, rootDir, []string{"adir"}); err == nil {
		t.Fatal("expected an error for a directory save item")
	}
}

func TestCompileFingerprintDeterministic(t *testing.T) {
	rootDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootDir, "main.c"), []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("writing source fixture: %v", err)
	}

	cfg := &submission.CompileConfig{
		RunContainerConfig: submission.RunContainerConfig{Image: "gcc:latest", Command: []string{"gcc", "main.c"}},
		Source:             []string{"main.c"},
		Save:               []string{"a.out"},
	}

	a := compileFingerprint(cfg, rootDir)
	b := compileFingerprint(cfg, rootDir)
	if string(a) != string(b) {
		t.Fatal("expected identical fingerprints for identical inputs")
	}

	if err := os.WriteFile(filepath.Join(rootDir, "main.c"), []byte("int main(){return 1;}"), 0o644); err != nil {
		t.Fatalf("rewriting source fixture: %v", err)
	}
	c := compileFingerprint(cfg, rootDir)
	if string(a) == string(c) {
		t.Fatal("expected fingerprint to change when source content changes")
	}
}

func TestNewMountDirCreatesWorldWritableDir(t *testing.T) {
	root := t.TempDir()
	dir, err := newMountDir(root)
	if err != nil {
		t.Fatalf("newMountDir() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat mount dir: %v", err)
	}
	if info.Mode().Perm() != 0o777 {
		t.Errorf("mode = %v, want 0777", info.Mode().Perm())
	}
}
