package action

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/swarmguard/judgeorch/internal/cache"
	"github.com/swarmguard/judgeorch/internal/container"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// mountDirectory is the path every run-judge action mounts its private
// scratch directory at inside the sandbox.
const mountDirectory = "/seele"

func newMountDir(mountRoot string) (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("action: generating mount dir name: %w", err)
	}
	dir := filepath.Join(mountRoot, hex.EncodeToString(buf[:]))
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", fmt.Errorf("action: creating mount dir: %w", err)
	}
	// 0o777 is mandatory: the group bit serves the rootless case, the
	// others bit serves the rootful case.
	if err := os.Chmod(dir, 0o777); err != nil {
		return "", fmt.Errorf("action: chmod mount dir: %w", err)
	}
	return dir, nil
}

// runCompile mounts a private scratch directory plus every source file
// read-only, runs the container, copies every save item back into
// rootDir, and opportunistically fills the artifact cache.
func (e *Executor) runCompile(ctx context.Context, rootDir string, cfg *submission.CompileConfig) (*submission.ContainerExecutionReport, error) {
	mountDir, err := newMountDir(e.MountRoot)
	if err != nil {
		return nil, err
	}
	defer container.CleanupMounts(mountDir)

	var fingerprint []byte
	if cfg.Cache.Enabled {
		fingerprint = compileFingerprint(cfg, rootDir)
		if e.ArtifactCache != nil {
			if archive, ok := e.ArtifactCache.Get(fingerprint); ok {
				if err := cache.UnpackSaves(mountDir, archive); err == nil {
					if err := copySaves(mountDir, rootDir, cfg.Save); err == nil {
						return &submission.ContainerExecutionReport{Status: submission.ContainerStatusNormal}, nil
					}
				}
			}
		}
	}

	runCfg := cfg.RunContainerConfig
	runCfg.Cwd = mountDirectory

	mounts := []container.MountSpec{{From: mountDir, To: mountDirectory, Options: []string{"rw"}}}
	for _, src := range cfg.Source {
		mounts = append(mounts, container.MountSpec{
			From: filepath.Join(rootDir, src),
			To:   filepath.Join(mountDirectory, src),
		})
	}

	report, err := e.buildAndInvoke(ctx, rootDir, &runCfg, mounts)
	if err != nil {
		return report, err
	}

	if err := copySaves(mountDir, rootDir, cfg.Save); err != nil {
		return report, err
	}

	if cfg.Cache.Enabled && e.ArtifactCache != nil {
		e.insertArtifactCache(mountDir, cfg, fingerprint)
	}

	return report, nil
}

// runJudgeRun mounts the enumerated executable files exec-capable at
// their paths under the scratch directory, then runs the container.
func (e *Executor) runJudgeRun(ctx context.Context, rootDir string, cfg *submission.RunConfig) (*submission.ContainerExecutionReport, error) {
	mountDir, err := newMountDir(e.MountRoot)
	if err != nil {
		return nil, err
	}
	defer container.CleanupMounts(mountDir)

	runCfg := cfg.RunContainerConfig
	runCfg.Cwd = mountDirectory

	mounts := []container.MountSpec{{From: mountDir, To: mountDirectory, Options: []string{"rw"}}}
	for _, exe := range cfg.Executable {
		src := filepath.Join(rootDir, exe)
		if err := os.Chmod(src, 0o777); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("action: chmod executable %s: %w", exe, err)
		}
		mounts = append(mounts, container.MountSpec{
			From:    src,
			To:      filepath.Join(mountDirectory, exe),
			Options: []string{"exec"},
		})
	}

	return e.buildAndInvoke(ctx, rootDir, &runCfg, mounts)
}

func copySaves(mountDir, rootDir string, saves []string) error {
	for _, rel := range saves {
		src := filepath.Join(mountDir, rel)
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("the file %q to save does not exist: %w", rel, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("saving a non-regular file is unsupported: %s", rel)
		}

		dest := filepath.Join(rootDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating parent directory for %q: %w", rel, err)
		}
		if err := copyFile(src, dest, info.Mode()); err != nil {
			return fmt.Errorf("copying save item %q: %w", rel, err)
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// compileFingerprint hashes every source file independently (one file in
// memory at a time, not the full source set) and feeds the digests into
// the cache key, so the key depends on content without needing the
// content itself held anywhere after this returns.
func compileFingerprint(cfg *submission.CompileConfig, rootDir string) []byte {
	hashes := make(map[string][]byte, len(cfg.Source))
	for _, src := range cfg.Source {
		sum, err := hashFile(filepath.Join(rootDir, src))
		if err != nil {
			continue
		}
		hashes[src] = sum
	}
	return cache.Fingerprint(cfg.Image, cfg.Command, hashes, cfg.Save, "")
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (e *Executor) insertArtifactCache(mountDir string, cfg *submission.CompileConfig, fingerprint []byte) {
	var totalSize int64
	for _, rel := range cfg.Save {
		if info, err := os.Stat(filepath.Join(mountDir, rel)); err == nil {
			totalSize += info.Size()
		}
	}
	if cfg.Cache.MaxAllowedSizeMiB > 0 && totalSize > cfg.Cache.MaxAllowedSizeMiB*1024*1024 {
		return
	}

	archive, err := cache.PackSaves(mountDir, cfg.Save)
	if err != nil {
		return
	}
	e.ArtifactCache.Set(fingerprint, archive)
}
