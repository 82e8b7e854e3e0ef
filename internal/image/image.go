// Package image prepares OCI images for sandboxed execution: pulling them
// with skopeo and unpacking them with umoci, coalescing concurrent
// requests for the same image and tripping a circuit breaker against a
// consistently failing registry.
package image

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/swarmguard/judgeorch/internal/coalesce"
	"github.com/swarmguard/judgeorch/internal/resilience"
	"github.com/swarmguard/judgeorch/internal/runner"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// ErrCircuitOpen is returned when the registry circuit breaker has
// tripped and is refusing new pull attempts.
var ErrCircuitOpen = errors.New("image: registry circuit breaker is open")

// Preparer pulls and unpacks OCI images under a configured root
// directory, exactly once per distinct image regardless of how many
// concurrent submissions reference it.
type Preparer struct {
	rootDir    string
	skopeoPath string
	umociPath  string

	pullTimeout   time.Duration
	unpackTimeout time.Duration

	pool    *runner.Pool
	group   *coalesce.Group[submission.OciImage, struct{}]
	breaker *resilience.CircuitBreaker
}

// New constructs a Preparer rooted at rootDir.
func New(rootDir, skopeoPath, umociPath string, pullTimeout, unpackTimeout time.Duration, pool *runner.Pool) *Preparer {
	return &Preparer{
		rootDir:       rootDir,
		skopeoPath:    skopeoPath,
		umociPath:     umociPath,
		pullTimeout:   pullTimeout,
		unpackTimeout: unpackTimeout,
		pool:          pool,
		group:         coalesce.NewGroup[submission.OciImage, struct{}](),
		breaker: resilience.NewCircuitBreaker(
			time.Minute, 6, 5, 0.8, 30*time.Second, 1,
		),
	}
}

// BundleDir returns the directory an unpacked image's OCI bundle lives
// in (bundleDir/rootfs is the container rootfs).
func (p *Preparer) BundleDir(img submission.OciImage) string {
	return filepath.Join(p.rootDir, "images", img.Registry, img.EscapedName(), img.Tag, "unpacked")
}

// EvictionKey returns img's path relative to the image eviction
// manager's root (rootDir/images), covering both the bundle and the
// oci blob directory for that image. The eviction manager joins
// whatever key it is given back onto its own root, so callers must
// never pass BundleDir (or any other already-rooted path) to it.
func (p *Preparer) EvictionKey(img submission.OciImage) string {
	return filepath.Join(img.Registry, img.EscapedName(), img.Tag)
}

func (p *Preparer) ociDir(img submission.OciImage) string {
	return filepath.Join(p.rootDir, "images", img.Registry, img.EscapedName(), img.Tag, "oci")
}

// Prepare ensures img has been pulled and unpacked, coalescing concurrent
// callers requesting the same image into a single pull+unpack.
func (p *Preparer) Prepare(ctx context.Context, img submission.OciImage) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}

	_, _, err := p.group.Run(ctx, img, func(ctx context.Context) (struct{}, error) {
		err := p.pullAndUnpack(ctx, img)
		p.breaker.RecordResult(err == nil)
		return struct{}{}, err
	})
	return err
}

func (p *Preparer) pullAndUnpack(ctx context.Context, img submission.OciImage) error {
	if err := p.pull(ctx, img); err != nil {
		return fmt.Errorf("pulling %s: %w", img, err)
	}
	if err := p.unpack(ctx, img); err != nil {
		return fmt.Errorf("unpacking %s: %w", img, err)
	}
	return nil
}

func (p *Preparer) pull(ctx context.Context, img submission.OciImage) error {
	target := p.ociDir(img)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", parent, err)
	}
	temp := filepath.Join(parent, "temp_oci")
	if err := os.RemoveAll(temp); err != nil {
		return fmt.Errorf("clearing %s: %w", temp, err)
	}
	if err := os.MkdirAll(temp, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", temp, err)
	}

	logPath := parent + ".pull.log"
	args := []string{
		"copy",
		fmt.Sprintf("docker://%s", img),
		fmt.Sprintf("oci:%s", temp),
		"--command-timeout", p.pullTimeout.String(),
		"--retry-times", "3",
	}

	_, err := runner.RunBlocking(ctx, p.pool, func() (struct{}, error) {
		return struct{}{}, runHelper(ctx, p.skopeoPath, args, p.pullTimeout, logPath)
	})
	if err != nil {
		return err
	}

	if err := os.Rename(temp, target); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", temp, target, err)
	}
	_ = os.Remove(logPath)
	return nil
}

func (p *Preparer) unpack(ctx context.Context, img submission.OciImage) error {
	target := p.BundleDir(img)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	ociDir := p.ociDir(img)
	parent := filepath.Dir(target)
	temp := filepath.Join(parent, "temp_unpacked")
	if err := os.RemoveAll(temp); err != nil {
		return fmt.Errorf("clearing %s: %w", temp, err)
	}

	logPath := parent + ".unpack.log"
	args := []string{"unpack", "--rootless", ociDir, temp}

	_, err := runner.RunBlocking(ctx, p.pool, func() (struct{}, error) {
		return struct{}{}, runHelper(ctx, p.umociPath, args, p.unpackTimeout, logPath)
	})
	if err != nil {
		return err
	}

	if err := os.Chmod(temp, 0o777); err != nil {
		return fmt.Errorf("chmod %s: %w", temp, err)
	}
	if err := os.Rename(temp, target); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", temp, target, err)
	}
	_ = os.Remove(logPath)
	return nil
}
