package action

import (
	"context"
	"fmt"

	"github.com/swarmguard/judgeorch/internal/container"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// runContainer prepares cfg's image if necessary and invokes the sandbox
// helper against it, pinning the image as in-use for the duration of the
// run so the image eviction manager never reclaims it mid-execution.
func (e *Executor) runContainer(ctx context.Context, rootDir string, cfg *submission.RunContainerConfig) (*submission.ContainerExecutionReport, error) {
	return e.buildAndInvoke(ctx, rootDir, cfg, nil)
}

// buildAndInvoke is runContainer plus a set of extra mount specs appended
// after translation, used by the run-judge compile and run executors to
// mount their private scratch directory and source/executable files at
// absolute in-container paths that container.Build's submission-root-
// relative mount parsing can't express.
func (e *Executor) buildAndInvoke(ctx context.Context, rootDir string, cfg *submission.RunContainerConfig, extraMounts []container.MountSpec) (*submission.ContainerExecutionReport, error) {
	img := submission.ParseOciImage(cfg.Image)
	bundleDir := e.ImagePreparer.BundleDir(img)

	if e.ImageEviction != nil {
		key := e.ImagePreparer.EvictionKey(img)
		e.ImageEviction.VisitEnter(key)
		defer e.ImageEviction.VisitLeave(key)
	}

	if err := e.ImagePreparer.Prepare(ctx, img); err != nil {
		return nil, fmt.Errorf("preparing image %s: %w", img, err)
	}

	inv, err := container.Build(cfg, bundleDir, rootDir)
	if err != nil {
		return nil, fmt.Errorf("building invocation: %w", err)
	}
	inv.Mounts = append(inv.Mounts, extraMounts...)

	return e.Invoker.Invoke(ctx, inv)
}
